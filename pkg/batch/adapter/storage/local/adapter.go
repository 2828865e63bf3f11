// Package local stores media on the local filesystem, laid out the way a
// WordPress uploads directory is (year/month subdirectories).
package local

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tigerroll/wpmigrate/pkg/batch/adapter/storage"
	"github.com/tigerroll/wpmigrate/pkg/batch/support/util/logger"
)

// Store implements storage.ObjectStore rooted at BaseDir.
type Store struct {
	baseDir string
}

var _ storage.ObjectStore = (*Store)(nil)

// NewStore creates a Store, creating baseDir when missing.
func NewStore(baseDir string) (*Store, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("local storage: base directory must be specified")
	}
	info, err := os.Stat(baseDir)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(baseDir, 0o755); err != nil {
			return nil, fmt.Errorf("local storage: failed to create base directory '%s': %w", baseDir, err)
		}
	case err != nil:
		return nil, fmt.Errorf("local storage: failed to stat base directory '%s': %w", baseDir, err)
	case !info.IsDir():
		return nil, fmt.Errorf("local storage: '%s' is not a directory", baseDir)
	}
	return &Store{baseDir: baseDir}, nil
}

// BaseDir returns the storage root.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// Put implements storage.ObjectStore. The file is written to a temporary
// sibling first and renamed into place.
func (s *Store) Put(_ context.Context, key string, data io.Reader) (int64, error) {
	fullPath, err := s.resolve(key)
	if err != nil {
		return 0, err
	}
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create directory '%s': %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file in '%s': %w", dir, err)
	}
	n, copyErr := io.Copy(tmp, data)
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmp.Name())
		if copyErr != nil {
			return 0, fmt.Errorf("failed to write '%s': %w", fullPath, copyErr)
		}
		return 0, fmt.Errorf("failed to close '%s': %w", fullPath, closeErr)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		_ = os.Remove(tmp.Name())
		return 0, fmt.Errorf("failed to move upload into '%s': %w", fullPath, err)
	}
	logger.Debugf("Stored %d bytes at '%s'.", n, fullPath)
	return n, nil
}

// Open implements storage.ObjectStore.
func (s *Store) Open(_ context.Context, key string) (io.ReadCloser, error) {
	fullPath, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	return os.Open(fullPath)
}

// Exists implements storage.ObjectStore.
func (s *Store) Exists(_ context.Context, key string) (bool, error) {
	fullPath, err := s.resolve(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(fullPath)
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

// Delete implements storage.ObjectStore.
func (s *Store) Delete(_ context.Context, key string) error {
	fullPath, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			logger.Debugf("Object '%s' already absent.", fullPath)
			return nil
		}
		return fmt.Errorf("failed to delete '%s': %w", fullPath, err)
	}
	return nil
}

// List implements storage.ObjectStore.
func (s *Store) List(_ context.Context, prefix string, fn func(key string) error) error {
	return filepath.WalkDir(s.baseDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.baseDir, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(path.Base(key), ".upload-") || !strings.HasPrefix(key, prefix) {
			return nil
		}
		return fn(key)
	})
}

// UniqueKey returns dir/name, or dir/stem-N.ext for the first N that is
// free, so a sideload never overwrites an existing upload.
func (s *Store) UniqueKey(ctx context.Context, dir, name string) (string, error) {
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	candidate := path.Join(dir, name)
	for i := 1; ; i++ {
		exists, err := s.Exists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
		candidate = path.Join(dir, stem+"-"+strconv.Itoa(i)+ext)
	}
}

// resolve maps key under baseDir and rejects keys escaping it.
func (s *Store) resolve(key string) (string, error) {
	clean := path.Clean("/" + strings.ReplaceAll(key, "\\", "/"))
	if clean == "/" {
		return "", fmt.Errorf("local storage: empty object key")
	}
	fullPath := filepath.Join(s.baseDir, filepath.FromSlash(strings.TrimPrefix(clean, "/")))
	rel, err := filepath.Rel(s.baseDir, fullPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("local storage: key '%s' escapes base directory", key)
	}
	return fullPath, nil
}
