package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/tigerroll/wpmigrate/pkg/batch/engine/step/retry"
	"github.com/tigerroll/wpmigrate/pkg/batch/support/util/exception"
)

// ErrEmptyBody is the cause of a download that returned no bytes.
var ErrEmptyBody = errors.New("empty response body")

// DownloadOptions tunes DownloadWithRetry.
type DownloadOptions struct {
	// TempDir receives the downloaded file; the system default when empty.
	TempDir string
	// Sleep waits between attempts; retry.ContextSleep when nil.
	Sleep retry.Sleeper
	// OnAttempt is called after every attempt with its size and error.
	OnAttempt func(attempt int, bytes int64, err error)
}

// DownloadWithRetry fetches url into a temporary file and returns its path.
// Transport errors, non-2xx statuses and empty bodies are retried up to
// maxAttempts times with a fixed backoff; the last error is returned.
// The caller owns the returned file.
func DownloadWithRetry(ctx context.Context, client *http.Client, url string, maxAttempts int, backoff time.Duration, opts DownloadOptions) (string, error) {
	if client == nil {
		client = http.DefaultClient
	}
	policy := retry.NewFixedBackoffPolicy(maxAttempts, backoff, exception.DownloadErrorType)

	var tmpPath string
	err := retry.Do(ctx, policy, opts.Sleep, func(attempt int) error {
		path, n, err := downloadOnce(ctx, client, url, opts.TempDir)
		if opts.OnAttempt != nil {
			opts.OnAttempt(attempt, n, err)
		}
		if err != nil {
			return err
		}
		tmpPath = path
		return nil
	}, nil)
	if err != nil {
		return "", err
	}
	return tmpPath, nil
}

func downloadOnce(ctx context.Context, client *http.Client, url, tempDir string) (string, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", 0, exception.NewBatchError("media", fmt.Sprintf("invalid download url %s", url), err, true, false)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", 0, exception.NewDownloadError(url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", 0, exception.NewDownloadError(url, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	f, err := os.CreateTemp(tempDir, "wpmigrate-*.download")
	if err != nil {
		return "", 0, exception.NewBatchError("media", "failed to create temporary file", err, true, false)
	}
	n, err := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(f.Name())
		return "", n, exception.NewDownloadError(url, err)
	}
	if n == 0 {
		_ = os.Remove(f.Name())
		return "", 0, exception.NewDownloadError(url, ErrEmptyBody)
	}
	return f.Name(), n, nil
}
