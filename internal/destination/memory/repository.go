// Package memory is an in-process destination repository. It backs
// DB-less dry runs and tests.
package memory

import (
	"context"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/tigerroll/wpmigrate/internal/destination"
	"github.com/tigerroll/wpmigrate/pkg/batch/support/util/logger"
)

// Attachment records a stored media file.
type Attachment struct {
	Key   string
	Size  int64
	Title string
}

// Repository implements destination.Repository in memory.
type Repository struct {
	mu          sync.Mutex
	nextID      uint64
	uploadsURL  string
	posts       map[uint64]destination.Post
	meta        map[uint64]map[string]string
	terms       map[uint64]destination.Term
	postTerms   map[uint64]map[string][]uint64
	attachments map[uint64]Attachment
	users       map[uint64]destination.User
	options     map[string]string
	// Fail makes write operations fail for the listed post titles.
	Fail map[string]error
}

// New creates an empty repository. Attachment URLs are built from uploadsURL.
func New(uploadsURL string) *Repository {
	return &Repository{
		nextID:      1000,
		uploadsURL:  strings.TrimRight(uploadsURL, "/") + "/",
		posts:       map[uint64]destination.Post{},
		meta:        map[uint64]map[string]string{},
		terms:       map[uint64]destination.Term{},
		postTerms:   map[uint64]map[string][]uint64{},
		attachments: map[uint64]Attachment{},
		users:       map[uint64]destination.User{},
		options:     map[string]string{},
		Fail:        map[string]error{},
	}
}

func (r *Repository) id() uint64 {
	r.nextID++
	return r.nextID
}

// GetPost implements destination.Repository.
func (r *Repository) GetPost(_ context.Context, id uint64) (*destination.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.posts[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// InsertPost implements destination.Repository.
func (r *Repository) InsertPost(_ context.Context, p destination.Post) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.Fail[p.Title]; err != nil {
		return 0, err
	}
	p.ID = r.id()
	r.posts[p.ID] = p
	return p.ID, nil
}

// UpdatePost implements destination.Repository.
func (r *Repository) UpdatePost(_ context.Context, p destination.Post) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.Fail[p.Title]; err != nil {
		return err
	}
	if _, ok := r.posts[p.ID]; !ok {
		return destination.ErrNotFound
	}
	r.posts[p.ID] = p
	return nil
}

// DeletePost implements destination.Repository.
func (r *Repository) DeletePost(_ context.Context, id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.posts[id]; !ok {
		return destination.ErrNotFound
	}
	delete(r.posts, id)
	delete(r.meta, id)
	delete(r.postTerms, id)
	return nil
}

// GetMeta implements destination.Repository.
func (r *Repository) GetMeta(_ context.Context, objectID uint64, key string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.meta[objectID][key]
	return v, ok, nil
}

// SetMeta implements destination.Repository.
func (r *Repository) SetMeta(_ context.Context, objectID uint64, key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.meta[objectID] == nil {
		r.meta[objectID] = map[string]string{}
	}
	r.meta[objectID][key] = value
	return nil
}

// SetFeaturedImage implements destination.Repository.
func (r *Repository) SetFeaturedImage(ctx context.Context, postID, attachmentID uint64) error {
	return r.SetMeta(ctx, postID, "_thumbnail_id", fmt.Sprint(attachmentID))
}

// FindTermBySlug implements destination.Repository.
func (r *Repository) FindTermBySlug(_ context.Context, taxonomy, slug string) (*destination.Term, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.terms {
		if t.Taxonomy == taxonomy && t.Slug == slug {
			found := t
			return &found, nil
		}
	}
	return nil, nil
}

// InsertTerm implements destination.Repository.
func (r *Repository) InsertTerm(_ context.Context, t destination.Term) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.Fail[t.Name]; err != nil {
		return 0, err
	}
	t.ID = r.id()
	r.terms[t.ID] = t
	return t.ID, nil
}

// SetPostTerms implements destination.Repository.
func (r *Repository) SetPostTerms(_ context.Context, postID uint64, taxonomy string, termIDs []uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.postTerms[postID] == nil {
		r.postTerms[postID] = map[string][]uint64{}
	}
	r.postTerms[postID][taxonomy] = append([]uint64(nil), termIDs...)
	return nil
}

// DeleteTerm implements destination.Repository.
func (r *Repository) DeleteTerm(_ context.Context, termID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.terms[termID]; !ok {
		return destination.ErrNotFound
	}
	delete(r.terms, termID)
	return nil
}

// CreateAttachment implements destination.Repository. The temporary file is
// removed.
func (r *Repository) CreateAttachment(_ context.Context, f destination.AttachmentFile) (uint64, error) {
	info, err := os.Stat(f.LocalPath)
	if err != nil {
		return 0, err
	}
	_ = os.Remove(f.LocalPath)

	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.id()
	key := path.Join(f.Subdir, f.FileName)
	r.attachments[id] = Attachment{Key: key, Size: info.Size(), Title: f.Title}
	r.posts[id] = destination.Post{ID: id, Type: "attachment", Title: f.Title, Status: "inherit", GUID: r.uploadsURL + key}
	logger.Debugf("memory: stored attachment %d at %s", id, key)
	return id, nil
}

// AttachmentURL implements destination.Repository.
func (r *Repository) AttachmentURL(_ context.Context, id uint64) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.attachments[id]
	if !ok {
		return "", destination.ErrNotFound
	}
	return r.uploadsURL + a.Key, nil
}

// DeleteAttachment implements destination.Repository.
func (r *Repository) DeleteAttachment(_ context.Context, id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.attachments[id]; !ok {
		return destination.ErrNotFound
	}
	delete(r.attachments, id)
	delete(r.posts, id)
	delete(r.meta, id)
	return nil
}

// GetUser implements destination.Repository.
func (r *Repository) GetUser(_ context.Context, id uint64) (*destination.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

// GetUserByLogin implements destination.Repository.
func (r *Repository) GetUserByLogin(_ context.Context, login string) (*destination.User, error) {
	return r.findUser(func(u destination.User) bool { return u.Login == login })
}

// GetUserByEmail implements destination.Repository.
func (r *Repository) GetUserByEmail(_ context.Context, email string) (*destination.User, error) {
	if email == "" {
		return nil, nil
	}
	return r.findUser(func(u destination.User) bool { return strings.EqualFold(u.Email, email) })
}

func (r *Repository) findUser(match func(destination.User) bool) (*destination.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if match(u) {
			found := u
			return &found, nil
		}
	}
	return nil, nil
}

// InsertUser implements destination.Repository.
func (r *Repository) InsertUser(_ context.Context, u destination.User) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.Fail[u.Login]; err != nil {
		return 0, err
	}
	u.ID = r.id()
	u.Password = ""
	r.users[u.ID] = u
	return u.ID, nil
}

// AddUser stores u under its own ID.
func (r *Repository) AddUser(u destination.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[u.ID] = u
}

// DeleteUser implements destination.Repository.
func (r *Repository) DeleteUser(_ context.Context, id, reassignTo uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		return destination.ErrNotFound
	}
	delete(r.users, id)
	for pid, p := range r.posts {
		if p.Author == id {
			p.Author = reassignTo
			r.posts[pid] = p
		}
	}
	return nil
}

// GetOption implements destination.Repository.
func (r *Repository) GetOption(_ context.Context, name string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.options[name]
	return v, ok, nil
}

// SetOption implements destination.Repository.
func (r *Repository) SetOption(_ context.Context, name, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.options[name] = value
	return nil
}

// Posts returns all posts of postType ordered by ID.
func (r *Repository) Posts(postType string) []destination.Post {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []destination.Post
	for _, p := range r.posts {
		if p.Type == postType {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Attachments returns a copy of the stored attachments.
func (r *Repository) Attachments() map[uint64]Attachment {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[uint64]Attachment, len(r.attachments))
	for k, v := range r.attachments {
		out[k] = v
	}
	return out
}

// PostTerms returns the terms assigned to postID in taxonomy.
func (r *Repository) PostTerms(postID uint64, taxonomy string) []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.postTerms[postID][taxonomy]...)
}

// Terms returns the number of stored terms.
func (r *Repository) Terms() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.terms)
}

// Users returns the number of stored users.
func (r *Repository) Users() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}

// Options returns a copy of the stored options.
func (r *Repository) Options() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.options))
	for k, v := range r.options {
		out[k] = v
	}
	return out
}

var _ destination.Repository = (*Repository)(nil)
