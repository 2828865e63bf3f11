package source

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/tigerroll/wpmigrate/internal/domain/model"
)

// MemoryRepository is a Repository over rows held in memory.
type MemoryRepository struct {
	mu      sync.Mutex
	posts   map[uint64]model.PostRow
	meta    map[uint64][]model.MetaRow
	terms   map[uint64][]model.TermRow
	users   map[uint64]model.UserWithMeta
	options []model.OptionRow
	// Err, when set, is returned by every call.
	Err error
	// Calls counts GetPostWithMeta calls per id.
	Calls map[uint64]int
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		posts: map[uint64]model.PostRow{},
		meta:  map[uint64][]model.MetaRow{},
		terms: map[uint64][]model.TermRow{},
		users: map[uint64]model.UserWithMeta{},
		Calls: map[uint64]int{},
	}
}

// AddPost stores a post and its meta.
func (r *MemoryRepository) AddPost(p model.PostRow, meta ...model.MetaRow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.posts[p.ID] = p
	for i := range meta {
		meta[i].ObjectID = p.ID
	}
	r.meta[p.ID] = append(r.meta[p.ID], meta...)
}

// AddTerms assigns terms to a post.
func (r *MemoryRepository) AddTerms(postID uint64, terms ...model.TermRow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.terms[postID] = append(r.terms[postID], terms...)
}

// AddUser stores a user.
func (r *MemoryRepository) AddUser(u model.UserRow, meta ...model.MetaRow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[u.ID] = model.UserWithMeta{User: u, Meta: meta}
}

// AddOption stores an option.
func (r *MemoryRepository) AddOption(name, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.options = append(r.options, model.OptionRow{OptionID: uint64(len(r.options) + 1), OptionName: name, OptionValue: value, Autoload: "yes"})
}

// FetchPosts implements Repository.
func (r *MemoryRepository) FetchPosts(_ context.Context, postType string, afterID uint64, limit int) ([]model.PostRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	if limit < 1 {
		limit = 1
	}
	var out []model.PostRow
	for _, p := range r.posts {
		if p.PostType == postType && p.ID > afterID && p.PostStatus != "auto-draft" && p.PostStatus != "trash" {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// FetchMeta implements Repository.
func (r *MemoryRepository) FetchMeta(_ context.Context, postID uint64) ([]model.MetaRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	return append([]model.MetaRow(nil), r.meta[postID]...), nil
}

// GetPostWithMeta implements Repository.
func (r *MemoryRepository) GetPostWithMeta(_ context.Context, id uint64) (*model.PostWithMeta, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls[id]++
	if r.Err != nil {
		return nil, r.Err
	}
	p, ok := r.posts[id]
	if !ok {
		return nil, nil
	}
	return &model.PostWithMeta{Post: p, Meta: append([]model.MetaRow(nil), r.meta[id]...)}, nil
}

// FindAttachmentIDByFile implements Repository.
func (r *MemoryRepository) FindAttachmentIDByFile(_ context.Context, attachedFile string) (uint64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return 0, false, r.Err
	}
	ids := make([]uint64, 0, len(r.meta))
	for id := range r.meta {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		for _, m := range r.meta[id] {
			if m.MetaKey == "_wp_attached_file" && m.MetaValue == attachedFile {
				return id, true, nil
			}
		}
	}
	return 0, false, nil
}

// FetchTermsForPost implements Repository.
func (r *MemoryRepository) FetchTermsForPost(_ context.Context, postID uint64, taxonomies []string) ([]model.TermRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	want := map[string]bool{}
	for _, t := range taxonomies {
		want[t] = true
	}
	var out []model.TermRow
	for _, t := range r.terms[postID] {
		if want[t.Taxonomy] {
			out = append(out, t)
		}
	}
	return out, nil
}

// GetUserWithMeta implements Repository.
func (r *MemoryRepository) GetUserWithMeta(_ context.Context, userID uint64) (*model.UserWithMeta, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	u, ok := r.users[userID]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

// FetchPluginOptions implements Repository.
func (r *MemoryRepository) FetchPluginOptions(_ context.Context, namePrefix string) ([]model.OptionRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	var out []model.OptionRow
	for _, o := range r.options {
		if strings.HasPrefix(o.OptionName, namePrefix) {
			out = append(out, o)
		}
	}
	return out, nil
}

// TestConnection implements Repository.
func (r *MemoryRepository) TestConnection(context.Context) (*model.ConnectionInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	return &model.ConnectionInfo{PostsTable: "wp_posts", PostCount: int64(len(r.posts))}, nil
}

var _ Repository = (*MemoryRepository)(nil)
