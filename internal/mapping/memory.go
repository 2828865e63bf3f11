package mapping

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tigerroll/wpmigrate/internal/domain/model"
)

type memoryKey struct {
	scope      int
	objectType model.ObjectType
	sourceID   uint64
}

// MemoryStore is a Store held in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	nextID  uint64
	entries map[memoryKey]*model.MappingEntry
	// Upserts counts Upsert calls.
	Upserts int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[memoryKey]*model.MappingEntry{}}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, scopeID int, objectType model.ObjectType, sourceID uint64) (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[memoryKey{scopeID, objectType, sourceID}]
	if !ok {
		return 0, false, nil
	}
	return e.DestID, true, nil
}

// Upsert implements Store.
func (s *MemoryStore) Upsert(_ context.Context, scopeID int, objectType model.ObjectType, sourceID, destID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Upserts++
	now := time.Now().UTC()
	key := memoryKey{scopeID, objectType, sourceID}
	if e, ok := s.entries[key]; ok {
		e.DestID = destID
		e.UpdatedAt = now
		return nil
	}
	s.nextID++
	s.entries[key] = &model.MappingEntry{
		ID:            s.nextID,
		SourceScopeID: scopeID,
		ObjectType:    objectType,
		SourceID:      sourceID,
		DestID:        destID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	return nil
}

// ListForDeletion implements Store.
func (s *MemoryStore) ListForDeletion(ctx context.Context, limit int) ([]model.MappingEntry, error) {
	return s.ListAfter(ctx, 0, limit)
}

// ListAfter implements Store.
func (s *MemoryStore) ListAfter(_ context.Context, afterID uint64, limit int) ([]model.MappingEntry, error) {
	if limit < 1 {
		limit = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make([]model.MappingEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if e.ID > afterID {
			all = append(all, *e)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.entries {
		if e.ID == id {
			delete(s.entries, k)
		}
	}
	return nil
}

// Count implements Store.
func (s *MemoryStore) Count(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.entries)), nil
}

// DeleteAll implements Store.
func (s *MemoryStore) DeleteAll(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = map[memoryKey]*model.MappingEntry{}
	return nil
}

var _ Store = (*MemoryStore)(nil)
