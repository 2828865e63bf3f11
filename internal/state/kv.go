// Package state keeps the migration's persisted run state, the runtime
// settings overlay and the batch lock.
package state

import (
	"context"
	"errors"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tigerroll/wpmigrate/pkg/batch/support/util/exception"
)

const (
	moduleName = "state"
	// KVTable is the key-value table created by the schema migrations.
	KVTable = "wpmigrate_kv"
)

// KVStore is a small string key-value store.
type KVStore interface {
	Get(ctx context.Context, name string) (string, bool, error)
	Set(ctx context.Context, name, value string) error
	Delete(ctx context.Context, name string) error
}

type kvRow struct {
	Name      string    `gorm:"column:name;primaryKey"`
	Value     string    `gorm:"column:value"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (kvRow) TableName() string { return KVTable }

// GormKVStore is a KVStore over the wpmigrate_kv table.
type GormKVStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormKVStore creates a GormKVStore. The table must already exist.
func NewGormKVStore(db *gorm.DB) *GormKVStore {
	return &GormKVStore{db: db, now: time.Now}
}

// Get implements KVStore.
func (s *GormKVStore) Get(ctx context.Context, name string) (string, bool, error) {
	var r kvRow
	err := s.db.WithContext(ctx).Where("name = ?", name).Take(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, exception.NewBatchError(moduleName, "failed to read "+name, err, false, false)
	}
	return r.Value, true, nil
}

// Set implements KVStore.
func (s *GormKVStore) Set(ctx context.Context, name, value string) error {
	r := kvRow{Name: name, Value: value, UpdatedAt: s.now().UTC()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&r).Error
	if err != nil {
		return exception.NewBatchError(moduleName, "failed to write "+name, err, false, false)
	}
	return nil
}

// Delete implements KVStore.
func (s *GormKVStore) Delete(ctx context.Context, name string) error {
	if err := s.db.WithContext(ctx).Where("name = ?", name).Delete(&kvRow{}).Error; err != nil {
		return exception.NewBatchError(moduleName, "failed to delete "+name, err, false, false)
	}
	return nil
}

// MemoryKVStore is a KVStore held in process memory.
type MemoryKVStore struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMemoryKVStore creates an empty MemoryKVStore.
func NewMemoryKVStore() *MemoryKVStore {
	return &MemoryKVStore{values: map[string]string{}}
}

// Get implements KVStore.
func (s *MemoryKVStore) Get(_ context.Context, name string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[name]
	return v, ok, nil
}

// Set implements KVStore.
func (s *MemoryKVStore) Set(_ context.Context, name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = value
	return nil
}

// Delete implements KVStore.
func (s *MemoryKVStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, name)
	return nil
}

var (
	_ KVStore = (*GormKVStore)(nil)
	_ KVStore = (*MemoryKVStore)(nil)
)
