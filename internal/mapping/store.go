// Package mapping persists the source-to-destination identity map that makes
// the migration incremental and idempotent.
package mapping

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tigerroll/wpmigrate/internal/domain/model"
	"github.com/tigerroll/wpmigrate/pkg/batch/support/util/exception"
	"github.com/tigerroll/wpmigrate/pkg/batch/support/util/logger"
)

const (
	moduleName = "mapping"
	// TableName is the mapping table created by the schema migrations.
	TableName = "wpmigrate_map"
)

// Store reads and writes mapping entries.
type Store interface {
	// Get returns the destination id recorded for a source object.
	Get(ctx context.Context, scopeID int, objectType model.ObjectType, sourceID uint64) (uint64, bool, error)
	// Upsert records or overwrites the destination id of a source object.
	Upsert(ctx context.Context, scopeID int, objectType model.ObjectType, sourceID, destID uint64) error
	// ListForDeletion returns up to limit entries in insertion order.
	ListForDeletion(ctx context.Context, limit int) ([]model.MappingEntry, error)
	// ListAfter is ListForDeletion restricted to row ids above afterID.
	ListAfter(ctx context.Context, afterID uint64, limit int) ([]model.MappingEntry, error)
	// Delete removes one entry by its row id.
	Delete(ctx context.Context, id uint64) error
	// Count returns the number of entries.
	Count(ctx context.Context) (int64, error)
	// DeleteAll removes every entry.
	DeleteAll(ctx context.Context) error
}

type row struct {
	ID            uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	SourceScopeID int       `gorm:"column:source_scope_id"`
	ObjectType    string    `gorm:"column:object_type"`
	SourceID      uint64    `gorm:"column:source_id"`
	DestID        uint64    `gorm:"column:dest_id"`
	CreatedAt     time.Time `gorm:"column:created_at"`
	UpdatedAt     time.Time `gorm:"column:updated_at"`
}

func (row) TableName() string { return TableName }

func (r row) toEntry() model.MappingEntry {
	return model.MappingEntry{
		ID:            r.ID,
		SourceScopeID: r.SourceScopeID,
		ObjectType:    model.ObjectType(r.ObjectType),
		SourceID:      r.SourceID,
		DestID:        r.DestID,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

// GormStore is the Store backed by the wpmigrate_map table.
type GormStore struct {
	db   *gorm.DB
	sink *logger.Sink
	now  func() time.Time
}

// NewGormStore creates a GormStore. The table must already exist. Overwritten
// destination ids are reported on sink, which may be nil.
func NewGormStore(db *gorm.DB, sink *logger.Sink) *GormStore {
	return &GormStore{db: db, sink: sink, now: time.Now}
}

// Get implements Store.
func (s *GormStore) Get(ctx context.Context, scopeID int, objectType model.ObjectType, sourceID uint64) (uint64, bool, error) {
	var r row
	err := s.db.WithContext(ctx).
		Where("source_scope_id = ? AND object_type = ? AND source_id = ?", scopeID, string(objectType), sourceID).
		Take(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, exception.NewBatchError(moduleName, "failed to read mapping", err, false, false)
	}
	return r.DestID, true, nil
}

// Upsert implements Store. An existing entry keeps its created_at.
func (s *GormStore) Upsert(ctx context.Context, scopeID int, objectType model.ObjectType, sourceID, destID uint64) error {
	now := s.now().UTC()
	r := row{
		SourceScopeID: scopeID,
		ObjectType:    string(objectType),
		SourceID:      sourceID,
		DestID:        destID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	var previous uint64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing row
		err := tx.Where("source_scope_id = ? AND object_type = ? AND source_id = ?", scopeID, string(objectType), sourceID).
			Take(&existing).Error
		switch {
		case err == nil:
			previous = existing.DestID
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "source_scope_id"}, {Name: "object_type"}, {Name: "source_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"dest_id", "updated_at"}),
		}).Create(&r).Error
	})
	if err != nil {
		return exception.NewBatchError(moduleName, "failed to upsert mapping", err, true, false)
	}
	if previous != 0 && previous != destID {
		s.sink.Info("Mapping updated", logger.Fields{
			"scope_id":    scopeID,
			"object_type": string(objectType),
			"source_id":   sourceID,
			"old_dest_id": previous,
			"new_dest_id": destID,
		})
	}
	return nil
}

// ListForDeletion implements Store. limit below 1 is treated as 1.
func (s *GormStore) ListForDeletion(ctx context.Context, limit int) ([]model.MappingEntry, error) {
	return s.ListAfter(ctx, 0, limit)
}

// ListAfter implements Store.
func (s *GormStore) ListAfter(ctx context.Context, afterID uint64, limit int) ([]model.MappingEntry, error) {
	if limit < 1 {
		limit = 1
	}
	var rows []row
	if err := s.db.WithContext(ctx).Where("id > ?", afterID).Order("id ASC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to list mappings", err, false, false)
	}
	entries := make([]model.MappingEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, r.toEntry())
	}
	return entries, nil
}

// Delete implements Store. Deleting a missing id is not an error.
func (s *GormStore) Delete(ctx context.Context, id uint64) error {
	if err := s.db.WithContext(ctx).Where("id = ?", id).Delete(&row{}).Error; err != nil {
		return exception.NewBatchError(moduleName, "failed to delete mapping", err, true, false)
	}
	return nil
}

// Count implements Store.
func (s *GormStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&row{}).Count(&n).Error; err != nil {
		return 0, exception.NewBatchError(moduleName, "failed to count mappings", err, false, false)
	}
	return n, nil
}

// DeleteAll implements Store.
func (s *GormStore) DeleteAll(ctx context.Context) error {
	err := s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&row{}).Error
	if err != nil {
		return exception.NewBatchError(moduleName, "failed to clear mappings", err, false, false)
	}
	return nil
}

var _ Store = (*GormStore)(nil)
