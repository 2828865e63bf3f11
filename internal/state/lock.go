package state

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tigerroll/wpmigrate/pkg/batch/support/util/exception"
	"github.com/tigerroll/wpmigrate/pkg/batch/support/util/logger"
)

const (
	// LockTable is the lease table created by the schema migrations.
	LockTable = "wpmigrate_locks"
	// BatchLockName names the single batch lease.
	BatchLockName = "batch"
)

// BatchLock grants at most one live lease at a time. A lease expires after
// its TTL so a crashed holder cannot block later batches forever.
type BatchLock interface {
	// TryAcquire returns a lease, or an error wrapping
	// exception.ErrLockContention when another lease is live.
	TryAcquire(ctx context.Context, ttl time.Duration) (Lease, error)
}

// Lease is a held BatchLock.
type Lease interface {
	Owner() string
	// Release gives the lock up. Releasing an expired or foreign lease is a no-op.
	Release(ctx context.Context) error
}

func contention() error {
	return exception.NewBatchError(moduleName, "batch lock is held", exception.ErrLockContention, false, false)
}

type lockRow struct {
	Name      string    `gorm:"column:name;primaryKey"`
	Owner     string    `gorm:"column:owner"`
	ExpiresAt time.Time `gorm:"column:expires_at"`
}

func (lockRow) TableName() string { return LockTable }

// SQLLock is a BatchLock stored in the wpmigrate_locks table, shared by
// every process using the same store database.
type SQLLock struct {
	db   *gorm.DB
	name string
	now  func() time.Time
}

// NewSQLLock creates an SQLLock. The table must already exist.
func NewSQLLock(db *gorm.DB) *SQLLock {
	return &SQLLock{db: db, name: BatchLockName, now: time.Now}
}

// TryAcquire implements BatchLock.
func (l *SQLLock) TryAcquire(ctx context.Context, ttl time.Duration) (Lease, error) {
	now := l.now().UTC()
	db := l.db.WithContext(ctx)
	if err := db.Where("name = ? AND expires_at < ?", l.name, now).Delete(&lockRow{}).Error; err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to expire batch lock", err, false, false)
	}

	owner := uuid.NewString()
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&lockRow{Name: l.name, Owner: owner, ExpiresAt: now.Add(ttl)})
	if res.Error != nil {
		return nil, exception.NewBatchError(moduleName, "failed to acquire batch lock", res.Error, false, false)
	}
	if res.RowsAffected == 0 {
		return nil, contention()
	}
	logger.Debugf("Batch lock acquired by %s until %s", owner, now.Add(ttl).Format(time.RFC3339))
	return &sqlLease{lock: l, owner: owner}, nil
}

type sqlLease struct {
	lock  *SQLLock
	owner string
}

func (s *sqlLease) Owner() string { return s.owner }

func (s *sqlLease) Release(ctx context.Context) error {
	err := s.lock.db.WithContext(ctx).Where("name = ? AND owner = ?", s.lock.name, s.owner).Delete(&lockRow{}).Error
	if err != nil {
		return exception.NewBatchError(moduleName, "failed to release batch lock", err, false, false)
	}
	return nil
}

// MemoryLock is a BatchLock for a single process, backed by a TTL cache.
type MemoryLock struct {
	mu    sync.Mutex
	cache *cache.Cache
	name  string
}

// NewMemoryLock creates a MemoryLock.
func NewMemoryLock() *MemoryLock {
	return &MemoryLock{cache: cache.New(cache.NoExpiration, 0), name: BatchLockName}
}

// TryAcquire implements BatchLock.
func (l *MemoryLock) TryAcquire(_ context.Context, ttl time.Duration) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	owner := uuid.NewString()
	if err := l.cache.Add(l.name, owner, ttl); err != nil {
		return nil, contention()
	}
	return &memoryLease{lock: l, owner: owner}, nil
}

type memoryLease struct {
	lock  *MemoryLock
	owner string
}

func (m *memoryLease) Owner() string { return m.owner }

func (m *memoryLease) Release(context.Context) error {
	m.lock.mu.Lock()
	defer m.lock.mu.Unlock()
	if holder, ok := m.lock.cache.Get(m.lock.name); ok && holder == m.owner {
		m.lock.cache.Delete(m.lock.name)
	}
	return nil
}

var (
	_ BatchLock = (*SQLLock)(nil)
	_ BatchLock = (*MemoryLock)(nil)
)
