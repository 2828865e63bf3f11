package state

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tigerroll/wpmigrate/internal/domain/model"
	"github.com/tigerroll/wpmigrate/pkg/batch/component/tasklet/migration"
	"github.com/tigerroll/wpmigrate/pkg/batch/core/config"
	"github.com/tigerroll/wpmigrate/pkg/batch/support/util/exception"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, migration.NewMigrator(db, "sqlite").Up(context.Background()))
	return db
}

func TestGormKVStore(t *testing.T) {
	ctx := context.Background()
	kv := NewGormKVStore(newTestDB(t))

	_, ok, err := kv.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Set(ctx, "a", "1"))
	require.NoError(t, kv.Set(ctx, "a", "2"))
	v, ok, err := kv.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2", v)

	require.NoError(t, kv.Delete(ctx, "a"))
	_, ok, _ = kv.Get(ctx, "a")
	assert.False(t, ok)
}

func TestRunStateManager_Lifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewRunStateManager(NewGormKVStore(newTestDB(t)))

	st, err := m.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultRunState(), st)

	st, err = m.MarkStart(ctx, []string{"post", "news-cpt"})
	require.NoError(t, err)
	assert.True(t, st.Running)
	assert.Equal(t, []string{"post", "news-cpt"}, st.ActivePostTypes)

	_, err = m.Update(ctx, func(s *model.RunState) {
		s.Cursor["news-cpt"] = 12
		s.Stats.PostsImported = 3
		s.LastError = "boom"
	})
	require.NoError(t, err)

	st, err = m.RequestStop(ctx)
	require.NoError(t, err)
	assert.True(t, st.StopRequested)
	assert.Equal(t, uint64(12), st.CursorFor("news-cpt"))
	assert.Equal(t, 3, st.Stats.PostsImported)

	st, err = m.MarkStopped(ctx)
	require.NoError(t, err)
	assert.False(t, st.Running)
	assert.False(t, st.StopRequested)
	assert.Equal(t, "boom", st.LastError)

	st, err = m.MarkStart(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, st.LastError)
	assert.Equal(t, uint64(12), st.CursorFor("news-cpt"), "start keeps progress")

	st, err = m.Reset(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultRunState(), st)
	st, _ = m.Get(ctx)
	assert.Zero(t, st.CursorFor("news-cpt"))
}

func TestRunStateManager_PartialDocument(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKVStore()
	require.NoError(t, kv.Set(ctx, RunStateKey, `{"running":true,"cursor":{"post":7}}`))

	st, err := NewRunStateManager(kv).Get(ctx)
	require.NoError(t, err)
	assert.True(t, st.Running)
	assert.Equal(t, uint64(7), st.CursorFor("post"))
	assert.Contains(t, st.PluginImports, model.PluginImportPowerPress)
	assert.Contains(t, st.ImportedOptions, model.ImportedOptionsACF)

	require.NoError(t, kv.Set(ctx, RunStateKey, `not json`))
	st, err = NewRunStateManager(kv).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultRunState(), st)
}

func TestRunStateManager_UpdateKeepsUnreadableState(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKVStore()
	m := NewRunStateManager(kv)
	require.NoError(t, kv.Set(ctx, RunStateKey, `{"running":true,"cursor":{"post":7}`))

	_, err := m.Update(ctx, func(st *model.RunState) { st.Running = false })
	require.Error(t, err)
	assert.True(t, exception.IsBatchError(err))
	assert.Contains(t, err.Error(), "run state is unreadable")

	raw, ok, err := kv.Get(ctx, RunStateKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"running":true,"cursor":{"post":7}`, raw, "document is not overwritten")

	_, err = m.Reset(ctx)
	require.NoError(t, err)
	st, err := m.Update(ctx, func(st *model.RunState) { st.Running = true })
	require.NoError(t, err)
	assert.True(t, st.Running)
}

func TestConfigStore(t *testing.T) {
	ctx := context.Background()
	cfg := config.NewConfig()
	cfg.Source.SiteURL = "https://old.example.com/"
	store := NewConfigStore(NewMemoryKVStore(), DefaultSettings(cfg))

	s, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://old.example.com", s.SourceSiteURL)
	assert.Equal(t, 5, s.PostsPerRun)
	assert.True(t, s.DryRun)
	assert.Len(t, s.ImportScope, 10)

	s, err = store.Save(ctx, map[string]any{
		"posts_per_run": "0",
		"dry_run":       "0",
		"import_scope": []any{
			map[string]any{"post_type": "posts", "taxonomies": "category, post_tag"},
			map[string]any{"post_type": "page", "taxonomies": []any{"x"}},
			map[string]any{"post_type": "news-cpt", "taxonomies": []any{"news-category"}, "enabled": false},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, s.PostsPerRun, "clamped to one")
	assert.False(t, s.DryRun)
	assert.Equal(t, model.ImportScope{
		{PostType: "post", Taxonomies: []string{"category", "post_tag"}, Enabled: true},
		{PostType: "news-cpt", Taxonomies: []string{"news-category"}, Enabled: false},
	}, s.ImportScope)
	assert.Equal(t, []string{"post"}, s.ImportScope.ActivePostTypes())

	s, err = store.Save(ctx, map[string]any{"run_interval_minutes": 10})
	require.NoError(t, err)
	assert.Equal(t, 10, s.RunIntervalMinutes)
	assert.False(t, s.DryRun, "earlier overlay values persist")
	assert.Equal(t, 20*time.Minute, s.LockTTL())

	require.NoError(t, store.Clear(ctx))
	s, _ = store.Get(ctx)
	assert.True(t, s.DryRun)
}

func TestSQLLock(t *testing.T) {
	ctx := context.Background()
	lock := NewSQLLock(newTestDB(t))
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	lock.now = func() time.Time { return start }

	lease, err := lock.TryAcquire(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, lease.Owner())

	_, err = lock.TryAcquire(ctx, 5*time.Minute)
	assert.True(t, errors.Is(err, exception.ErrLockContention))

	lock.now = func() time.Time { return start.Add(6 * time.Minute) }
	stale, err := lock.TryAcquire(ctx, 5*time.Minute)
	require.NoError(t, err, "expired leases are taken over")

	require.NoError(t, lease.Release(ctx), "releasing a lost lease is a no-op")
	_, err = lock.TryAcquire(ctx, 5*time.Minute)
	assert.True(t, errors.Is(err, exception.ErrLockContention))

	require.NoError(t, stale.Release(ctx))
	again, err := lock.TryAcquire(ctx, 5*time.Minute)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestMemoryLock_AtMostOneHolder(t *testing.T) {
	ctx := context.Background()
	lock := NewMemoryLock()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var acquired, contended int
	var held Lease
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := lock.TryAcquire(ctx, time.Minute)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.True(t, errors.Is(err, exception.ErrLockContention))
				contended++
				return
			}
			acquired++
			held = lease
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, acquired)
	assert.Equal(t, 7, contended)

	require.NoError(t, held.Release(ctx))
	lease, err := lock.TryAcquire(ctx, time.Minute)
	require.NoError(t, err)
	require.NoError(t, lease.Release(ctx))
}
