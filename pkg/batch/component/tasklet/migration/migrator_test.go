package migration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func openSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

func TestMigrator_UpIsIdempotent(t *testing.T) {
	db := openSQLite(t)
	m := NewMigrator(db, "sqlite")

	require.NoError(t, m.Up(context.Background()))
	require.NoError(t, m.Up(context.Background()), "second run reports no change")

	version, dirty, err := m.Version()
	require.NoError(t, err)
	assert.EqualValues(t, 3, version)
	assert.False(t, dirty)

	for _, table := range []string{"wpmigrate_map", "wpmigrate_kv", "wpmigrate_locks"} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}

	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.NoError(t, sqlDB.Ping(), "shared connection stays open")
}

func TestMigrator_Down(t *testing.T) {
	db := openSQLite(t)
	m := NewMigrator(db, "sqlite")
	require.NoError(t, m.Up(context.Background()))
	require.NoError(t, m.Down(context.Background()))
	assert.False(t, db.Migrator().HasTable("wpmigrate_map"))
}

func TestMigrator_UnsupportedType(t *testing.T) {
	err := NewMigrator(openSQLite(t), "oracle").Up(context.Background())
	assert.Error(t, err)
}
