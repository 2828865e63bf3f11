package migration

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"

	"github.com/tigerroll/wpmigrate/pkg/batch/support/util/logger"
)

//go:embed sql
var migrationFS embed.FS

type migratorImpl struct {
	db     *gorm.DB
	dbType string
	fsys   fs.FS
}

// NewMigrator creates a Migrator for the store database of type dbType
// ("mysql", "sqlite" or "postgres").
func NewMigrator(db *gorm.DB, dbType string) Migrator {
	return &migratorImpl{db: db, dbType: dbType, fsys: migrationFS}
}

func (m *migratorImpl) databaseDriver() (database.Driver, error) {
	sqlDB, err := m.db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	switch m.dbType {
	case "postgres":
		return postgres.WithInstance(sqlDB, &postgres.Config{MigrationsTable: MigrationsTable})
	case "mysql":
		return mysql.WithInstance(sqlDB, &mysql.Config{MigrationsTable: MigrationsTable})
	case "sqlite":
		return sqlite.WithInstance(sqlDB, &sqlite.Config{MigrationsTable: MigrationsTable})
	default:
		return nil, fmt.Errorf("unsupported database type for migration: %s", m.dbType)
	}
}

// instance builds a migrate.Migrate over the embedded scripts. Only the
// source driver is closed afterwards: closing the migrate instance would
// also close the shared *sql.DB.
func (m *migratorImpl) instance() (*migrate.Migrate, func(), error) {
	sourceDriver, err := iofs.New(m.fsys, "sql/"+m.dbType)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open migrations for %s: %w", m.dbType, err)
	}
	dbDriver, err := m.databaseDriver()
	if err != nil {
		_ = sourceDriver.Close()
		return nil, nil, fmt.Errorf("failed to create database driver: %w", err)
	}
	instance, err := migrate.NewWithInstance("iofs", sourceDriver, m.dbType, dbDriver)
	if err != nil {
		_ = sourceDriver.Close()
		return nil, nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return instance, func() { _ = sourceDriver.Close() }, nil
}

// Up implements Migrator.
func (m *migratorImpl) Up(_ context.Context) error {
	return m.run("up", func(inst *migrate.Migrate) error { return inst.Up() })
}

// Down implements Migrator.
func (m *migratorImpl) Down(_ context.Context) error {
	return m.run("down", func(inst *migrate.Migrate) error { return inst.Down() })
}

// Version implements Migrator.
func (m *migratorImpl) Version() (uint, bool, error) {
	inst, release, err := m.instance()
	if err != nil {
		return 0, false, err
	}
	defer release()
	version, dirty, err := inst.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (m *migratorImpl) run(command string, apply func(*migrate.Migrate) error) error {
	logger.Infof("Executing store migration '%s' (%s, table %s)", command, m.dbType, MigrationsTable)
	inst, release, err := m.instance()
	if err != nil {
		return err
	}
	defer release()

	if err := apply(inst); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		if version, dirty, verr := inst.Version(); verr == nil {
			logger.Errorf("Store migration '%s' failed at version %d (dirty=%t)", command, version, dirty)
		}
		return fmt.Errorf("migration '%s' failed for %s: %w", command, m.dbType, err)
	}
	logger.Infof("Store migration '%s' completed.", command)
	return nil
}
