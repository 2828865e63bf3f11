// Package migration applies the schema of the engine's own tables (mapping,
// key-value state, batch lock) with golang-migrate. The WordPress schemas of
// the source and destination are never touched.
package migration

import "context"

// MigrationsTable records applied schema versions in the store database.
const MigrationsTable = "wpmigrate_schema_migrations"

// Migrator applies schema migrations.
type Migrator interface {
	// Up applies all pending migrations.
	Up(ctx context.Context) error
	// Down rolls back every migration (used by tests and "migrate --down").
	Down(ctx context.Context) error
	// Version returns the applied version and whether it is dirty.
	Version() (uint, bool, error)
}
