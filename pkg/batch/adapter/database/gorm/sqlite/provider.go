// Package sqlite registers the SQLite dialector used for a local store
// database and in tests.
package sqlite

import (
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/wpmigrate/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/wpmigrate/pkg/batch/adapter/database/gorm"
)

func init() {
	gormadapter.RegisterDialector("sqlite", func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		return sqlite.Open(cfg.SQLiteDSN()), nil
	})
}
