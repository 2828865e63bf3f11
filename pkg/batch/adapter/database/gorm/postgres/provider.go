// Package postgres registers the PostgreSQL dialector for store databases
// kept outside the WordPress MySQL server.
package postgres

import (
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/wpmigrate/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/wpmigrate/pkg/batch/adapter/database/gorm"
)

func init() {
	gormadapter.RegisterDialector("postgres", func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		return postgres.Open(cfg.PostgresDSN()), nil
	})
}
