// Package mysql registers the MySQL dialector. WordPress source and
// destination databases are always MySQL.
package mysql

import (
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/wpmigrate/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/wpmigrate/pkg/batch/adapter/database/gorm"
)

func init() {
	gormadapter.RegisterDialector("mysql", func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		return mysql.New(mysql.Config{
			DSN:                       cfg.MySQLDSN(),
			DefaultStringSize:         191,
			DontSupportRenameIndex:    true,
			SkipInitializeWithVersion: false,
		}), nil
	})
}
