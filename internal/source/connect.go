package source

import (
	"context"
	"sync"

	"gorm.io/gorm"

	"github.com/tigerroll/wpmigrate/internal/domain/model"
	dbconfig "github.com/tigerroll/wpmigrate/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/wpmigrate/pkg/batch/adapter/database/gorm"
)

// ConnectionName is the provider name of the source database.
const ConnectionName = "source"

// DatabaseConfig returns base with the connection fields replaced by the
// source settings. Pool and log settings of base are kept.
func DatabaseConfig(base dbconfig.DatabaseConfig, s model.Settings) dbconfig.DatabaseConfig {
	cfg := base
	cfg.Type = "mysql"
	cfg.Host = s.SourceDBHost
	cfg.Port = s.SourceDBPort
	cfg.Database = s.SourceDBName
	cfg.User = s.SourceDBUser
	cfg.Password = s.SourceDBPass
	return cfg
}

// Factory returns the Repository for the given settings.
type Factory func(ctx context.Context, s model.Settings) (Repository, error)

// StaticFactory always returns repo.
func StaticFactory(repo Repository) Factory {
	return func(context.Context, model.Settings) (Repository, error) { return repo, nil }
}

// ProviderFactory returns a Factory whose readers connect through provider.
// The cached connection is replaced when the source credentials change.
func ProviderFactory(provider *gormadapter.Provider, base dbconfig.DatabaseConfig) Factory {
	var mu sync.Mutex
	var current dbconfig.DatabaseConfig
	configured := false

	connect := func(ctx context.Context) (*gorm.DB, error) {
		return provider.GetConnection(ctx, ConnectionName)
	}
	return func(_ context.Context, s model.Settings) (Repository, error) {
		cfg := DatabaseConfig(base, s)
		mu.Lock()
		if !configured || cfg != current {
			provider.SetConfig(ConnectionName, cfg)
			current = cfg
			configured = true
		}
		mu.Unlock()
		return NewReader(connect, s.SourceTablePrefix, s.SourceScopeID), nil
	}
}
