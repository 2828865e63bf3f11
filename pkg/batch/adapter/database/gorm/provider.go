// Package gorm opens gorm connections for the databases named in the
// configuration. Dialects register themselves from their sub-packages
// (mysql, sqlite, postgres) so binaries only link the drivers they import.
package gorm

import (
	"context"
	"fmt"
	"sync"

	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/wpmigrate/pkg/batch/adapter/database/config"
	"github.com/tigerroll/wpmigrate/pkg/batch/support/util/exception"
	"github.com/tigerroll/wpmigrate/pkg/batch/support/util/logger"
)

const moduleName = "database"

// DialectorFactory generates a gorm.Dialector from a dbconfig.DatabaseConfig.
type DialectorFactory func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error)

var (
	dialectorRegistry = make(map[string]DialectorFactory)
	dialectorMutex    sync.RWMutex
)

// RegisterDialector registers a DialectorFactory for the given database type.
func RegisterDialector(dbType string, factory DialectorFactory) {
	dialectorMutex.Lock()
	defer dialectorMutex.Unlock()
	if _, exists := dialectorRegistry[dbType]; exists {
		logger.Warnf("Dialector for type '%s' already registered. Overwriting.", dbType)
	}
	dialectorRegistry[dbType] = factory
}

// GetDialectorFactory retrieves the DialectorFactory registered for dbType.
func GetDialectorFactory(dbType string) (DialectorFactory, error) {
	dialectorMutex.RLock()
	defer dialectorMutex.RUnlock()
	factory, ok := dialectorRegistry[dbType]
	if !ok {
		return nil, fmt.Errorf("no dialector registered for database type: %s", dbType)
	}
	return factory, nil
}

// Open establishes a gorm connection for cfg, applies pool settings and
// pings the server. Failures are reported as connection errors.
func Open(ctx context.Context, cfg dbconfig.DatabaseConfig) (*gorm.DB, error) {
	factory, err := GetDialectorFactory(cfg.Type)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "unsupported database type", err, false, false)
	}
	dialector, err := factory(cfg)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("failed to create dialector for %s", cfg.Type), err, false, false)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: NewGormLogger(cfg.LogLevel)})
	if err != nil {
		return nil, exception.NewConnectionError(moduleName, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, exception.NewConnectionError(moduleName, err)
	}
	if cfg.Pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.Pool.MaxOpenConns)
	}
	if cfg.Pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.Pool.MaxIdleConns)
	}
	if lifetime := cfg.ConnMaxLifetime(); lifetime > 0 {
		sqlDB.SetConnMaxLifetime(lifetime)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, exception.NewConnectionError(moduleName, err)
	}
	return db, nil
}

// Provider hands out one lazily opened connection per configured name
// ("store", "destination", "source").
type Provider struct {
	configs     map[string]dbconfig.DatabaseConfig
	connections map[string]*gorm.DB
	mu          sync.Mutex
}

// NewProvider creates a Provider over the named configurations.
func NewProvider(configs map[string]dbconfig.DatabaseConfig) *Provider {
	return &Provider{
		configs:     configs,
		connections: make(map[string]*gorm.DB),
	}
}

// Config returns the configuration registered under name.
func (p *Provider) Config(name string) (dbconfig.DatabaseConfig, bool) {
	cfg, ok := p.configs[name]
	return cfg, ok
}

// GetConnection returns the cached connection for name, opening it on first use.
func (p *Provider) GetConnection(ctx context.Context, name string) (*gorm.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if db, ok := p.connections[name]; ok {
		return db, nil
	}
	cfg, ok := p.configs[name]
	if !ok {
		return nil, exception.NewBatchErrorf(moduleName, "database configuration '%s' not found", name)
	}
	db, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	p.connections[name] = db
	logger.Infof("Established new DB connection: %s (%s)", name, cfg.Type)
	return db, nil
}

// Forget closes and drops the cached connection for name so the next
// GetConnection reconnects (used after settings change the source credentials).
func (p *Provider) Forget(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if db, ok := p.connections[name]; ok {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
		delete(p.connections, name)
	}
}

// SetConfig replaces the configuration for name and drops any open connection.
func (p *Provider) SetConfig(name string, cfg dbconfig.DatabaseConfig) {
	p.Forget(name)
	p.mu.Lock()
	p.configs[name] = cfg
	p.mu.Unlock()
}

// CloseAll closes every open connection.
func (p *Provider) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var lastErr error
	for name, db := range p.connections {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.Close()
		}
		if err != nil {
			logger.Errorf("Failed to close connection '%s': %v", name, err)
			lastErr = err
		}
		delete(p.connections, name)
	}
	return lastErr
}
