package main

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/fx"
	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/wpmigrate/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/wpmigrate/pkg/batch/adapter/database/gorm"
	_ "github.com/tigerroll/wpmigrate/pkg/batch/adapter/database/gorm/mysql"
	_ "github.com/tigerroll/wpmigrate/pkg/batch/adapter/database/gorm/postgres"
	_ "github.com/tigerroll/wpmigrate/pkg/batch/adapter/database/gorm/sqlite"
	"github.com/tigerroll/wpmigrate/pkg/batch/adapter/storage/local"
	"github.com/tigerroll/wpmigrate/pkg/batch/component/tasklet/migration"
	config "github.com/tigerroll/wpmigrate/pkg/batch/core/config"
	coremetrics "github.com/tigerroll/wpmigrate/pkg/batch/core/metrics"
	metrics "github.com/tigerroll/wpmigrate/pkg/batch/infrastructure/metrics"
	"github.com/tigerroll/wpmigrate/pkg/batch/support/util/logger"

	"github.com/tigerroll/wpmigrate/internal/control"
	"github.com/tigerroll/wpmigrate/internal/destination"
	"github.com/tigerroll/wpmigrate/internal/destination/wpdb"
	"github.com/tigerroll/wpmigrate/internal/importer"
	"github.com/tigerroll/wpmigrate/internal/mapping"
	"github.com/tigerroll/wpmigrate/internal/purge"
	"github.com/tigerroll/wpmigrate/internal/scheduler"
	"github.com/tigerroll/wpmigrate/internal/source"
	"github.com/tigerroll/wpmigrate/internal/state"
)

const (
	storeConnection       = "store"
	destinationConnection = "destination"
	connectTimeout        = 30 * time.Second
)

// storeDatabase is the engine database holding the mapping table, the run
// state and the batch lock. Its schema is migrated when it is opened.
type storeDatabase struct {
	*gorm.DB
}

// applicationOptions builds the fx graph shared by every command.
func applicationOptions(embedded config.EmbeddedConfig, envFilePath, configFilePath string) []fx.Option {
	return []fx.Option{
		fx.Supply(
			embedded,
			fx.Annotate(envFilePath, fx.ResultTags(`name:"envFilePath"`)),
			fx.Annotate(configFilePath, fx.ResultTags(`name:"configFilePath"`)),
		),
		logger.Module,
		config.Module,
		metrics.Module,
		fx.Provide(
			newDatabaseProvider,
			newStoreDatabase,
			newMappingStore,
			newKVStore,
			state.NewRunStateManager,
			newConfigStore,
			newBatchLock,
			newSink,
			newUploadsStore,
			newWordPressDestination,
			func(r *wpdb.Repository) destination.Repository { return r },
			newSourceFactory,
			newHTTPClient,
			newRunner,
			newPurger,
			newController,
			newScheduler,
		),
	}
}

func newDatabaseProvider(lc fx.Lifecycle, cfg *config.Config) *gormadapter.Provider {
	provider := gormadapter.NewProvider(map[string]dbconfig.DatabaseConfig{
		storeConnection:       cfg.Database.Store,
		destinationConnection: cfg.Database.Destination,
		source.ConnectionName: cfg.SourceDatabase(),
	})
	lc.Append(fx.Hook{OnStop: func(context.Context) error {
		return provider.CloseAll()
	}})
	return provider
}

func newStoreDatabase(provider *gormadapter.Provider, cfg *config.Config) (storeDatabase, error) {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	db, err := provider.GetConnection(ctx, storeConnection)
	if err != nil {
		return storeDatabase{}, fmt.Errorf("open store database: %w", err)
	}
	if err := migration.NewMigrator(db, cfg.Database.Store.Type).Up(ctx); err != nil {
		return storeDatabase{}, err
	}
	return storeDatabase{db}, nil
}

func newMappingStore(db storeDatabase, sink *logger.Sink) mapping.Store {
	return mapping.NewGormStore(db.DB, sink)
}

func newKVStore(db storeDatabase) state.KVStore {
	return state.NewGormKVStore(db.DB)
}

func newConfigStore(kv state.KVStore, cfg *config.Config) *state.ConfigStore {
	return state.NewConfigStore(kv, state.DefaultSettings(cfg))
}

func newBatchLock(cfg *config.Config, db storeDatabase) state.BatchLock {
	if cfg.Migration.LockBackend == "memory" {
		return state.NewMemoryLock()
	}
	return state.NewSQLLock(db.DB)
}

func newSink(cfg *config.Config) *logger.Sink {
	return logger.NewSink(cfg.Paths.LogFile, cfg.Migration.EnableLogging)
}

func newUploadsStore(cfg *config.Config) (*local.Store, error) {
	return local.NewStore(cfg.Destination.UploadsDir)
}

func newWordPressDestination(provider *gormadapter.Provider, cfg *config.Config, uploads *local.Store) (*wpdb.Repository, error) {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	db, err := provider.GetConnection(ctx, destinationConnection)
	if err != nil {
		return nil, fmt.Errorf("open destination database: %w", err)
	}
	return wpdb.New(db, cfg.Destination.TablePrefix, uploads, uploadsURL(cfg.Destination)), nil
}

func uploadsURL(d config.DestinationConfig) string {
	if d.UploadsURL != "" {
		return strings.TrimRight(d.UploadsURL, "/")
	}
	return strings.TrimRight(d.SiteURL, "/") + "/wp-content/uploads"
}

func newSourceFactory(provider *gormadapter.Provider, cfg *config.Config) source.Factory {
	return source.ProviderFactory(provider, cfg.SourceDatabase())
}

func newHTTPClient(cfg *config.Config) *http.Client {
	return &http.Client{Timeout: time.Duration(cfg.Migration.Download.TimeoutSeconds) * time.Second}
}

type runnerParams struct {
	fx.In

	Config      *config.Config
	Settings    *state.ConfigStore
	State       *state.RunStateManager
	Lock        state.BatchLock
	Mapping     mapping.Store
	Sources     source.Factory
	Destination *wpdb.Repository
	Sink        *logger.Sink
	Client      *http.Client
	Recorder    coremetrics.MetricRecorder
	Tracer      coremetrics.Tracer
}

func newRunner(p runnerParams) *importer.Runner {
	dl := p.Config.Migration.Download
	tempDir := dl.TempDir
	if tempDir == "" {
		tempDir = filepath.Join(filepath.Dir(p.Config.Paths.LogFile), "downloads")
	}
	return importer.NewRunner(importer.Deps{
		Settings:    p.Settings,
		State:       p.State,
		Lock:        p.Lock,
		Mapping:     p.Mapping,
		Sources:     p.Sources,
		Destination: p.Destination,
		Fields:      p.Destination,
		Sink:        p.Sink,
		Client:      p.Client,
		Recorder:    p.Recorder,
		Tracer:      p.Tracer,
		Download: importer.DownloadOptions{
			MaxAttempts:   dl.MaxAttempts,
			Backoff:       time.Duration(dl.BackoffSeconds) * time.Second,
			TempDir:       tempDir,
			RatePerSecond: dl.RatePerSecond,
		},
		DefaultAuthorID: p.Config.Destination.ActingUserID,
	})
}

type purgerParams struct {
	fx.In

	Config      *config.Config
	Mapping     mapping.Store
	Destination destination.Repository
	State       *state.RunStateManager
	Lock        state.BatchLock
	Sink        *logger.Sink
	Recorder    coremetrics.MetricRecorder
	Tracer      coremetrics.Tracer
}

func newPurger(p purgerParams) *purge.Purger {
	return purge.NewPurger(purge.Deps{
		Mapping:      p.Mapping,
		Destination:  p.Destination,
		State:        p.State,
		Lock:         p.Lock,
		Sink:         p.Sink,
		Recorder:     p.Recorder,
		Tracer:       p.Tracer,
		ActingUserID: p.Config.Destination.ActingUserID,
	})
}

type controllerParams struct {
	fx.In

	Settings *state.ConfigStore
	State    *state.RunStateManager
	Runner   *importer.Runner
	Purger   *purge.Purger
	Sources  source.Factory
	Mapping  mapping.Store
	Sink     *logger.Sink
}

func newController(p controllerParams) *control.Controller {
	return control.New(control.Deps{
		Settings: p.Settings,
		State:    p.State,
		Runner:   p.Runner,
		Purger:   p.Purger,
		Sources:  p.Sources,
		Mapping:  p.Mapping,
		Sink:     p.Sink,
	})
}

func newScheduler(cfg *config.Config, runner *importer.Runner, st *state.RunStateManager, settings *state.ConfigStore) *scheduler.Scheduler {
	return scheduler.New(runner, st, settings, cfg.Paths.SchedulerLock)
}
