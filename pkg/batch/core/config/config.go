// Package config defines the wpmigrate configuration tree and its loader.
package config

import (
	dbconfig "github.com/tigerroll/wpmigrate/pkg/batch/adapter/database/config"
)

// EmbeddedConfig holds the raw application.yaml bundled into the binary.
type EmbeddedConfig []byte

// EnvPrefix prefixes every environment variable override (WPMIGRATE_SOURCE_HOST, ...).
const EnvPrefix = "WPMIGRATE_"

// Config is the root configuration.
type Config struct {
	System      SystemConfig      `yaml:"system"`
	Database    DatabasesConfig   `yaml:"database"`
	Source      SourceConfig      `yaml:"source"`
	Destination DestinationConfig `yaml:"destination"`
	Migration   MigrationConfig   `yaml:"migration"`
	Paths       PathsConfig       `yaml:"paths"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Tracing     TracingConfig     `yaml:"tracing"`
}

// SystemConfig holds process-wide settings.
type SystemConfig struct {
	Timezone string        `yaml:"timezone"`
	Logging  LoggingConfig `yaml:"logging"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the process log level (DEBUG, INFO, WARN, ERROR).
	Level string `yaml:"level"`
}

// DatabasesConfig names the two databases the engine writes to.
type DatabasesConfig struct {
	// Store holds the mapping table, run state, settings overlay and batch lock.
	Store dbconfig.DatabaseConfig `yaml:"store"`
	// Destination is the WordPress database receiving content.
	Destination dbconfig.DatabaseConfig `yaml:"destination"`
}

// SourceConfig describes the legacy WordPress install being read.
type SourceConfig struct {
	DBHost      string `yaml:"db_host"`
	DBPort      int    `yaml:"db_port"`
	DBName      string `yaml:"db_name"`
	DBUser      string `yaml:"db_user"`
	DBPass      string `yaml:"db_pass"`
	SiteURL     string `yaml:"site_url"`
	TablePrefix string `yaml:"table_prefix"`
	// ScopeID is the multisite blog id (1 for single-site installs).
	ScopeID int `yaml:"scope_id"`
}

// DestinationConfig describes the WordPress install receiving content.
type DestinationConfig struct {
	SiteURL     string `yaml:"site_url"`
	TablePrefix string `yaml:"table_prefix"`
	UploadsDir  string `yaml:"uploads_dir"`
	// UploadsURL defaults to SiteURL + "/wp-content/uploads".
	UploadsURL string `yaml:"uploads_url"`
	// ActingUserID is never deleted by purge and inherits content of deleted users.
	ActingUserID uint64 `yaml:"acting_user_id"`
}

// ImportScopeEntry configures one post type.
type ImportScopeEntry struct {
	PostType   string   `yaml:"post_type"`
	Taxonomies []string `yaml:"taxonomies"`
	Enabled    bool     `yaml:"enabled"`
}

// PluginFlags toggles plugin-specific meta and option imports.
type PluginFlags struct {
	YoastSEO          bool `yaml:"yoastseo"`
	ACF               bool `yaml:"acf"`
	Hreflang          bool `yaml:"hreflang"`
	PermalinkManager  bool `yaml:"permalink_manager"`
	PowerPressOptions bool `yaml:"powerpress_options"`
	ACFThemeSettings  bool `yaml:"acf_theme_settings"`
}

// DownloadConfig controls media downloads.
type DownloadConfig struct {
	MaxAttempts    int     `yaml:"max_attempts"`
	BackoffSeconds int     `yaml:"backoff_seconds"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	RatePerSecond  float64 `yaml:"rate_per_second"` // 0 disables throttling.
	TempDir        string  `yaml:"temp_dir"`
}

// MigrationConfig holds the batch settings.
type MigrationConfig struct {
	PostsPerRun        int                `yaml:"posts_per_run"`
	RunIntervalMinutes int                `yaml:"run_interval_minutes"`
	DryRun             bool               `yaml:"dry_run"`
	EnableLogging      bool               `yaml:"enable_logging"`
	Plugins            PluginFlags        `yaml:"plugins"`
	ImportScope        []ImportScopeEntry `yaml:"import_scope"`
	Download           DownloadConfig     `yaml:"download"`
	// LockBackend selects the batch lock: "sql" (shared store) or "memory" (single process).
	LockBackend string `yaml:"lock_backend"`
}

// PathsConfig holds file locations.
type PathsConfig struct {
	LogFile       string `yaml:"log_file"`
	SchedulerLock string `yaml:"scheduler_lock"`
}

// MetricsConfig controls the Prometheus endpoint exposed by serve.
type MetricsConfig struct {
	ListenAddress string `yaml:"listen_address"`
}

// TracingConfig controls OTLP trace export. Tracing is a no-op when Endpoint is empty.
type TracingConfig struct {
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"service_name"`
}

// SourceDatabase converts the source section into a DatabaseConfig.
func (c *Config) SourceDatabase() dbconfig.DatabaseConfig {
	return dbconfig.DatabaseConfig{
		Type:     "mysql",
		Host:     c.Source.DBHost,
		Port:     c.Source.DBPort,
		Database: c.Source.DBName,
		User:     c.Source.DBUser,
		Password: c.Source.DBPass,
		LogLevel: c.Database.Destination.LogLevel,
		Pool:     dbconfig.PoolConfig{MaxOpenConns: 2, MaxIdleConns: 1, ConnMaxLifetimeMinutes: 5},
	}
}

// DefaultImportScope is the post type scope shipped with a fresh install.
func DefaultImportScope() []ImportScopeEntry {
	return []ImportScopeEntry{
		{PostType: "post", Taxonomies: []string{"category", "post_tag", "topic", "industry"}, Enabled: true},
		{PostType: "solutions-cpt", Taxonomies: []string{"solutions-category", "industry"}, Enabled: true},
		{PostType: "events-cpt", Taxonomies: []string{"event-type", "topic", "industry"}, Enabled: true},
		{PostType: "news-cpt", Taxonomies: []string{"news-category", "industry"}, Enabled: true},
		{PostType: "podcasts-cpt", Taxonomies: []string{"podcasts-host", "topic", "industry"}, Enabled: true},
		{PostType: "webinars-cpt", Taxonomies: []string{"topic", "industry"}, Enabled: true},
		{PostType: "resource", Taxonomies: []string{"resource-type", "topic", "industry"}, Enabled: true},
		{PostType: "case-study-cpt", Taxonomies: []string{"case-study-category", "industry"}, Enabled: true},
		{PostType: "training-course", Taxonomies: []string{"modality", "leadership-level", "course-type", "topic"}, Enabled: true},
		{PostType: "acab-cpt", Taxonomies: []string{"acab-leadership-category"}, Enabled: true},
	}
}

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	return &Config{
		System: SystemConfig{
			Timezone: "UTC",
			Logging:  LoggingConfig{Level: "INFO"},
		},
		Database: DatabasesConfig{
			Store: dbconfig.DatabaseConfig{
				Type:     "sqlite",
				Database: "wpmigrate.db",
				LogLevel: "silent",
				Pool:     dbconfig.PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1},
			},
			Destination: dbconfig.DatabaseConfig{
				Type:     "mysql",
				Host:     "localhost",
				Port:     3306,
				LogLevel: "silent",
				Pool:     dbconfig.PoolConfig{MaxOpenConns: 4, MaxIdleConns: 2, ConnMaxLifetimeMinutes: 5},
			},
		},
		Source: SourceConfig{
			DBHost:      "localhost",
			DBPort:      3306,
			TablePrefix: "wp_",
			ScopeID:     1,
		},
		Destination: DestinationConfig{
			TablePrefix:  "wp_",
			UploadsDir:   "wp-content/uploads",
			ActingUserID: 1,
		},
		Migration: MigrationConfig{
			PostsPerRun:        5,
			RunIntervalMinutes: 1,
			DryRun:             true,
			EnableLogging:      true,
			Plugins: PluginFlags{
				YoastSEO:          true,
				ACF:               true,
				Hreflang:          true,
				PermalinkManager:  true,
				PowerPressOptions: true,
				ACFThemeSettings:  true,
			},
			ImportScope: DefaultImportScope(),
			Download: DownloadConfig{
				MaxAttempts:    3,
				BackoffSeconds: 2,
				TimeoutSeconds: 60,
			},
			LockBackend: "sql",
		},
		Paths: PathsConfig{
			LogFile:       "logs/wpmigrate.log",
			SchedulerLock: "wpmigrate.lock",
		},
		Tracing: TracingConfig{ServiceName: "wpmigrate"},
	}
}
