package model

import (
	"strings"
	"time"
)

// Settings is the effective migration configuration consumed by the engine.
// Keys follow the flat names operators use when changing settings at runtime.
type Settings struct {
	SourceDBHost       string `yaml:"source_db_host" json:"source_db_host"`
	SourceDBPort       int    `yaml:"source_db_port" json:"source_db_port"`
	SourceDBName       string `yaml:"source_db_name" json:"source_db_name"`
	SourceDBUser       string `yaml:"source_db_user" json:"source_db_user"`
	SourceDBPass       string `yaml:"source_db_pass" json:"source_db_pass"`
	SourceSiteURL      string `yaml:"source_site_url" json:"source_site_url"`
	SourceTablePrefix  string `yaml:"source_table_prefix" json:"source_table_prefix"`
	SourceScopeID      int    `yaml:"source_scope_id" json:"source_scope_id"`
	DestinationSiteURL string `yaml:"destination_site_url" json:"destination_site_url"`

	PostsPerRun        int  `yaml:"posts_per_run" json:"posts_per_run"`
	RunIntervalMinutes int  `yaml:"run_interval_minutes" json:"run_interval_minutes"`
	DryRun             bool `yaml:"dry_run" json:"dry_run"`
	EnableLogging      bool `yaml:"enable_logging" json:"enable_logging"`

	PluginYoastSEOEnabled          bool `yaml:"plugin_yoastseo_enabled" json:"plugin_yoastseo_enabled"`
	PluginACFEnabled               bool `yaml:"plugin_acf_enabled" json:"plugin_acf_enabled"`
	PluginHreflangEnabled          bool `yaml:"plugin_hreflang_enabled" json:"plugin_hreflang_enabled"`
	PluginPermalinkManagerEnabled  bool `yaml:"plugin_permalink_manager_enabled" json:"plugin_permalink_manager_enabled"`
	PluginPowerPressOptionsEnabled bool `yaml:"plugin_powerpress_options_enabled" json:"plugin_powerpress_options_enabled"`
	PluginACFThemeSettingsEnabled  bool `yaml:"plugin_acf_theme_settings_enabled" json:"plugin_acf_theme_settings_enabled"`

	ImportScope ImportScope `yaml:"import_scope" json:"import_scope"`
}

// Sanitize clamps numeric settings, trims URLs and normalises the scope.
func (s Settings) Sanitize() Settings {
	if s.PostsPerRun < 1 {
		s.PostsPerRun = 1
	}
	if s.RunIntervalMinutes < 1 {
		s.RunIntervalMinutes = 1
	}
	if s.SourceScopeID < 1 {
		s.SourceScopeID = 1
	}
	if s.SourceDBPort == 0 {
		s.SourceDBPort = 3306
	}
	if strings.TrimSpace(s.SourceTablePrefix) == "" {
		s.SourceTablePrefix = "wp_"
	}
	s.SourceSiteURL = strings.TrimRight(strings.TrimSpace(s.SourceSiteURL), "/")
	s.DestinationSiteURL = strings.TrimRight(strings.TrimSpace(s.DestinationSiteURL), "/")
	s.ImportScope = s.ImportScope.Sanitize()
	return s
}

// LockTTL returns how long a batch lock may be held: the larger of five
// minutes and two minutes per configured interval minute.
func (s Settings) LockTTL() time.Duration {
	ttl := time.Duration(s.RunIntervalMinutes) * 120 * time.Second
	if ttl < 300*time.Second {
		ttl = 300 * time.Second
	}
	return ttl
}

// RunInterval returns the scheduler period.
func (s Settings) RunInterval() time.Duration {
	if s.RunIntervalMinutes < 1 {
		return time.Minute
	}
	return time.Duration(s.RunIntervalMinutes) * time.Minute
}

// UploadsBaseURL returns the public uploads root of the source site.
func (s Settings) UploadsBaseURL() string {
	return strings.TrimRight(s.SourceSiteURL, "/") + "/wp-content/uploads/"
}
