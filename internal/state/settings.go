package state

import (
	"context"
	"encoding/json"

	"github.com/tigerroll/wpmigrate/internal/domain/model"
	"github.com/tigerroll/wpmigrate/pkg/batch/core/config"
	"github.com/tigerroll/wpmigrate/pkg/batch/support/util/configbinder"
	"github.com/tigerroll/wpmigrate/pkg/batch/support/util/exception"
)

// SettingsKey is the KV name of the persisted settings overlay.
const SettingsKey = "settings"

// DefaultSettings derives the engine settings from the loaded configuration.
func DefaultSettings(cfg *config.Config) model.Settings {
	scope := make(model.ImportScope, 0, len(cfg.Migration.ImportScope))
	for _, e := range cfg.Migration.ImportScope {
		scope = append(scope, model.ScopeEntry{
			PostType:   e.PostType,
			Taxonomies: append([]string(nil), e.Taxonomies...),
			Enabled:    e.Enabled,
		})
	}
	plugins := cfg.Migration.Plugins
	return model.Settings{
		SourceDBHost:                   cfg.Source.DBHost,
		SourceDBPort:                   cfg.Source.DBPort,
		SourceDBName:                   cfg.Source.DBName,
		SourceDBUser:                   cfg.Source.DBUser,
		SourceDBPass:                   cfg.Source.DBPass,
		SourceSiteURL:                  cfg.Source.SiteURL,
		SourceTablePrefix:              cfg.Source.TablePrefix,
		SourceScopeID:                  cfg.Source.ScopeID,
		DestinationSiteURL:             cfg.Destination.SiteURL,
		PostsPerRun:                    cfg.Migration.PostsPerRun,
		RunIntervalMinutes:             cfg.Migration.RunIntervalMinutes,
		DryRun:                         cfg.Migration.DryRun,
		EnableLogging:                  cfg.Migration.EnableLogging,
		PluginYoastSEOEnabled:          plugins.YoastSEO,
		PluginACFEnabled:               plugins.ACF,
		PluginHreflangEnabled:          plugins.Hreflang,
		PluginPermalinkManagerEnabled:  plugins.PermalinkManager,
		PluginPowerPressOptionsEnabled: plugins.PowerPressOptions,
		PluginACFThemeSettingsEnabled:  plugins.ACFThemeSettings,
		ImportScope:                    scope,
	}.Sanitize()
}

// ConfigStore returns the effective settings: configured defaults overlaid
// with the properties saved at runtime.
type ConfigStore struct {
	kv       KVStore
	defaults model.Settings
}

// NewConfigStore creates a ConfigStore.
func NewConfigStore(kv KVStore, defaults model.Settings) *ConfigStore {
	return &ConfigStore{kv: kv, defaults: defaults}
}

// Get returns the effective, sanitised settings.
func (s *ConfigStore) Get(ctx context.Context) (model.Settings, error) {
	overlay, err := s.overlay(ctx)
	if err != nil {
		return s.defaults.Sanitize(), err
	}
	return s.apply(overlay)
}

// Save merges props into the saved overlay and returns the new effective
// settings. Keys use the flat setting names ("posts_per_run", ...).
func (s *ConfigStore) Save(ctx context.Context, props map[string]any) (model.Settings, error) {
	overlay, err := s.overlay(ctx)
	if err != nil {
		return model.Settings{}, err
	}
	for k, v := range props {
		overlay[k] = v
	}
	effective, err := s.apply(overlay)
	if err != nil {
		return model.Settings{}, err
	}
	encoded, err := json.Marshal(overlay)
	if err != nil {
		return model.Settings{}, exception.NewBatchError(moduleName, "failed to encode settings", err, false, false)
	}
	if err := s.kv.Set(ctx, SettingsKey, string(encoded)); err != nil {
		return model.Settings{}, err
	}
	return effective, nil
}

// Clear drops the saved overlay.
func (s *ConfigStore) Clear(ctx context.Context) error {
	return s.kv.Delete(ctx, SettingsKey)
}

func (s *ConfigStore) overlay(ctx context.Context) (map[string]any, error) {
	raw, ok, err := s.kv.Get(ctx, SettingsKey)
	if err != nil {
		return nil, err
	}
	overlay := map[string]any{}
	if !ok || raw == "" {
		return overlay, nil
	}
	if err := json.Unmarshal([]byte(raw), &overlay); err != nil {
		return nil, exception.NewBatchError(moduleName, "saved settings are unreadable", err, false, false)
	}
	return overlay, nil
}

func (s *ConfigStore) apply(overlay map[string]any) (model.Settings, error) {
	settings := s.defaults
	if rows, ok := overlay["import_scope"].([]any); ok {
		// A saved scope replaces the configured one instead of merging row by row.
		settings.ImportScope = nil
		for _, row := range rows {
			if m, ok := row.(map[string]any); ok {
				if _, set := m["enabled"]; !set {
					m["enabled"] = true
				}
			}
		}
	}
	if err := configbinder.BindProperties(overlay, &settings); err != nil {
		return s.defaults.Sanitize(), exception.NewBatchError(moduleName, "invalid saved settings", err, false, false)
	}
	return settings.Sanitize(), nil
}
