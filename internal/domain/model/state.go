package model

import "time"

// Plugin import flag names recorded in RunState.PluginImports.
const (
	PluginImportPowerPress = "powerpress_options"
	PluginImportACFTheme   = "acf_theme_settings"
)

// Plugin names recorded in RunState.ImportedOptions.
const (
	ImportedOptionsACF        = "acf"
	ImportedOptionsPowerPress = "powerpress"
)

// Stats are the counters accumulated across batches.
type Stats struct {
	PostsImported       int `json:"posts_imported"`
	PostsUpdated        int `json:"posts_updated"`
	PostsSkipped        int `json:"posts_skipped"`
	AttachmentsImported int `json:"attachments_imported"`
	AttachmentsSkipped  int `json:"attachments_skipped"`
	Errors              int `json:"errors"`
}

// Add returns the field-wise sum of s and other.
func (s Stats) Add(other Stats) Stats {
	return Stats{
		PostsImported:       s.PostsImported + other.PostsImported,
		PostsUpdated:        s.PostsUpdated + other.PostsUpdated,
		PostsSkipped:        s.PostsSkipped + other.PostsSkipped,
		AttachmentsImported: s.AttachmentsImported + other.AttachmentsImported,
		AttachmentsSkipped:  s.AttachmentsSkipped + other.AttachmentsSkipped,
		Errors:              s.Errors + other.Errors,
	}
}

// RunState is the single persisted record describing migration progress.
type RunState struct {
	Running         bool                  `json:"running"`
	StopRequested   bool                  `json:"stop_requested"`
	LastRunAt       *time.Time            `json:"last_run_at"`
	NextRunAt       *time.Time            `json:"next_run_at"`
	ActivePostTypes []string              `json:"active_post_types"`
	Cursor          map[string]uint64     `json:"cursor"`
	Stats           Stats                 `json:"stats"`
	PluginImports   map[string]*time.Time `json:"plugin_imports"`
	ImportedOptions map[string][]string   `json:"imported_options"`
	LastError       string                `json:"last_error"`
	// PurgeCursor is the highest mapping id the purge has attempted in
	// its current pass.
	PurgeCursor uint64 `json:"purge_cursor,omitempty"`
}

// DefaultRunState returns the state of a migration that never ran.
func DefaultRunState() RunState {
	return RunState{
		ActivePostTypes: []string{},
		Cursor:          map[string]uint64{},
		PluginImports: map[string]*time.Time{
			PluginImportPowerPress: nil,
			PluginImportACFTheme:   nil,
		},
		ImportedOptions: map[string][]string{
			ImportedOptionsACF:        {},
			ImportedOptionsPowerPress: {},
		},
	}
}

// Normalize fills nil collections so a state decoded from an older or
// partial document behaves like a default one.
func (s *RunState) Normalize() {
	def := DefaultRunState()
	if s.ActivePostTypes == nil {
		s.ActivePostTypes = def.ActivePostTypes
	}
	if s.Cursor == nil {
		s.Cursor = def.Cursor
	}
	if s.PluginImports == nil {
		s.PluginImports = def.PluginImports
	}
	for k := range def.PluginImports {
		if _, ok := s.PluginImports[k]; !ok {
			s.PluginImports[k] = nil
		}
	}
	if s.ImportedOptions == nil {
		s.ImportedOptions = def.ImportedOptions
	}
	for k, v := range def.ImportedOptions {
		if _, ok := s.ImportedOptions[k]; !ok {
			s.ImportedOptions[k] = v
		}
	}
}

// CursorFor returns the last processed source id of postType (0 when unset).
func (s RunState) CursorFor(postType string) uint64 {
	return s.Cursor[postType]
}

// PluginImportDone reports whether the one-time import flag is set.
func (s RunState) PluginImportDone(flag string) bool {
	return s.PluginImports[flag] != nil
}
