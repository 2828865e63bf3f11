package importer

import (
	"context"
	"strings"

	"github.com/tigerroll/wpmigrate/internal/domain/model"
	"github.com/tigerroll/wpmigrate/internal/phpserial"
	"github.com/tigerroll/wpmigrate/pkg/batch/support/util/exception"
	"github.com/tigerroll/wpmigrate/pkg/batch/support/util/logger"
)

// pluginOptionImport is a one-time copy of a plugin's site options.
type pluginOptionImport struct {
	flag     string
	record   string
	prefixes []string
	enabled  func(model.Settings) bool
}

var pluginOptionImports = []pluginOptionImport{
	{
		flag:     model.PluginImportPowerPress,
		record:   model.ImportedOptionsPowerPress,
		prefixes: []string{"powerpress_"},
		enabled:  func(s model.Settings) bool { return s.PluginPowerPressOptionsEnabled },
	},
	{
		flag:     model.PluginImportACFTheme,
		record:   model.ImportedOptionsACF,
		prefixes: []string{"options_", "_options_"},
		enabled:  func(s model.Settings) bool { return s.PluginACFThemeSettingsEnabled },
	},
}

// importPluginOptions runs the enabled option imports that have not run
// yet and flags them done. Only connection failures are returned.
func (r *Runner) importPluginOptions(ctx context.Context, b *batch, st model.RunState) error {
	for _, imp := range pluginOptionImports {
		if !imp.enabled(b.settings) || st.PluginImportDone(imp.flag) {
			continue
		}
		names, err := r.importOptions(ctx, b, imp)
		if err != nil {
			if exception.IsConnectionError(err) {
				return err
			}
			b.stats.Errors++
			r.deps.Sink.Error("Plugin option import failed", logger.Fields{"plugin": imp.flag, "error": err.Error()})
			continue
		}
		if b.dryRun() {
			r.deps.Sink.Info("[DRY RUN] Would import plugin options", logger.Fields{"plugin": imp.flag, "count": len(names)})
			continue
		}
		if _, err := r.deps.State.Update(ctx, func(s *model.RunState) {
			now := r.deps.State.Now()
			s.PluginImports[imp.flag] = &now
			s.ImportedOptions[imp.record] = names
		}); err != nil {
			return err
		}
		r.deps.Sink.Info("Imported plugin options", logger.Fields{"plugin": imp.flag, "count": len(names)})
	}
	return nil
}

func (r *Runner) importOptions(ctx context.Context, b *batch, imp pluginOptionImport) ([]string, error) {
	names := []string{}
	for _, prefix := range imp.prefixes {
		rows, err := b.src.FetchPluginOptions(ctx, prefix)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			value := r.rewriteOptionValue(ctx, b, row.OptionValue)
			names = append(names, row.OptionName)
			if b.dryRun() {
				continue
			}
			if err := r.deps.Destination.SetOption(ctx, row.OptionName, value); err != nil {
				b.stats.Errors++
				r.deps.Sink.Error("Failed to write option", logger.Fields{"option": row.OptionName, "error": err.Error()})
			}
		}
	}
	return names, nil
}

// rewriteOptionValue decodes a raw option value, rewrites its strings and
// re-encodes it in the same form. A value with nothing to rewrite is
// returned byte for byte.
func (r *Runner) rewriteOptionValue(ctx context.Context, b *batch, raw string) string {
	decoded, serialized := phpserial.MaybeUnmarshal(raw)
	if !serialized {
		return r.rewriteOptionString(ctx, b, raw)
	}
	walked, changed := r.walkOptionValue(ctx, b, decoded)
	if !changed {
		return raw
	}
	encoded, err := phpserial.Marshal(walked)
	if err != nil {
		r.deps.Sink.Warn("Failed to encode option value", logger.Fields{"error": err.Error()})
		return raw
	}
	return encoded
}

// walkOptionValue rewrites strings recursively: uploads URLs are imported
// and point at the destination copy, then the source site URL is replaced
// by the destination site URL. Other scalars are returned as they are.
// Containers are copied only when something inside them changed.
func (r *Runner) walkOptionValue(ctx context.Context, b *batch, v any) (any, bool) {
	switch x := v.(type) {
	case string:
		out := r.rewriteOptionString(ctx, b, x)
		return out, out != x
	case []any:
		var out []any
		for i, item := range x {
			newItem, changed := r.walkOptionValue(ctx, b, item)
			if !changed {
				continue
			}
			if out == nil {
				out = append([]any(nil), x...)
			}
			out[i] = newItem
		}
		if out == nil {
			return v, false
		}
		return out, true
	case *phpserial.Array:
		var out *phpserial.Array
		for _, key := range x.Keys() {
			item, _ := x.Get(key)
			newItem, changed := r.walkOptionValue(ctx, b, item)
			if !changed {
				continue
			}
			if out == nil {
				out = x.Clone()
			}
			out.Set(key, newItem)
		}
		if out == nil {
			return v, false
		}
		return out, true
	}
	return v, false
}

func (r *Runner) rewriteOptionString(ctx context.Context, b *batch, s string) string {
	if b.media.IsSourceUploadsURL(s) {
		if out, err := b.media.ImportFromURL(ctx, s); err == nil && out.OK() {
			if url, err := b.media.AttachmentURL(ctx, out.ID); err == nil && url != "" {
				if out.Created {
					b.stats.AttachmentsImported++
				}
				return url
			}
		}
	}
	from, to := b.settings.SourceSiteURL, b.settings.DestinationSiteURL
	if from == "" || to == "" || from == to {
		return s
	}
	return strings.ReplaceAll(s, from, to)
}
