package importer

import (
	"context"
	"fmt"
	"strings"

	"github.com/tigerroll/wpmigrate/internal/domain/model"
	"github.com/tigerroll/wpmigrate/internal/media"
	"github.com/tigerroll/wpmigrate/internal/phpserial"
	"github.com/tigerroll/wpmigrate/pkg/batch/support/util/logger"
)

// Reasons reported by MetaPolicy for skipped keys.
const (
	SkipInternal       = "internal"
	SkipSEODisabled    = "seo_disabled"
	SkipOutOfScope     = "out_of_scope"
	SkipPermalinkOff   = "permalink_disabled"
	SkipFieldPluginOff = "field_plugin_disabled"
)

var internalMetaKeys = map[string]bool{
	"_edit_lock": true,
	"_edit_last": true,
	thumbnailKey: true,
}

var (
	seoPrefixes        = []string{"_yoast_wpseo_"}
	outOfScopePrefixes = []string{"_hreflang", "hreflang_", "_redirection", "_wpml_", "wpml_"}
	permalinkPrefixes  = []string{"custom_permalink", "_permalink_manager", "permalink_manager"}
)

const fieldKeyPrefix = "field_"

// FieldKeys indexes the field-plugin bookkeeping of a post's meta: a value
// key K is a field value when "_K" holds a field key ("field_...").
type FieldKeys struct {
	refs   map[string]bool
	values map[string]string
}

// IndexFieldKeys builds FieldKeys from meta rows.
func IndexFieldKeys(meta []model.MetaRow) FieldKeys {
	fk := FieldKeys{refs: map[string]bool{}, values: map[string]string{}}
	for _, m := range meta {
		if strings.HasPrefix(m.MetaKey, "_") && strings.HasPrefix(m.MetaValue, fieldKeyPrefix) {
			fk.refs[m.MetaKey] = true
			fk.values[m.MetaKey[1:]] = m.MetaValue
		}
	}
	return fk
}

// FieldKey returns the field key of a value key.
func (f FieldKeys) FieldKey(key string) (string, bool) {
	v, ok := f.values[key]
	return v, ok
}

// Has reports whether key belongs to the field plugin, as a value or as
// its field key reference.
func (f FieldKeys) Has(key string) bool {
	_, isValue := f.values[key]
	return isValue || f.refs[key]
}

// MetaPolicy decides whether a meta key is imported. Rules are ordered and
// the first match wins; reason is empty for imported keys.
func MetaPolicy(key string, s model.Settings, fields FieldKeys) (bool, string) {
	switch {
	case internalMetaKeys[key]:
		return false, SkipInternal
	case hasAnyPrefix(key, seoPrefixes) && !s.PluginYoastSEOEnabled:
		return false, SkipSEODisabled
	case hasAnyPrefix(key, outOfScopePrefixes):
		return false, SkipOutOfScope
	case hasAnyPrefix(key, permalinkPrefixes) && !s.PluginPermalinkManagerEnabled:
		return false, SkipPermalinkOff
	case fields.Has(key) && !s.PluginACFEnabled:
		return false, SkipFieldPluginOff
	}
	return true, ""
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// importMeta copies the post's meta that passes MetaPolicy, rewriting
// media references. Dry runs only classify. It returns the number of keys
// written.
func (r *Runner) importMeta(ctx context.Context, b *batch, destID uint64, meta []model.MetaRow) int {
	fields := IndexFieldKeys(meta)
	written := 0
	for _, m := range meta {
		ok, reason := MetaPolicy(m.MetaKey, b.settings, fields)
		if !ok {
			r.deps.Sink.Debug("Skipped meta", logger.Fields{"meta_key": m.MetaKey, "reason": reason})
			continue
		}
		fieldKey, _ := fields.FieldKey(m.MetaKey)
		value := r.rewriteMetaValue(ctx, b, m.MetaKey, fieldKey, m.MetaValue)
		if b.dryRun() {
			continue
		}
		r.setMeta(ctx, b, destID, m.MetaKey, value)
		written++
	}
	return written
}

// rewriteMetaValue replaces media references in one raw meta value. Only
// field values of media type and keys that look media related are
// considered.
func (r *Runner) rewriteMetaValue(ctx context.Context, b *batch, key, fieldKey, raw string) string {
	hint := b.rewriter.Classify(ctx, key, fieldKey)
	if !hint.IsMedia() || raw == "" {
		return raw
	}

	var value any = raw
	decoded, serialized := phpserial.MaybeUnmarshal(raw)
	if serialized {
		value = decoded
	}
	if hint.IsGallery() {
		if _, isList := value.([]any); !isList {
			return raw
		}
	}

	shape := media.ShapeGeneric
	if fieldKey != "" {
		shape = media.ShapeField
	}
	newValue, n := b.media.RewriteValue(ctx, value, shape)
	if n == 0 {
		return raw
	}

	var encoded string
	if serialized {
		var err error
		if encoded, err = phpserial.Marshal(newValue); err != nil {
			r.deps.Sink.Warn("Failed to encode rewritten meta value", logger.Fields{"meta_key": key, "error": err.Error()})
			return raw
		}
	} else {
		encoded = fmt.Sprint(newValue)
	}
	b.stats.AttachmentsImported += n
	r.deps.Sink.Info("Rewrote meta media", logger.Fields{"meta_key": key, "references": n})
	return encoded
}
