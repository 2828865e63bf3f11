package media

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/tigerroll/wpmigrate/internal/phpserial"
)

// ValueShape selects which media value shapes RewriteValue understands.
type ValueShape int

const (
	// ShapeGeneric accepts an id, an uploads URL, or a map with id/ID/url.
	ShapeGeneric ValueShape = iota
	// ShapeField additionally accepts galleries (lists of ids or URLs) and
	// maps carrying only a sizes table, as stored by field plugins.
	ShapeField
)

// RewriteValue replaces media references in a decoded meta or field value
// with destination ids, keeping the value's shape. It returns the new value
// and the number of references that were rewritten. Unresolvable
// references are left as they are.
func (m *Importer) RewriteValue(ctx context.Context, value any, shape ValueShape) (any, int) {
	if id, ok := SourceID(value); ok {
		out, err := m.ImportByID(ctx, id)
		if err != nil || !out.OK() {
			return value, 0
		}
		return ReplaceID(value, out.ID), 1
	}

	switch v := value.(type) {
	case string:
		if !m.IsSourceUploadsURL(v) {
			return value, 0
		}
		out, err := m.ImportFromURL(ctx, v)
		if err != nil || !out.OK() {
			return value, 0
		}
		return strconv.FormatUint(out.ID, 10), 1

	case []any:
		if shape != ShapeField || !isScalarList(v) {
			return value, 0
		}
		rewritten := make([]any, len(v))
		count := 0
		for i, item := range v {
			newItem, n := m.RewriteValue(ctx, item, ShapeGeneric)
			rewritten[i] = newItem
			count += n
		}
		if count == 0 {
			return value, 0
		}
		return rewritten, count

	case map[string]any:
		return m.rewriteRecord(ctx, value, mapRecord(v), shape)
	case *phpserial.Array:
		return m.rewriteRecord(ctx, value, arrayRecord{v}, shape)
	}
	return value, 0
}

// record is a keyed media value: a JSON object or a PHP array/object.
type record interface {
	get(key string) (any, bool)
	keys() []string
	// with returns a copy carrying the given replacements, appended in
	// order when the key is new.
	with(set [][2]any) any
}

type mapRecord map[string]any

func (r mapRecord) get(key string) (any, bool) { v, ok := r[key]; return v, ok }

func (r mapRecord) keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	return keys
}

func (r mapRecord) with(set [][2]any) any {
	out := make(map[string]any, len(r)+1)
	for k, v := range r {
		out[k] = v
	}
	for _, kv := range set {
		out[kv[0].(string)] = kv[1]
	}
	return out
}

type arrayRecord struct{ *phpserial.Array }

func (r arrayRecord) get(key string) (any, bool) { return r.Get(key) }
func (r arrayRecord) keys() []string             { return r.Keys() }

func (r arrayRecord) with(set [][2]any) any {
	out := r.Clone()
	for _, kv := range set {
		out.Set(kv[0].(string), kv[1])
	}
	return out
}

func asRecord(v any) (record, bool) {
	switch x := v.(type) {
	case map[string]any:
		return mapRecord(x), true
	case *phpserial.Array:
		return arrayRecord{x}, true
	}
	return nil, false
}

func (m *Importer) rewriteRecord(ctx context.Context, value any, v record, shape ValueShape) (any, int) {
	var out Outcome
	for _, key := range []string{"id", "ID"} {
		raw, _ := v.get(key)
		if id, ok := SourceID(raw); ok {
			if res, err := m.ImportByID(ctx, id); err == nil && res.OK() {
				out = res
			}
			break
		}
	}
	if !out.OK() {
		raw, _ := v.get("url")
		if u, ok := raw.(string); ok && u != "" {
			if res, err := m.ImportFromURL(ctx, u); err == nil && res.OK() {
				out = res
			}
		}
	}
	if !out.OK() && shape == ShapeField {
		raw, _ := v.get("sizes")
		if sizes, ok := asRecord(raw); ok {
			for _, key := range sizeOrder(sizes.keys()) {
				val, _ := sizes.get(key)
				u, ok := val.(string)
				if !ok || !m.IsSourceUploadsURL(u) {
					continue
				}
				if res, err := m.ImportFromURL(ctx, u); err == nil && res.OK() {
					out = res
					break
				}
			}
		}
	}
	if !out.OK() {
		return value, 0
	}

	var set [][2]any
	hasID := false
	for _, key := range []string{"id", "ID"} {
		if old, ok := v.get(key); ok {
			set = append(set, [2]any{key, ReplaceID(old, out.ID)})
			hasID = true
		}
	}
	if _, ok := v.get("url"); ok {
		if u, err := m.AttachmentURL(ctx, out.ID); err == nil && u != "" {
			set = append(set, [2]any{"url", u})
		}
	}
	if !hasID {
		set = append(set, [2]any{"id", out.ID})
	}
	return v.with(set), 1
}

// IsSourceUploadsURL reports whether s points into the source uploads
// directory. The scheme is ignored and site-relative paths are accepted.
func (m *Importer) IsSourceUploadsURL(s string) bool {
	if strings.HasPrefix(s, UploadsMarker) {
		return true
	}
	return strings.HasPrefix(stripScheme(s), stripScheme(m.UploadsBase()))
}

func stripScheme(u string) string {
	for _, scheme := range []string{"https://", "http://", "//"} {
		if strings.HasPrefix(u, scheme) {
			return u[len(scheme):]
		}
	}
	return u
}

// SourceID interprets v as a positive attachment id.
func SourceID(v any) (uint64, bool) {
	switch x := v.(type) {
	case int64:
		if x > 0 {
			return uint64(x), true
		}
	case int:
		if x > 0 {
			return uint64(x), true
		}
	case uint64:
		return x, x > 0
	case float64:
		if x > 0 && x == float64(uint64(x)) {
			return uint64(x), true
		}
	case json.Number:
		return SourceID(string(x))
	case string:
		s := strings.TrimSpace(x)
		if s == "" || strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' }) >= 0 {
			return 0, false
		}
		n, err := strconv.ParseUint(s, 10, 64)
		if err == nil && n > 0 {
			return n, true
		}
	}
	return 0, false
}

// ReplaceID returns newID in the representation old used.
func ReplaceID(old any, newID uint64) any {
	switch old.(type) {
	case string:
		return strconv.FormatUint(newID, 10)
	case int64:
		return int64(newID)
	case int:
		return int(newID)
	case float64:
		return float64(newID)
	case json.Number:
		return json.Number(strconv.FormatUint(newID, 10))
	}
	return newID
}

func isScalarList(v []any) bool {
	for _, item := range v {
		switch item.(type) {
		case []any, map[string]any, *phpserial.Array:
			return false
		}
	}
	return true
}

// sizeOrder sorts size names into the order URLs are tried: "full" and
// "large" first, then alphabetical.
func sizeOrder(keys []string) []string {
	rank := func(k string) int {
		switch k {
		case "full":
			return 0
		case "large":
			return 1
		}
		return 2
	}
	sort.Slice(keys, func(i, j int) bool {
		if rank(keys[i]) != rank(keys[j]) {
			return rank(keys[i]) < rank(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}
