package content

import (
	"context"
	"regexp"
)

var mediaKeyPattern = regexp.MustCompile(`(?i)(image|logo|photo|thumbnail|thumb|file|attachment)`)

// LooksLikeMediaKey reports whether a field or meta key name suggests it
// holds an attachment reference.
func LooksLikeMediaKey(key string) bool {
	return mediaKeyPattern.MatchString(key)
}

// HintKind tags a MediaFieldHint.
type HintKind int

const (
	// HintNone marks a value that is never rewritten as media.
	HintNone HintKind = iota
	// HintKnown marks a value whose field type is known.
	HintKnown
	// HintHeuristic marks a value of unknown type whose key looks media related.
	HintHeuristic
)

// Field types that carry attachments.
const (
	FieldImage   = "image"
	FieldFile    = "file"
	FieldGallery = "gallery"
)

// MediaFieldHint is the media classification of one field or meta key.
type MediaFieldHint struct {
	Kind      HintKind
	FieldType string
}

// Known returns the hint for a field of a known type.
func Known(fieldType string) MediaFieldHint {
	return MediaFieldHint{Kind: HintKnown, FieldType: fieldType}
}

// Heuristic returns the hint for a media-looking field of unknown type.
func Heuristic() MediaFieldHint {
	return MediaFieldHint{Kind: HintHeuristic}
}

// ClassifyField resolves the hint for key. fieldType is the type reported
// by the field registry and known reports whether the registry had one.
func ClassifyField(key, fieldType string, known bool) MediaFieldHint {
	if known && fieldType != "" {
		return Known(fieldType)
	}
	if LooksLikeMediaKey(key) {
		return Heuristic()
	}
	return MediaFieldHint{}
}

// IsMedia reports whether values under this hint are rewritten.
func (h MediaFieldHint) IsMedia() bool {
	switch h.Kind {
	case HintKnown:
		return h.FieldType == FieldImage || h.FieldType == FieldFile || h.FieldType == FieldGallery
	case HintHeuristic:
		return true
	}
	return false
}

// IsGallery reports whether the value is a list of attachments.
func (h MediaFieldHint) IsGallery() bool {
	return h.Kind == HintKnown && h.FieldType == FieldGallery
}

// FieldTypeResolver looks up the type of a field-builder field by its key
// ("field_5f1a...").
type FieldTypeResolver interface {
	FieldType(ctx context.Context, fieldKey string) (string, bool)
}

// FieldTypeMap is a FieldTypeResolver backed by a map.
type FieldTypeMap map[string]string

// FieldType implements FieldTypeResolver.
func (m FieldTypeMap) FieldType(_ context.Context, fieldKey string) (string, bool) {
	t, ok := m[fieldKey]
	return t, ok && t != ""
}
