// Package content rewrites attachment references embedded in post bodies so
// they point at the destination media library.
package content

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/tigerroll/wpmigrate/internal/media"
	"github.com/tigerroll/wpmigrate/pkg/batch/support/util/logger"
)

var (
	imageClassPattern = regexp.MustCompile(`wp-image-(\d+)`)
	blockIDPattern    = regexp.MustCompile(`("id":\s?)(\d+)`)
)

// Media is the part of the media importer the rewriter needs.
type Media interface {
	ImportByID(ctx context.Context, sourceID uint64) (media.Outcome, error)
	ImportFile(ctx context.Context, attachedFile string) (media.Outcome, error)
	AttachmentURL(ctx context.Context, destID uint64) (string, error)
	RewriteValue(ctx context.Context, value any, shape media.ValueShape) (any, int)
	UploadsBase() string
}

// Result is the outcome of one rewrite.
type Result struct {
	Content string
	// AttachmentsImported counts rewritten references.
	AttachmentsImported int
	// Pending counts references a dry run would have imported.
	Pending int
}

// Rewriter replaces source attachment references in post content.
type Rewriter struct {
	media  Media
	fields FieldTypeResolver
	sink   *logger.Sink

	mu         sync.Mutex
	uploadsFor string
	uploadsURL *regexp.Regexp
}

// NewRewriter creates a Rewriter. fields may be nil, in which case field
// types are unknown and block fields are classified by key name only.
func NewRewriter(m Media, fields FieldTypeResolver, sink *logger.Sink) *Rewriter {
	return &Rewriter{media: m, fields: fields, sink: sink}
}

// Rewrite processes wp-image classes, block "id" attributes, uploads URLs
// and field-builder blocks, in that order. Unresolved references are left
// as they are.
func (r *Rewriter) Rewrite(ctx context.Context, body string) Result {
	res := Result{Content: body}
	if body == "" {
		return res
	}

	res.Content = imageClassPattern.ReplaceAllStringFunc(res.Content, func(match string) string {
		oldID, _ := strconv.ParseUint(match[len("wp-image-"):], 10, 64)
		newID, ok := r.resolveID(ctx, oldID, &res, "wp-image class")
		if !ok {
			return match
		}
		r.sink.Info("Updated wp-image class", logger.Fields{"old_id": oldID, "new_id": newID})
		return "wp-image-" + strconv.FormatUint(newID, 10)
	})

	res.Content = blockIDPattern.ReplaceAllStringFunc(res.Content, func(match string) string {
		groups := blockIDPattern.FindStringSubmatch(match)
		oldID, _ := strconv.ParseUint(groups[2], 10, 64)
		newID, ok := r.resolveID(ctx, oldID, &res, "Gutenberg block id")
		if !ok {
			return match
		}
		r.sink.Info("Updated Gutenberg block id", logger.Fields{"old_id": oldID, "new_id": newID})
		return groups[1] + strconv.FormatUint(newID, 10)
	})

	if uploadsURL := r.uploadsPattern(); uploadsURL != nil {
		res.Content = uploadsURL.ReplaceAllStringFunc(res.Content, func(match string) string {
			return r.rewriteURL(ctx, match, &res)
		})
	}

	if strings.Contains(res.Content, "acf/") {
		res.Content = r.rewriteFieldBlocks(ctx, res.Content, &res)
	}
	return res
}

// uploadsPattern matches URLs below the source uploads base. It is compiled
// once and again only if the base changes.
func (r *Rewriter) uploadsPattern() *regexp.Regexp {
	base := r.media.UploadsBase()
	if base == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.uploadsURL == nil || r.uploadsFor != base {
		r.uploadsURL = regexp.MustCompile(regexp.QuoteMeta(base) + `([^\s"'<>]+)`)
		r.uploadsFor = base
	}
	return r.uploadsURL
}

func (r *Rewriter) resolveID(ctx context.Context, oldID uint64, res *Result, what string) (uint64, bool) {
	if oldID == 0 {
		return 0, false
	}
	out, err := r.media.ImportByID(ctx, oldID)
	if err == nil && out.OK() {
		res.AttachmentsImported++
		return out.ID, true
	}
	if out.DryRun {
		res.Pending++
		return 0, false
	}
	r.sink.Error("Failed to update "+what+" (attachment missing)", logger.Fields{"old_id": oldID})
	return 0, false
}

func (r *Rewriter) rewriteURL(ctx context.Context, match string, res *Result) string {
	attachedFile := media.FileFromURL(match)
	out, err := r.media.ImportFile(ctx, attachedFile)
	if err != nil || !out.OK() {
		if out.DryRun {
			res.Pending++
			return match
		}
		r.sink.Error("Failed to rewrite upload URL (attachment missing)", logger.Fields{"old_url": match, "path": attachedFile})
		return match
	}
	res.AttachmentsImported++
	newURL, err := r.media.AttachmentURL(ctx, out.ID)
	if err != nil || newURL == "" {
		return match
	}
	r.sink.Info("Rewrote upload URL", logger.Fields{"old_url": match, "new_url": newURL, "path": attachedFile})
	return newURL
}

func (r *Rewriter) rewriteFieldBlocks(ctx context.Context, body string, res *Result) string {
	blocks := ParseBlocks(body)
	modified := false
	WalkBlocks(blocks, func(b *Block) {
		if !strings.HasPrefix(b.Name, "acf/") {
			return
		}
		attrs, err := b.DecodeAttrs()
		if err != nil {
			r.sink.Warn("Skipping block with unreadable attributes", logger.Fields{"block": b.Name, "error": err.Error()})
			return
		}
		data, ok := attrs["data"].(map[string]any)
		if !ok || len(data) == 0 {
			return
		}
		if n := r.rewriteFieldData(ctx, b.Name, data); n > 0 {
			attrs["data"] = data
			if err := b.SetAttrs(attrs); err != nil {
				r.sink.Error("Failed to encode block attributes", logger.Fields{"block": b.Name, "error": err.Error()})
				return
			}
			res.AttachmentsImported += n
			modified = true
		}
	})
	if !modified {
		return body
	}
	return SerializeBlocks(blocks)
}

// rewriteFieldData rewrites media fields of a field-builder block in place.
// Keys starting with "_" hold field keys, not values.
func (r *Rewriter) rewriteFieldData(ctx context.Context, blockName string, data map[string]any) int {
	keys := make([]string, 0, len(data))
	for k := range data {
		if !strings.HasPrefix(k, "_") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	total := 0
	for _, key := range keys {
		fieldKey, _ := data["_"+key].(string)
		hint := r.Classify(ctx, key, fieldKey)
		if !hint.IsMedia() {
			continue
		}
		value := data[key]
		if hint.IsGallery() {
			if _, isList := value.([]any); !isList {
				continue
			}
		}
		newValue, n := r.media.RewriteValue(ctx, value, media.ShapeField)
		if n == 0 {
			continue
		}
		data[key] = newValue
		total += n
		r.sink.Info("Rewrote block field media", logger.Fields{"block": blockName, "field": key, "references": n})
	}
	return total
}

// Classify resolves the media hint of a field value key with its field key.
func (r *Rewriter) Classify(ctx context.Context, key, fieldKey string) MediaFieldHint {
	var fieldType string
	var known bool
	if r.fields != nil && fieldKey != "" {
		fieldType, known = r.fields.FieldType(ctx, fieldKey)
	}
	return ClassifyField(key, fieldType, known)
}
