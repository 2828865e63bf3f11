package importer

import (
	"context"
	"errors"
	"strconv"

	"github.com/tigerroll/wpmigrate/internal/destination"
	"github.com/tigerroll/wpmigrate/internal/domain/model"
	"github.com/tigerroll/wpmigrate/pkg/batch/core/metrics"
	"github.com/tigerroll/wpmigrate/pkg/batch/support/util/exception"
	"github.com/tigerroll/wpmigrate/pkg/batch/support/util/logger"
)

// Cross-reference meta written on every imported post.
const (
	MetaSourceID    = "_wpmigrate_source_id"
	MetaSourceScope = "_wpmigrate_source_scope"
)

const thumbnailKey = "_thumbnail_id"

// importPost migrates one source row. Only errors that must abort the
// batch are returned; row failures are logged and counted as skipped.
func (r *Runner) importPost(ctx context.Context, b *batch, row model.PostRow) error {
	ctx, end := r.deps.Tracer.StartSpan(ctx, metrics.SpanPost, map[string]interface{}{
		"post_type": row.PostType,
		"source_id": row.ID,
	})
	defer end()

	fields := logger.Fields{"source_id": row.ID, "post_type": row.PostType, "title": row.PostTitle}

	destID, mapped, err := r.deps.Mapping.Get(ctx, b.scope(), model.ObjectPost, row.ID)
	if err != nil {
		return err
	}
	meta, err := b.src.FetchMeta(ctx, row.ID)
	if err != nil {
		if exception.IsConnectionError(err) {
			return err
		}
		return r.skipPost(ctx, b, row, err)
	}

	rewritten := b.rewriter.Rewrite(ctx, row.PostContent)
	b.stats.AttachmentsImported += rewritten.AttachmentsImported

	authorID, err := r.resolveAuthor(ctx, b, row.PostAuthor)
	if err != nil {
		return err
	}

	if b.dryRun() {
		verb := "Would import post"
		if mapped {
			verb = "Would update post"
			fields["dest_id"] = destID
		}
		fields["pending_attachments"] = rewritten.Pending
		r.deps.Sink.Info("[DRY RUN] "+verb, fields)
		r.importMeta(ctx, b, 0, meta)
		b.wouldDo++
		r.deps.Recorder.RecordPost(ctx, row.PostType, metrics.ResultDryRun)
		return nil
	}

	post := destination.Post{
		Author:        authorID,
		Date:          row.PostDate,
		DateGMT:       row.PostDateGMT,
		Modified:      row.PostModified,
		ModifiedGMT:   row.PostModGMT,
		Content:       rewritten.Content,
		Title:         row.PostTitle,
		Excerpt:       row.PostExcerpt,
		Status:        NormalizeStatus(row.PostStatus),
		CommentStatus: row.CommentStatus,
		PingStatus:    row.PingStatus,
		Name:          row.PostName,
		MenuOrder:     row.MenuOrder,
		Type:          row.PostType,
	}

	created := false
	if mapped {
		post.ID = destID
		err = r.deps.Destination.UpdatePost(ctx, post)
		if errors.Is(err, destination.ErrNotFound) {
			// The mapped post was removed on the destination side.
			mapped = false
		}
	}
	if !mapped {
		post.ID = 0
		destID, err = r.deps.Destination.InsertPost(ctx, post)
		created = err == nil
	}
	if err != nil {
		return r.skipPost(ctx, b, row, exception.NewRowUpsertError(moduleName, "post", row.ID, err))
	}
	if created {
		if err := r.deps.Mapping.Upsert(ctx, b.scope(), model.ObjectPost, row.ID, destID); err != nil {
			return r.skipPost(ctx, b, row, err)
		}
	}
	fields["dest_id"] = destID

	r.setMeta(ctx, b, destID, MetaSourceID, strconv.FormatUint(row.ID, 10))
	r.setMeta(ctx, b, destID, MetaSourceScope, strconv.Itoa(b.scope()))

	r.importMeta(ctx, b, destID, meta)
	r.importFeaturedImage(ctx, b, destID, meta)
	if err := r.assignTerms(ctx, b, destID, row); err != nil {
		return err
	}
	r.verifyAuthor(ctx, b, destID, authorID)

	if created {
		b.stats.PostsImported++
		r.deps.Sink.Info("Imported post", fields)
		r.deps.Recorder.RecordPost(ctx, row.PostType, metrics.ResultImported)
	} else {
		b.stats.PostsUpdated++
		r.deps.Sink.Info("Updated post", fields)
		r.deps.Recorder.RecordPost(ctx, row.PostType, metrics.ResultUpdated)
	}
	return nil
}

func (r *Runner) skipPost(ctx context.Context, b *batch, row model.PostRow, err error) error {
	b.stats.PostsSkipped++
	b.stats.Errors++
	r.deps.Tracer.RecordError(ctx, moduleName, err)
	r.deps.Sink.Error("Failed to import post", logger.Fields{
		"source_id": row.ID,
		"post_type": row.PostType,
		"error":     err.Error(),
	})
	r.deps.Recorder.RecordPost(ctx, row.PostType, metrics.ResultSkipped)
	return nil
}

func (r *Runner) setMeta(ctx context.Context, b *batch, postID uint64, key, value string) {
	if err := r.deps.Destination.SetMeta(ctx, postID, key, value); err != nil {
		b.stats.Errors++
		r.deps.Sink.Warn("Failed to write post meta", logger.Fields{"dest_id": postID, "meta_key": key, "error": err.Error()})
	}
}

// importFeaturedImage attaches the source thumbnail, importing it when
// needed.
func (r *Runner) importFeaturedImage(ctx context.Context, b *batch, destID uint64, meta []model.MetaRow) {
	raw, ok := metaValue(meta, thumbnailKey)
	if !ok {
		return
	}
	sourceID, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || sourceID == 0 {
		return
	}
	out, err := b.media.ImportByID(ctx, sourceID)
	if err != nil || !out.OK() {
		if !out.DryRun {
			b.stats.AttachmentsSkipped++
		}
		return
	}
	if out.Created {
		b.stats.AttachmentsImported++
	}
	if err := r.deps.Destination.SetFeaturedImage(ctx, destID, out.ID); err != nil {
		b.stats.Errors++
		r.deps.Sink.Warn("Failed to set featured image", logger.Fields{"dest_id": destID, "attachment_id": out.ID, "error": err.Error()})
		return
	}
	r.deps.Sink.Debug("Set featured image", logger.Fields{"dest_id": destID, "attachment_id": out.ID})
}

// verifyAuthor corrects the author when the destination rewrote it during
// the upsert.
func (r *Runner) verifyAuthor(ctx context.Context, b *batch, destID, authorID uint64) {
	if authorID == 0 {
		return
	}
	p, err := r.deps.Destination.GetPost(ctx, destID)
	if err != nil || p == nil || p.Author == authorID {
		return
	}
	p.Author = authorID
	if err := r.deps.Destination.UpdatePost(ctx, *p); err != nil {
		b.stats.Errors++
		r.deps.Sink.Warn("Failed to correct post author", logger.Fields{"dest_id": destID, "error": err.Error()})
		return
	}
	r.deps.Sink.Info("Corrected post author", logger.Fields{"dest_id": destID, "author": authorID})
}

// NormalizeStatus keeps recognised statuses and makes everything else
// private.
func NormalizeStatus(status string) string {
	switch status {
	case "publish", "draft", "pending", "private", "future":
		return status
	default:
		return "private"
	}
}

func metaValue(meta []model.MetaRow, key string) (string, bool) {
	for _, m := range meta {
		if m.MetaKey == key {
			return m.MetaValue, true
		}
	}
	return "", false
}
