// Package importer runs migration batches: it pulls source posts in id
// order under a lock and writes them, with their authors, terms, meta and
// media, into the destination.
package importer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tigerroll/wpmigrate/internal/content"
	"github.com/tigerroll/wpmigrate/internal/destination"
	"github.com/tigerroll/wpmigrate/internal/domain/model"
	"github.com/tigerroll/wpmigrate/internal/mapping"
	"github.com/tigerroll/wpmigrate/internal/media"
	"github.com/tigerroll/wpmigrate/internal/source"
	"github.com/tigerroll/wpmigrate/internal/state"
	"github.com/tigerroll/wpmigrate/pkg/batch/core/metrics"
	"github.com/tigerroll/wpmigrate/pkg/batch/engine/step/retry"
	"github.com/tigerroll/wpmigrate/pkg/batch/support/util/exception"
	"github.com/tigerroll/wpmigrate/pkg/batch/support/util/logger"
)

const moduleName = "importer"

// SettingsProvider returns the effective settings for a batch.
type SettingsProvider interface {
	Get(ctx context.Context) (model.Settings, error)
}

// DownloadOptions tune attachment downloads.
type DownloadOptions struct {
	MaxAttempts   int
	Backoff       time.Duration
	TempDir       string
	RatePerSecond float64
}

// Deps are the collaborators of a Runner.
type Deps struct {
	Settings    SettingsProvider
	State       *state.RunStateManager
	Lock        state.BatchLock
	Mapping     mapping.Store
	Sources     source.Factory
	Destination destination.Repository
	// Fields resolves field-plugin field types; nil falls back to key
	// name heuristics.
	Fields   content.FieldTypeResolver
	Sink     *logger.Sink
	Client   *http.Client
	Recorder metrics.MetricRecorder
	Tracer   metrics.Tracer
	Sleep    retry.Sleeper
	Download DownloadOptions
	// DefaultAuthorID owns posts whose author cannot be resolved.
	DefaultAuthorID uint64
}

// Runner executes batches. It is safe for concurrent use; concurrent
// batches are serialized by the lock.
type Runner struct {
	deps Deps
}

// NewRunner creates a Runner.
func NewRunner(deps Deps) *Runner {
	if deps.Recorder == nil {
		deps.Recorder = metrics.NewNoOpMetricRecorder()
	}
	if deps.Tracer == nil {
		deps.Tracer = metrics.NewNoOpTracer()
	}
	if deps.Fields == nil {
		deps.Fields = content.FieldTypeMap{}
	}
	return &Runner{deps: deps}
}

// batch carries the per-run collaborators and counters.
type batch struct {
	settings model.Settings
	src      source.Repository
	media    *media.Importer
	rewriter *content.Rewriter
	stats    model.Stats
	cursor   map[string]uint64
	authors  map[uint64]uint64
	wouldDo  int
}

func (b *batch) scope() int   { return b.settings.SourceScopeID }
func (b *batch) dryRun() bool { return b.settings.DryRun }
func (b *batch) prefix() string {
	if b.dryRun() {
		return "[DRY RUN] "
	}
	return ""
}

// RunBatch runs one batch and reports how it ended. It never returns an
// error; failures are folded into the result.
func (r *Runner) RunBatch(ctx context.Context) model.BatchResult {
	start := time.Now()
	res := r.runBatch(ctx)
	r.deps.Recorder.RecordBatch(ctx, string(res.Outcome), res.DryRun, time.Since(start), res.Processed)
	return res
}

func (r *Runner) runBatch(ctx context.Context) model.BatchResult {
	sink := r.deps.Sink

	settings, err := r.deps.Settings.Get(ctx)
	if err != nil {
		return failed(fmt.Sprintf("Failed to load settings: %v", err), false)
	}
	sink.SetEnabled(settings.EnableLogging)

	lease, err := r.deps.Lock.TryAcquire(ctx, settings.LockTTL())
	if err != nil {
		if errors.Is(err, exception.ErrLockContention) {
			sink.Info("Batch skipped; another batch holds the lock", nil)
			return model.BatchResult{Outcome: model.OutcomeSkippedLocked, Message: "Another batch is running.", DryRun: settings.DryRun}
		}
		return failed(fmt.Sprintf("Failed to acquire batch lock: %v", err), settings.DryRun)
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warnf("importer: failed to release batch lock: %v", err)
		}
	}()

	ctx, end := r.deps.Tracer.StartSpan(ctx, metrics.SpanBatch, map[string]interface{}{
		"dry_run":       settings.DryRun,
		"posts_per_run": settings.PostsPerRun,
	})
	defer end()

	st, err := r.deps.State.Get(ctx)
	if err != nil {
		return failed(fmt.Sprintf("Failed to load run state: %v", err), settings.DryRun)
	}
	if st.StopRequested {
		return r.abort(ctx, 0, settings.DryRun)
	}

	src, err := r.deps.Sources(ctx, settings)
	if err != nil {
		return r.fail(ctx, err, settings.DryRun)
	}

	b := r.newBatch(settings, src, st.Cursor)

	if err := r.importPluginOptions(ctx, b, st); err != nil {
		return r.fail(ctx, err, settings.DryRun)
	}

	types := ActivePostTypes(settings, st)
	sink.Info(b.prefix()+"Batch started", logger.Fields{"post_types": strings.Join(types, ","), "posts_per_run": settings.PostsPerRun})

	processed := 0
	budget := settings.PostsPerRun
	for _, postType := range types {
		if budget <= 0 {
			break
		}
		rows, err := src.FetchPosts(ctx, postType, b.cursor[postType], budget)
		if err != nil {
			return r.fail(ctx, err, settings.DryRun)
		}
		for _, row := range rows {
			current, err := r.deps.State.Get(ctx)
			if err != nil {
				return r.fail(ctx, err, settings.DryRun)
			}
			if current.StopRequested {
				return r.abort(ctx, processed, settings.DryRun)
			}
			if err := r.importPost(ctx, b, row); err != nil {
				return r.fail(ctx, err, settings.DryRun)
			}
			b.cursor[postType] = row.ID
			processed++
			budget--
		}
	}

	if err := r.finish(ctx, b); err != nil {
		return failed(fmt.Sprintf("Failed to save run state: %v", err), settings.DryRun)
	}

	msg := fmt.Sprintf("Batch complete: processed %d (imported %d, updated %d, skipped %d, attachments %d).",
		processed, b.stats.PostsImported, b.stats.PostsUpdated, b.stats.PostsSkipped, b.stats.AttachmentsImported)
	if settings.DryRun {
		msg = fmt.Sprintf("[DRY RUN] Batch complete: %d posts would be imported or updated. No changes were made.", b.wouldDo)
	}
	if processed == 0 {
		msg = b.prefix() + "Batch complete: nothing left to import."
	}
	sink.Info(msg, logger.Fields{"processed": processed})
	return model.BatchResult{
		Success:   true,
		Outcome:   model.OutcomeCompleted,
		Message:   msg,
		Processed: processed,
		DryRun:    settings.DryRun,
		Stats:     b.stats,
	}
}

// ActivePostTypes returns the enabled scope types, narrowed to the types
// the migration was started with when that list is not empty.
func ActivePostTypes(settings model.Settings, st model.RunState) []string {
	types := settings.ImportScope.ActivePostTypes()
	if len(st.ActivePostTypes) == 0 {
		return types
	}
	started := make(map[string]bool, len(st.ActivePostTypes))
	for _, t := range st.ActivePostTypes {
		started[t] = true
	}
	out := types[:0]
	for _, t := range types {
		if started[t] {
			out = append(out, t)
		}
	}
	return out
}

// newBatch wires the per-batch media importer and rewriter for settings.
func (r *Runner) newBatch(settings model.Settings, src source.Repository, cursor map[string]uint64) *batch {
	b := &batch{
		settings: settings,
		src:      src,
		cursor:   make(map[string]uint64, len(cursor)),
		authors:  map[uint64]uint64{},
	}
	for k, v := range cursor {
		b.cursor[k] = v
	}
	b.media = media.NewImporter(media.Deps{
		Mapping:     r.deps.Mapping,
		Source:      src,
		Destination: r.deps.Destination,
		Sink:        r.deps.Sink,
		Client:      r.deps.Client,
		Recorder:    r.deps.Recorder,
		Tracer:      r.deps.Tracer,
		Sleep:       r.deps.Sleep,
	}, media.Options{
		ScopeID:       settings.SourceScopeID,
		SourceSiteURL: settings.SourceSiteURL,
		DryRun:        settings.DryRun,
		MaxAttempts:   r.deps.Download.MaxAttempts,
		Backoff:       r.deps.Download.Backoff,
		TempDir:       r.deps.Download.TempDir,
		RatePerSecond: r.deps.Download.RatePerSecond,
	})
	b.rewriter = content.NewRewriter(b.media, r.deps.Fields, r.deps.Sink)
	return b
}

// ImportSinglePost imports one source post by id outside the cursor order,
// under the batch lock. Cursors are left alone; stats are persisted unless
// the run is dry.
func (r *Runner) ImportSinglePost(ctx context.Context, sourceID uint64) model.BatchResult {
	settings, err := r.deps.Settings.Get(ctx)
	if err != nil {
		return failed(fmt.Sprintf("Failed to load settings: %v", err), false)
	}
	r.deps.Sink.SetEnabled(settings.EnableLogging)

	lease, err := r.deps.Lock.TryAcquire(ctx, settings.LockTTL())
	if err != nil {
		if errors.Is(err, exception.ErrLockContention) {
			return model.BatchResult{Outcome: model.OutcomeSkippedLocked, Message: "Another batch is running.", DryRun: settings.DryRun}
		}
		return failed(fmt.Sprintf("Failed to acquire batch lock: %v", err), settings.DryRun)
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warnf("importer: failed to release batch lock: %v", err)
		}
	}()

	src, err := r.deps.Sources(ctx, settings)
	if err != nil {
		return r.fail(ctx, err, settings.DryRun)
	}
	found, err := src.GetPostWithMeta(ctx, sourceID)
	if err != nil {
		return r.fail(ctx, err, settings.DryRun)
	}
	if found == nil {
		return failed(fmt.Sprintf("Source post %d not found.", sourceID), settings.DryRun)
	}

	b := r.newBatch(settings, src, nil)
	if err := r.importPost(ctx, b, found.Post); err != nil {
		return r.fail(ctx, err, settings.DryRun)
	}
	if !b.dryRun() {
		if _, err := r.deps.State.Update(ctx, func(st *model.RunState) { st.Stats = st.Stats.Add(b.stats) }); err != nil {
			return failed(fmt.Sprintf("Failed to save run state: %v", err), settings.DryRun)
		}
	}
	return model.BatchResult{
		Success:   b.stats.PostsSkipped == 0,
		Outcome:   model.OutcomeCompleted,
		Message:   fmt.Sprintf("%sImported source post %d.", b.prefix(), sourceID),
		Processed: 1,
		DryRun:    settings.DryRun,
		Stats:     b.stats,
	}
}

// finish persists cursors and counters. Dry runs only record the run time.
func (r *Runner) finish(ctx context.Context, b *batch) error {
	_, err := r.deps.State.Update(ctx, func(st *model.RunState) {
		now := r.deps.State.Now()
		st.LastRunAt = &now
		if b.dryRun() {
			return
		}
		for k, v := range b.cursor {
			st.Cursor[k] = v
		}
		st.Stats = st.Stats.Add(b.stats)
		st.LastError = ""
	})
	return err
}

func (r *Runner) abort(ctx context.Context, processed int, dryRun bool) model.BatchResult {
	r.deps.Sink.Info("Stop requested; batch aborted.", logger.Fields{"processed": processed})
	if _, err := r.deps.State.MarkStopped(ctx); err != nil {
		logger.Errorf("importer: failed to mark migration stopped: %v", err)
	}
	return model.BatchResult{
		Success:   true,
		Outcome:   model.OutcomeAbortedStop,
		Message:   "Stop requested; batch aborted.",
		Processed: processed,
		DryRun:    dryRun,
	}
}

func (r *Runner) fail(ctx context.Context, err error, dryRun bool) model.BatchResult {
	r.deps.Tracer.RecordError(ctx, moduleName, err)
	r.deps.Sink.Error("Batch failed", logger.Fields{"error": err.Error()})
	if _, uerr := r.deps.State.Update(ctx, func(st *model.RunState) { st.LastError = err.Error() }); uerr != nil {
		logger.Errorf("importer: failed to record batch error: %v", uerr)
	}
	return failed("Batch failed: "+err.Error(), dryRun)
}

func failed(msg string, dryRun bool) model.BatchResult {
	return model.BatchResult{Outcome: model.OutcomeFailed, Message: msg, DryRun: dryRun}
}
