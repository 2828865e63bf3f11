// Package metrics defines the observability ports of the migration engine.
// Implementations live in the infrastructure layer; the no-op versions here
// are used by tests and when metrics are disabled.
package metrics

import (
	"context"
	"time"
)

// Result labels shared by recorders.
const (
	ResultImported = "imported"
	ResultUpdated  = "updated"
	ResultSkipped  = "skipped"
	ResultReused   = "reused"
	ResultFailed   = "failed"
	ResultDryRun   = "dry_run"
	ResultOK       = "ok"
	ResultError    = "error"
)

// MetricRecorder receives counters and timings from the batch runner, the
// media importer and the purge workflow.
type MetricRecorder interface {
	// RecordBatch records the outcome of one batch invocation.
	RecordBatch(ctx context.Context, outcome string, dryRun bool, duration time.Duration, processed int)
	// RecordPost records a per-row result (imported, updated, skipped) for a post type.
	RecordPost(ctx context.Context, postType, result string)
	// RecordAttachment records an attachment resolution result.
	RecordAttachment(ctx context.Context, result string)
	// RecordDownloadAttempt records a single HTTP download attempt.
	RecordDownloadAttempt(ctx context.Context, result string, bytes int64)
	// RecordPurge records destination objects deleted by purge.
	RecordPurge(ctx context.Context, objectType string, deleted int)
}
