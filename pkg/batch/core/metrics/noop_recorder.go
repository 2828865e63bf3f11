package metrics

import (
	"context"
	"time"
)

// NoOpMetricRecorder discards everything.
type NoOpMetricRecorder struct{}

// NewNoOpMetricRecorder creates a NoOpMetricRecorder.
func NewNoOpMetricRecorder() MetricRecorder {
	return &NoOpMetricRecorder{}
}

func (r *NoOpMetricRecorder) RecordBatch(context.Context, string, bool, time.Duration, int) {}
func (r *NoOpMetricRecorder) RecordPost(context.Context, string, string)                    {}
func (r *NoOpMetricRecorder) RecordAttachment(context.Context, string)                      {}
func (r *NoOpMetricRecorder) RecordDownloadAttempt(context.Context, string, int64)          {}
func (r *NoOpMetricRecorder) RecordPurge(context.Context, string, int)                      {}

// NoOpTracer creates no spans.
type NoOpTracer struct{}

// NewNoOpTracer creates a NoOpTracer.
func NewNoOpTracer() Tracer {
	return &NoOpTracer{}
}

func (t *NoOpTracer) StartSpan(ctx context.Context, _ string, _ map[string]interface{}) (context.Context, func()) {
	return ctx, func() {}
}
func (t *NoOpTracer) RecordError(context.Context, string, error)                  {}
func (t *NoOpTracer) RecordEvent(context.Context, string, map[string]interface{}) {}

var (
	_ MetricRecorder = (*NoOpMetricRecorder)(nil)
	_ Tracer         = (*NoOpTracer)(nil)
)
