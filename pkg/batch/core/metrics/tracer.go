package metrics

import "context"

// Span names used by the engine.
const (
	SpanBatch    = "wpmigrate.batch"
	SpanPost     = "wpmigrate.import_post"
	SpanMedia    = "wpmigrate.import_attachment"
	SpanDownload = "wpmigrate.download"
	SpanPurge    = "wpmigrate.purge"
)

// Tracer is the tracing port.
type Tracer interface {
	// StartSpan starts a span named name carrying attributes. The returned
	// function ends the span and should be deferred.
	StartSpan(ctx context.Context, name string, attributes map[string]interface{}) (context.Context, func())

	// RecordError records err on the span in ctx.
	RecordError(ctx context.Context, module string, err error)

	// RecordEvent adds an event to the span in ctx.
	RecordEvent(ctx context.Context, name string, attributes map[string]interface{})
}
