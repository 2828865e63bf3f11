// Package metrics provides the Prometheus recorder and the OpenTelemetry
// tracer behind the core metrics ports.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	metrics "github.com/tigerroll/wpmigrate/pkg/batch/core/metrics"
	"github.com/tigerroll/wpmigrate/pkg/batch/support/util/logger"
)

// PrometheusRecorder implements metrics.MetricRecorder with its own registry.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	batchDurationSeconds *prometheus.HistogramVec
	batchOutcomeCounter  *prometheus.CounterVec
	batchProcessedRows   *prometheus.CounterVec
	postResultCounter    *prometheus.CounterVec
	attachmentCounter    *prometheus.CounterVec
	downloadCounter      *prometheus.CounterVec
	downloadBytes        prometheus.Counter
	purgeDeletedCounter  *prometheus.CounterVec
}

// NewPrometheusRecorder creates a PrometheusRecorder with Go and process collectors registered.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		batchDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wpmigrate_batch_duration_seconds",
			Help:    "Duration of migration batch invocations.",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"outcome", "dry_run"}),
		batchOutcomeCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wpmigrate_batch_total",
			Help: "Migration batch invocations by outcome.",
		}, []string{"outcome", "dry_run"}),
		batchProcessedRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wpmigrate_batch_rows_total",
			Help: "Source rows processed by batches.",
		}, []string{"dry_run"}),
		postResultCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wpmigrate_posts_total",
			Help: "Per-row import results by post type.",
		}, []string{"post_type", "result"}),
		attachmentCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wpmigrate_attachments_total",
			Help: "Attachment resolutions by result.",
		}, []string{"result"}),
		downloadCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wpmigrate_download_attempts_total",
			Help: "Media download attempts by result.",
		}, []string{"result"}),
		downloadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wpmigrate_download_bytes_total",
			Help: "Bytes downloaded from the source site.",
		}),
		purgeDeletedCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wpmigrate_purge_deleted_total",
			Help: "Destination objects deleted by purge.",
		}, []string{"object_type"}),
	}

	registry.MustRegister(
		r.batchDurationSeconds,
		r.batchOutcomeCounter,
		r.batchProcessedRows,
		r.postResultCounter,
		r.attachmentCounter,
		r.downloadCounter,
		r.downloadBytes,
		r.purgeDeletedCounter,
	)
	return r
}

// GetRegistry returns the Prometheus registry.
func (r *PrometheusRecorder) GetRegistry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// RecordBatch implements metrics.MetricRecorder.
func (r *PrometheusRecorder) RecordBatch(_ context.Context, outcome string, dryRun bool, duration time.Duration, processed int) {
	dry := strconv.FormatBool(dryRun)
	r.batchOutcomeCounter.WithLabelValues(outcome, dry).Inc()
	r.batchDurationSeconds.WithLabelValues(outcome, dry).Observe(duration.Seconds())
	r.batchProcessedRows.WithLabelValues(dry).Add(float64(processed))
	logger.Debugf("Metrics: batch %s (dry_run=%s) processed %d rows in %.3fs", outcome, dry, processed, duration.Seconds())
}

// RecordPost implements metrics.MetricRecorder.
func (r *PrometheusRecorder) RecordPost(_ context.Context, postType, result string) {
	r.postResultCounter.WithLabelValues(postType, result).Inc()
}

// RecordAttachment implements metrics.MetricRecorder.
func (r *PrometheusRecorder) RecordAttachment(_ context.Context, result string) {
	r.attachmentCounter.WithLabelValues(result).Inc()
}

// RecordDownloadAttempt implements metrics.MetricRecorder.
func (r *PrometheusRecorder) RecordDownloadAttempt(_ context.Context, result string, bytes int64) {
	r.downloadCounter.WithLabelValues(result).Inc()
	if bytes > 0 {
		r.downloadBytes.Add(float64(bytes))
	}
}

// RecordPurge implements metrics.MetricRecorder.
func (r *PrometheusRecorder) RecordPurge(_ context.Context, objectType string, deleted int) {
	r.purgeDeletedCounter.WithLabelValues(objectType).Add(float64(deleted))
}

var _ metrics.MetricRecorder = (*PrometheusRecorder)(nil)
