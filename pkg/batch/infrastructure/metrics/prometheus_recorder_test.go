package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "github.com/tigerroll/wpmigrate/pkg/batch/core/config"
)

func TestPrometheusRecorder_Counters(t *testing.T) {
	r := NewPrometheusRecorder()
	ctx := context.Background()

	r.RecordBatch(ctx, "COMPLETED", false, 2*time.Second, 3)
	r.RecordPost(ctx, "news-cpt", "imported")
	r.RecordPost(ctx, "news-cpt", "imported")
	r.RecordAttachment(ctx, "reused")
	r.RecordDownloadAttempt(ctx, "ok", 2048)
	r.RecordPurge(ctx, "post", 4)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.batchOutcomeCounter.WithLabelValues("COMPLETED", "false")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.batchProcessedRows.WithLabelValues("false")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.postResultCounter.WithLabelValues("news-cpt", "imported")))
	assert.Equal(t, 2048.0, testutil.ToFloat64(r.downloadBytes))
	assert.Equal(t, 4.0, testutil.ToFloat64(r.purgeDeletedCounter.WithLabelValues("post")))
}

func TestPrometheusRecorder_Handler(t *testing.T) {
	r := NewPrometheusRecorder()
	r.RecordAttachment(context.Background(), "imported")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `wpmigrate_attachments_total{result="imported"} 1`)
}

func TestOpenTelemetryTracer_NoProvider(t *testing.T) {
	tracer := NewOpenTelemetryTracer()
	ctx, end := tracer.StartSpan(context.Background(), "test", map[string]interface{}{"id": uint64(3), "ok": true})
	tracer.RecordEvent(ctx, "event", nil)
	tracer.RecordError(ctx, "test", errors.New("x"))
	end()

	shutdown, err := InstallTracerProvider(context.Background(), config.TracingConfig{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
