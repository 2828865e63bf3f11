package metrics

import (
	"context"

	"go.uber.org/fx"

	config "github.com/tigerroll/wpmigrate/pkg/batch/core/config"
	metrics "github.com/tigerroll/wpmigrate/pkg/batch/core/metrics"
)

// Module provides the Prometheus recorder and the otel tracer behind the
// core metrics ports, and installs the OTLP tracer provider for the app lifetime.
var Module = fx.Options(
	fx.Provide(NewPrometheusRecorder),
	fx.Provide(func(r *PrometheusRecorder) metrics.MetricRecorder { return r }),
	fx.Provide(fx.Annotate(NewOpenTelemetryTracer, fx.As(new(metrics.Tracer)))),
	fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config) error {
		shutdown, err := InstallTracerProvider(context.Background(), cfg.Tracing)
		if err != nil {
			return err
		}
		lc.Append(fx.Hook{OnStop: shutdown})
		return nil
	}),
)
