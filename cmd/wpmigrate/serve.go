package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tigerroll/wpmigrate/internal/scheduler"
	config "github.com/tigerroll/wpmigrate/pkg/batch/core/config"
	metrics "github.com/tigerroll/wpmigrate/pkg/batch/infrastructure/metrics"
	"github.com/tigerroll/wpmigrate/pkg/batch/support/util/logger"
)

func newServeCommand(c *commandContext) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run batches on the configured interval and expose Prometheus metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				cfg      *config.Config
				sched    *scheduler.Scheduler
				recorder *metrics.PrometheusRecorder
			)
			return c.withApp(cmd, func(ctx context.Context) error {
				addr := metricsAddr
				if addr == "" {
					addr = cfg.Metrics.ListenAddress
				}
				return serve(ctx, sched, recorder, addr)
			}, &cfg, &sched, &recorder)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Listen address for /metrics (default: metrics.listen_address)")
	return cmd
}

func serve(ctx context.Context, sched *scheduler.Scheduler, recorder *metrics.PrometheusRecorder, addr string) error {
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	g, ctx := errgroup.WithContext(ctx)
	if addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", recorder.Handler())
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

		g.Go(func() error {
			logger.Infof("Serving metrics on %s/metrics", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		logger.Infof("Shutting down scheduler")
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
