// File: cmd/serve.go
package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scrapeflow/internal/definitions"
	"github.com/xkilldash9x/scrapeflow/internal/metrics"
	"github.com/xkilldash9x/scrapeflow/internal/observability"
	"github.com/xkilldash9x/scrapeflow/internal/service"
)

const metricsShutdownTimeout = 5 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var (
		defFiles    []string
		noScheduler bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the routine scheduler and the metrics endpoint until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger().Named("serve")

			components, err := a.components(cmd, service.Options{})
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.shutdownTimeout())
				defer cancel()
				components.Shutdown(shutdownCtx)
			}()

			for _, path := range defFiles {
				bundle, err := definitions.LoadFile(path)
				if err != nil {
					return err
				}
				if err := definitions.Apply(ctx, bundle, components.Repository, components.DataStore, logger); err != nil {
					return err
				}
			}

			if mcfg := a.cfg.Metrics(); mcfg.Enabled {
				srv := startMetricsServer(mcfg.Address, mcfg.Path, components.Metrics, logger)
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricsShutdownTimeout)
					defer cancel()
					if err := srv.Shutdown(shutdownCtx); err != nil {
						logger.Warn("Metrics server shutdown failed.", zap.Error(err))
					}
				}()
			}

			if noScheduler || !a.cfg.Scheduler().Enabled {
				logger.Info("Scheduler disabled; waiting for shutdown signal.")
				<-ctx.Done()
				return nil
			}
			logger.Info("Serving. Press Ctrl+C to stop.")
			return components.Scheduler.Start(ctx)
		},
	}
	cmd.Flags().StringSliceVarP(&defFiles, "definitions", "d", nil, "definition files (yaml, json, json5) to apply before serving")
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "do not fire routines")
	return cmd
}

// shutdownTimeout leaves running executions their grace period plus time to
// record history.
func (a *app) shutdownTimeout() time.Duration {
	return a.cfg.Engine().TerminateGracePeriod + 15*time.Second
}

func startMetricsServer(addr, path string, m *metrics.Metrics, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed.", zap.Error(err))
		}
	}()
	logger.Info("Metrics server enabled.", zap.String("address", addr), zap.String("path", path))
	return srv
}
