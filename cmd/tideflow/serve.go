package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zero-day-ai/tideflow/internal/observability"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and monitor until interrupted",
	Long: `Run the workflow scheduler and the monitoring loop in the foreground.

Enabled schedules fire while serve is running. When metrics are enabled
the Prometheus endpoint and /healthz are served on metrics.address:port.
SIGINT or SIGTERM stops the loops and waits for in-flight scheduled runs.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Core.ShutdownTimeout)
		defer cancel()
		if err := a.Close(shutdownCtx); err != nil {
			a.logger.Error("shutdown failed", "error", err)
		}
	}()

	if a.cfg.Scheduler.Enabled {
		if err := a.scheduler.Start(ctx); err != nil {
			return err
		}
	}
	if a.cfg.Monitor.Enabled {
		a.monitor.Start(ctx)
	}

	g, gctx := errgroup.WithContext(ctx)
	if a.cfg.Metrics.Enabled {
		srv, ln, err := newTelemetryServer(gctx, a)
		if err != nil {
			return err
		}
		a.logger.Info("telemetry server listening", "address", ln.Addr().String(), "path", a.cfg.Metrics.Path)

		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("telemetry server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Core.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	fmt.Fprintln(cmd.OutOrStdout(), "tideflow is running; press Ctrl-C to stop")
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	a.logger.Info("shutting down")
	return nil
}

func newTelemetryServer(ctx context.Context, a *app) (*http.Server, net.Listener, error) {
	health := observability.NewHealthMonitor(5 * time.Second)
	health.Register("database", a.db.Health)
	if a.cfg.Scheduler.Enabled {
		health.Register("scheduler", func(context.Context) error {
			if !a.scheduler.Running() {
				return errors.New("scheduler is not running")
			}
			return nil
		})
	}
	if a.cfg.Monitor.Enabled {
		health.Register("monitor", func(context.Context) error {
			if !a.monitor.Status().MonitoringActive {
				return errors.New("monitor is not running")
			}
			return nil
		})
	}

	mux := http.NewServeMux()
	mux.Handle(a.cfg.Metrics.Path, a.metrics.Handler())
	mux.Handle("/healthz", health.Handler())

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", a.cfg.Metrics.ListenAddr())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen on %s: %w", a.cfg.Metrics.ListenAddr(), err)
	}
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	return srv, ln, nil
}
