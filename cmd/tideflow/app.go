package main

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/zero-day-ai/tideflow/internal/config"
	"github.com/zero-day-ai/tideflow/internal/database"
	"github.com/zero-day-ai/tideflow/internal/engine"
	"github.com/zero-day-ai/tideflow/internal/guard"
	"github.com/zero-day-ai/tideflow/internal/handler"
	"github.com/zero-day-ai/tideflow/internal/monitor"
	"github.com/zero-day-ai/tideflow/internal/observability"
	"github.com/zero-day-ai/tideflow/internal/scheduler"
)

// app holds the components a command works with. Everything shares one
// database and the engine reports every run to the monitor's collector.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        *database.DB
	engine    *engine.Engine
	scheduler *scheduler.Service
	monitor   *monitor.Monitor
	metrics   *observability.Metrics
	tracer    *sdktrace.TracerProvider

	closers []io.Closer
}

func newApp(ctx context.Context, cfg *config.Config) (a *app, err error) {
	a = &app{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	logger, logCloser, err := observability.NewLogger(cfg.Logging, nil)
	if err != nil {
		return nil, err
	}
	a.logger = logger
	if logCloser != nil {
		a.closers = append(a.closers, logCloser)
	}

	if a.tracer, err = observability.InitTracing(ctx, cfg.Tracing); err != nil {
		return nil, err
	}
	if a.metrics, err = observability.InitMetrics(ctx, cfg.Metrics); err != nil {
		return nil, err
	}

	if a.db, err = database.OpenAndMigrate(ctx, cfg.Database); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.db)

	g, err := guard.NewPatternGuard(cfg.Guard, guard.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	registry, err := handler.NewDefaultRegistry(
		handler.WithGuard(g),
		handler.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	a.monitor, err = monitor.FromConfig(cfg.Monitor, database.NewMetricsDAO(a.db), logger,
		monitor.WithMeterProvider(a.metrics.MeterProvider()))
	if err != nil {
		return nil, err
	}

	workflows := database.NewWorkflowDAO(a.db)
	a.engine = engine.New(registry,
		engine.WithConfig(cfg.Engine),
		engine.WithStore(workflows, database.NewExecutionDAO(a.db)),
		engine.WithRecorder(a.monitor.Collector()),
		engine.WithLogger(logger),
		engine.WithTracer(a.tracer.Tracer("github.com/zero-day-ai/tideflow")),
	)

	a.scheduler = scheduler.New(database.NewScheduleDAO(a.db), workflows, a.engine,
		scheduler.WithConfig(cfg.Scheduler),
		scheduler.WithLogger(logger),
	)
	return a, nil
}

// Close flushes telemetry and releases the database and log file.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.monitor != nil {
		a.monitor.Stop()
	}
	if a.metrics != nil {
		errs = append(errs, a.metrics.Shutdown(ctx))
	}
	errs = append(errs, observability.ShutdownTracing(ctx, a.tracer))
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// openApp builds the app from the loaded configuration. Callers must Close it.
func openApp(cmd *cobra.Command) (*app, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return newApp(ctx, cliConfig)
}
