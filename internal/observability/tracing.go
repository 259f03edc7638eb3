package observability

import (
	"context"
	"io"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/zero-day-ai/tideflow/internal/types"
	"github.com/zero-day-ai/tideflow/pkg/version"
)

const defaultServiceName = "tideflow"

// TracingOption overrides part of the provider InitTracing builds.
type TracingOption func(*tracingOptions)

type tracingOptions struct {
	sampler  sdktrace.Sampler
	resource *resource.Resource
	writer   io.Writer
	sync     bool
}

// WithSampler replaces the parent-based ratio sampler derived from the
// configured sample rate.
func WithSampler(s sdktrace.Sampler) TracingOption {
	return func(o *tracingOptions) { o.sampler = s }
}

// WithResource replaces the service resource.
func WithResource(r *resource.Resource) TracingOption {
	return func(o *tracingOptions) { o.resource = r }
}

// WithWriter sends stdout-provider spans to w.
func WithWriter(w io.Writer) TracingOption {
	return func(o *tracingOptions) { o.writer = w }
}

// WithSyncExport exports each span when it ends instead of batching.
func WithSyncExport() TracingOption {
	return func(o *tracingOptions) { o.sync = true }
}

// InitTracing builds the tracer provider the engine records workflow and
// task spans with. A disabled config or the noop provider yields a provider
// without exporters; otherwise the provider is installed globally.
func InitTracing(ctx context.Context, cfg TracingConfig, opts ...TracingOption) (*sdktrace.TracerProvider, error) {
	if !cfg.Enabled {
		return sdktrace.NewTracerProvider(), nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, types.WrapError(types.CONFIG_VALIDATION_FAILED, "invalid tracing configuration", err)
	}

	o := tracingOptions{writer: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}

	exporter, err := newSpanExporter(ctx, cfg, o.writer)
	if err != nil || exporter == nil {
		return sdktrace.NewTracerProvider(), err
	}

	if o.resource == nil {
		if o.resource, err = serviceResource(ctx, cfg.ServiceName); err != nil {
			_ = exporter.Shutdown(ctx)
			return nil, err
		}
	}
	if o.sampler == nil {
		o.sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))
	}

	export := sdktrace.WithBatcher(exporter)
	if o.sync {
		export = sdktrace.WithSyncer(exporter)
	}
	tp := sdktrace.NewTracerProvider(
		export,
		sdktrace.WithSampler(o.sampler),
		sdktrace.WithResource(o.resource),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}

// newSpanExporter returns nil for the noop provider.
func newSpanExporter(ctx context.Context, cfg TracingConfig, w io.Writer) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(cfg.Provider) {
	case "stdout":
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, types.WrapError(types.TELEMETRY_EXPORTER_FAILED, "failed to create stdout span exporter", err)
		}
		return exp, nil
	case "otlp":
		grpcOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			grpcOpts = append(grpcOpts, otlptracegrpc.WithInsecure())
		}
		exp, err := otlptracegrpc.New(ctx, grpcOpts...)
		if err != nil {
			return nil, &types.FlowError{
				Code:      types.TELEMETRY_EXPORTER_FAILED,
				Message:   "failed to create otlp span exporter for " + cfg.Endpoint,
				Retryable: true,
				Cause:     err,
			}
		}
		return exp, nil
	case "noop":
		return nil, nil
	}
	return nil, types.NewErrorf(types.CONFIG_VALIDATION_FAILED, "unsupported tracing provider: %s", cfg.Provider)
}

func serviceResource(ctx context.Context, name string) (*resource.Resource, error) {
	if name == "" {
		name = defaultServiceName
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", name),
			attribute.String("service.version", version.Version),
		),
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
	)
	if err != nil {
		return nil, types.WrapError(types.TELEMETRY_EXPORTER_FAILED, "failed to build trace resource", err)
	}
	return res, nil
}

// ShutdownTracing flushes pending spans within ctx and stops the provider.
func ShutdownTracing(ctx context.Context, tp *sdktrace.TracerProvider) error {
	if tp == nil {
		return nil
	}
	if err := tp.Shutdown(ctx); err != nil {
		return types.WrapError(types.TELEMETRY_SHUTDOWN_FAILED, "failed to shut down tracer provider", err)
	}
	return nil
}
