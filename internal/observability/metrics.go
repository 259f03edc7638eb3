package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/zero-day-ai/tideflow/internal/types"
)

// Metrics pairs the meter provider the monitor records through with the
// Prometheus registry serve scrapes. Each Metrics owns its registry, so two
// instances never share series.
type Metrics struct {
	meters   metric.MeterProvider
	sdk      *sdkmetric.MeterProvider
	registry *prometheus.Registry
}

// InitMetrics builds the provider. Disabled metrics get a noop provider and
// an empty registry.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (*Metrics, error) {
	m := &Metrics{meters: noop.NewMeterProvider(), registry: prometheus.NewRegistry()}
	if !cfg.Enabled {
		return m, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, types.WrapError(types.CONFIG_VALIDATION_FAILED, "invalid metrics configuration", err)
	}

	runtime := map[string]prometheus.Collector{
		"go":      collectors.NewGoCollector(),
		"process": collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	for name, c := range runtime {
		if err := m.registry.Register(c); err != nil {
			return nil, types.WrapError(types.TELEMETRY_REGISTRATION_FAILED, "failed to register "+name+" collector", err)
		}
	}

	reader, err := otelprom.New(otelprom.WithRegisterer(m.registry))
	if err != nil {
		return nil, types.WrapError(types.TELEMETRY_EXPORTER_FAILED, "failed to create prometheus exporter", err)
	}
	m.sdk = sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m.meters = m.sdk
	return m, nil
}

func (m *Metrics) MeterProvider() metric.MeterProvider {
	return m.meters
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Shutdown is a no-op for disabled metrics.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.sdk == nil {
		return nil
	}
	if err := m.sdk.Shutdown(ctx); err != nil {
		return types.WrapError(types.TELEMETRY_SHUTDOWN_FAILED, "failed to shut down meter provider", err)
	}
	return nil
}
