package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/zero-day-ai/tideflow/internal/types"
)

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestInitMetrics_Disabled(t *testing.T) {
	m, err := InitMetrics(context.Background(), MetricsConfig{Enabled: false})
	require.NoError(t, err)

	counter, err := m.MeterProvider().Meter("test").Int64Counter("ignored_total")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)

	assert.NotContains(t, scrape(t, m.Handler()), "ignored_total")
	assert.NoError(t, m.Shutdown(context.Background()))
}

func TestInitMetrics_InvalidConfig(t *testing.T) {
	_, err := InitMetrics(context.Background(), MetricsConfig{Enabled: true, Port: 0})
	require.Error(t, err)
	assert.Equal(t, types.CONFIG_VALIDATION_FAILED, types.CodeOf(err))
}

func TestInitMetrics_Prometheus(t *testing.T) {
	ctx := context.Background()
	m, err := InitMetrics(ctx, MetricsConfig{Enabled: true, Port: 9464, Path: "/metrics"})
	require.NoError(t, err)
	defer m.Shutdown(ctx)

	counter, err := m.MeterProvider().Meter("tideflow").Int64Counter("workflow_executions")
	require.NoError(t, err)
	counter.Add(ctx, 3, metric.WithAttributes(attribute.String("status", "COMPLETED")))

	body := scrape(t, m.Handler())
	assert.Contains(t, body, "workflow_executions_total")
	assert.Contains(t, body, `status="COMPLETED"`)
	assert.Contains(t, body, "go_goroutines")
}

func TestInitMetrics_SeparateRegistries(t *testing.T) {
	ctx := context.Background()
	cfg := MetricsConfig{Enabled: true, Port: 9464}

	first, err := InitMetrics(ctx, cfg)
	require.NoError(t, err)
	defer first.Shutdown(ctx)
	second, err := InitMetrics(ctx, cfg)
	require.NoError(t, err)
	defer second.Shutdown(ctx)

	counter, err := first.MeterProvider().Meter("a").Int64Counter("only_first")
	require.NoError(t, err)
	counter.Add(ctx, 1)

	assert.Contains(t, scrape(t, first.Handler()), "only_first")
	assert.NotContains(t, scrape(t, second.Handler()), "only_first")
}
