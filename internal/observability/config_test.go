package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLoggingConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     LoggingConfig
		wantErr string
	}{
		{name: "zero value", cfg: LoggingConfig{}},
		{name: "json stdout", cfg: LoggingConfig{Level: "debug", Format: "json", Output: "stdout"}},
		{name: "text file", cfg: LoggingConfig{Level: "warn", Format: "text", Output: "/var/log/tideflow.log"}},
		{name: "bad level", cfg: LoggingConfig{Level: "verbose"}, wantErr: "invalid log level"},
		{name: "bad format", cfg: LoggingConfig{Format: "xml"}, wantErr: "invalid log format"},
		{name: "relative path", cfg: LoggingConfig{Output: "logs/out.log"}, wantErr: "invalid log output"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestTracingConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     TracingConfig
		wantErr string
	}{
		{name: "disabled ignores fields", cfg: TracingConfig{Provider: "zipkin", SampleRate: 5}},
		{name: "stdout", cfg: TracingConfig{Enabled: true, Provider: "stdout", SampleRate: 1}},
		{name: "otlp", cfg: TracingConfig{Enabled: true, Provider: "OTLP", Endpoint: "localhost:4317", SampleRate: 0.5}},
		{name: "noop", cfg: TracingConfig{Enabled: true, Provider: "noop"}},
		{name: "unknown provider", cfg: TracingConfig{Enabled: true, Provider: "jaeger"}, wantErr: "invalid tracing provider"},
		{name: "negative rate", cfg: TracingConfig{Enabled: true, Provider: "stdout", SampleRate: -0.1}, wantErr: "invalid sample rate"},
		{name: "rate above one", cfg: TracingConfig{Enabled: true, Provider: "stdout", SampleRate: 1.5}, wantErr: "invalid sample rate"},
		{name: "otlp without endpoint", cfg: TracingConfig{Enabled: true, Provider: "otlp", SampleRate: 1}, wantErr: "endpoint is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestMetricsConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     MetricsConfig
		wantErr string
	}{
		{name: "disabled", cfg: MetricsConfig{Port: -1}},
		{name: "valid", cfg: MetricsConfig{Enabled: true, Port: 9090, Path: "/metrics"}},
		{name: "port zero", cfg: MetricsConfig{Enabled: true}, wantErr: "invalid port"},
		{name: "port too large", cfg: MetricsConfig{Enabled: true, Port: 70000}, wantErr: "invalid port"},
		{name: "relative path", cfg: MetricsConfig{Enabled: true, Port: 9090, Path: "metrics"}, wantErr: "invalid metrics path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestMetricsConfig_ListenAddr(t *testing.T) {
	cfg := MetricsConfig{Address: "127.0.0.1", Port: 9464}
	assert.Equal(t, "127.0.0.1:9464", cfg.ListenAddr())

	cfg.Address = ""
	assert.Equal(t, ":9464", cfg.ListenAddr())

	cfg.Address = "::1"
	assert.Equal(t, "[::1]:9464", cfg.ListenAddr())
}

func TestYAMLDeserialization(t *testing.T) {
	input := `
logging:
  level: debug
  format: text
  output: stderr
tracing:
  enabled: true
  provider: otlp
  endpoint: collector:4317
  service_name: tideflow-test
  sample_rate: 0.25
  insecure: true
metrics:
  enabled: true
  address: 0.0.0.0
  port: 9464
  path: /metrics
`
	var cfg struct {
		Logging LoggingConfig `yaml:"logging"`
		Tracing TracingConfig `yaml:"tracing"`
		Metrics MetricsConfig `yaml:"metrics"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(input), &cfg))

	assert.Equal(t, LoggingConfig{Level: "debug", Format: "text", Output: "stderr"}, cfg.Logging)
	assert.Equal(t, TracingConfig{
		Enabled: true, Provider: "otlp", Endpoint: "collector:4317",
		ServiceName: "tideflow-test", SampleRate: 0.25, Insecure: true,
	}, cfg.Tracing)
	assert.Equal(t, 9464, cfg.Metrics.Port)

	assert.NoError(t, cfg.Logging.Validate())
	assert.NoError(t, cfg.Tracing.Validate())
	assert.NoError(t, cfg.Metrics.Validate())
}
