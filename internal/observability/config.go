package observability

import (
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"
)

var (
	logFormats      = []string{"json", "text"}
	tracingBackends = []string{"stdout", "otlp", "noop"}
)

// LoggingConfig selects the level, encoding and destination of the process
// log. Output is stdout, stderr or an absolute file path.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" mapstructure:"format" validate:"omitempty,oneof=json text"`
	Output string `yaml:"output" mapstructure:"output"`
}

func (c *LoggingConfig) Validate() error {
	if _, err := ParseLevel(c.Level); err != nil {
		return err
	}
	if c.Format != "" && !slices.Contains(logFormats, strings.ToLower(c.Format)) {
		return fmt.Errorf("invalid log format: %s (must be one of: %s)", c.Format, strings.Join(logFormats, ", "))
	}
	switch strings.ToLower(c.Output) {
	case "", "stdout", "stderr":
		return nil
	}
	if !strings.HasPrefix(c.Output, "/") {
		return fmt.Errorf("invalid log output: %s (must be stdout, stderr or an absolute file path)", c.Output)
	}
	return nil
}

// TracingConfig configures the span exporter the engine's tracer feeds.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled" mapstructure:"enabled"`
	Provider    string  `yaml:"provider" mapstructure:"provider"`
	Endpoint    string  `yaml:"endpoint" mapstructure:"endpoint"`
	ServiceName string  `yaml:"service_name" mapstructure:"service_name"`
	SampleRate  float64 `yaml:"sample_rate" mapstructure:"sample_rate"`
	// Insecure dials the otlp collector without TLS.
	Insecure bool `yaml:"insecure" mapstructure:"insecure"`
}

// Validate ignores every field while tracing is disabled.
func (c *TracingConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	backend := strings.ToLower(c.Provider)
	if !slices.Contains(tracingBackends, backend) {
		return fmt.Errorf("invalid tracing provider: %s (must be one of: %s)", c.Provider, strings.Join(tracingBackends, ", "))
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("invalid sample rate: %g (must be between 0 and 1)", c.SampleRate)
	}
	if backend == "otlp" && c.Endpoint == "" {
		return fmt.Errorf("endpoint is required when tracing provider is otlp")
	}
	return nil
}

// MetricsConfig places the Prometheus scrape endpoint that serve exposes.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Address string `yaml:"address" mapstructure:"address"`
	Port    int    `yaml:"port" mapstructure:"port"`
	Path    string `yaml:"path" mapstructure:"path"`
}

func (c *MetricsConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be between 1 and 65535)", c.Port)
	}
	if c.Path != "" && c.Path[0] != '/' {
		return fmt.Errorf("invalid metrics path: %s (must start with /)", c.Path)
	}
	return nil
}

// ListenAddr joins Address and Port; an empty Address listens on every
// interface.
func (c *MetricsConfig) ListenAddr() string {
	return net.JoinHostPort(c.Address, strconv.Itoa(c.Port))
}
