package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/zero-day-ai/tideflow/internal/database"
	"github.com/zero-day-ai/tideflow/internal/engine"
	"github.com/zero-day-ai/tideflow/internal/monitor"
	"github.com/zero-day-ai/tideflow/internal/observability"
	"github.com/zero-day-ai/tideflow/internal/scheduler"
)

// DefaultConfig returns a Config with sensible default values rooted at
// DefaultHomeDir.
func DefaultConfig() *Config {
	return DefaultConfigFor(DefaultHomeDir())
}

// DefaultConfigFor returns the defaults with every path under homeDir.
func DefaultConfigFor(homeDir string) *Config {
	eng := engine.DefaultConfig()
	eng.TemplatesDir = filepath.Join(homeDir, "templates")

	return &Config{
		Core: CoreConfig{
			HomeDir:         homeDir,
			DataDir:         filepath.Join(homeDir, "data"),
			ShutdownTimeout: 30 * time.Second,
		},
		Database:  database.DefaultConfig(filepath.Join(homeDir, "tideflow.db")),
		Engine:    eng,
		Scheduler: scheduler.DefaultConfig(),
		Monitor:   monitor.DefaultConfig(),
		Logging: observability.LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
		Metrics: observability.MetricsConfig{
			Enabled: false,
			Address: "127.0.0.1",
			Port:    9464,
			Path:    "/metrics",
		},
		Tracing: observability.TracingConfig{
			Enabled:     false,
			Provider:    "stdout",
			ServiceName: "tideflow",
			SampleRate:  1.0,
		},
	}
}

// DefaultHomeDir returns the default tideflow home directory.
// It uses ~/.tideflow or falls back to a temporary directory if user home cannot be determined.
func DefaultHomeDir() string {
	if env := os.Getenv("TIDEFLOW_HOME"); env != "" {
		return env
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".tideflow")
	}
	return filepath.Join(userHome, ".tideflow")
}

// DefaultConfigPath returns the default config file path for a given home directory
func DefaultConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}
