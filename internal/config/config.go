package config

import (
	"time"

	"github.com/zero-day-ai/tideflow/internal/database"
	"github.com/zero-day-ai/tideflow/internal/engine"
	"github.com/zero-day-ai/tideflow/internal/guard"
	"github.com/zero-day-ai/tideflow/internal/monitor"
	"github.com/zero-day-ai/tideflow/internal/observability"
	"github.com/zero-day-ai/tideflow/internal/scheduler"
)

// Config is the root configuration for tideflow.
type Config struct {
	Core      CoreConfig                  `mapstructure:"core" yaml:"core" validate:"required"`
	Database  database.Config             `mapstructure:"database" yaml:"database"`
	Engine    engine.Config               `mapstructure:"engine" yaml:"engine"`
	Scheduler scheduler.Config            `mapstructure:"scheduler" yaml:"scheduler"`
	Monitor   monitor.Config              `mapstructure:"monitor" yaml:"monitor"`
	Guard     guard.Config                `mapstructure:"guard" yaml:"guard"`
	Logging   observability.LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Metrics   observability.MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Tracing   observability.TracingConfig `mapstructure:"tracing" yaml:"tracing"`
}

// CoreConfig contains core application settings.
type CoreConfig struct {
	HomeDir         string        `mapstructure:"home_dir" yaml:"home_dir"`
	DataDir         string        `mapstructure:"data_dir" yaml:"data_dir"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"min=1s"`
	Debug           bool          `mapstructure:"debug" yaml:"debug"`
}
