package config

import (
	"cmp"
	"errors"
	"io/fs"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/viper"

	"github.com/zero-day-ai/tideflow/internal/types"
)

// EnvPrefix prefixes environment overrides, e.g. TIDEFLOW_LOGGING_LEVEL.
const EnvPrefix = "TIDEFLOW"

// envKeys are the settings that may be overridden from the environment.
var envKeys = []string{
	"core.home_dir",
	"core.data_dir",
	"core.debug",
	"database.path",
	"engine.max_parallel",
	"engine.templates_dir",
	"engine.default_timeout",
	"scheduler.enabled",
	"scheduler.check_interval",
	"monitor.enabled",
	"monitor.check_interval",
	"monitor.window",
	"logging.level",
	"logging.format",
	"logging.output",
	"metrics.enabled",
	"metrics.address",
	"metrics.port",
	"tracing.enabled",
	"tracing.provider",
	"tracing.endpoint",
	"tracing.sample_rate",
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ConfigLoader handles loading configuration from files.
type ConfigLoader interface {
	Load(path string) (*Config, error)
	LoadWithDefaults(path string) (*Config, error)
}

// viperConfigLoader implements ConfigLoader using Viper.
type viperConfigLoader struct {
	validator ConfigValidator
	homeDir   string
}

// LoaderOption configures a ConfigLoader.
type LoaderOption func(*viperConfigLoader)

// WithHomeDir roots default paths at dir instead of DefaultHomeDir.
func WithHomeDir(dir string) LoaderOption {
	return func(l *viperConfigLoader) {
		l.homeDir = dir
	}
}

// NewConfigLoader creates a new ConfigLoader instance.
func NewConfigLoader(validator ConfigValidator, opts ...LoaderOption) ConfigLoader {
	l := &viperConfigLoader{validator: validator}
	for _, opt := range opts {
		opt(l)
	}
	if l.validator == nil {
		l.validator = NewValidator()
	}
	return l
}

// Load loads configuration from the specified file path.
// Returns an error if the file doesn't exist or cannot be parsed.
func (l *viperConfigLoader) Load(path string) (*Config, error) {
	return l.load(path, true)
}

// LoadWithDefaults loads configuration from the specified file path.
// If the file doesn't exist, the defaults are used. Environment overrides
// apply in both cases.
func (l *viperConfigLoader) LoadWithDefaults(path string) (*Config, error) {
	if path == "" {
		return l.load("", false)
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return l.load("", false)
	}
	return l.load(path, true)
}

func (l *viperConfigLoader) load(path string, readFile bool) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, types.WrapError(types.CONFIG_LOAD_FAILED, "failed to bind environment for "+key, err)
		}
	}

	if readFile {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			code := types.CONFIG_PARSE_FAILED
			if errors.Is(err, fs.ErrNotExist) {
				code = types.CONFIG_NOT_FOUND
			}
			return nil, types.WrapError(code, "failed to read config file "+path, err)
		}
	}

	// Decode from a second viper holding the expanded tree so ${VAR}
	// references inside nested lists are resolved too.
	expanded := viper.New()
	if err := expanded.MergeConfigMap(expandTree(v.AllSettings())); err != nil {
		return nil, types.WrapError(types.CONFIG_PARSE_FAILED, "failed to expand environment references", err)
	}

	homeDir := cmp.Or(expanded.GetString("core.home_dir"), l.homeDir, DefaultHomeDir())
	cfg := DefaultConfigFor(homeDir)

	// Unmarshal decodes into existing slice elements. Start the lists empty
	// so a file's list replaces the defaults rather than merging into them.
	defaultRules, defaultChannels := cfg.Monitor.AlertRules, cfg.Monitor.Channels
	cfg.Monitor.AlertRules, cfg.Monitor.Channels = nil, nil

	if err := expanded.Unmarshal(cfg); err != nil {
		return nil, types.WrapError(types.CONFIG_PARSE_FAILED, "failed to decode configuration", err)
	}
	if cfg.Monitor.AlertRules == nil {
		cfg.Monitor.AlertRules = defaultRules
	}
	if cfg.Monitor.Channels == nil {
		cfg.Monitor.Channels = defaultChannels
	}

	if err := l.validator.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandTree copies a settings tree with ${VAR} references in string
// leaves resolved.
func expandTree(node any) map[string]any {
	m, _ := expandNode(node).(map[string]any)
	return m
}

func expandNode(node any) any {
	switch n := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(n))
		for k, child := range n {
			out[k] = expandNode(child)
		}
		return out
	case []any:
		out := make([]any, len(n))
		for i, child := range n {
			out[i] = expandNode(child)
		}
		return out
	case string:
		return expandEnv(n)
	}
	return node
}

// expandEnv resolves ${VAR} and ${VAR:-fallback}. A reference to an unset
// variable without a fallback stays as written so the validator can point
// at it.
func expandEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(ref string) string {
		name, fallback, hasFallback := strings.Cut(ref[2:len(ref)-1], ":-")
		if val, ok := os.LookupEnv(name); ok && val != "" {
			return val
		}
		if hasFallback {
			return fallback
		}
		return ref
	})
}
