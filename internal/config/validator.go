package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/zero-day-ai/tideflow/internal/guard"
	"github.com/zero-day-ai/tideflow/internal/monitor"
	"github.com/zero-day-ai/tideflow/internal/types"
)

// ConfigValidator validates configuration values.
type ConfigValidator interface {
	Validate(cfg *Config) error
}

type structValidator struct {
	validate *validator.Validate
}

// NewValidator returns a validator that reports field paths by their
// config keys, e.g. "scheduler.check_interval".
func NewValidator() ConfigValidator {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		switch name {
		case "-":
			return ""
		case "":
			return camelToSnake(f.Name)
		}
		return name
	})
	return &structValidator{validate: v}
}

// Validate checks struct tags first, then the rules that span fields or
// need a constructor to evaluate, such as guard patterns and alert
// channels. Every problem found is reported in one CONFIG_VALIDATION_FAILED
// error.
func (v *structValidator) Validate(cfg *Config) error {
	if cfg == nil {
		return types.NewError(types.CONFIG_VALIDATION_FAILED, "configuration is nil")
	}

	var problems []string
	if err := v.validate.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return types.WrapError(types.CONFIG_VALIDATION_FAILED, "validation error", err)
		}
		for _, fe := range fieldErrs {
			problems = append(problems, formatValidationError(fe))
		}
	}

	sections := []struct {
		name  string
		check func() error
	}{
		{"logging", cfg.Logging.Validate},
		{"metrics", cfg.Metrics.Validate},
		{"tracing", cfg.Tracing.Validate},
	}
	for _, s := range sections {
		if err := s.check(); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", s.name, err))
		}
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Path == "" {
		problems = append(problems, "metrics.path is required when metrics are enabled")
	}

	if _, err := guard.NewPatternGuard(cfg.Guard); err != nil {
		problems = append(problems, fmt.Sprintf("guard: %v", err))
	}

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	names := make(map[string]bool, len(cfg.Monitor.Channels))
	for i, cc := range cfg.Monitor.Channels {
		if names[cc.Name] {
			problems = append(problems, fmt.Sprintf("monitor.channels[%d].name %q is used twice", i, cc.Name))
		}
		names[cc.Name] = true
		if cc.Type == "" || !isChannelType(cc.Type) {
			continue // reported by the oneof tag
		}
		if _, err := monitor.NewChannel(cc, quiet); err != nil {
			problems = append(problems, fmt.Sprintf("monitor.channels[%d]: %v", i, err))
		}
	}

	rules := make(map[string]bool, len(cfg.Monitor.AlertRules))
	for i, r := range cfg.Monitor.AlertRules {
		if r.Name != "" && rules[r.Name] {
			problems = append(problems, fmt.Sprintf("monitor.alert_rules[%d].name %q is used twice", i, r.Name))
		}
		rules[r.Name] = true
	}

	if len(problems) == 0 {
		return nil
	}
	return types.NewError(types.CONFIG_VALIDATION_FAILED,
		"configuration validation failed:\n  - "+strings.Join(problems, "\n  - "))
}

func isChannelType(t string) bool {
	switch t {
	case monitor.ChannelLog, monitor.ChannelWebhook, monitor.ChannelEmail:
		return true
	}
	return false
}

func formatValidationError(e validator.FieldError) string {
	path := formatFieldPath(e.Namespace())

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", path)
	case "min":
		return fmt.Sprintf("%s must be at least %s (got: %v)", path, e.Param(), e.Value())
	case "max":
		return fmt.Sprintf("%s must be at most %s (got: %v)", path, e.Param(), e.Value())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s (got: %v)", path, e.Param(), e.Value())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s] (got: %v)", path, e.Param(), e.Value())
	case "url":
		return fmt.Sprintf("%s must be a valid URL (got: %v)", path, e.Value())
	default:
		return fmt.Sprintf("%s failed validation '%s' (got: %v)", path, e.Tag(), e.Value())
	}
}

// formatFieldPath drops the root struct name from a validator namespace.
// Segments are already config keys because of the tag name func.
func formatFieldPath(namespace string) string {
	_, rest, ok := strings.Cut(namespace, ".")
	if !ok {
		return namespace
	}
	return rest
}

func camelToSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteByte('_')
		}
		b.WriteRune(r)
	}
	return strings.ToLower(b.String())
}
