package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/zero-day-ai/tideflow/internal/types"
)

// Config is the declarative definition of a workflow, as written in a
// template file or submitted inline.
type Config struct {
	Name          string         `yaml:"name" json:"name" validate:"required"`
	Description   string         `yaml:"description,omitempty" json:"description,omitempty"`
	TriggerType   TriggerType    `yaml:"trigger_type,omitempty" json:"trigger_type,omitempty" validate:"omitempty,oneof=manual schedule event webhook"`
	Schedule      string         `yaml:"schedule,omitempty" json:"schedule,omitempty"`
	Variables     map[string]any `yaml:"variables,omitempty" json:"variables,omitempty"`
	Notifications []string       `yaml:"notifications,omitempty" json:"notifications,omitempty"`
	Tasks         []TaskConfig   `yaml:"tasks" json:"tasks" validate:"required,min=1,dive"`
}

// TaskConfig defines one task. Timeout is in seconds.
type TaskConfig struct {
	ID                string         `yaml:"id" json:"id" validate:"required"`
	Name              string         `yaml:"name" json:"name" validate:"required"`
	Type              string         `yaml:"type" json:"type" validate:"required"`
	Params            map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
	Dependencies      []string       `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
	Timeout           float64        `yaml:"timeout,omitempty" json:"timeout,omitempty" validate:"gte=0"`
	MaxRetries        *int           `yaml:"max_retries,omitempty" json:"max_retries,omitempty" validate:"omitempty,gte=0"`
	ContinueOnFailure bool           `yaml:"continue_on_failure,omitempty" json:"continue_on_failure,omitempty"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ParseConfig decodes a YAML or JSON workflow definition.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, types.WrapError(types.CONFIG_PARSE_FAILED, "failed to parse workflow definition", err)
	}
	return &cfg, nil
}

// Validate checks required fields and value ranges. Graph structure and task
// types are checked by New.
func (c *Config) Validate() error {
	if c == nil {
		return types.NewError(types.CONFIG_MISSING_FIELD, "workflow configuration is nil")
	}
	if err := structValidator().Struct(c); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// Clone returns a deep copy made through a JSON round trip. Numeric values in
// params come back as float64.
func (c *Config) Clone() (*Config, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var out Config
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &out, nil
}

func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return types.WrapError(types.CONFIG_VALIDATION_FAILED, "workflow validation failed", err)
	}

	code := types.CONFIG_VALIDATION_FAILED
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		switch fe.Tag() {
		case "required":
			code = types.CONFIG_MISSING_FIELD
			msgs = append(msgs, fmt.Sprintf("%s is required", field))
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must have at least %s item(s)", field, fe.Param()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s]", field, fe.Param()))
		case "gte":
			msgs = append(msgs, fmt.Sprintf("%s must be >= %s", field, fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s validation", field, fe.Tag()))
		}
	}
	return types.NewError(code, "invalid workflow configuration: "+strings.Join(msgs, "; "))
}
