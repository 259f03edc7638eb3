package workflow

import (
	"time"

	"github.com/zero-day-ai/tideflow/internal/handler"
	"github.com/zero-day-ai/tideflow/internal/types"
)

const (
	DefaultTaskTimeout = 300 * time.Second
	DefaultMaxRetries  = 3
)

type buildOptions struct {
	id             types.ID
	createdAt      time.Time
	defaultTimeout time.Duration
	defaultRetries int
}

// BuildOption customizes New.
type BuildOption func(*buildOptions)

// WithID reuses an existing workflow id, for example when a stored workflow
// is loaded for a scheduled run.
func WithID(id types.ID) BuildOption {
	return func(o *buildOptions) {
		o.id = id
	}
}

// WithCreatedAt sets the creation time of a loaded workflow.
func WithCreatedAt(t time.Time) BuildOption {
	return func(o *buildOptions) {
		o.createdAt = t
	}
}

// WithTaskDefaults overrides the timeout and retry count applied to tasks
// that do not set their own.
func WithTaskDefaults(timeout time.Duration, maxRetries int) BuildOption {
	return func(o *buildOptions) {
		if timeout > 0 {
			o.defaultTimeout = timeout
		}
		if maxRetries >= 0 {
			o.defaultRetries = maxRetries
		}
	}
}

// New validates cfg and builds a workflow in PENDING state. Every
// configuration problem is reported here, before any task can run.
func New(cfg *Config, registry *handler.Registry, opts ...BuildOption) (*Workflow, error) {
	o := buildOptions{
		id:             types.NewID(),
		createdAt:      time.Now(),
		defaultTimeout: DefaultTaskTimeout,
		defaultRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	order, err := ExecutionOrder(cfg.Tasks)
	if err != nil {
		return nil, err
	}

	if registry == nil {
		return nil, types.NewError(types.CONFIG_VALIDATION_FAILED, "handler registry is required")
	}
	for _, tc := range cfg.Tasks {
		if err := registry.Validate(tc.ID, tc.Type, tc.Params); err != nil {
			return nil, err
		}
	}

	if cfg.TriggerType == "" {
		cfg.TriggerType = TriggerManual
	}

	wf := &Workflow{
		ID:          o.id,
		Name:        cfg.Name,
		Description: cfg.Description,
		Config:      cfg,
		CreatedAt:   o.createdAt,
		tasks:       make(map[string]*Task, len(cfg.Tasks)),
		order:       order,
		status:      WorkflowStatusPending,
	}
	for _, tc := range cfg.Tasks {
		wf.tasks[tc.ID] = newTask(tc, o.defaultTimeout, o.defaultRetries)
	}
	return wf, nil
}
