// Package engine executes workflows: it dispatches ready tasks to a bounded
// worker pool, tracks active runs, and persists definitions and execution
// records.
package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/zero-day-ai/tideflow/internal/database"
	"github.com/zero-day-ai/tideflow/internal/handler"
	"github.com/zero-day-ai/tideflow/internal/types"
	"github.com/zero-day-ai/tideflow/internal/workflow"
)

// Config holds engine settings.
type Config struct {
	MaxParallel       int           `mapstructure:"max_parallel" yaml:"max_parallel" validate:"gte=1"`
	TemplatesDir      string        `mapstructure:"templates_dir" yaml:"templates_dir"`
	DefaultTimeout    time.Duration `mapstructure:"default_timeout" yaml:"default_timeout" validate:"gte=0"`
	DefaultMaxRetries int           `mapstructure:"default_max_retries" yaml:"default_max_retries" validate:"gte=0"`
	RetryBackoff      time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff" validate:"gte=0"`
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		MaxParallel:       4,
		TemplatesDir:      "templates",
		DefaultTimeout:    workflow.DefaultTaskTimeout,
		DefaultMaxRetries: workflow.DefaultMaxRetries,
		RetryBackoff:      time.Second,
	}
}

// Recorder receives run lifecycle events, typically the metrics collector.
type Recorder interface {
	RunStarted(wf *workflow.Workflow)
	RunFinished(ctx context.Context, snap *workflow.Snapshot, duration time.Duration)
}

// Status describes a workflow as seen by GetStatus.
type Status struct {
	Workflow      *workflow.Snapshot        `json:"workflow"`
	Running       bool                      `json:"running"`
	ExecutionID   types.ID                  `json:"execution_id,omitempty"`
	LastExecution *database.ExecutionRecord `json:"last_execution,omitempty"`
}

// Summary is one entry of List.
type Summary struct {
	ID          types.ID                `json:"id"`
	Name        string                  `json:"name"`
	Description string                  `json:"description,omitempty"`
	Status      workflow.WorkflowStatus `json:"status"`
	TaskCount   int                     `json:"task_count"`
	CreatedAt   time.Time               `json:"created_at"`
	Running     bool                    `json:"running"`
}

// Engine creates and runs workflows.
type Engine struct {
	cfg        Config
	registry   *handler.Registry
	executor   *workflow.TaskExecutor
	workflows  database.WorkflowDAO
	executions database.ExecutionDAO
	recorder   Recorder
	logger     *slog.Logger
	tracer     trace.Tracer

	runs *runRegistry

	// known holds workflows created or loaded by this engine.
	mu    sync.RWMutex
	known map[types.ID]*workflow.Workflow
}

// Option is a functional option for configuring the Engine.
type Option func(*Engine)

// WithConfig sets the engine configuration.
func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		e.cfg = cfg
	}
}

// WithStore persists workflow definitions and execution records.
func WithStore(workflows database.WorkflowDAO, executions database.ExecutionDAO) Option {
	return func(e *Engine) {
		e.workflows = workflows
		e.executions = executions
	}
}

// WithRecorder registers a receiver for run lifecycle events.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		e.recorder = r
	}
}

// WithExecutor replaces the task executor.
func WithExecutor(x *workflow.TaskExecutor) Option {
	return func(e *Engine) {
		e.executor = x
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithTracer sets the OpenTelemetry tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

// New creates an engine that resolves task handlers from registry.
func New(registry *handler.Registry, opts ...Option) *Engine {
	e := &Engine{
		cfg:      DefaultConfig(),
		registry: registry,
		logger:   slog.Default(),
		tracer:   otel.Tracer("github.com/zero-day-ai/tideflow/internal/engine"),
		runs:     newRunRegistry(),
		known:    make(map[types.ID]*workflow.Workflow),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cfg.MaxParallel < 1 {
		e.cfg.MaxParallel = 1
	}
	if e.executor == nil {
		backoff := workflow.DefaultBackoff()
		if e.cfg.RetryBackoff > 0 {
			backoff.InitialDelay = e.cfg.RetryBackoff
		}
		e.executor = workflow.NewTaskExecutor(registry,
			workflow.WithLogger(e.logger),
			workflow.WithTracer(e.tracer),
			workflow.WithBackoff(backoff),
		)
	}
	return e
}

// Registry returns the handler registry workflows are validated against.
func (e *Engine) Registry() *handler.Registry {
	return e.registry
}

// CreateFromTemplate loads a template from the templates directory,
// substitutes vars and creates the workflow.
func (e *Engine) CreateFromTemplate(ctx context.Context, name string, vars map[string]any) (*workflow.Workflow, error) {
	cfg, err := workflow.LoadTemplate(e.cfg.TemplatesDir, name, vars)
	if err != nil {
		return nil, err
	}
	return e.CreateFromConfig(ctx, cfg)
}

// CreateFromConfig validates cfg, builds the workflow and stores its
// definition.
func (e *Engine) CreateFromConfig(ctx context.Context, cfg *workflow.Config) (*workflow.Workflow, error) {
	wf, err := e.build(cfg)
	if err != nil {
		return nil, err
	}

	if e.workflows != nil {
		data, err := json.Marshal(cfg)
		if err != nil {
			return nil, types.WrapError(types.ENGINE_FAILURE, "failed to encode workflow config", err)
		}
		rec := &database.WorkflowRecord{
			ID:          wf.ID,
			Name:        wf.Name,
			Description: wf.Description,
			Config:      string(data),
			Status:      string(wf.Status()),
			CreatedAt:   wf.CreatedAt,
		}
		if err := e.workflows.Save(ctx, rec); err != nil {
			return nil, err
		}
	}

	e.remember(wf)
	e.logger.InfoContext(ctx, "workflow created",
		"workflow_id", wf.ID.String(),
		"name", wf.Name,
		"tasks", len(cfg.Tasks),
	)
	return wf, nil
}

// Load builds a fresh instance of a stored workflow, ready for a new run.
func (e *Engine) Load(ctx context.Context, id types.ID) (*workflow.Workflow, error) {
	var (
		cfg     *workflow.Config
		created time.Time
	)

	if e.workflows != nil {
		rec, err := e.workflows.Get(ctx, id)
		if err != nil {
			if types.IsNotFound(err) {
				return nil, types.NewErrorf(types.WORKFLOW_NOT_FOUND, "workflow not found: %s", id)
			}
			return nil, err
		}
		if err := json.Unmarshal([]byte(rec.Config), &cfg); err != nil {
			return nil, types.WrapError(types.CONFIG_PARSE_FAILED, "stored workflow config is corrupt", err)
		}
		created = rec.CreatedAt
	} else {
		e.mu.RLock()
		wf, ok := e.known[id]
		e.mu.RUnlock()
		if !ok {
			return nil, types.NewErrorf(types.WORKFLOW_NOT_FOUND, "workflow not found: %s", id)
		}
		var err error
		if cfg, err = wf.Config.Clone(); err != nil {
			return nil, types.WrapError(types.ENGINE_FAILURE, "failed to copy workflow config", err)
		}
		created = wf.CreatedAt
	}

	wf, err := e.build(cfg, workflow.WithID(id), workflow.WithCreatedAt(created))
	if err != nil {
		return nil, err
	}
	e.remember(wf)
	return wf, nil
}

func (e *Engine) build(cfg *workflow.Config, opts ...workflow.BuildOption) (*workflow.Workflow, error) {
	opts = append([]workflow.BuildOption{
		workflow.WithTaskDefaults(e.cfg.DefaultTimeout, e.cfg.DefaultMaxRetries),
	}, opts...)
	return workflow.New(cfg, e.registry, opts...)
}

func (e *Engine) remember(wf *workflow.Workflow) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.known[wf.ID] = wf
}

// GetStatus reports the live state of a running workflow, or the stored
// definition and its latest execution otherwise.
func (e *Engine) GetStatus(ctx context.Context, id types.ID) (*Status, error) {
	if r, ok := e.runs.get(id); ok {
		return &Status{Workflow: r.wf.Snapshot(), Running: true, ExecutionID: r.executionID}, nil
	}

	st := &Status{}
	e.mu.RLock()
	wf, known := e.known[id]
	e.mu.RUnlock()
	if known {
		st.Workflow = wf.Snapshot()
	}

	if e.workflows != nil && e.executions != nil {
		if latest, err := e.executions.Latest(ctx, id); err == nil {
			st.LastExecution = latest
			st.ExecutionID = latest.ID
			if st.Workflow == nil && latest.State != "" {
				var snap workflow.Snapshot
				if err := json.Unmarshal([]byte(latest.State), &snap); err == nil {
					st.Workflow = &snap
				}
			}
		} else if !types.IsNotFound(err) {
			return nil, err
		}

		if st.Workflow == nil {
			rec, err := e.workflows.Get(ctx, id)
			if err != nil {
				if types.IsNotFound(err) {
					return nil, types.NewErrorf(types.WORKFLOW_NOT_FOUND, "workflow not found: %s", id)
				}
				return nil, err
			}
			st.Workflow = &workflow.Snapshot{
				ID:          rec.ID,
				Name:        rec.Name,
				Description: rec.Description,
				Status:      workflow.WorkflowStatus(rec.Status),
				CreatedAt:   rec.CreatedAt,
			}
		}
	}

	if st.Workflow == nil {
		return nil, types.NewErrorf(types.WORKFLOW_NOT_FOUND, "workflow not found: %s", id)
	}
	return st, nil
}

// List returns every known workflow, newest first.
func (e *Engine) List(ctx context.Context) ([]Summary, error) {
	byID := make(map[types.ID]Summary)

	if e.workflows != nil {
		recs, err := e.workflows.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			s := Summary{
				ID:          rec.ID,
				Name:        rec.Name,
				Description: rec.Description,
				Status:      workflow.WorkflowStatus(rec.Status),
				CreatedAt:   rec.CreatedAt,
			}
			var cfg workflow.Config
			if err := json.Unmarshal([]byte(rec.Config), &cfg); err == nil {
				s.TaskCount = len(cfg.Tasks)
			}
			byID[rec.ID] = s
		}
	}

	e.mu.RLock()
	for id, wf := range e.known {
		byID[id] = Summary{
			ID:          wf.ID,
			Name:        wf.Name,
			Description: wf.Description,
			Status:      wf.Status(),
			TaskCount:   len(wf.ExecutionOrder()),
			CreatedAt:   wf.CreatedAt,
		}
	}
	e.mu.RUnlock()

	for _, r := range e.runs.list() {
		s := byID[r.wf.ID]
		s.Running = true
		s.Status = r.wf.Status()
		byID[r.wf.ID] = s
	}

	out := make([]Summary, 0, len(byID))
	for _, s := range byID {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// RunningCount returns the number of active runs.
func (e *Engine) RunningCount() int {
	return e.runs.len()
}

// Cancel stops dispatching new tasks for a running workflow and marks it
// CANCELLED. Tasks already in flight run to completion.
func (e *Engine) Cancel(ctx context.Context, id types.ID) error {
	r, ok := e.runs.get(id)
	if !ok {
		return types.NewErrorf(types.WORKFLOW_NOT_RUNNING, "workflow %s is not running", id)
	}
	if err := r.wf.Transition(workflow.WorkflowStatusCancelled, ""); err != nil {
		return err
	}
	r.cancelled.Store(true)
	e.runs.detach(id, r)
	r.notify()

	e.logger.InfoContext(ctx, "workflow cancelled", "workflow_id", id.String())
	return nil
}

// Pause stops dispatching new tasks until Resume or Cancel.
func (e *Engine) Pause(ctx context.Context, id types.ID) error {
	r, ok := e.runs.get(id)
	if !ok {
		return types.NewErrorf(types.WORKFLOW_NOT_RUNNING, "workflow %s is not running", id)
	}
	if err := r.wf.Transition(workflow.WorkflowStatusPaused, ""); err != nil {
		return err
	}
	r.notify()
	e.logger.InfoContext(ctx, "workflow paused", "workflow_id", id.String())
	return nil
}

// Resume continues a paused workflow.
func (e *Engine) Resume(ctx context.Context, id types.ID) error {
	r, ok := e.runs.get(id)
	if !ok {
		return types.NewErrorf(types.WORKFLOW_NOT_RUNNING, "workflow %s is not running", id)
	}
	if r.wf.Status() != workflow.WorkflowStatusPaused {
		return types.NewErrorf(types.WORKFLOW_INVALID_STATE, "workflow %s is %s, not paused", id, r.wf.Status())
	}
	if err := r.wf.Transition(workflow.WorkflowStatusRunning, ""); err != nil {
		return err
	}
	r.notify()
	e.logger.InfoContext(ctx, "workflow resumed", "workflow_id", id.String())
	return nil
}
