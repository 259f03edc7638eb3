// Package handler maps task type tags to the functions that carry them out.
//
// A Handler receives the task's parameters after variable substitution and
// returns the outputs downstream tasks may reference. Returning an error marks
// the attempt as failed; the task executor decides whether to retry. Errors
// carrying the SECURITY_VIOLATION code are never retried.
package handler

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/zero-day-ai/tideflow/internal/types"
)

// Task type tags understood by the built-in registry.
const (
	TypeShell        = "shell_command"
	TypePython       = "python_script"
	TypeFile         = "file_operation"
	TypeService      = "service_management"
	TypeGit          = "git_operation"
	TypeAPICall      = "api_call"
	TypeHealthCheck  = "health_check"
	TypeWait         = "wait"
	TypeLogAnalysis  = "log_analysis"
	TypeBackup       = "backup_operation"
	TypeNotification = "notification"
)

// Request is a single invocation of a handler.
type Request struct {
	WorkflowID string
	TaskID     string
	Type       string
	Params     map[string]any

	// Log appends a line to the task's log. It may be nil.
	Log func(level, message string)
}

// Logf writes a formatted line to the task log when one is attached.
func (r *Request) Logf(level, format string, args ...any) {
	if r.Log != nil {
		r.Log(level, fmt.Sprintf(format, args...))
	}
}

// Result holds the outputs produced by a handler.
type Result struct {
	Outputs map[string]any
}

// NewResult returns a Result with an initialized output map.
func NewResult() *Result {
	return &Result{Outputs: make(map[string]any)}
}

// Set records an output value and returns the result for chaining.
func (r *Result) Set(key string, value any) *Result {
	r.Outputs[key] = value
	return r
}

// Handler executes one attempt of a task.
type Handler func(ctx context.Context, req *Request) (*Result, error)

// Spec describes a registered task type.
type Spec struct {
	Type    string
	Handler Handler

	// Required lists parameter keys that must be present when a workflow is
	// built. Missing keys are a configuration error.
	Required []string

	// Validate performs additional construction-time checks on the raw
	// parameters. It may be nil.
	Validate func(params map[string]any) error
}

// Registry is a concurrency-safe lookup from type tag to Spec.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]Spec
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]Spec)}
}

// Register adds a task type. Registering the same tag twice is an error.
func (r *Registry) Register(spec Spec) error {
	if spec.Type == "" {
		return types.NewError(types.CONFIG_VALIDATION_FAILED, "task type cannot be empty")
	}
	if spec.Handler == nil {
		return types.NewErrorf(types.CONFIG_VALIDATION_FAILED, "task type %q has no handler", spec.Type)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.specs[spec.Type]; exists {
		return types.NewErrorf(types.CONFIG_VALIDATION_FAILED, "task type %q already registered", spec.Type)
	}
	r.specs[spec.Type] = spec
	return nil
}

// Lookup returns the handler for taskType.
func (r *Registry) Lookup(taskType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	spec, ok := r.specs[taskType]
	if !ok {
		return nil, false
	}
	return spec.Handler, true
}

// Has reports whether taskType is registered.
func (r *Registry) Has(taskType string) bool {
	_, ok := r.Lookup(taskType)
	return ok
}

// Types returns the registered type tags in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.specs))
	for t := range r.specs {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Validate checks a task's type and raw parameters at construction time.
func (r *Registry) Validate(taskID, taskType string, params map[string]any) error {
	r.mu.RLock()
	spec, ok := r.specs[taskType]
	r.mu.RUnlock()

	if !ok {
		return types.NewErrorf(types.CONFIG_UNKNOWN_TASK_TYPE,
			"task %q has unknown type %q", taskID, taskType)
	}

	for _, key := range spec.Required {
		if v, present := params[key]; !present || v == nil || v == "" {
			return types.NewErrorf(types.CONFIG_MISSING_FIELD,
				"task %q (%s) is missing required parameter %q", taskID, taskType, key)
		}
	}

	if spec.Validate != nil {
		if err := spec.Validate(params); err != nil {
			return types.WrapError(types.CONFIG_INVALID_TASK_PARAMS,
				fmt.Sprintf("task %q (%s) has invalid parameters", taskID, taskType), err)
		}
	}
	return nil
}
