package workflow

import (
	"fmt"
	"maps"
	"sync"
	"time"
)

// TaskStatus represents the execution status of a task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusRetrying  TaskStatus = "retrying"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusSkipped   TaskStatus = "skipped"
)

// IsTerminal reports whether the status is final for the current run.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusSkipped:
		return true
	}
	return false
}

func (s TaskStatus) String() string {
	return string(s)
}

// LogEntry is one line of a task or workflow log.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// Task is a single step of a workflow. Static fields are set at construction
// and never change; runtime state is guarded by mu and read through methods.
type Task struct {
	ID                string
	Name              string
	Type              string
	Params            map[string]any
	Dependencies      []string
	Timeout           time.Duration
	MaxRetries        int
	ContinueOnFailure bool

	mu          sync.RWMutex
	status      TaskStatus
	startedAt   time.Time
	completedAt time.Time
	errMsg      string
	retryCount  int
	outputs     map[string]any
	logs        []LogEntry
}

func newTask(cfg TaskConfig, defaultTimeout time.Duration, defaultRetries int) *Task {
	t := &Task{
		ID:                cfg.ID,
		Name:              cfg.Name,
		Type:              cfg.Type,
		Params:            cfg.Params,
		Dependencies:      append([]string(nil), cfg.Dependencies...),
		Timeout:           defaultTimeout,
		MaxRetries:        defaultRetries,
		ContinueOnFailure: cfg.ContinueOnFailure,
		status:            TaskStatusPending,
		outputs:           make(map[string]any),
	}
	if t.Params == nil {
		t.Params = make(map[string]any)
	}
	if cfg.Timeout > 0 {
		t.Timeout = time.Duration(cfg.Timeout * float64(time.Second))
	}
	if cfg.MaxRetries != nil {
		t.MaxRetries = *cfg.MaxRetries
	}
	return t
}

func (t *Task) Status() TaskStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

func (t *Task) RetryCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.retryCount
}

// Error returns the message of the last failure, if any.
func (t *Task) Error() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.errMsg
}

// Outputs returns a copy of the task outputs.
func (t *Task) Outputs() map[string]any {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return maps.Clone(t.outputs)
}

// Output returns a single output value.
func (t *Task) Output(key string) (any, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.outputs[key]
	return v, ok
}

// Timing returns the start and completion times of the current run.
func (t *Task) Timing() (started, completed time.Time) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.startedAt, t.completedAt
}

// Logs returns a copy of the task log.
func (t *Task) Logs() []LogEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]LogEntry(nil), t.logs...)
}

// AddLog appends a line to the task log.
func (t *Task) AddLog(level, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.logs = append(t.logs, LogEntry{Timestamp: time.Now(), Level: level, Message: message})
}

// Skip marks a pending task as skipped. Skipping a task that already started
// is an error.
func (t *Task) Skip(reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != TaskStatusPending {
		return fmt.Errorf("task %s is %s, cannot skip", t.ID, t.status)
	}
	now := time.Now()
	t.status = TaskStatusSkipped
	t.completedAt = now
	t.logs = append(t.logs, LogEntry{Timestamp: now, Level: "WARNING", Message: "skipped: " + reason})
	return nil
}

func (t *Task) markRunning() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = TaskStatusRunning
	if t.startedAt.IsZero() {
		t.startedAt = time.Now()
	}
}

func (t *Task) markRetrying(lastErr string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.retryCount++
	t.status = TaskStatusRetrying
	t.errMsg = lastErr
	return t.retryCount
}

func (t *Task) mergeOutputs(outputs map[string]any) {
	if len(outputs) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	maps.Copy(t.outputs, outputs)
}

func (t *Task) markCompleted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = TaskStatusCompleted
	t.errMsg = ""
	t.completedAt = time.Now()
}

func (t *Task) markFailed(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	t.status = TaskStatusFailed
	t.errMsg = msg
	t.completedAt = now
	t.logs = append(t.logs, LogEntry{Timestamp: now, Level: "ERROR", Message: msg})
}

// reset returns the task to PENDING for a new run.
func (t *Task) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = TaskStatusPending
	t.startedAt = time.Time{}
	t.completedAt = time.Time{}
	t.errMsg = ""
	t.retryCount = 0
	t.outputs = make(map[string]any)
	t.logs = nil
}
