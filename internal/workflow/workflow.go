package workflow

import (
	"maps"
	"sync"
	"time"

	"github.com/zero-day-ai/tideflow/internal/types"
)

// WorkflowStatus represents the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusPending   WorkflowStatus = "pending"
	WorkflowStatusRunning   WorkflowStatus = "running"
	WorkflowStatusCompleted WorkflowStatus = "completed"
	WorkflowStatusFailed    WorkflowStatus = "failed"
	WorkflowStatusCancelled WorkflowStatus = "cancelled"
	WorkflowStatusPaused    WorkflowStatus = "paused"
)

func (s WorkflowStatus) String() string {
	return string(s)
}

// IsTerminal reports whether the run has finished.
func (s WorkflowStatus) IsTerminal() bool {
	switch s {
	case WorkflowStatusCompleted, WorkflowStatusFailed, WorkflowStatusCancelled:
		return true
	}
	return false
}

// IsActive reports whether a run is in progress, paused or not.
func (s WorkflowStatus) IsActive() bool {
	return s == WorkflowStatusRunning || s == WorkflowStatusPaused
}

// TriggerType records what started a run.
type TriggerType string

const (
	TriggerManual   TriggerType = "manual"
	TriggerSchedule TriggerType = "schedule"
	TriggerEvent    TriggerType = "event"
	TriggerWebhook  TriggerType = "webhook"
)

var transitions = map[WorkflowStatus][]WorkflowStatus{
	WorkflowStatusPending:   {WorkflowStatusRunning},
	WorkflowStatusRunning:   {WorkflowStatusCompleted, WorkflowStatusFailed, WorkflowStatusCancelled, WorkflowStatusPaused},
	WorkflowStatusPaused:    {WorkflowStatusRunning, WorkflowStatusCancelled, WorkflowStatusFailed},
	WorkflowStatusCompleted: {WorkflowStatusRunning},
	WorkflowStatusFailed:    {WorkflowStatusRunning},
	WorkflowStatusCancelled: {WorkflowStatusRunning},
}

// CanTransition reports whether a workflow may move from one status to another.
// Terminal workflows may only be started again as a new run.
func CanTransition(from, to WorkflowStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Workflow is a validated, executable workflow. It owns its tasks.
type Workflow struct {
	ID          types.ID
	Name        string
	Description string
	Config      *Config
	CreatedAt   time.Time

	tasks map[string]*Task
	order []string

	mu          sync.RWMutex
	status      WorkflowStatus
	startedAt   time.Time
	completedAt time.Time
	currentTask string
	errMsg      string
	logs        []LogEntry
}

func (w *Workflow) Status() WorkflowStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status
}

// Error returns the message recorded when the workflow failed.
func (w *Workflow) Error() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.errMsg
}

// CurrentTask returns the id of the most recently dispatched task.
func (w *Workflow) CurrentTask() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.currentTask
}

// SetCurrentTask records the most recently dispatched task.
func (w *Workflow) SetCurrentTask(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.currentTask = id
}

// Timing returns the start and completion times of the current run.
func (w *Workflow) Timing() (started, completed time.Time) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.startedAt, w.completedAt
}

// Task returns the task with the given id.
func (w *Workflow) Task(id string) (*Task, bool) {
	t, ok := w.tasks[id]
	return t, ok
}

// Tasks returns the tasks in execution order.
func (w *Workflow) Tasks() []*Task {
	out := make([]*Task, len(w.order))
	for i, id := range w.order {
		out[i] = w.tasks[id]
	}
	return out
}

// ExecutionOrder returns the topological order of task ids.
func (w *Workflow) ExecutionOrder() []string {
	return append([]string(nil), w.order...)
}

// Variables returns the workflow-scoped variables.
func (w *Workflow) Variables() map[string]any {
	if w.Config == nil {
		return nil
	}
	return maps.Clone(w.Config.Variables)
}

// AddLog appends a line to the workflow log.
func (w *Workflow) AddLog(level, message string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.logs = append(w.logs, LogEntry{Timestamp: time.Now(), Level: level, Message: message})
}

// Logs returns a copy of the workflow log.
func (w *Workflow) Logs() []LogEntry {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]LogEntry(nil), w.logs...)
}

// Start begins a new run: every task is reset to PENDING and the workflow
// moves to RUNNING. A workflow that is already running or paused cannot be
// started.
func (w *Workflow) Start(trigger TriggerType) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !CanTransition(w.status, WorkflowStatusRunning) || w.status == WorkflowStatusPaused {
		return types.NewErrorf(types.WORKFLOW_INVALID_STATE,
			"workflow %s is %s and cannot be started", w.ID, w.status)
	}

	for _, t := range w.tasks {
		t.reset()
	}
	now := time.Now()
	w.status = WorkflowStatusRunning
	w.startedAt = now
	w.completedAt = time.Time{}
	w.currentTask = ""
	w.errMsg = ""
	w.logs = append(w.logs, LogEntry{
		Timestamp: now,
		Level:     "INFO",
		Message:   "workflow execution started (trigger: " + string(trigger) + ")",
	})
	return nil
}

// Transition moves the workflow to status to. Moving into a terminal status
// records the completion time and, for FAILED, the error message.
func (w *Workflow) Transition(to WorkflowStatus, errMsg string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !CanTransition(w.status, to) {
		return types.NewErrorf(types.WORKFLOW_INVALID_STATE,
			"workflow %s cannot move from %s to %s", w.ID, w.status, to)
	}

	now := time.Now()
	w.status = to
	level, msg := "INFO", "workflow "+string(to)
	switch to {
	case WorkflowStatusFailed:
		w.errMsg = errMsg
		level, msg = "ERROR", errMsg
	case WorkflowStatusCompleted:
		msg = "workflow completed successfully"
	}
	if to.IsTerminal() {
		w.completedAt = now
		w.currentTask = ""
	}
	w.logs = append(w.logs, LogEntry{Timestamp: now, Level: level, Message: msg})
	return nil
}
