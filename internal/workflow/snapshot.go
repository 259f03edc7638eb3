package workflow

import (
	"time"

	"github.com/zero-day-ai/tideflow/internal/types"
)

// TaskSnapshot is a point-in-time copy of a task's state.
type TaskSnapshot struct {
	ID                string         `json:"id"`
	Name              string         `json:"name"`
	Type              string         `json:"type"`
	Status            TaskStatus     `json:"status"`
	Dependencies      []string       `json:"dependencies,omitempty"`
	RetryCount        int            `json:"retry_count"`
	MaxRetries        int            `json:"max_retries"`
	TimeoutSeconds    float64        `json:"timeout_seconds"`
	ContinueOnFailure bool           `json:"continue_on_failure,omitempty"`
	StartedAt         *time.Time     `json:"started_at,omitempty"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty"`
	Error             string         `json:"error,omitempty"`
	Outputs           map[string]any `json:"outputs,omitempty"`
	Logs              []LogEntry     `json:"logs,omitempty"`
}

// Snapshot is a point-in-time copy of a workflow and its tasks, safe to
// serialize while a run is in progress.
type Snapshot struct {
	ID             types.ID       `json:"id"`
	Name           string         `json:"name"`
	Description    string         `json:"description,omitempty"`
	Status         WorkflowStatus `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	CurrentTask    string         `json:"current_task,omitempty"`
	Error          string         `json:"error,omitempty"`
	ExecutionOrder []string       `json:"execution_order"`
	Tasks          []TaskSnapshot `json:"tasks"`
	Logs           []LogEntry     `json:"logs,omitempty"`
}

// Snapshot captures the workflow's current state.
func (w *Workflow) Snapshot() *Snapshot {
	w.mu.RLock()
	snap := &Snapshot{
		ID:             w.ID,
		Name:           w.Name,
		Description:    w.Description,
		Status:         w.status,
		CreatedAt:      w.CreatedAt,
		StartedAt:      timePtr(w.startedAt),
		CompletedAt:    timePtr(w.completedAt),
		CurrentTask:    w.currentTask,
		Error:          w.errMsg,
		ExecutionOrder: append([]string(nil), w.order...),
		Logs:           append([]LogEntry(nil), w.logs...),
	}
	w.mu.RUnlock()

	for _, t := range w.Tasks() {
		snap.Tasks = append(snap.Tasks, t.Snapshot())
	}
	return snap
}

// Snapshot captures the task's current state.
func (t *Task) Snapshot() TaskSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	outputs := make(map[string]any, len(t.outputs))
	for k, v := range t.outputs {
		outputs[k] = v
	}
	return TaskSnapshot{
		ID:                t.ID,
		Name:              t.Name,
		Type:              t.Type,
		Status:            t.status,
		Dependencies:      t.Dependencies,
		RetryCount:        t.retryCount,
		MaxRetries:        t.MaxRetries,
		TimeoutSeconds:    t.Timeout.Seconds(),
		ContinueOnFailure: t.ContinueOnFailure,
		StartedAt:         timePtr(t.startedAt),
		CompletedAt:       timePtr(t.completedAt),
		Error:             t.errMsg,
		Outputs:           outputs,
		Logs:              append([]LogEntry(nil), t.logs...),
	}
}

// Counts tallies tasks by status.
func (s *Snapshot) Counts() map[TaskStatus]int {
	counts := make(map[TaskStatus]int)
	for _, t := range s.Tasks {
		counts[t.Status]++
	}
	return counts
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
