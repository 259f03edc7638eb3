package workflow

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/tideflow/internal/types"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to WorkflowStatus
		want     bool
	}{
		{WorkflowStatusPending, WorkflowStatusRunning, true},
		{WorkflowStatusPending, WorkflowStatusCompleted, false},
		{WorkflowStatusRunning, WorkflowStatusPaused, true},
		{WorkflowStatusRunning, WorkflowStatusCompleted, true},
		{WorkflowStatusRunning, WorkflowStatusFailed, true},
		{WorkflowStatusRunning, WorkflowStatusCancelled, true},
		{WorkflowStatusPaused, WorkflowStatusRunning, true},
		{WorkflowStatusPaused, WorkflowStatusCancelled, true},
		{WorkflowStatusPaused, WorkflowStatusCompleted, false},
		{WorkflowStatusCompleted, WorkflowStatusRunning, true},
		{WorkflowStatusCompleted, WorkflowStatusFailed, false},
		{WorkflowStatusCancelled, WorkflowStatusPaused, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestWorkflow_Lifecycle(t *testing.T) {
	r := testRegistry(t)
	wf, err := New(&Config{Name: "life", Tasks: []TaskConfig{tc("A"), tc("B", "A")}}, r)
	require.NoError(t, err)

	require.NoError(t, wf.Start(TriggerSchedule))
	assert.Equal(t, WorkflowStatusRunning, wf.Status())
	started, completed := wf.Timing()
	assert.False(t, started.IsZero())
	assert.True(t, completed.IsZero())
	assert.Contains(t, wf.Logs()[0].Message, "trigger: schedule")

	err = wf.Start(TriggerManual)
	assert.Equal(t, types.WORKFLOW_INVALID_STATE, types.CodeOf(err), "cannot start a running workflow")

	require.NoError(t, wf.Transition(WorkflowStatusPaused, ""))
	assert.Error(t, wf.Start(TriggerManual), "cannot start a paused workflow")
	require.NoError(t, wf.Transition(WorkflowStatusRunning, ""))

	require.NoError(t, wf.Transition(WorkflowStatusFailed, "task B failed"))
	assert.Equal(t, "task B failed", wf.Error())
	_, completed = wf.Timing()
	assert.False(t, completed.IsZero())

	err = wf.Transition(WorkflowStatusCompleted, "")
	assert.Equal(t, types.WORKFLOW_INVALID_STATE, types.CodeOf(err))

	// A failed workflow can run again; task state starts over.
	a, _ := wf.Task("A")
	a.markRunning()
	a.mergeOutputs(map[string]any{"k": "v"})
	a.markCompleted()

	require.NoError(t, wf.Start(TriggerManual))
	assert.Equal(t, TaskStatusPending, a.Status())
	assert.Empty(t, a.Outputs())
	assert.Empty(t, wf.Error())
}

func TestTask_Skip(t *testing.T) {
	task := newTask(tc("A"), DefaultTaskTimeout, DefaultMaxRetries)
	require.NoError(t, task.Skip("dependency failed"))
	assert.Equal(t, TaskStatusSkipped, task.Status())
	assert.True(t, task.Status().IsTerminal())
	assert.Contains(t, task.Logs()[0].Message, "dependency failed")

	running := newTask(tc("B"), DefaultTaskTimeout, DefaultMaxRetries)
	running.markRunning()
	assert.Error(t, running.Skip("too late"))
	assert.Equal(t, TaskStatusRunning, running.Status())
}

func TestTask_OutputsAreCopies(t *testing.T) {
	task := newTask(tc("A"), DefaultTaskTimeout, DefaultMaxRetries)
	task.mergeOutputs(map[string]any{"a": 1})
	task.mergeOutputs(map[string]any{"b": 2})

	out := task.Outputs()
	out["a"] = 100
	v, _ := task.Output("a")
	assert.Equal(t, 1, v)
	assert.Len(t, task.Outputs(), 2)
}

func TestSnapshot(t *testing.T) {
	r := testRegistry(t)
	wf, err := New(&Config{Name: "snap", Tasks: []TaskConfig{tc("A"), tc("B", "A")}}, r)
	require.NoError(t, err)
	require.NoError(t, wf.Start(TriggerManual))

	a, _ := wf.Task("A")
	a.markRunning()
	a.mergeOutputs(map[string]any{"answer": 42})
	a.markCompleted()

	snap := wf.Snapshot()
	assert.Equal(t, wf.ID, snap.ID)
	assert.Equal(t, WorkflowStatusRunning, snap.Status)
	require.Len(t, snap.Tasks, 2)
	assert.Equal(t, "A", snap.Tasks[0].ID)
	assert.Equal(t, TaskStatusCompleted, snap.Tasks[0].Status)
	assert.Equal(t, 300.0, snap.Tasks[0].TimeoutSeconds)
	assert.NotNil(t, snap.Tasks[0].StartedAt)
	assert.Nil(t, snap.Tasks[1].StartedAt)

	counts := snap.Counts()
	assert.Equal(t, 1, counts[TaskStatusCompleted])
	assert.Equal(t, 1, counts[TaskStatusPending])

	data, err := json.Marshal(snap)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"execution_order":["A","B"]`)
	assert.NotNil(t, snap.Tasks[0].CompletedAt)
	assert.Nil(t, snap.CompletedAt)
}
