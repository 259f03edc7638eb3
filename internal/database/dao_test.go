package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/tideflow/internal/types"
)

func createWorkflow(t *testing.T, db *DB, name string) *WorkflowRecord {
	t.Helper()
	wf := &WorkflowRecord{Name: name, Config: `{"name":"` + name + `"}`}
	require.NoError(t, NewWorkflowDAO(db).Save(context.Background(), wf))
	return wf
}

func TestWorkflowDAO(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	dao := NewWorkflowDAO(db)

	wf := createWorkflow(t, db, "nightly")
	assert.False(t, wf.ID.IsZero())
	assert.Equal(t, "pending", wf.Status)

	got, err := dao.Get(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, "nightly", got.Name)
	assert.Equal(t, wf.Config, got.Config)
	assert.WithinDuration(t, wf.CreatedAt, got.CreatedAt, time.Second)

	wf.Description = "runs every night"
	require.NoError(t, dao.Save(ctx, wf))
	got, err = dao.Get(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, "runs every night", got.Description)

	require.NoError(t, dao.UpdateStatus(ctx, wf.ID, "completed"))
	got, _ = dao.Get(ctx, wf.ID)
	assert.Equal(t, "completed", got.Status)

	createWorkflow(t, db, "hourly")
	list, err := dao.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, dao.Delete(ctx, wf.ID))
	_, err = dao.Get(ctx, wf.ID)
	assert.True(t, types.IsNotFound(err))
	assert.True(t, types.IsNotFound(dao.UpdateStatus(ctx, wf.ID, "failed")))
	assert.True(t, types.IsNotFound(dao.Delete(ctx, wf.ID)))
}

func TestExecutionDAO(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	dao := NewExecutionDAO(db)
	wf := createWorkflow(t, db, "deploy")

	_, err := dao.Latest(ctx, wf.ID)
	assert.True(t, types.IsNotFound(err))

	start := time.Now().Add(-time.Minute)
	first := &ExecutionRecord{WorkflowID: wf.ID, Status: "running", StartedAt: start}
	require.NoError(t, dao.Create(ctx, first))
	assert.Equal(t, "manual", first.TriggerType)

	completed := start.Add(30 * time.Second)
	first.Status = "failed"
	first.CompletedAt = &completed
	first.DurationSeconds = 30
	first.Error = "task build failed: exit status 2"
	first.State = `{"status":"failed"}`
	require.NoError(t, dao.Update(ctx, first))

	second := &ExecutionRecord{WorkflowID: wf.ID, Status: "running", TriggerType: "schedule", StartedAt: start.Add(45 * time.Second)}
	require.NoError(t, dao.Create(ctx, second))

	latest, err := dao.Latest(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
	assert.Equal(t, "schedule", latest.TriggerType)
	assert.Nil(t, latest.CompletedAt)

	got, err := dao.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "failed", got.Status)
	assert.Equal(t, 30.0, got.DurationSeconds)
	assert.Equal(t, first.Error, got.Error)
	require.NotNil(t, got.CompletedAt)
	assert.WithinDuration(t, completed, *got.CompletedAt, time.Millisecond)

	list, err := dao.ListByWorkflow(ctx, wf.ID, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)

	counts, err := dao.CountSince(ctx, start.Add(-time.Second))
	require.NoError(t, err)
	assert.Equal(t, ExecutionCounts{Total: 2, Failed: 1, Running: 1}, counts)

	counts, err = dao.CountSince(ctx, start.Add(40*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Total)

	assert.True(t, types.IsNotFound(dao.Update(ctx, &ExecutionRecord{ID: types.NewID()})))
}

func TestExecutionDAO_Tasks(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	dao := NewExecutionDAO(db)
	wf := createWorkflow(t, db, "deploy")

	exec := &ExecutionRecord{WorkflowID: wf.ID, Status: "running"}
	require.NoError(t, dao.Create(ctx, exec))

	started := time.Now().UTC()
	require.NoError(t, dao.SaveTask(ctx, &TaskExecutionRecord{
		ExecutionID: exec.ID, WorkflowID: wf.ID,
		TaskID: "build", TaskName: "Build", TaskType: "shell_command",
		Status: "completed", StartedAt: &started, CompletedAt: &started,
		Outputs: map[string]any{"exit_code": 0, "stdout": "ok"},
	}))
	require.NoError(t, dao.SaveTask(ctx, &TaskExecutionRecord{
		ExecutionID: exec.ID, WorkflowID: wf.ID,
		TaskID: "deploy", TaskName: "Deploy", TaskType: "shell_command",
		Status: "pending",
	}))

	tasks, err := dao.ListTasks(ctx, exec.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "build", tasks[0].TaskID)
	assert.Equal(t, "ok", tasks[0].Outputs["stdout"])
	assert.Equal(t, 0.0, tasks[0].Outputs["exit_code"])
	require.NotNil(t, tasks[0].StartedAt)
	assert.Nil(t, tasks[1].StartedAt)
	assert.Nil(t, tasks[1].Outputs)

	// Task records go with their execution.
	require.NoError(t, NewWorkflowDAO(db).Delete(ctx, wf.ID))
	tasks, err = dao.ListTasks(ctx, exec.ID)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestScheduleDAO(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	dao := NewScheduleDAO(db)
	wf := createWorkflow(t, db, "backup")

	next := time.Date(2026, 1, 1, 2, 0, 0, 0, time.UTC)
	s := &ScheduleRecord{WorkflowID: wf.ID, WorkflowName: wf.Name, CronExpression: "0 2 * * *", Enabled: true, NextRun: &next}
	require.NoError(t, dao.Create(ctx, s))

	got, err := dao.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, got.Enabled)
	assert.Equal(t, "0 2 * * *", got.CronExpression)
	require.NotNil(t, got.NextRun)
	assert.True(t, next.Equal(*got.NextRun))
	assert.Nil(t, got.LastRun)

	require.NoError(t, dao.SetEnabled(ctx, s.ID, false))
	got, _ = dao.Get(ctx, s.ID)
	assert.False(t, got.Enabled)

	fired := next
	following := next.Add(24 * time.Hour)
	require.NoError(t, dao.RecordFire(ctx, s.ID, fired, &following))
	require.NoError(t, dao.RecordFire(ctx, s.ID, following, nil))
	got, _ = dao.Get(ctx, s.ID)
	assert.Equal(t, 2, got.RunCount)
	require.NotNil(t, got.LastRun)
	assert.True(t, following.Equal(*got.LastRun))
	assert.Nil(t, got.NextRun)

	require.NoError(t, dao.UpdateNextRun(ctx, s.ID, &next))
	got, _ = dao.Get(ctx, s.ID)
	assert.NotNil(t, got.NextRun)

	list, err := dao.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, dao.Delete(ctx, s.ID))
	_, err = dao.Get(ctx, s.ID)
	assert.Equal(t, types.SCHEDULE_NOT_FOUND, types.CodeOf(err))
	assert.Equal(t, types.SCHEDULE_NOT_FOUND, types.CodeOf(dao.SetEnabled(ctx, s.ID, true)))
}

func TestScheduleDAO_History(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	dao := NewScheduleDAO(db)

	now := time.Now().UTC()
	runs := []*ScheduleRun{
		{ScheduleID: "s1", WorkflowID: "w1", WorkflowName: "a", Status: "completed", StartedAt: now.Add(-48 * time.Hour)},
		{ScheduleID: "s1", WorkflowID: "w1", WorkflowName: "a", Status: "failed", StartedAt: now.Add(-2 * time.Hour), Error: "boom"},
		{ScheduleID: "s1", WorkflowID: "w1", WorkflowName: "a", Status: "completed", StartedAt: now.Add(-time.Hour), DurationSeconds: 1.5},
	}
	for _, r := range runs {
		require.NoError(t, dao.AddRun(ctx, r))
	}

	history, err := dao.History(ctx, 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, runs[2].ID, history[0].ID)
	assert.Equal(t, 1.5, history[0].DurationSeconds)
	assert.Equal(t, "boom", history[1].Error)

	counts, err := dao.RunCounts(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, ScheduleRunCounts{Total: 3, Successful: 2, Recent: 2}, counts)
}

func TestMetricsDAO(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	dao := NewMetricsDAO(db)

	now := time.Now().UTC()
	for _, s := range []*MetricSample{
		{WorkflowID: "w1", Name: "execution_time", Value: 10, RecordedAt: now.Add(-time.Minute)},
		{WorkflowID: "w1", Name: "execution_time", Value: 30, RecordedAt: now.Add(-2 * time.Minute)},
		{WorkflowID: "w1", Name: "execution_time", Value: 999, RecordedAt: now.Add(-48 * time.Hour)},
		{WorkflowID: "w2", Name: "task_count", Value: 4, RecordedAt: now, Metadata: map[string]any{"status": "completed"}},
	} {
		require.NoError(t, dao.Record(ctx, s))
	}

	aggs, err := dao.Aggregate(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, aggs, 2)
	assert.Equal(t, MetricAggregate{WorkflowID: "w1", Name: "execution_time", Avg: 20, Min: 10, Max: 30, Count: 2}, *aggs[0])
	assert.Equal(t, "task_count", aggs[1].Name)

	require.NoError(t, dao.RecordPerformance(ctx, &PerformanceSample{Name: "disk_usage_percent", Value: 42, RecordedAt: now}))
	require.NoError(t, dao.RecordPerformance(ctx, &PerformanceSample{Name: "disk_usage_percent", Value: 40, RecordedAt: now.Add(-72 * time.Hour)}))
	perf, err := dao.Performance(ctx, "disk_usage_percent", now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, perf, 1)
	assert.Equal(t, 42.0, perf[0].Value)

	pruned, err := dao.Prune(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), pruned)
}
