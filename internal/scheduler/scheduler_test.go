package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/tideflow/internal/crontab"
	"github.com/zero-day-ai/tideflow/internal/database"
	"github.com/zero-day-ai/tideflow/internal/engine"
	"github.com/zero-day-ai/tideflow/internal/handler"
	"github.com/zero-day-ai/tideflow/internal/types"
	"github.com/zero-day-ai/tideflow/internal/workflow"
)

type harness struct {
	db        *database.DB
	engine    *engine.Engine
	schedules database.ScheduleDAO
	cron      *crontab.Scheduler
	svc       *Service
	calls     *atomic.Int32
	failing   *atomic.Bool
	clock     *atomic.Pointer[time.Time]
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	db, err := database.OpenAndMigrate(ctx, database.DefaultConfig(filepath.Join(t.TempDir(), "scheduler.db")))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	h := &harness{
		db:        db,
		schedules: database.NewScheduleDAO(db),
		calls:     &atomic.Int32{},
		failing:   &atomic.Bool{},
		clock:     &atomic.Pointer[time.Time]{},
	}
	start := time.Date(2026, 3, 14, 10, 3, 27, 0, time.UTC)
	h.clock.Store(&start)
	now := func() time.Time { return *h.clock.Load() }

	registry := handler.NewRegistry()
	require.NoError(t, registry.Register(handler.Spec{
		Type: "count",
		Handler: func(ctx context.Context, req *handler.Request) (*handler.Result, error) {
			h.calls.Add(1)
			if h.failing.Load() {
				return nil, errors.New("downstream unavailable")
			}
			return handler.NewResult().Set("ok", true), nil
		},
	}))

	cfg := engine.DefaultConfig()
	cfg.RetryBackoff = time.Millisecond
	h.engine = engine.New(registry,
		engine.WithConfig(cfg),
		engine.WithStore(database.NewWorkflowDAO(db), database.NewExecutionDAO(db)),
	)
	h.cron = crontab.New(crontab.WithClock(now))
	h.svc = New(h.schedules, database.NewWorkflowDAO(db), h.engine, WithCron(h.cron), WithClock(now))
	return h
}

func (h *harness) setClock(t time.Time) {
	h.clock.Store(&t)
}

func (h *harness) workflow(t *testing.T, name string) *workflow.Workflow {
	t.Helper()
	zero := 0
	wf, err := h.engine.CreateFromConfig(context.Background(), &workflow.Config{
		Name:  name,
		Tasks: []workflow.TaskConfig{{ID: "step", Name: "step", Type: "count", MaxRetries: &zero}},
	})
	require.NoError(t, err)
	return wf
}

func (h *harness) tick(at time.Time) int {
	h.setClock(at)
	n := h.cron.Tick(at)
	h.cron.Wait()
	return n
}

func TestAddSchedule(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	wf := h.workflow(t, "nightly")

	rec, err := h.svc.AddSchedule(ctx, wf.ID, "*/5 * * * *")
	require.NoError(t, err)
	assert.True(t, rec.Enabled)
	assert.Equal(t, "nightly", rec.WorkflowName)
	require.NotNil(t, rec.NextRun)
	assert.Equal(t, time.Date(2026, 3, 14, 10, 5, 0, 0, time.UTC), *rec.NextRun)

	next, ok := h.cron.Next(rec.ID.String())
	require.True(t, ok)
	assert.Equal(t, *rec.NextRun, next)

	stored, err := h.schedules.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "*/5 * * * *", stored.CronExpression)
}

func TestAddSchedule_Rejects(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	wf := h.workflow(t, "nightly")

	_, err := h.svc.AddSchedule(ctx, wf.ID, "every five minutes")
	assert.Equal(t, types.CONFIG_INVALID_CRON, types.CodeOf(err))

	_, err = h.svc.AddSchedule(ctx, types.NewID(), "@hourly")
	assert.Equal(t, types.WORKFLOW_NOT_FOUND, types.CodeOf(err))

	list, err := h.svc.ListScheduled(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Equal(t, 0, h.cron.Len())
}

func TestFire_RunsWorkflowAndRecordsHistory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	wf := h.workflow(t, "nightly")

	rec, err := h.svc.AddSchedule(ctx, wf.ID, "*/5 * * * *")
	require.NoError(t, err)

	assert.Equal(t, 0, h.tick(time.Date(2026, 3, 14, 10, 4, 0, 0, time.UTC)))
	fired := time.Date(2026, 3, 14, 10, 5, 0, 0, time.UTC)
	assert.Equal(t, 1, h.tick(fired))
	assert.Equal(t, int32(1), h.calls.Load())

	history, err := h.svc.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "completed", history[0].Status)
	assert.Equal(t, wf.ID, history[0].WorkflowID)
	assert.False(t, history[0].ExecutionID.IsZero())

	stored, err := h.schedules.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.RunCount)
	require.NotNil(t, stored.LastRun)
	assert.True(t, fired.Equal(*stored.LastRun))
	require.NotNil(t, stored.NextRun)
	assert.True(t, stored.NextRun.Equal(time.Date(2026, 3, 14, 10, 10, 0, 0, time.UTC)))

	// The execution went through the engine with the schedule trigger.
	last, err := database.NewExecutionDAO(h.db).Latest(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, "schedule", last.TriggerType)
	assert.Equal(t, history[0].ExecutionID, last.ID)
}

func TestFire_WorkflowFailureIsRecorded(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	wf := h.workflow(t, "flaky")
	_, err := h.svc.AddSchedule(ctx, wf.ID, "*/5 * * * *")
	require.NoError(t, err)

	h.failing.Store(true)
	h.tick(time.Date(2026, 3, 14, 10, 5, 0, 0, time.UTC))
	h.failing.Store(false)
	h.tick(time.Date(2026, 3, 14, 10, 10, 0, 0, time.UTC))

	history, err := h.svc.History(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "completed", history[0].Status)
	assert.Equal(t, "failed", history[1].Status)
	assert.Contains(t, history[1].Error, "downstream unavailable")

	stats, err := h.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalExecutions)
	assert.Equal(t, 1, stats.SuccessfulExecutions)
	assert.Equal(t, 50.0, stats.SuccessRate)
}

func TestFire_MissingWorkflowIsRecorded(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	wf := h.workflow(t, "doomed")
	rec, err := h.svc.AddSchedule(ctx, wf.ID, "*/5 * * * *")
	require.NoError(t, err)

	// Deleting the workflow cascades to the binding, so the fire
	// unregisters the job.
	require.NoError(t, database.NewWorkflowDAO(h.db).Delete(ctx, wf.ID))
	err = h.svc.fire(ctx, rec.ID)
	assert.Equal(t, types.SCHEDULE_NOT_FOUND, types.CodeOf(err))
	assert.Equal(t, 0, h.cron.Len())
}

func TestEnableDisableRemove(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	wf := h.workflow(t, "weekly")
	rec, err := h.svc.AddSchedule(ctx, wf.ID, "@weekly")
	require.NoError(t, err)

	require.NoError(t, h.svc.Disable(ctx, rec.ID))
	assert.Equal(t, 0, h.cron.Len())
	stored, _ := h.schedules.Get(ctx, rec.ID)
	assert.False(t, stored.Enabled)
	assert.Nil(t, stored.NextRun)

	stats, err := h.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalScheduled)
	assert.Equal(t, 0, stats.ActiveScheduled)

	require.NoError(t, h.svc.Enable(ctx, rec.ID))
	assert.Equal(t, 1, h.cron.Len())
	stored, _ = h.schedules.Get(ctx, rec.ID)
	assert.True(t, stored.Enabled)
	assert.NotNil(t, stored.NextRun)

	require.NoError(t, h.svc.RemoveSchedule(ctx, rec.ID))
	assert.Equal(t, 0, h.cron.Len())
	_, err = h.schedules.Get(ctx, rec.ID)
	assert.Equal(t, types.SCHEDULE_NOT_FOUND, types.CodeOf(err))

	missing := types.NewID()
	assert.Equal(t, types.SCHEDULE_NOT_FOUND, types.CodeOf(h.svc.RemoveSchedule(ctx, missing)))
	assert.Equal(t, types.SCHEDULE_NOT_FOUND, types.CodeOf(h.svc.Enable(ctx, missing)))
	assert.Equal(t, types.SCHEDULE_NOT_FOUND, types.CodeOf(h.svc.Disable(ctx, missing)))
}

func TestStart_RegistersEnabledBindings(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.workflow(t, "a")
	b := h.workflow(t, "b")

	ra, err := h.svc.AddSchedule(ctx, a.ID, "@hourly")
	require.NoError(t, err)
	rb, err := h.svc.AddSchedule(ctx, b.ID, "@daily")
	require.NoError(t, err)
	require.NoError(t, h.svc.Disable(ctx, rb.ID))

	// A second service over the same store, as after a restart.
	cron := crontab.New(crontab.WithClock(func() time.Time { return *h.clock.Load() }), crontab.WithInterval(time.Hour))
	svc := New(h.schedules, database.NewWorkflowDAO(h.db), h.engine, WithCron(cron))
	require.NoError(t, svc.Start(ctx))
	t.Cleanup(svc.Stop)
	require.NoError(t, svc.Start(ctx))

	assert.True(t, svc.Running())
	jobs := cron.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, ra.ID.String(), jobs[0].ID)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, &Stats{
		TotalScheduled:   2,
		ActiveScheduled:  1,
		SchedulerRunning: true,
		CronJobsCount:    1,
	}, stats)

	list, err := svc.ListScheduled(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)

	svc.Stop()
	assert.False(t, svc.Running())
}
