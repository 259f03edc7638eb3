package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/zero-day-ai/tideflow/internal/database"
	"github.com/zero-day-ai/tideflow/internal/types"
	"github.com/zero-day-ai/tideflow/internal/workflow"
)

// Result summarizes a finished run.
type Result struct {
	WorkflowID  types.ID                `json:"workflow_id"`
	ExecutionID types.ID                `json:"execution_id"`
	Status      workflow.WorkflowStatus `json:"status"`
	Duration    time.Duration           `json:"duration"`
	Error       string                  `json:"error,omitempty"`
	Snapshot    *workflow.Snapshot      `json:"snapshot"`
}

type taskDone struct {
	task  *workflow.Task
	panic any
}

// Execute runs wf to a terminal status and blocks until it gets there.
//
// Ready tasks are dispatched lowest execution-order index first to at most
// MaxParallel workers. A task is ready once every dependency COMPLETED. When
// a task fails without continue_on_failure nothing new is dispatched, tasks
// in flight finish and the workflow FAILS; tasks that were never dispatched
// stay PENDING. When a continue_on_failure task fails its transitive
// dependents are SKIPPED.
//
// Task failures are reported in the Result, not as an error. An error means
// the run could not start.
func (e *Engine) Execute(ctx context.Context, wf *workflow.Workflow, trigger workflow.TriggerType) (res *Result, err error) {
	if trigger == "" {
		trigger = workflow.TriggerManual
	}
	executionID := types.NewID()
	r := newRun(wf, executionID)
	if !e.runs.add(r) {
		return nil, types.NewErrorf(types.WORKFLOW_INVALID_STATE, "workflow %s has an execution in progress", wf.ID)
	}
	defer e.runs.remove(wf.ID, r)

	if err := wf.Start(trigger); err != nil {
		return nil, err
	}
	e.remember(wf)

	ctx, span := e.tracer.Start(ctx, "workflow.execute",
		trace.WithAttributes(
			attribute.String("workflow.id", wf.ID.String()),
			attribute.String("workflow.name", wf.Name),
			attribute.String("execution.id", executionID.String()),
			attribute.String("workflow.trigger", string(trigger)),
		),
	)
	defer span.End()

	logger := e.logger.With(
		"workflow_id", wf.ID.String(),
		"execution_id", executionID.String(),
	)
	started, _ := wf.Timing()
	e.recordStart(ctx, logger, wf, executionID, trigger, started)
	if e.recorder != nil {
		e.recorder.RunStarted(wf)
	}
	logger.InfoContext(ctx, "workflow execution started",
		"name", wf.Name,
		"trigger", string(trigger),
		"tasks", len(wf.ExecutionOrder()),
		"max_parallel", e.cfg.MaxParallel,
	)

	var failure string
	func() {
		defer func() {
			if p := recover(); p != nil {
				failure = fmt.Sprintf("workflow engine panic: %v", p)
				logger.ErrorContext(ctx, "workflow engine panic", "panic", p)
			}
		}()
		failure = e.dispatch(ctx, r, logger)
	}()

	e.finish(ctx, wf, failure)
	duration := time.Since(started)
	snap := wf.Snapshot()

	res = &Result{
		WorkflowID:  wf.ID,
		ExecutionID: executionID,
		Status:      snap.Status,
		Duration:    duration,
		Error:       snap.Error,
		Snapshot:    snap,
	}

	e.recordFinish(ctx, logger, res)
	if e.recorder != nil {
		e.recorder.RunFinished(ctx, snap, duration)
	}

	span.SetAttributes(attribute.String("workflow.status", string(res.Status)))
	if res.Status == workflow.WorkflowStatusFailed {
		span.SetStatus(codes.Error, res.Error)
		logger.ErrorContext(ctx, "workflow execution failed", "error", res.Error, "duration", duration)
	} else {
		span.SetStatus(codes.Ok, string(res.Status))
		logger.InfoContext(ctx, "workflow execution finished", "status", string(res.Status), "duration", duration)
	}
	return res, nil
}

// dispatch drives the ready queue until no more work can start and every
// in-flight task has returned. It returns the failure message that ends the
// run, if any.
func (e *Engine) dispatch(ctx context.Context, r *run, logger *slog.Logger) string {
	wf := r.wf
	tasks := wf.Tasks()
	dispatched := make([]bool, len(tasks))
	done := make(chan taskDone, len(tasks))

	var g errgroup.Group
	g.SetLimit(e.cfg.MaxParallel)
	defer g.Wait()

	inFlight := 0
	failure := ""
	halted := func() bool {
		return failure != "" || r.cancelled.Load() || ctx.Err() != nil
	}

	for {
		if !halted() && wf.Status() == workflow.WorkflowStatusRunning {
			for inFlight < e.cfg.MaxParallel {
				idx := nextReady(wf, tasks, dispatched)
				if idx < 0 {
					break
				}
				dispatched[idx] = true
				inFlight++
				task := tasks[idx]
				g.Go(func() error {
					defer func() {
						if p := recover(); p != nil {
							done <- taskDone{task: task, panic: p}
						}
					}()
					// The returned error is already recorded on the task.
					_ = e.executor.Execute(ctx, wf, task)
					done <- taskDone{task: task}
					return nil
				})
			}
		}

		if inFlight == 0 {
			if halted() || wf.Status().IsTerminal() {
				return failure
			}
			if wf.Status() == workflow.WorkflowStatusRunning && nextReady(wf, tasks, dispatched) < 0 {
				return failure
			}
		}

		select {
		case d := <-done:
			inFlight--
			if msg := e.settle(ctx, wf, d, logger); msg != "" && failure == "" {
				failure = msg
			}
		case <-r.wake:
		case <-ctx.Done():
			// In-flight tasks see the same context and return promptly.
			if inFlight == 0 {
				return failure
			}
			d := <-done
			inFlight--
			e.settle(ctx, wf, d, logger)
		}
	}
}

// settle handles a task that left the worker pool and returns a failure
// message when the run must stop.
func (e *Engine) settle(ctx context.Context, wf *workflow.Workflow, d taskDone, logger *slog.Logger) string {
	task := d.task
	if d.panic != nil {
		msg := fmt.Sprintf("task %s failed: executor panic: %v", task.Name, d.panic)
		logger.ErrorContext(ctx, "task executor panic", "task_id", task.ID, "panic", d.panic)
		return msg
	}

	switch task.Status() {
	case workflow.TaskStatusCompleted:
		return ""
	case workflow.TaskStatusFailed:
		if task.ContinueOnFailure {
			wf.AddLog("WARNING", fmt.Sprintf("task %s failed, continuing: %s", task.Name, task.Error()))
			skipBlocked(wf, logger)
			return ""
		}
		return fmt.Sprintf("task %s failed: %s", task.Name, task.Error())
	default:
		// The executor refused to start the task or the context ended first.
		if ctx.Err() != nil {
			return ""
		}
		return fmt.Sprintf("task %s failed: ended in status %s", task.Name, task.Status())
	}
}

// nextReady returns the index of the first undispatched PENDING task whose
// dependencies have all COMPLETED, or -1.
func nextReady(wf *workflow.Workflow, tasks []*workflow.Task, dispatched []bool) int {
	for i, t := range tasks {
		if dispatched[i] || t.Status() != workflow.TaskStatusPending {
			continue
		}
		ready := true
		for _, dep := range t.Dependencies {
			d, _ := wf.Task(dep)
			if d.Status() != workflow.TaskStatusCompleted {
				ready = false
				break
			}
		}
		if ready {
			return i
		}
	}
	return -1
}

// skipBlocked marks every pending task downstream of a failed or skipped
// task as SKIPPED. Tasks are visited in execution order, so one pass covers
// transitive dependents.
func skipBlocked(wf *workflow.Workflow, logger *slog.Logger) {
	for _, t := range wf.Tasks() {
		if t.Status() != workflow.TaskStatusPending {
			continue
		}
		for _, dep := range t.Dependencies {
			d, _ := wf.Task(dep)
			if s := d.Status(); s == workflow.TaskStatusFailed || s == workflow.TaskStatusSkipped {
				if err := t.Skip(fmt.Sprintf("dependency %s is %s", dep, s)); err == nil {
					logger.Info("task skipped", "task_id", t.ID, "dependency", dep)
				}
				break
			}
		}
	}
}

// finish moves the workflow into its terminal status.
func (e *Engine) finish(ctx context.Context, wf *workflow.Workflow, failure string) {
	status := wf.Status()
	if status.IsTerminal() {
		return
	}

	var err error
	switch {
	case ctx.Err() != nil:
		err = wf.Transition(workflow.WorkflowStatusCancelled, "")
	case failure != "":
		err = wf.Transition(workflow.WorkflowStatusFailed, failure)
	case allSettled(wf):
		if status == workflow.WorkflowStatusPaused {
			// Resume raced with the last task; finish from RUNNING.
			_ = wf.Transition(workflow.WorkflowStatusRunning, "")
		}
		err = wf.Transition(workflow.WorkflowStatusCompleted, "")
	default:
		err = wf.Transition(workflow.WorkflowStatusFailed, "workflow stalled with undispatchable tasks")
	}
	if err != nil && !wf.Status().IsTerminal() {
		e.logger.ErrorContext(ctx, "failed to finalize workflow", "workflow_id", wf.ID.String(), "error", err)
	}
}

func allSettled(wf *workflow.Workflow) bool {
	for _, t := range wf.Tasks() {
		switch t.Status() {
		case workflow.TaskStatusCompleted, workflow.TaskStatusSkipped:
		case workflow.TaskStatusFailed:
			if !t.ContinueOnFailure {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func (e *Engine) recordStart(ctx context.Context, logger *slog.Logger, wf *workflow.Workflow, executionID types.ID, trigger workflow.TriggerType, started time.Time) {
	if e.executions == nil {
		return
	}
	err := e.executions.Create(ctx, &database.ExecutionRecord{
		ID:          executionID,
		WorkflowID:  wf.ID,
		Status:      string(workflow.WorkflowStatusRunning),
		TriggerType: string(trigger),
		StartedAt:   started,
	})
	if err != nil {
		logger.WarnContext(ctx, "failed to record execution start", "error", err)
	}
	if e.workflows != nil {
		if err := e.workflows.UpdateStatus(ctx, wf.ID, string(workflow.WorkflowStatusRunning)); err != nil && !types.IsNotFound(err) {
			logger.WarnContext(ctx, "failed to update workflow status", "error", err)
		}
	}
}

func (e *Engine) recordFinish(ctx context.Context, logger *slog.Logger, res *Result) {
	if e.executions == nil {
		return
	}
	// Persist even when the caller's context was cancelled.
	ctx = context.WithoutCancel(ctx)

	state, err := json.Marshal(res.Snapshot)
	if err != nil {
		logger.WarnContext(ctx, "failed to encode workflow state", "error", err)
	}
	completed := res.Snapshot.CompletedAt
	if completed == nil {
		now := time.Now()
		completed = &now
	}
	err = e.executions.Update(ctx, &database.ExecutionRecord{
		ID:              res.ExecutionID,
		Status:          string(res.Status),
		CompletedAt:     completed,
		DurationSeconds: res.Duration.Seconds(),
		Error:           res.Error,
		State:           string(state),
	})
	if err != nil {
		logger.WarnContext(ctx, "failed to record execution result", "error", err)
		return
	}

	for _, t := range res.Snapshot.Tasks {
		rec := &database.TaskExecutionRecord{
			ExecutionID: res.ExecutionID,
			WorkflowID:  res.WorkflowID,
			TaskID:      t.ID,
			TaskName:    t.Name,
			TaskType:    t.Type,
			Status:      string(t.Status),
			StartedAt:   t.StartedAt,
			CompletedAt: t.CompletedAt,
			RetryCount:  t.RetryCount,
			Error:       t.Error,
			Outputs:     t.Outputs,
		}
		if err := e.executions.SaveTask(ctx, rec); err != nil {
			logger.WarnContext(ctx, "failed to record task execution", "task_id", t.ID, "error", err)
		}
	}

	if e.workflows != nil {
		if err := e.workflows.UpdateStatus(ctx, res.WorkflowID, string(res.Status)); err != nil && !types.IsNotFound(err) {
			logger.WarnContext(ctx, "failed to update workflow status", "error", err)
		}
	}
}
