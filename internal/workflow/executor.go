package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zero-day-ai/tideflow/internal/handler"
	"github.com/zero-day-ai/tideflow/internal/types"
)

// TaskExecutor runs a single task: substitution, timeout, retry and backoff.
type TaskExecutor struct {
	registry *handler.Registry
	logger   *slog.Logger
	tracer   trace.Tracer
	backoff  BackoffPolicy
	system   func(name string) (string, bool)
}

// ExecutorOption is a functional option for configuring TaskExecutor.
type ExecutorOption func(*TaskExecutor)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(x *TaskExecutor) {
		x.logger = logger
	}
}

// WithTracer sets the OpenTelemetry tracer used for task and attempt spans.
func WithTracer(tracer trace.Tracer) ExecutorOption {
	return func(x *TaskExecutor) {
		x.tracer = tracer
	}
}

// WithBackoff sets the retry backoff policy.
func WithBackoff(policy BackoffPolicy) ExecutorOption {
	return func(x *TaskExecutor) {
		x.backoff = policy
	}
}

// WithSystemValues overrides the ${system.*} resolver.
func WithSystemValues(fn func(name string) (string, bool)) ExecutorOption {
	return func(x *TaskExecutor) {
		x.system = fn
	}
}

// NewTaskExecutor creates a TaskExecutor that resolves handlers from registry.
func NewTaskExecutor(registry *handler.Registry, opts ...ExecutorOption) *TaskExecutor {
	x := &TaskExecutor{
		registry: registry,
		logger:   slog.Default(),
		tracer:   otel.Tracer("github.com/zero-day-ai/tideflow/internal/workflow"),
		backoff:  DefaultBackoff(),
		system:   SystemValues(time.Now),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Execute runs task to a terminal status. It returns nil when the task
// COMPLETED and the final error when it FAILED. Every dependency must
// already be COMPLETED; otherwise the task is left untouched and an error is
// returned.
func (x *TaskExecutor) Execute(ctx context.Context, wf *Workflow, task *Task) error {
	for _, dep := range task.Dependencies {
		depTask, ok := wf.Task(dep)
		if !ok || depTask.Status() != TaskStatusCompleted {
			return types.NewErrorf(types.WORKFLOW_INVALID_STATE,
				"task %s dispatched before dependency %s completed", task.ID, dep)
		}
	}

	h, ok := x.registry.Lookup(task.Type)
	if !ok {
		err := types.NewErrorf(types.CONFIG_UNKNOWN_TASK_TYPE, "unknown task type %q", task.Type)
		task.markFailed(err.Error())
		return err
	}

	ctx, span := x.tracer.Start(ctx, "workflow.task",
		trace.WithAttributes(
			attribute.String("workflow.id", wf.ID.String()),
			attribute.String("task.id", task.ID),
			attribute.String("task.type", task.Type),
		),
	)
	defer span.End()

	logger := x.logger.With("workflow_id", wf.ID.String(), "task_id", task.ID, "task_type", task.Type)

	wf.SetCurrentTask(task.ID)
	task.markRunning()
	task.AddLog("INFO", "task execution started")
	logger.InfoContext(ctx, "executing task", "task_name", task.Name)

	for {
		res, err := x.attempt(ctx, wf, task, h)
		if res != nil {
			task.mergeOutputs(res.Outputs)
		}

		if err == nil {
			task.markCompleted()
			task.AddLog("INFO", "task completed successfully")
			span.SetStatus(codes.Ok, "task completed")
			span.SetAttributes(attribute.Int("task.retry_count", task.RetryCount()))
			logger.InfoContext(ctx, "task completed", "retry_count", task.RetryCount())
			return nil
		}

		retryable := !types.IsTimeout(err) && !types.IsSecurityViolation(err) && ctx.Err() == nil
		if retryable && task.RetryCount() < task.MaxRetries {
			retry := task.markRetrying(err.Error())
			delay := x.backoff.Delay(retry)
			task.AddLog("WARNING", fmt.Sprintf("task failed, retrying in %s (attempt %d/%d): %v", delay, retry, task.MaxRetries, err))
			logger.InfoContext(ctx, "retrying task",
				"retry", retry,
				"max_retries", task.MaxRetries,
				"delay", delay,
				"error", err,
			)

			if waitErr := sleep(ctx, delay); waitErr != nil {
				err = fmt.Errorf("retry wait interrupted: %w", waitErr)
			} else {
				task.markRunning()
				continue
			}
		}

		task.markFailed(err.Error())
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		logger.ErrorContext(ctx, "task failed",
			"retry_count", task.RetryCount(),
			"error", err,
		)
		return err
	}
}

// attempt performs one handler invocation bounded by the task timeout.
func (x *TaskExecutor) attempt(ctx context.Context, wf *Workflow, task *Task, h handler.Handler) (*handler.Result, error) {
	sub := &Substituter{
		Variables: wf.Variables(),
		Own:       task.Outputs(),
		Upstream:  upstreamOutputs(wf, task),
		System:    x.system,
	}
	req := &handler.Request{
		WorkflowID: wf.ID.String(),
		TaskID:     task.ID,
		Type:       task.Type,
		Params:     sub.Params(task.Params),
		Log:        task.AddLog,
	}

	attemptCtx, cancel := ctx, context.CancelFunc(func() {})
	if task.Timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, task.Timeout)
	}
	defer cancel()

	type outcome struct {
		res *handler.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("task handler panicked: %v", r)}
			}
		}()
		res, err := h(attemptCtx, req)
		done <- outcome{res: res, err: err}
	}()

	timedOut := func() bool {
		return errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	}

	select {
	case o := <-done:
		if o.err != nil && timedOut() {
			return o.res, x.timeoutError(task)
		}
		return o.res, o.err
	case <-attemptCtx.Done():
		// The handler ignored its context. It keeps running in the
		// background, but the attempt is over.
		if timedOut() {
			return nil, x.timeoutError(task)
		}
		return nil, ctx.Err()
	}
}

func (x *TaskExecutor) timeoutError(task *Task) error {
	return types.NewErrorf(types.TASK_TIMEOUT, "task timed out after %s", task.Timeout)
}

func upstreamOutputs(wf *Workflow, current *Task) map[string]map[string]any {
	out := make(map[string]map[string]any)
	for _, t := range wf.Tasks() {
		if t == current || t.Status() != TaskStatusCompleted {
			continue
		}
		out[t.ID] = t.Outputs()
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
