// Package scheduler binds stored workflows to cron expressions and runs them
// through the engine when they fire.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zero-day-ai/tideflow/internal/crontab"
	"github.com/zero-day-ai/tideflow/internal/database"
	"github.com/zero-day-ai/tideflow/internal/engine"
	"github.com/zero-day-ai/tideflow/internal/types"
	"github.com/zero-day-ai/tideflow/internal/workflow"
)

// DefaultHistoryLimit is used by History when no limit is given.
const DefaultHistoryLimit = 100

// Config holds scheduler settings.
type Config struct {
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	CheckInterval time.Duration `mapstructure:"check_interval" yaml:"check_interval" validate:"gte=0"`
	HistoryLimit  int           `mapstructure:"history_limit" yaml:"history_limit" validate:"gte=0"`
}

// DefaultConfig returns the scheduler defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		CheckInterval: crontab.DefaultInterval,
		HistoryLimit:  DefaultHistoryLimit,
	}
}

// Runner loads and executes workflows. *engine.Engine implements it.
type Runner interface {
	Load(ctx context.Context, id types.ID) (*workflow.Workflow, error)
	Execute(ctx context.Context, wf *workflow.Workflow, trigger workflow.TriggerType) (*engine.Result, error)
}

// Stats summarizes the scheduler.
type Stats struct {
	TotalScheduled       int     `json:"total_scheduled"`
	ActiveScheduled      int     `json:"active_scheduled"`
	TotalExecutions      int     `json:"total_executions"`
	SuccessfulExecutions int     `json:"successful_executions"`
	RecentExecutions     int     `json:"recent_executions"`
	SuccessRate          float64 `json:"success_rate"`
	SchedulerRunning     bool    `json:"scheduler_running"`
	CronJobsCount        int     `json:"cron_jobs_count"`
}

// Service manages schedule bindings.
type Service struct {
	cfg       Config
	schedules database.ScheduleDAO
	workflows database.WorkflowDAO
	runner    Runner
	cron      *crontab.Scheduler
	now       func() time.Time
	logger    *slog.Logger

	mu      sync.Mutex
	running bool
}

// Option is a functional option for configuring the Service.
type Option func(*Service)

// WithConfig sets the scheduler configuration.
func WithConfig(cfg Config) Option {
	return func(s *Service) {
		s.cfg = cfg
	}
}

// WithCron replaces the cron scheduler.
func WithCron(c *crontab.Scheduler) Option {
	return func(s *Service) {
		s.cron = c
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// New creates a stopped service.
func New(schedules database.ScheduleDAO, workflows database.WorkflowDAO, runner Runner, opts ...Option) *Service {
	s := &Service{
		cfg:       DefaultConfig(),
		schedules: schedules,
		workflows: workflows,
		runner:    runner,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cron == nil {
		s.cron = crontab.New(
			crontab.WithInterval(s.cfg.CheckInterval),
			crontab.WithClock(s.now),
			crontab.WithLogger(s.logger),
		)
	}
	return s
}

// Start registers every enabled binding and starts the cron loop. A binding
// whose stored expression no longer parses is logged and left unregistered.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	records, err := s.schedules.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to load schedules: %w", err)
	}
	registered := 0
	for _, rec := range records {
		if !rec.Enabled {
			continue
		}
		if err := s.register(ctx, rec); err != nil {
			s.logger.Warn("skipping schedule", "schedule_id", rec.ID.String(), "error", err)
			continue
		}
		registered++
	}

	s.cron.Start(ctx)
	s.running = true
	s.logger.Info("workflow scheduler started", "schedules", len(records), "registered", registered)
	return nil
}

// Stop ends the cron loop and waits for running fires.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.cron.Stop()
	s.running = false
	s.logger.Info("workflow scheduler stopped")
}

// Running reports whether the service was started.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// AddSchedule binds workflowID to expr and registers it.
func (s *Service) AddSchedule(ctx context.Context, workflowID types.ID, expr string) (*database.ScheduleRecord, error) {
	if err := crontab.Validate(expr); err != nil {
		return nil, err
	}
	wf, err := s.workflows.Get(ctx, workflowID)
	if err != nil {
		if types.IsNotFound(err) {
			return nil, types.WrapError(types.WORKFLOW_NOT_FOUND, fmt.Sprintf("workflow %s not found", workflowID), err)
		}
		return nil, err
	}

	next, _ := crontab.NextAfter(expr, s.now())
	rec := &database.ScheduleRecord{
		WorkflowID:     wf.ID,
		WorkflowName:   wf.Name,
		CronExpression: expr,
		Enabled:        true,
		NextRun:        &next,
	}
	if err := s.schedules.Create(ctx, rec); err != nil {
		return nil, err
	}
	if err := s.register(ctx, rec); err != nil {
		return nil, err
	}

	s.logger.Info("workflow scheduled",
		"schedule_id", rec.ID.String(),
		"workflow_id", wf.ID.String(),
		"expression", expr,
		"next_run", next,
	)
	return rec, nil
}

// RemoveSchedule unregisters and deletes a binding.
func (s *Service) RemoveSchedule(ctx context.Context, id types.ID) error {
	if _, err := s.schedules.Get(ctx, id); err != nil {
		return err
	}
	s.cron.RemoveJob(id.String())
	if err := s.schedules.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("schedule removed", "schedule_id", id.String())
	return nil
}

// Enable registers a binding and persists its enabled flag.
func (s *Service) Enable(ctx context.Context, id types.ID) error {
	rec, err := s.schedules.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.schedules.SetEnabled(ctx, id, true); err != nil {
		return err
	}
	rec.Enabled = true
	return s.register(ctx, rec)
}

// Disable unregisters a binding and persists its enabled flag. The binding
// and its history are kept.
func (s *Service) Disable(ctx context.Context, id types.ID) error {
	if _, err := s.schedules.Get(ctx, id); err != nil {
		return err
	}
	if err := s.schedules.SetEnabled(ctx, id, false); err != nil {
		return err
	}
	s.cron.RemoveJob(id.String())
	return s.schedules.UpdateNextRun(ctx, id, nil)
}

// ListScheduled returns every binding. Registered bindings carry the next
// fire time known to the cron loop.
func (s *Service) ListScheduled(ctx context.Context) ([]*database.ScheduleRecord, error) {
	records, err := s.schedules.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if next, ok := s.cron.Next(rec.ID.String()); ok {
			n := next
			rec.NextRun = &n
		}
	}
	return records, nil
}

// History returns the most recent fires, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]*database.ScheduleRun, error) {
	if limit <= 0 {
		limit = s.cfg.HistoryLimit
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return s.schedules.History(ctx, limit)
}

// Stats tallies bindings and fire history. Recent covers the last 24 hours.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	records, err := s.schedules.List(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := s.schedules.RunCounts(ctx, s.now().Add(-24*time.Hour))
	if err != nil {
		return nil, err
	}

	st := &Stats{
		TotalScheduled:       len(records),
		TotalExecutions:      counts.Total,
		SuccessfulExecutions: counts.Successful,
		RecentExecutions:     counts.Recent,
		SchedulerRunning:     s.Running(),
		CronJobsCount:        s.cron.Len(),
	}
	for _, rec := range records {
		if rec.Enabled {
			st.ActiveScheduled++
		}
	}
	st.SuccessRate = float64(counts.Successful) / float64(max(counts.Total, 1)) * 100
	return st, nil
}

func (s *Service) register(ctx context.Context, rec *database.ScheduleRecord) error {
	id := rec.ID
	next, err := s.cron.AddJob(id.String(), rec.CronExpression, func(ctx context.Context) error {
		return s.fire(ctx, id)
	})
	if err != nil {
		return err
	}
	return s.schedules.UpdateNextRun(ctx, id, &next)
}

// fire runs one scheduled execution against a freshly loaded workflow and
// records the outcome. A failed workflow is recorded, not returned.
func (s *Service) fire(ctx context.Context, id types.ID) error {
	started := s.now()
	rec, err := s.schedules.Get(ctx, id)
	if err != nil {
		if types.IsNotFound(err) {
			s.cron.RemoveJob(id.String())
		}
		return err
	}

	logger := s.logger.With("schedule_id", id.String(), "workflow_id", rec.WorkflowID.String())
	entry := &database.ScheduleRun{
		ScheduleID:   rec.ID,
		WorkflowID:   rec.WorkflowID,
		WorkflowName: rec.WorkflowName,
		StartedAt:    started,
	}

	runErr := s.execute(ctx, rec, entry)
	entry.DurationSeconds = s.now().Sub(started).Seconds()
	if runErr != nil {
		entry.Status = string(workflow.WorkflowStatusFailed)
		entry.Error = runErr.Error()
	}

	if err := s.schedules.AddRun(ctx, entry); err != nil {
		logger.Warn("failed to record scheduled run", "error", err)
	}
	var next *time.Time
	if n, ok := s.cron.Next(id.String()); ok {
		next = &n
	}
	if err := s.schedules.RecordFire(ctx, id, started, next); err != nil {
		logger.Warn("failed to update schedule", "error", err)
	}

	if runErr != nil {
		return runErr
	}
	if entry.Status != string(workflow.WorkflowStatusCompleted) {
		logger.Warn("scheduled workflow did not complete", "status", entry.Status, "error", entry.Error)
		return nil
	}
	logger.Info("scheduled workflow completed", "duration_seconds", entry.DurationSeconds)
	return nil
}

func (s *Service) execute(ctx context.Context, rec *database.ScheduleRecord, entry *database.ScheduleRun) error {
	wf, err := s.runner.Load(ctx, rec.WorkflowID)
	if err != nil {
		return fmt.Errorf("failed to load workflow %s: %w", rec.WorkflowID, err)
	}
	res, err := s.runner.Execute(ctx, wf, workflow.TriggerSchedule)
	if err != nil {
		return fmt.Errorf("failed to execute workflow %s: %w", rec.WorkflowID, err)
	}
	entry.ExecutionID = res.ExecutionID
	entry.Status = string(res.Status)
	entry.Error = res.Error
	return nil
}
