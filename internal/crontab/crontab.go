// Package crontab runs callbacks on cron schedules from a single polling loop.
package crontab

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/zero-day-ai/tideflow/internal/types"
)

// DefaultInterval is how often the loop looks for due jobs.
const DefaultInterval = 30 * time.Second

// parser accepts the standard five fields, an optional leading seconds field
// and descriptors such as @hourly or @every 5m.
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Parse validates expr and returns its schedule.
func Parse(expr string) (cron.Schedule, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, types.WrapError(types.CONFIG_INVALID_CRON,
			fmt.Sprintf("invalid cron expression %q", expr), err)
	}
	return sched, nil
}

// Validate reports whether expr is a usable cron expression.
func Validate(expr string) error {
	_, err := Parse(expr)
	return err
}

// NextAfter returns the first fire time of expr strictly after t.
func NextAfter(expr string, t time.Time) (time.Time, error) {
	sched, err := Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(t), nil
}

// Callback is invoked on its own goroutine each time a job fires.
type Callback func(ctx context.Context) error

// Job is a read-only view of a registered job.
type Job struct {
	ID         string     `json:"id"`
	Expression string     `json:"expression"`
	Next       time.Time  `json:"next"`
	Last       *time.Time `json:"last,omitempty"`
	Fires      int        `json:"fires"`
}

type entry struct {
	id       string
	expr     string
	schedule cron.Schedule
	callback Callback
	next     time.Time
	last     time.Time
	fires    int
}

func (e *entry) view() Job {
	j := Job{ID: e.id, Expression: e.expr, Next: e.next, Fires: e.fires}
	if !e.last.IsZero() {
		last := e.last
		j.Last = &last
	}
	return j
}

// Scheduler owns a set of jobs and the loop that fires them.
type Scheduler struct {
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu      sync.Mutex
	jobs    map[string]*entry
	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}

	inflight sync.WaitGroup
}

// Option is a functional option for configuring the Scheduler.
type Option func(*Scheduler)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// New creates a stopped scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		interval: DefaultInterval,
		now:      time.Now,
		logger:   slog.Default(),
		jobs:     make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddJob registers cb under id, replacing any job with the same id, and
// returns the first fire time. An invalid expression leaves the job set
// unchanged.
func (s *Scheduler) AddJob(id, expr string, cb Callback) (time.Time, error) {
	if cb == nil {
		return time.Time{}, types.NewError(types.CONFIG_MISSING_FIELD, "cron job callback is required")
	}
	sched, err := Parse(expr)
	if err != nil {
		return time.Time{}, err
	}

	next := sched.Next(s.now())
	s.mu.Lock()
	s.jobs[id] = &entry{
		id:       id,
		expr:     expr,
		schedule: sched,
		callback: cb,
		next:     next,
	}
	s.mu.Unlock()

	s.logger.Debug("cron job registered", "job_id", id, "expression", expr, "next", next)
	return next, nil
}

// RemoveJob unregisters id and reports whether it existed.
func (s *Scheduler) RemoveJob(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return false
	}
	delete(s.jobs, id)
	return true
}

// Next returns the next fire time of id.
func (s *Scheduler) Next(id string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[id]
	if !ok {
		return time.Time{}, false
	}
	return e.next, true
}

// Jobs returns every registered job ordered by id.
func (s *Scheduler) Jobs() []Job {
	s.mu.Lock()
	out := make([]Job, 0, len(s.jobs))
	for _, e := range s.jobs {
		out = append(out, e.view())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of registered jobs.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Start launches the polling loop. Callbacks receive a context derived from
// ctx. Starting a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.stopped = make(chan struct{})
	go s.loop(s.ctx, s.stopped)
	s.logger.Info("cron scheduler started", "interval", s.interval, "jobs", len(s.jobs))
}

// Stop ends the polling loop and waits for in-flight callbacks to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, stopped := s.cancel, s.stopped
	s.cancel, s.stopped = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-stopped
	s.inflight.Wait()
	s.logger.Info("cron scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, stopped chan struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(s.now())
		}
	}
}

// Tick fires every job due at now and returns how many fired. Each fired
// job's next time is recomputed strictly after now.
func (s *Scheduler) Tick(now time.Time) int {
	s.mu.Lock()
	ctx := s.ctx
	var due []*entry
	for _, e := range s.jobs {
		if e.next.IsZero() || now.Before(e.next) {
			continue
		}
		e.last = now
		e.fires++
		e.next = e.schedule.Next(now)
		due = append(due, e)
	}
	s.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	for _, e := range due {
		s.inflight.Add(1)
		go s.fire(ctx, e.id, e.callback)
	}
	return len(due)
}

func (s *Scheduler) fire(ctx context.Context, id string, cb Callback) {
	defer s.inflight.Done()
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("cron job panicked", "job_id", id, "panic", p)
		}
	}()

	s.logger.Debug("cron job fired", "job_id", id)
	if err := cb(ctx); err != nil {
		s.logger.Warn("cron job failed", "job_id", id, "error", err)
	}
}

// Wait blocks until every callback started so far has returned.
func (s *Scheduler) Wait() {
	s.inflight.Wait()
}
