// Package monitor collects workflow execution metrics, evaluates alert rules
// against them and delivers alerts to notification channels.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/zero-day-ai/tideflow/internal/database"
	"github.com/zero-day-ai/tideflow/internal/types"
	"github.com/zero-day-ai/tideflow/internal/workflow"
)

// Instrument names.
const (
	MetricExecutions = "tideflow.workflow.executions"
	MetricDuration   = "tideflow.workflow.duration"
	MetricTaskCount  = "tideflow.task.count"
)

// Persisted sample names.
const (
	SampleExecutionTime = "execution_time"
	SampleTaskCount     = "task_count"
	SampleSuccess       = "success"
)

// maxSamples bounds the per-workflow sample history.
const maxSamples = 100

// Metrics is the alert input. Nested maps are addressed with dotted paths.
type Metrics map[string]any

type sample struct {
	at       time.Time
	duration float64
	success  bool
}

type workflowStats struct {
	name       string
	executions int
	successes  int
	failures   int
	errors     int
	samples    []sample
}

// WorkflowSummary is the rolling view of one workflow.
type WorkflowSummary struct {
	WorkflowID  types.ID `json:"workflow_id"`
	Name        string   `json:"name"`
	Executions  int      `json:"executions"`
	Successes   int      `json:"successes"`
	Failures    int      `json:"failures"`
	SuccessRate float64  `json:"success_rate"`
	AvgDuration float64  `json:"avg_duration"`
	ErrorCount  int      `json:"error_count"`
}

// Collector aggregates run outcomes. It implements engine.Recorder.
type Collector struct {
	store  database.MetricsDAO
	logger *slog.Logger
	now    func() time.Time

	executions metric.Int64Counter
	duration   metric.Float64Histogram
	taskCount  metric.Int64Histogram

	mu      sync.Mutex
	stats   map[types.ID]*workflowStats
	running map[types.ID]struct{}
	system  map[string]float64
}

// CollectorOption is a functional option for configuring the Collector.
type CollectorOption func(*collectorOptions)

type collectorOptions struct {
	store    database.MetricsDAO
	provider metric.MeterProvider
	logger   *slog.Logger
	now      func() time.Time
}

// WithMetricsStore persists every sample.
func WithMetricsStore(store database.MetricsDAO) CollectorOption {
	return func(o *collectorOptions) {
		o.store = store
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider.
func WithMeterProvider(mp metric.MeterProvider) CollectorOption {
	return func(o *collectorOptions) {
		o.provider = mp
	}
}

// WithCollectorLogger sets the structured logger.
func WithCollectorLogger(logger *slog.Logger) CollectorOption {
	return func(o *collectorOptions) {
		o.logger = logger
	}
}

// WithCollectorClock replaces time.Now.
func WithCollectorClock(now func() time.Time) CollectorOption {
	return func(o *collectorOptions) {
		o.now = now
	}
}

// NewCollector creates a collector and registers its instruments.
func NewCollector(opts ...CollectorOption) (*Collector, error) {
	o := &collectorOptions{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.provider == nil {
		o.provider = otel.GetMeterProvider()
	}

	meter := o.provider.Meter("github.com/zero-day-ai/tideflow/internal/monitor")
	executions, err := meter.Int64Counter(MetricExecutions,
		metric.WithDescription("Finished workflow executions"))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s counter: %w", MetricExecutions, err)
	}
	duration, err := meter.Float64Histogram(MetricDuration,
		metric.WithDescription("Workflow execution duration"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s histogram: %w", MetricDuration, err)
	}
	taskCount, err := meter.Int64Histogram(MetricTaskCount,
		metric.WithDescription("Tasks per workflow execution"))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s histogram: %w", MetricTaskCount, err)
	}

	return &Collector{
		store:      o.store,
		logger:     o.logger,
		now:        o.now,
		executions: executions,
		duration:   duration,
		taskCount:  taskCount,
		stats:      make(map[types.ID]*workflowStats),
		running:    make(map[types.ID]struct{}),
		system:     make(map[string]float64),
	}, nil
}

// RunStarted marks wf as running.
func (c *Collector) RunStarted(wf *workflow.Workflow) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running[wf.ID] = struct{}{}
}

// RunFinished records the outcome of a run.
func (c *Collector) RunFinished(ctx context.Context, snap *workflow.Snapshot, duration time.Duration) {
	c.Record(ctx, snap.ID, snap.Name, snap.Status, duration, len(snap.Tasks))
}

// Record adds one execution outcome. Only COMPLETED counts as a success.
func (c *Collector) Record(ctx context.Context, id types.ID, name string, status workflow.WorkflowStatus, duration time.Duration, tasks int) {
	now := c.now()
	seconds := duration.Seconds()
	success := status == workflow.WorkflowStatusCompleted

	c.mu.Lock()
	delete(c.running, id)
	st, ok := c.stats[id]
	if !ok {
		st = &workflowStats{}
		c.stats[id] = st
	}
	st.name = name
	st.executions++
	if success {
		st.successes++
	} else {
		st.failures++
		st.errors++
	}
	st.samples = append(st.samples, sample{at: now, duration: seconds, success: success})
	if len(st.samples) > maxSamples {
		st.samples = st.samples[len(st.samples)-maxSamples:]
	}
	c.mu.Unlock()

	attrs := metric.WithAttributes(
		attribute.String("workflow.name", name),
		attribute.String("workflow.status", string(status)),
	)
	c.executions.Add(ctx, 1, attrs)
	c.duration.Record(ctx, seconds, attrs)
	c.taskCount.Record(ctx, int64(tasks), attrs)

	if c.store == nil {
		return
	}
	meta := map[string]any{"workflow_name": name, "status": string(status)}
	successValue := 0.0
	if success {
		successValue = 1
	}
	for _, s := range []*database.MetricSample{
		{WorkflowID: id, Name: SampleExecutionTime, Value: seconds, RecordedAt: now, Metadata: meta},
		{WorkflowID: id, Name: SampleTaskCount, Value: float64(tasks), RecordedAt: now, Metadata: meta},
		{WorkflowID: id, Name: SampleSuccess, Value: successValue, RecordedAt: now, Metadata: meta},
	} {
		if err := c.store.Record(ctx, s); err != nil {
			c.logger.WarnContext(ctx, "failed to persist metric sample",
				"workflow_id", id.String(), "metric", s.Name, "error", err)
			return
		}
	}
}

// SetSystem replaces the host values exposed under system.* in snapshots.
func (c *Collector) SetSystem(values map[string]float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.system = make(map[string]float64, len(values))
	for k, v := range values {
		c.system[k] = v
	}
}

// Snapshot returns the alert input for executions finished within window.
func (c *Collector) Snapshot(window time.Duration) Metrics {
	cutoff := c.now().Add(-window)

	c.mu.Lock()
	defer c.mu.Unlock()

	var (
		workflows, failedWorkflows int
		executions, failures       int
		total, longest             float64
	)
	for _, st := range c.stats {
		seen, failed := false, false
		for _, s := range st.samples {
			if s.at.Before(cutoff) {
				continue
			}
			seen = true
			executions++
			total += s.duration
			longest = max(longest, s.duration)
			if !s.success {
				failures++
				failed = true
			}
		}
		if seen {
			workflows++
		}
		if failed {
			failedWorkflows++
		}
	}

	system := make(map[string]any, len(c.system))
	for k, v := range c.system {
		system[k] = v
	}

	m := Metrics{
		"total_workflows":    workflows,
		"running_workflows":  len(c.running),
		"failed_workflows":   failedWorkflows,
		"total_executions":   executions,
		"avg_execution_time": 0.0,
		"max_execution_time": longest,
		"failure_rate":       float64(failures) / float64(max(executions, 1)) * 100,
		"system":             system,
	}
	if executions > 0 {
		m["avg_execution_time"] = total / float64(executions)
	}
	return m
}

// Summary returns the rolling per-workflow view ordered by name.
func (c *Collector) Summary() []WorkflowSummary {
	c.mu.Lock()
	out := make([]WorkflowSummary, 0, len(c.stats))
	for id, st := range c.stats {
		sum := WorkflowSummary{
			WorkflowID: id,
			Name:       st.name,
			Executions: st.executions,
			Successes:  st.successes,
			Failures:   st.failures,
			ErrorCount: st.errors,
		}
		if st.executions > 0 {
			sum.SuccessRate = float64(st.successes) / float64(st.executions) * 100
		}
		if len(st.samples) > 0 {
			var total float64
			for _, s := range st.samples {
				total += s.duration
			}
			sum.AvgDuration = total / float64(len(st.samples))
		}
		out = append(out, sum)
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].WorkflowID < out[j].WorkflowID
	})
	return out
}

// Aggregate returns persisted aggregates over the last window. A non-empty
// workflowID restricts the result to that workflow.
func (c *Collector) Aggregate(ctx context.Context, window time.Duration, workflowID types.ID) ([]*database.MetricAggregate, error) {
	if c.store == nil {
		return nil, types.NewError(types.CONFIG_MISSING_FIELD, "metrics store is not configured")
	}
	aggs, err := c.store.Aggregate(ctx, c.now().Add(-window))
	if err != nil {
		return nil, err
	}
	if workflowID.IsZero() {
		return aggs, nil
	}
	out := aggs[:0]
	for _, a := range aggs {
		if a.WorkflowID == workflowID {
			out = append(out, a)
		}
	}
	return out, nil
}
