package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/zero-day-ai/tideflow/internal/database"
	"github.com/zero-day-ai/tideflow/internal/handler"
)

// Config holds monitor settings.
type Config struct {
	Enabled       bool            `mapstructure:"enabled" yaml:"enabled"`
	CheckInterval time.Duration   `mapstructure:"check_interval" yaml:"check_interval" validate:"gte=0"`
	Window        time.Duration   `mapstructure:"window" yaml:"window" validate:"gte=0"`
	Retention     time.Duration   `mapstructure:"retention" yaml:"retention" validate:"gte=0"`
	DiskPath      string          `mapstructure:"disk_path" yaml:"disk_path"`
	HistoryLimit  int             `mapstructure:"history_limit" yaml:"history_limit" validate:"gte=0"`
	AlertRules    []Rule          `mapstructure:"alert_rules" yaml:"alert_rules" validate:"dive"`
	Channels      []ChannelConfig `mapstructure:"channels" yaml:"channels" validate:"dive"`
}

// DefaultConfig returns the monitor defaults: a 60s check over the last
// hour with the built-in rules and a log channel.
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		CheckInterval: 60 * time.Second,
		Window:        time.Hour,
		Retention:     30 * 24 * time.Hour,
		DiskPath:      "/",
		HistoryLimit:  DefaultHistoryLimit,
		AlertRules:    DefaultRules(),
		Channels:      []ChannelConfig{{Name: "log", Type: ChannelLog}},
	}
}

// Probe samples host values exposed under system.*.
type Probe func(ctx context.Context) (map[string]float64, error)

// SystemProbe reports disk usage of diskPath plus memory and load where the
// platform supports them.
func SystemProbe(diskPath string) Probe {
	return func(ctx context.Context) (map[string]float64, error) {
		values, err := hostStats()
		if err != nil {
			return nil, err
		}
		if diskPath != "" {
			disk, err := handler.DiskUsagePercent(diskPath)
			if err != nil {
				return values, err
			}
			values["disk_usage_percent"] = disk
		}
		return values, nil
	}
}

// Status summarizes the monitor.
type Status struct {
	MonitoringActive bool       `json:"monitoring_active"`
	ActiveAlerts     int        `json:"active_alerts"`
	TotalRules       int        `json:"total_rules"`
	Channels         []string   `json:"channels"`
	LastCheck        *time.Time `json:"last_check,omitempty"`
}

// Monitor periodically snapshots the collector and evaluates alerts.
type Monitor struct {
	cfg       Config
	collector *Collector
	alerts    *AlertManager
	store     database.MetricsDAO
	probe     Probe
	logger    *slog.Logger
	now       func() time.Time

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	lastCheck time.Time
}

// Option is a functional option for configuring the Monitor.
type Option func(*Monitor)

// WithConfig sets the monitor configuration.
func WithConfig(cfg Config) Option {
	return func(m *Monitor) {
		m.cfg = cfg
	}
}

// WithStore persists probe samples and prunes old metrics.
func WithStore(store database.MetricsDAO) Option {
	return func(m *Monitor) {
		m.store = store
	}
}

// WithProbe replaces the system probe.
func WithProbe(p Probe) Option {
	return func(m *Monitor) {
		m.probe = p
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		m.now = now
	}
}

// New creates a stopped monitor.
func New(collector *Collector, alerts *AlertManager, opts ...Option) *Monitor {
	m := &Monitor{
		cfg:       DefaultConfig(),
		collector: collector,
		alerts:    alerts,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.probe == nil {
		m.probe = SystemProbe(m.cfg.DiskPath)
	}
	if m.cfg.CheckInterval <= 0 {
		m.cfg.CheckInterval = 60 * time.Second
	}
	if m.cfg.Window <= 0 {
		m.cfg.Window = time.Hour
	}
	return m
}

// Start launches the check loop. The first check runs immediately.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.loop(ctx, m.done)
	m.logger.Info("workflow monitoring started", "interval", m.cfg.CheckInterval)
}

// Stop ends the check loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	m.logger.Info("workflow monitoring stopped")
}

func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check runs one monitoring pass and returns the alert transitions it
// caused. Probe and store failures are logged.
func (m *Monitor) Check(ctx context.Context) []Alert {
	now := m.now()

	values, err := m.probe(ctx)
	if err != nil {
		m.logger.WarnContext(ctx, "system probe failed", "error", err)
	}
	if values != nil {
		m.collector.SetSystem(values)
		m.persist(ctx, values, now)
	}

	transitions := m.alerts.Evaluate(ctx, m.collector.Snapshot(m.cfg.Window))

	if m.store != nil && m.cfg.Retention > 0 {
		if n, err := m.store.Prune(ctx, now.Add(-m.cfg.Retention)); err != nil {
			m.logger.WarnContext(ctx, "failed to prune metrics", "error", err)
		} else if n > 0 {
			m.logger.DebugContext(ctx, "pruned metrics", "rows", n)
		}
	}

	m.mu.Lock()
	m.lastCheck = now
	m.mu.Unlock()
	return transitions
}

func (m *Monitor) persist(ctx context.Context, values map[string]float64, at time.Time) {
	if m.store == nil {
		return
	}
	for name, v := range values {
		if err := m.store.RecordPerformance(ctx, &database.PerformanceSample{Name: name, Value: v, RecordedAt: at}); err != nil {
			m.logger.WarnContext(ctx, "failed to persist performance sample", "metric", name, "error", err)
			return
		}
	}
}

// Status reports whether the loop runs and the alert state.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	st := Status{MonitoringActive: m.cancel != nil}
	if !m.lastCheck.IsZero() {
		last := m.lastCheck
		st.LastCheck = &last
	}
	m.mu.Unlock()

	st.ActiveAlerts = len(m.alerts.Active())
	st.TotalRules = len(m.alerts.Rules())
	st.Channels = m.alerts.Channels()
	return st
}

// Collector returns the metrics collector.
func (m *Monitor) Collector() *Collector { return m.collector }

// Alerts returns the alert manager.
func (m *Monitor) Alerts() *AlertManager { return m.alerts }

// FromConfig builds the collector, alert manager and monitor described by
// cfg.
func FromConfig(cfg Config, store database.MetricsDAO, logger *slog.Logger, collectorOpts ...CollectorOption) (*Monitor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := append([]CollectorOption{WithCollectorLogger(logger)}, collectorOpts...)
	if store != nil {
		opts = append(opts, WithMetricsStore(store))
	}
	collector, err := NewCollector(opts...)
	if err != nil {
		return nil, err
	}

	channels := make([]Channel, 0, len(cfg.Channels))
	for _, cc := range cfg.Channels {
		ch, err := NewChannel(cc, logger)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	rules := cfg.AlertRules
	if rules == nil {
		rules = DefaultRules()
	}
	alerts, err := NewAlertManager(rules,
		WithChannels(channels...),
		WithHistoryLimit(cfg.HistoryLimit),
		WithAlertLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	monOpts := []Option{WithConfig(cfg), WithLogger(logger)}
	if store != nil {
		monOpts = append(monOpts, WithStore(store))
	}
	return New(collector, alerts, monOpts...), nil
}
