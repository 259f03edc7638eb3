package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cast"

	"github.com/zero-day-ai/tideflow/internal/types"
)

// DefaultHistoryLimit bounds the alert history.
const DefaultHistoryLimit = 1000

// Severity ranks an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// AlertState is the transition an alert record describes.
type AlertState string

const (
	AlertActivated AlertState = "activated"
	AlertResolved  AlertState = "resolved"
)

// Condition compares the metric at a dotted path against a threshold.
type Condition struct {
	Metric    string  `mapstructure:"metric" yaml:"metric" json:"metric" validate:"required"`
	Operator  string  `mapstructure:"operator" yaml:"operator" json:"operator" validate:"required,oneof=> < >= <= == !="`
	Threshold float64 `mapstructure:"threshold" yaml:"threshold" json:"threshold"`
}

// Rule is a named alert condition.
type Rule struct {
	Name      string    `mapstructure:"name" yaml:"name" json:"name" validate:"required"`
	Condition Condition `mapstructure:"condition" yaml:"condition" json:"condition"`
	Severity  Severity  `mapstructure:"severity" yaml:"severity" json:"severity" validate:"omitempty,oneof=info warning critical"`
	Message   string    `mapstructure:"message" yaml:"message" json:"message"`
}

// DefaultRules returns the built-in alert rules.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:      "high_failure_rate",
			Condition: Condition{Metric: "failure_rate", Operator: ">", Threshold: 50},
			Severity:  SeverityWarning,
			Message:   "High failure rate detected in workflows",
		},
		{
			Name:      "workflow_stuck",
			Condition: Condition{Metric: "max_execution_time", Operator: ">", Threshold: 3600},
			Severity:  SeverityCritical,
			Message:   "Workflow execution time exceeded threshold",
		},
	}
}

// Alert is one activation or resolution record.
type Alert struct {
	Rule        string     `json:"rule"`
	State       AlertState `json:"state"`
	Severity    Severity   `json:"severity"`
	Message     string     `json:"message"`
	Metric      string     `json:"metric"`
	Operator    string     `json:"operator"`
	Threshold   float64    `json:"threshold"`
	Value       float64    `json:"value"`
	ActivatedAt time.Time  `json:"activated_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

// Channel delivers alerts.
type Channel interface {
	Name() string
	Send(ctx context.Context, alert Alert) error
}

// AlertManager evaluates rules against metric snapshots.
type AlertManager struct {
	rules    []Rule
	channels []Channel
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	active  map[string]Alert
	history *ring
}

// AlertOption is a functional option for configuring the AlertManager.
type AlertOption func(*AlertManager)

// WithChannels sets the notification channels.
func WithChannels(channels ...Channel) AlertOption {
	return func(m *AlertManager) {
		m.channels = append(m.channels, channels...)
	}
}

// WithHistoryLimit sets the alert history capacity.
func WithHistoryLimit(n int) AlertOption {
	return func(m *AlertManager) {
		if n > 0 {
			m.history = newRing(n)
		}
	}
}

// WithAlertLogger sets the structured logger.
func WithAlertLogger(logger *slog.Logger) AlertOption {
	return func(m *AlertManager) {
		m.logger = logger
	}
}

// WithAlertClock replaces time.Now.
func WithAlertClock(now func() time.Time) AlertOption {
	return func(m *AlertManager) {
		m.now = now
	}
}

// NewAlertManager validates rules and creates a manager.
func NewAlertManager(rules []Rule, opts ...AlertOption) (*AlertManager, error) {
	seen := make(map[string]bool, len(rules))
	checked := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if err := validateRule(r); err != nil {
			return nil, err
		}
		if seen[r.Name] {
			return nil, types.NewErrorf(types.CONFIG_INVALID_ALERT_RULE, "duplicate alert rule %q", r.Name)
		}
		seen[r.Name] = true
		if r.Severity == "" {
			r.Severity = SeverityWarning
		}
		if r.Message == "" {
			r.Message = "Alert triggered: " + r.Name
		}
		checked = append(checked, r)
	}

	m := &AlertManager{
		rules:   checked,
		logger:  slog.Default(),
		now:     time.Now,
		active:  make(map[string]Alert),
		history: newRing(DefaultHistoryLimit),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func validateRule(r Rule) error {
	if r.Name == "" {
		return types.NewError(types.CONFIG_INVALID_ALERT_RULE, "alert rule name is required")
	}
	if r.Condition.Metric == "" {
		return types.NewErrorf(types.CONFIG_INVALID_ALERT_RULE, "alert rule %q: metric is required", r.Name)
	}
	if _, ok := operators[r.Condition.Operator]; !ok {
		return types.NewErrorf(types.CONFIG_INVALID_ALERT_RULE, "alert rule %q: unsupported operator %q", r.Name, r.Condition.Operator)
	}
	switch r.Severity {
	case "", SeverityInfo, SeverityWarning, SeverityCritical:
	default:
		return types.NewErrorf(types.CONFIG_INVALID_ALERT_RULE, "alert rule %q: unknown severity %q", r.Name, r.Severity)
	}
	return nil
}

var operators = map[string]func(v, t float64) bool{
	">":  func(v, t float64) bool { return v > t },
	"<":  func(v, t float64) bool { return v < t },
	">=": func(v, t float64) bool { return v >= t },
	"<=": func(v, t float64) bool { return v <= t },
	"==": func(v, t float64) bool { return v == t },
	"!=": func(v, t float64) bool { return v != t },
}

// Evaluate checks every rule against m and returns the transitions it
// caused. A rule fires once per activation; a missing or non-numeric metric
// counts as not firing. Channels are notified after the state is updated.
func (m *AlertManager) Evaluate(ctx context.Context, metrics Metrics) []Alert {
	now := m.now()
	var transitions []Alert

	m.mu.Lock()
	for _, r := range m.rules {
		value, firing := evaluate(r.Condition, metrics)
		prev, active := m.active[r.Name]
		switch {
		case firing && !active:
			a := Alert{
				Rule:        r.Name,
				State:       AlertActivated,
				Severity:    r.Severity,
				Message:     r.Message,
				Metric:      r.Condition.Metric,
				Operator:    r.Condition.Operator,
				Threshold:   r.Condition.Threshold,
				Value:       value,
				ActivatedAt: now,
			}
			m.active[r.Name] = a
			m.history.push(a)
			transitions = append(transitions, a)
		case !firing && active:
			resolved := now
			a := prev
			a.State = AlertResolved
			a.ResolvedAt = &resolved
			a.Value = value
			delete(m.active, r.Name)
			m.history.push(a)
			transitions = append(transitions, a)
		}
	}
	m.mu.Unlock()

	for _, a := range transitions {
		if a.State == AlertActivated {
			m.logger.WarnContext(ctx, "alert activated", "rule", a.Rule, "severity", string(a.Severity), "value", a.Value)
		} else {
			m.logger.InfoContext(ctx, "alert resolved", "rule", a.Rule)
		}
		m.dispatch(ctx, a)
	}
	return transitions
}

func (m *AlertManager) dispatch(ctx context.Context, a Alert) {
	for _, ch := range m.channels {
		if err := ch.Send(ctx, a); err != nil {
			m.logger.WarnContext(ctx, "alert delivery failed",
				"channel", ch.Name(), "rule", a.Rule, "error", err)
		}
	}
}

func evaluate(c Condition, metrics Metrics) (float64, bool) {
	raw, ok := lookup(metrics, c.Metric)
	if !ok {
		return 0, false
	}
	value, err := cast.ToFloat64E(raw)
	if err != nil {
		return 0, false
	}
	op, ok := operators[c.Operator]
	if !ok {
		return value, false
	}
	return value, op(value, c.Threshold)
}

// lookup resolves a dotted path through nested maps.
func lookup(metrics Metrics, path string) (any, bool) {
	var cur any = map[string]any(metrics)
	for _, part := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[part]
			if !ok {
				return nil, false
			}
			cur = v
		case Metrics:
			v, ok := node[part]
			if !ok {
				return nil, false
			}
			cur = v
		case map[string]float64:
			v, ok := node[part]
			if !ok {
				return nil, false
			}
			cur = v
		default:
			return nil, false
		}
	}
	return cur, true
}

// Active returns the active alerts ordered by rule name.
func (m *AlertManager) Active() []Alert {
	m.mu.Lock()
	out := make([]Alert, 0, len(m.active))
	for _, a := range m.active {
		out = append(out, a)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Rule < out[j].Rule })
	return out
}

// History returns up to limit of the most recent records, oldest first.
// A non-positive limit returns everything retained.
func (m *AlertManager) History(limit int) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.history.items()
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all
}

// Rules returns the configured rules.
func (m *AlertManager) Rules() []Rule {
	return append([]Rule(nil), m.rules...)
}

// Channels returns the configured channel names.
func (m *AlertManager) Channels() []string {
	names := make([]string, len(m.channels))
	for i, ch := range m.channels {
		names[i] = ch.Name()
	}
	return names
}

// ring is a fixed-capacity buffer that drops the oldest entry when full.
type ring struct {
	buf   []Alert
	start int
	size  int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Alert, capacity)}
}

func (r *ring) push(a Alert) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = a
		r.size++
		return
	}
	r.buf[r.start] = a
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) items() []Alert {
	out := make([]Alert, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

func (a Alert) String() string {
	return fmt.Sprintf("[%s] %s %s: %s (%s %s %g, value %g)",
		strings.ToUpper(string(a.Severity)), a.Rule, a.State, a.Message,
		a.Metric, a.Operator, a.Threshold, a.Value)
}
