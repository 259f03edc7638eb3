package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/tideflow/internal/types"
	"github.com/zero-day-ai/tideflow/internal/workflow"
)

func fixedProbe(values map[string]float64, err error) Probe {
	return func(context.Context) (map[string]float64, error) {
		return values, err
	}
}

func TestMonitor_CheckEvaluatesSnapshot(t *testing.T) {
	store := openStore(t)
	collector, err := NewCollector(WithMetricsStore(store))
	require.NoError(t, err)

	rules := append(DefaultRules(), Rule{
		Name:      "disk_full",
		Condition: Condition{Metric: "system.disk_usage_percent", Operator: ">", Threshold: 90},
		Severity:  SeverityCritical,
	})
	ch := &recordingChannel{name: "rec"}
	alerts, err := NewAlertManager(rules, WithChannels(ch))
	require.NoError(t, err)

	m := New(collector, alerts,
		WithStore(store),
		WithProbe(fixedProbe(map[string]float64{"disk_usage_percent": 95}, nil)),
	)
	ctx := context.Background()

	id := types.NewID()
	for i := 0; i < 3; i++ {
		collector.Record(ctx, id, "nightly", workflow.WorkflowStatusFailed, time.Second, 1)
	}
	collector.Record(ctx, id, "nightly", workflow.WorkflowStatusCompleted, time.Second, 1)

	got := m.Check(ctx)
	rulesFired := []string{}
	for _, a := range got {
		rulesFired = append(rulesFired, a.Rule)
	}
	assert.ElementsMatch(t, []string{"high_failure_rate", "disk_full"}, rulesFired)
	assert.Len(t, ch.alerts(), 2)

	perf, err := store.Performance(ctx, "disk_usage_percent", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, perf, 1)
	assert.Equal(t, 95.0, perf[0].Value)

	st := m.Status()
	assert.False(t, st.MonitoringActive)
	assert.Equal(t, 2, st.ActiveAlerts)
	assert.Equal(t, 3, st.TotalRules)
	require.NotNil(t, st.LastCheck)
}

func TestMonitor_ProbeFailureStillEvaluates(t *testing.T) {
	collector, err := NewCollector()
	require.NoError(t, err)
	alerts, err := NewAlertManager(DefaultRules())
	require.NoError(t, err)
	m := New(collector, alerts, WithProbe(fixedProbe(nil, errors.New("statfs: permission denied"))))

	ctx := context.Background()
	collector.Record(ctx, types.NewID(), "slow", workflow.WorkflowStatusCompleted, 2*time.Hour, 1)
	got := m.Check(ctx)
	require.Len(t, got, 1)
	assert.Equal(t, "workflow_stuck", got[0].Rule)
}

func TestMonitor_StartStop(t *testing.T) {
	collector, err := NewCollector()
	require.NoError(t, err)
	alerts, err := NewAlertManager(DefaultRules())
	require.NoError(t, err)

	checked := make(chan struct{}, 16)
	cfg := DefaultConfig()
	cfg.CheckInterval = 5 * time.Millisecond
	m := New(collector, alerts, WithConfig(cfg), WithProbe(func(context.Context) (map[string]float64, error) {
		select {
		case checked <- struct{}{}:
		default:
		}
		return map[string]float64{}, nil
	}))

	m.Start(context.Background())
	m.Start(context.Background())
	assert.True(t, m.Status().MonitoringActive)

	for i := 0; i < 2; i++ {
		select {
		case <-checked:
		case <-time.After(5 * time.Second):
			t.Fatal("monitor loop did not run")
		}
	}

	m.Stop()
	m.Stop()
	assert.False(t, m.Status().MonitoringActive)
}

func TestFromConfig(t *testing.T) {
	cfg := DefaultConfig()
	m, err := FromConfig(cfg, openStore(t), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, m.Status().TotalRules)
	assert.Equal(t, []string{"log"}, m.Status().Channels)
	assert.NotNil(t, m.Collector())
	assert.NotNil(t, m.Alerts())

	cfg.Channels = append(cfg.Channels, ChannelConfig{Name: "pager", Type: "pager"})
	_, err = FromConfig(cfg, nil, nil)
	assert.Equal(t, types.CONFIG_UNKNOWN_CHANNEL, types.CodeOf(err))

	cfg = DefaultConfig()
	cfg.AlertRules = []Rule{{Name: "bad", Condition: Condition{Metric: "x", Operator: "~"}}}
	_, err = FromConfig(cfg, nil, nil)
	assert.Equal(t, types.CONFIG_INVALID_ALERT_RULE, types.CodeOf(err))
}
