package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/zero-day-ai/tideflow/cmd/tideflow/internal"
	"github.com/zero-day-ai/tideflow/internal/database"
	"github.com/zero-day-ai/tideflow/internal/types"
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show aggregated workflow metrics",
	Long: `Show per-workflow aggregates (average, minimum, maximum, count) of the
recorded execution metrics over a time window.`,
	Example: `  tideflow metrics --window 24h
  tideflow metrics --window 7d --workflow 3f0c9a4e-1b2d-4c5e-8f70-1a2b3c4d5e6f`,
	Args: cobra.NoArgs,
	RunE: runMetrics,
}

var (
	metricsWindow   string
	metricsWorkflow string
)

func init() {
	metricsCmd.Flags().StringVar(&metricsWindow, "window", "24h", "Time window (Go duration, or Nd for days)")
	metricsCmd.Flags().StringVar(&metricsWorkflow, "workflow", "", "Restrict to one workflow id")
}

// parseWindow accepts Go durations plus a whole-day suffix such as 7d.
func parseWindow(s string) (time.Duration, error) {
	var days int
	if n, err := fmt.Sscanf(s, "%dd", &days); err == nil && n == 1 && fmt.Sprintf("%dd", days) == s {
		if days <= 0 {
			return 0, fmt.Errorf("window must be positive: %s", s)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid window %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("window must be positive: %s", s)
	}
	return d, nil
}

type metricsReport struct {
	Window     string                      `json:"window"`
	WorkflowID types.ID                    `json:"workflow_id,omitempty"`
	Executions database.ExecutionCounts    `json:"executions"`
	Aggregates []*database.MetricAggregate `json:"aggregates"`
}

func runMetrics(cmd *cobra.Command, args []string) error {
	window, err := parseWindow(metricsWindow)
	if err != nil {
		return internal.WrapError(internal.ExitConfigError, "invalid --window", err)
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close(cmd.Context())

	ctx := cmd.Context()
	workflowID := types.ID(metricsWorkflow)
	aggs, err := a.monitor.Collector().Aggregate(ctx, window, workflowID)
	if err != nil {
		return err
	}
	counts, err := database.NewExecutionDAO(a.db).CountSince(ctx, time.Now().Add(-window))
	if err != nil {
		return err
	}

	report := metricsReport{
		Window:     metricsWindow,
		WorkflowID: workflowID,
		Executions: counts,
		Aggregates: aggs,
	}

	out := printer(cmd)
	if out.JSON() {
		return out.Value(report)
	}

	if err := out.Details([]internal.Field{
		{Label: "Window", Value: metricsWindow},
		{Label: "Executions", Value: fmt.Sprintf("%d (%d failed, %d running)", counts.Total, counts.Failed, counts.Running)},
	}); err != nil {
		return err
	}
	if len(aggs) == 0 {
		out.Line("\nNo metrics recorded in this window")
		return nil
	}
	out.Line()
	rows := make([][]string, 0, len(aggs))
	for _, m := range aggs {
		rows = append(rows, []string{
			m.WorkflowID.Short(),
			m.Name,
			fmt.Sprintf("%.2f", m.Avg),
			fmt.Sprintf("%.2f", m.Min),
			fmt.Sprintf("%.2f", m.Max),
			fmt.Sprintf("%d", m.Count),
		})
	}
	return out.Table([]string{"workflow", "metric", "avg", "min", "max", "count"}, rows)
}
