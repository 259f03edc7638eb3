package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/zero-day-ai/tideflow/cmd/tideflow/internal"
	"github.com/zero-day-ai/tideflow/internal/types"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage cron schedules for workflows",
	Long: `Bind workflows to cron expressions. Bindings are stored in the database
and fire while 'tideflow serve' is running.

Expressions have five fields (minute hour day-of-month month day-of-week),
an optional leading seconds field, or a descriptor such as @hourly.`,
}

var scheduleAddCmd = &cobra.Command{
	Use:     "add <workflow-id> <cron-expression>",
	Short:   "Schedule a workflow",
	Example: `  tideflow schedule add 3f0c9a4e-1b2d-4c5e-8f70-1a2b3c4d5e6f "0 2 * * *"`,
	Args:    cobra.ExactArgs(2),
	RunE:    runScheduleAdd,
}

var scheduleRemoveCmd = &cobra.Command{
	Use:   "remove <schedule-id>",
	Short: "Remove a schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleRemove,
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List schedules",
	Args:  cobra.NoArgs,
	RunE:  runScheduleList,
}

var scheduleStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show scheduler statistics",
	Args:  cobra.NoArgs,
	RunE:  runScheduleStats,
}

var scheduleEnableCmd = &cobra.Command{
	Use:   "enable <schedule-id>",
	Short: "Enable a schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleEnable,
}

var scheduleDisableCmd = &cobra.Command{
	Use:   "disable <schedule-id>",
	Short: "Disable a schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleDisable,
}

var scheduleHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent scheduled executions",
	Args:  cobra.NoArgs,
	RunE:  runScheduleHistory,
}

var scheduleHistoryLimit int

func init() {
	scheduleHistoryCmd.Flags().IntVarP(&scheduleHistoryLimit, "limit", "n", 0, "Number of entries (default from scheduler.history_limit)")

	scheduleCmd.AddCommand(scheduleAddCmd)
	scheduleCmd.AddCommand(scheduleRemoveCmd)
	scheduleCmd.AddCommand(scheduleListCmd)
	scheduleCmd.AddCommand(scheduleStatsCmd)
	scheduleCmd.AddCommand(scheduleEnableCmd)
	scheduleCmd.AddCommand(scheduleDisableCmd)
	scheduleCmd.AddCommand(scheduleHistoryCmd)
}

func runScheduleAdd(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close(cmd.Context())

	rec, err := a.scheduler.AddSchedule(cmd.Context(), types.ID(args[0]), args[1])
	if err != nil {
		return err
	}

	out := printer(cmd)
	if out.JSON() {
		return out.Value(rec)
	}
	return out.Success(fmt.Sprintf("Scheduled %s (%s) as %s, next run %s",
		rec.WorkflowName, rec.CronExpression, rec.ID, formatTime(rec.NextRun)))
}

func runScheduleRemove(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close(cmd.Context())

	if err := a.scheduler.RemoveSchedule(cmd.Context(), types.ID(args[0])); err != nil {
		return err
	}
	return printer(cmd).Success("Removed schedule " + args[0])
}

func runScheduleEnable(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close(cmd.Context())

	if err := a.scheduler.Enable(cmd.Context(), types.ID(args[0])); err != nil {
		return err
	}
	return printer(cmd).Success("Enabled schedule " + args[0])
}

func runScheduleDisable(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close(cmd.Context())

	if err := a.scheduler.Disable(cmd.Context(), types.ID(args[0])); err != nil {
		return err
	}
	return printer(cmd).Success("Disabled schedule " + args[0])
}

func runScheduleList(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close(cmd.Context())

	list, err := a.scheduler.ListScheduled(cmd.Context())
	if err != nil {
		return err
	}

	out := printer(cmd)
	if out.JSON() {
		return out.Value(list)
	}
	if len(list) == 0 {
		out.Line("No schedules found")
		return nil
	}
	rows := make([][]string, 0, len(list))
	for _, rec := range list {
		rows = append(rows, []string{
			rec.ID.String(),
			rec.WorkflowName,
			rec.CronExpression,
			strconv.FormatBool(rec.Enabled),
			formatTime(rec.LastRun),
			formatTime(rec.NextRun),
			strconv.Itoa(rec.RunCount),
		})
	}
	return out.Table([]string{"id", "workflow", "cron", "enabled", "last run", "next run", "runs"}, rows)
}

func runScheduleStats(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close(cmd.Context())

	st, err := a.scheduler.Stats(cmd.Context())
	if err != nil {
		return err
	}

	out := printer(cmd)
	if out.JSON() {
		return out.Value(st)
	}
	return out.Details([]internal.Field{
		{Label: "Scheduled workflows", Value: strconv.Itoa(st.TotalScheduled)},
		{Label: "Active", Value: strconv.Itoa(st.ActiveScheduled)},
		{Label: "Executions", Value: strconv.Itoa(st.TotalExecutions)},
		{Label: "Successful", Value: strconv.Itoa(st.SuccessfulExecutions)},
		{Label: "Last 24h", Value: strconv.Itoa(st.RecentExecutions)},
		{Label: "Success rate", Value: fmt.Sprintf("%.1f%%", st.SuccessRate)},
	})
}

func runScheduleHistory(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close(cmd.Context())

	runs, err := a.scheduler.History(cmd.Context(), scheduleHistoryLimit)
	if err != nil {
		return err
	}

	out := printer(cmd)
	if out.JSON() {
		return out.Value(runs)
	}
	if len(runs) == 0 {
		out.Line("No scheduled executions recorded")
		return nil
	}
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		started := r.StartedAt
		rows = append(rows, []string{
			formatTime(&started),
			r.WorkflowName,
			r.Status,
			fmt.Sprintf("%.2fs", r.DurationSeconds),
			r.Error,
		})
	}
	return out.Table([]string{"started", "workflow", "status", "duration", "error"}, rows)
}
