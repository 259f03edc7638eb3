package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/zero-day-ai/tideflow/cmd/tideflow/internal"
	"github.com/zero-day-ai/tideflow/internal/engine"
	"github.com/zero-day-ai/tideflow/internal/types"
	"github.com/zero-day-ai/tideflow/internal/workflow"
)

// workflowCmd is the root command for workflow operations
var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Create, run and inspect workflows",
}

var workflowCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a workflow from a template or a definition file",
	Long: `Create a workflow and store its definition.

A template is looked up by name in the engine's templates directory and
rendered with the --var values. A definition file is YAML or JSON.`,
	Example: `  # Create from a template
  tideflow workflow create --template backup --var source=/srv/data --var dest=/backups

  # Create from a definition file
  tideflow workflow create --file nightly.yaml`,
	Args: cobra.NoArgs,
	RunE: runWorkflowCreate,
}

var workflowRunCmd = &cobra.Command{
	Use:   "run [workflow-id]",
	Short: "Execute a workflow and wait for it to finish",
	Long: `Execute a stored workflow, or create one from --file or --template and
execute it. The command blocks until the workflow reaches a terminal
status; interrupting it cancels the run.`,
	Example: `  tideflow workflow run 3f0c9a4e-1b2d-4c5e-8f70-1a2b3c4d5e6f
  tideflow workflow run --file deploy.yaml
  tideflow workflow run --template health_check --var url=https://example.com/health`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWorkflowRun,
}

var workflowStatusCmd = &cobra.Command{
	Use:   "status <workflow-id>",
	Short: "Show workflow status and task states",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkflowStatus,
}

var workflowListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workflows",
	Args:  cobra.NoArgs,
	RunE:  runWorkflowList,
}

var workflowCancelCmd = &cobra.Command{
	Use:   "cancel <workflow-id>",
	Short: "Cancel a running workflow",
	Long: `Cancel a workflow that is running in this process. A foreground
'workflow run' is cancelled with Ctrl-C.`,
	Args: cobra.ExactArgs(1),
	RunE: runWorkflowCancel,
}

// Flags
var (
	workflowTemplate string
	workflowFile     string
	workflowVars     []string
	workflowTimeout  time.Duration
)

func init() {
	for _, cmd := range []*cobra.Command{workflowCreateCmd, workflowRunCmd} {
		cmd.Flags().StringVarP(&workflowTemplate, "template", "t", "", "Template name")
		cmd.Flags().StringVarP(&workflowFile, "file", "f", "", "Workflow definition file (YAML or JSON)")
		cmd.Flags().StringArrayVar(&workflowVars, "var", nil, "Template variable as key=value (repeatable)")
		cmd.MarkFlagsMutuallyExclusive("template", "file")
	}
	workflowRunCmd.Flags().DurationVar(&workflowTimeout, "timeout", 0, "Cancel the run after this long (0 = no limit)")

	workflowCmd.AddCommand(workflowCreateCmd)
	workflowCmd.AddCommand(workflowRunCmd)
	workflowCmd.AddCommand(workflowStatusCmd)
	workflowCmd.AddCommand(workflowListCmd)
	workflowCmd.AddCommand(workflowCancelCmd)
}

// parseVars turns key=value pairs into template variables. Numbers and
// booleans keep their type.
func parseVars(pairs []string) (map[string]any, error) {
	vars := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, internal.NewCLIError(internal.ExitConfigError,
				fmt.Sprintf("invalid --var %q (expected key=value)", pair))
		}
		switch {
		case value == "true" || value == "false":
			vars[key] = value == "true"
		default:
			if n, err := strconv.Atoi(value); err == nil {
				vars[key] = n
			} else if f, err := strconv.ParseFloat(value, 64); err == nil {
				vars[key] = f
			} else {
				vars[key] = value
			}
		}
	}
	return vars, nil
}

// createWorkflow builds a workflow from --template or --file.
func createWorkflow(cmd *cobra.Command, a *app) (*workflow.Workflow, error) {
	ctx := cmd.Context()
	switch {
	case workflowTemplate != "":
		vars, err := parseVars(workflowVars)
		if err != nil {
			return nil, err
		}
		return a.engine.CreateFromTemplate(ctx, workflowTemplate, vars)

	case workflowFile != "":
		data, err := os.ReadFile(workflowFile)
		if err != nil {
			return nil, internal.WrapError(internal.ExitConfigError, "failed to read workflow file", err)
		}
		cfg, err := workflow.ParseConfig(data)
		if err != nil {
			return nil, err
		}
		return a.engine.CreateFromConfig(ctx, cfg)

	default:
		return nil, internal.NewCLIError(internal.ExitConfigError, "one of --template or --file is required")
	}
}

func runWorkflowCreate(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close(cmd.Context())

	wf, err := createWorkflow(cmd, a)
	if err != nil {
		return err
	}

	out := printer(cmd)
	if out.JSON() {
		return out.Value(wf.Snapshot())
	}
	return out.Success(fmt.Sprintf("Created workflow %s (%s) with %d tasks",
		wf.Name, wf.ID, len(wf.ExecutionOrder())))
}

func runWorkflowRun(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close(cmd.Context())

	var wf *workflow.Workflow
	if len(args) == 1 {
		if workflowTemplate != "" || workflowFile != "" {
			return internal.NewCLIError(internal.ExitConfigError, "pass a workflow id or --template/--file, not both")
		}
		wf, err = a.engine.Load(cmd.Context(), types.ID(args[0]))
	} else {
		wf, err = createWorkflow(cmd, a)
	}
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if workflowTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, workflowTimeout)
		defer cancel()
	}

	res, err := a.engine.Execute(ctx, wf, workflow.TriggerManual)
	if err != nil {
		return err
	}
	if err := printResult(cmd, res); err != nil {
		return err
	}

	switch res.Status {
	case workflow.WorkflowStatusFailed:
		return internal.NewCLIError(internal.ExitWorkflowFailed, fmt.Sprintf("workflow %s failed: %s", wf.Name, res.Error))
	case workflow.WorkflowStatusCancelled:
		return internal.NewCLIError(internal.ExitCancelled, fmt.Sprintf("workflow %s was cancelled", wf.Name))
	}
	return nil
}

func printResult(cmd *cobra.Command, res *engine.Result) error {
	out := printer(cmd)
	if out.JSON() {
		return out.Value(res)
	}
	fields := []internal.Field{
		{Label: "Workflow", Value: fmt.Sprintf("%s (%s)", res.Snapshot.Name, res.WorkflowID)},
		{Label: "Execution", Value: res.ExecutionID.String()},
		{Label: "Status", Value: string(res.Status)},
		{Label: "Duration", Value: res.Duration.Round(time.Millisecond).String()},
	}
	if res.Error != "" {
		fields = append(fields, internal.Field{Label: "Error", Value: res.Error})
	}
	if err := out.Details(fields); err != nil {
		return err
	}
	out.Line()
	return printTasks(out, res.Snapshot)
}

func printTasks(out *internal.Printer, snap *workflow.Snapshot) error {
	rows := make([][]string, 0, len(snap.Tasks))
	for _, t := range snap.Tasks {
		rows = append(rows, []string{t.ID, t.Type, string(t.Status), strconv.Itoa(t.RetryCount), t.Error})
	}
	return out.Table([]string{"task", "type", "status", "retries", "error"}, rows)
}

func runWorkflowStatus(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close(cmd.Context())

	st, err := a.engine.GetStatus(cmd.Context(), types.ID(args[0]))
	if err != nil {
		return err
	}

	out := printer(cmd)
	if out.JSON() {
		return out.Value(st)
	}

	fields := []internal.Field{
		{Label: "Workflow", Value: fmt.Sprintf("%s (%s)", st.Workflow.Name, st.Workflow.ID)},
		{Label: "Status", Value: string(st.Workflow.Status)},
		{Label: "Running", Value: strconv.FormatBool(st.Running)},
	}
	if last := st.LastExecution; last != nil {
		fields = append(fields,
			internal.Field{Label: "Last execution", Value: last.ID.String()},
			internal.Field{Label: "Trigger", Value: last.TriggerType},
			internal.Field{Label: "Started", Value: last.StartedAt.Local().Format(time.RFC3339)},
			internal.Field{Label: "Duration", Value: fmt.Sprintf("%.2fs", last.DurationSeconds)},
		)
		if last.Error != "" {
			fields = append(fields, internal.Field{Label: "Error", Value: last.Error})
		}
	}
	if err := out.Details(fields); err != nil {
		return err
	}
	if len(st.Workflow.Tasks) == 0 {
		return nil
	}
	out.Line()
	return printTasks(out, st.Workflow)
}

func runWorkflowList(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close(cmd.Context())

	list, err := a.engine.List(cmd.Context())
	if err != nil {
		return err
	}

	out := printer(cmd)
	if out.JSON() {
		return out.Value(list)
	}
	if len(list) == 0 {
		out.Line("No workflows found")
		return nil
	}
	rows := make([][]string, 0, len(list))
	for _, s := range list {
		rows = append(rows, []string{
			s.ID.String(),
			s.Name,
			string(s.Status),
			strconv.Itoa(s.TaskCount),
			s.CreatedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	return out.Table([]string{"id", "name", "status", "tasks", "created"}, rows)
}

func runWorkflowCancel(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close(cmd.Context())

	if err := a.engine.Cancel(cmd.Context(), types.ID(args[0])); err != nil {
		return err
	}
	return printer(cmd).Success("Cancelled workflow " + args[0])
}
