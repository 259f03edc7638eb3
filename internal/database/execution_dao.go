package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zero-day-ai/tideflow/internal/types"
)

// ExecutionRecord is one run of a workflow. State holds the JSON snapshot of
// the workflow when the run finished.
type ExecutionRecord struct {
	ID              types.ID   `json:"id"`
	WorkflowID      types.ID   `json:"workflow_id"`
	Status          string     `json:"status"`
	TriggerType     string     `json:"trigger_type"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationSeconds float64    `json:"duration_seconds"`
	Error           string     `json:"error,omitempty"`
	State           string     `json:"state,omitempty"`
}

// TaskExecutionRecord is the terminal state of one task within a run.
type TaskExecutionRecord struct {
	ID          types.ID       `json:"id"`
	ExecutionID types.ID       `json:"execution_id"`
	WorkflowID  types.ID       `json:"workflow_id"`
	TaskID      string         `json:"task_id"`
	TaskName    string         `json:"task_name"`
	TaskType    string         `json:"task_type"`
	Status      string         `json:"status"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	RetryCount  int            `json:"retry_count"`
	Error       string         `json:"error,omitempty"`
	Outputs     map[string]any `json:"outputs,omitempty"`
}

// ExecutionCounts summarizes runs started within a window.
type ExecutionCounts struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Running   int `json:"running"`
}

// ExecutionDAO provides database operations for workflow and task runs
type ExecutionDAO interface {
	// Create inserts a new execution record
	Create(ctx context.Context, exec *ExecutionRecord) error

	// Update records the final status, duration, state and error of a run
	Update(ctx context.Context, exec *ExecutionRecord) error

	// Get retrieves an execution by ID
	Get(ctx context.Context, id types.ID) (*ExecutionRecord, error)

	// Latest returns the most recent execution of a workflow
	Latest(ctx context.Context, workflowID types.ID) (*ExecutionRecord, error)

	// ListByWorkflow returns up to limit executions of a workflow, newest first
	ListByWorkflow(ctx context.Context, workflowID types.ID, limit int) ([]*ExecutionRecord, error)

	// CountSince tallies executions started at or after since
	CountSince(ctx context.Context, since time.Time) (ExecutionCounts, error)

	// SaveTask inserts a task execution record
	SaveTask(ctx context.Context, task *TaskExecutionRecord) error

	// ListTasks returns the task records of an execution
	ListTasks(ctx context.Context, executionID types.ID) ([]*TaskExecutionRecord, error)
}

type executionDAO struct {
	db *DB
}

// NewExecutionDAO creates a new execution DAO
func NewExecutionDAO(db *DB) ExecutionDAO {
	return &executionDAO{db: db}
}

const executionColumns = `id, workflow_id, status, trigger_type, started_at, completed_at,
	duration_seconds, error_message, state`

func (d *executionDAO) Create(ctx context.Context, exec *ExecutionRecord) error {
	if exec.ID.IsZero() {
		exec.ID = types.NewID()
	}
	if exec.StartedAt.IsZero() {
		exec.StartedAt = time.Now()
	}
	if exec.TriggerType == "" {
		exec.TriggerType = "manual"
	}

	query := `INSERT INTO workflow_executions (` + executionColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := d.db.conn.ExecContext(ctx, query,
		exec.ID,
		exec.WorkflowID,
		exec.Status,
		exec.TriggerType,
		exec.StartedAt.UTC(),
		timeArg(exec.CompletedAt),
		exec.DurationSeconds,
		exec.Error,
		exec.State,
	)
	if err != nil {
		return queryError("create execution", err)
	}
	return nil
}

func (d *executionDAO) Update(ctx context.Context, exec *ExecutionRecord) error {
	query := `
		UPDATE workflow_executions
		SET status = ?, completed_at = ?, duration_seconds = ?, error_message = ?, state = ?
		WHERE id = ?
	`
	res, err := d.db.conn.ExecContext(ctx, query,
		exec.Status,
		timeArg(exec.CompletedAt),
		exec.DurationSeconds,
		exec.Error,
		exec.State,
		exec.ID,
	)
	if err != nil {
		return queryError("update execution", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("execution", exec.ID)
	}
	return nil
}

func (d *executionDAO) Get(ctx context.Context, id types.ID) (*ExecutionRecord, error) {
	row := d.db.conn.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM workflow_executions WHERE id = ?`, id)
	exec, err := scanExecution(row)
	if isNoRows(err) {
		return nil, notFound("execution", id)
	}
	if err != nil {
		return nil, queryError("get execution", err)
	}
	return exec, nil
}

func (d *executionDAO) Latest(ctx context.Context, workflowID types.ID) (*ExecutionRecord, error) {
	row := d.db.conn.QueryRowContext(ctx, `
		SELECT `+executionColumns+`
		FROM workflow_executions
		WHERE workflow_id = ?
		ORDER BY started_at DESC
		LIMIT 1`, workflowID)
	exec, err := scanExecution(row)
	if isNoRows(err) {
		return nil, notFound("execution for workflow", workflowID)
	}
	if err != nil {
		return nil, queryError("get latest execution", err)
	}
	return exec, nil
}

func (d *executionDAO) ListByWorkflow(ctx context.Context, workflowID types.ID, limit int) ([]*ExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.db.conn.QueryContext(ctx, `
		SELECT `+executionColumns+`
		FROM workflow_executions
		WHERE workflow_id = ?
		ORDER BY started_at DESC
		LIMIT ?`, workflowID, limit)
	if err != nil {
		return nil, queryError("list executions", err)
	}
	defer rows.Close()

	var out []*ExecutionRecord
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, queryError("scan execution", err)
		}
		out = append(out, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, queryError("list executions", err)
	}
	return out, nil
}

func (d *executionDAO) CountSince(ctx context.Context, since time.Time) (ExecutionCounts, error) {
	var c ExecutionCounts
	err := d.db.conn.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status IN ('running', 'paused') THEN 1 ELSE 0 END), 0)
		FROM workflow_executions
		WHERE started_at >= ?`, since.UTC()).Scan(&c.Total, &c.Completed, &c.Failed, &c.Running)
	if err != nil {
		return c, queryError("count executions", err)
	}
	return c, nil
}

func (d *executionDAO) SaveTask(ctx context.Context, task *TaskExecutionRecord) error {
	if task.ID.IsZero() {
		task.ID = types.NewID()
	}

	var outputs []byte
	if len(task.Outputs) > 0 {
		var err error
		outputs, err = json.Marshal(task.Outputs)
		if err != nil {
			return fmt.Errorf("failed to marshal task outputs: %w", err)
		}
	}

	query := `
		INSERT INTO task_executions (
			id, execution_id, workflow_id, task_id, task_name, task_type, status,
			started_at, completed_at, retry_count, error_message, outputs
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := d.db.conn.ExecContext(ctx, query,
		task.ID,
		task.ExecutionID,
		task.WorkflowID,
		task.TaskID,
		task.TaskName,
		task.TaskType,
		task.Status,
		timeArg(task.StartedAt),
		timeArg(task.CompletedAt),
		task.RetryCount,
		task.Error,
		string(outputs),
	)
	if err != nil {
		return queryError("save task execution", err)
	}
	return nil
}

func (d *executionDAO) ListTasks(ctx context.Context, executionID types.ID) ([]*TaskExecutionRecord, error) {
	rows, err := d.db.conn.QueryContext(ctx, `
		SELECT id, execution_id, workflow_id, task_id, task_name, task_type, status,
			started_at, completed_at, retry_count, error_message, outputs
		FROM task_executions
		WHERE execution_id = ?
		ORDER BY rowid`, executionID)
	if err != nil {
		return nil, queryError("list task executions", err)
	}
	defer rows.Close()

	var out []*TaskExecutionRecord
	for rows.Next() {
		var t TaskExecutionRecord
		var startedAt, completedAt sql.NullTime
		var outputs string
		if err := rows.Scan(
			&t.ID, &t.ExecutionID, &t.WorkflowID, &t.TaskID, &t.TaskName, &t.TaskType, &t.Status,
			&startedAt, &completedAt, &t.RetryCount, &t.Error, &outputs,
		); err != nil {
			return nil, queryError("scan task execution", err)
		}
		t.StartedAt = nullTime(startedAt)
		t.CompletedAt = nullTime(completedAt)
		if outputs != "" {
			if err := json.Unmarshal([]byte(outputs), &t.Outputs); err != nil {
				return nil, fmt.Errorf("failed to unmarshal task outputs: %w", err)
			}
		}
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, queryError("list task executions", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*ExecutionRecord, error) {
	var exec ExecutionRecord
	var completedAt sql.NullTime
	err := row.Scan(
		&exec.ID,
		&exec.WorkflowID,
		&exec.Status,
		&exec.TriggerType,
		&exec.StartedAt,
		&completedAt,
		&exec.DurationSeconds,
		&exec.Error,
		&exec.State,
	)
	if err != nil {
		return nil, err
	}
	exec.StartedAt = exec.StartedAt.UTC()
	exec.CompletedAt = nullTime(completedAt)
	return &exec, nil
}
