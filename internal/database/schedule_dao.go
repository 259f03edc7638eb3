package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/zero-day-ai/tideflow/internal/types"
)

// ScheduleRecord binds a stored workflow to a cron expression.
type ScheduleRecord struct {
	ID             types.ID   `json:"id"`
	WorkflowID     types.ID   `json:"workflow_id"`
	WorkflowName   string     `json:"workflow_name"`
	CronExpression string     `json:"cron_expression"`
	Enabled        bool       `json:"enabled"`
	CreatedAt      time.Time  `json:"created_at"`
	LastRun        *time.Time `json:"last_run,omitempty"`
	NextRun        *time.Time `json:"next_run,omitempty"`
	RunCount       int        `json:"run_count"`
}

// ScheduleRun is one scheduled firing and its outcome.
type ScheduleRun struct {
	ID              types.ID  `json:"id"`
	ScheduleID      types.ID  `json:"schedule_id"`
	WorkflowID      types.ID  `json:"workflow_id"`
	WorkflowName    string    `json:"workflow_name"`
	ExecutionID     types.ID  `json:"execution_id,omitempty"`
	Status          string    `json:"status"`
	StartedAt       time.Time `json:"started_at"`
	DurationSeconds float64   `json:"duration_seconds"`
	Error           string    `json:"error,omitempty"`
}

// ScheduleRunCounts summarizes the scheduler history.
type ScheduleRunCounts struct {
	Total      int
	Successful int
	Recent     int
}

// ScheduleDAO provides database operations for schedule bindings and their
// firing history.
type ScheduleDAO interface {
	// Create inserts a new binding
	Create(ctx context.Context, s *ScheduleRecord) error

	// Get retrieves a binding by ID
	Get(ctx context.Context, id types.ID) (*ScheduleRecord, error)

	// List returns all bindings, oldest first
	List(ctx context.Context) ([]*ScheduleRecord, error)

	// Delete removes a binding
	Delete(ctx context.Context, id types.ID) error

	// SetEnabled toggles the persisted enabled flag
	SetEnabled(ctx context.Context, id types.ID, enabled bool) error

	// UpdateNextRun stores the next planned fire time
	UpdateNextRun(ctx context.Context, id types.ID, next *time.Time) error

	// RecordFire stores the last fire time, the next one, and bumps the run count
	RecordFire(ctx context.Context, id types.ID, fired time.Time, next *time.Time) error

	// AddRun appends an entry to the firing history
	AddRun(ctx context.Context, run *ScheduleRun) error

	// History returns up to limit history entries, newest first
	History(ctx context.Context, limit int) ([]*ScheduleRun, error)

	// RunCounts tallies the history; Recent counts runs since the given time
	RunCounts(ctx context.Context, recentSince time.Time) (ScheduleRunCounts, error)
}

type scheduleDAO struct {
	db *DB
}

// NewScheduleDAO creates a new schedule DAO
func NewScheduleDAO(db *DB) ScheduleDAO {
	return &scheduleDAO{db: db}
}

const scheduleColumns = `id, workflow_id, workflow_name, cron_expression, enabled, created_at,
	last_run, next_run, run_count`

func (d *scheduleDAO) Create(ctx context.Context, s *ScheduleRecord) error {
	if s.ID.IsZero() {
		s.ID = types.NewID()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}

	_, err := d.db.conn.ExecContext(ctx,
		`INSERT INTO scheduled_workflows (`+scheduleColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID,
		s.WorkflowID,
		s.WorkflowName,
		s.CronExpression,
		s.Enabled,
		s.CreatedAt.UTC(),
		timeArg(s.LastRun),
		timeArg(s.NextRun),
		s.RunCount,
	)
	if err != nil {
		return queryError("create schedule", err)
	}
	return nil
}

func (d *scheduleDAO) Get(ctx context.Context, id types.ID) (*ScheduleRecord, error) {
	row := d.db.conn.QueryRowContext(ctx,
		`SELECT `+scheduleColumns+` FROM scheduled_workflows WHERE id = ?`, id)
	s, err := scanSchedule(row)
	if isNoRows(err) {
		return nil, types.NewErrorf(types.SCHEDULE_NOT_FOUND, "scheduled workflow not found: %s", id)
	}
	if err != nil {
		return nil, queryError("get schedule", err)
	}
	return s, nil
}

func (d *scheduleDAO) List(ctx context.Context) ([]*ScheduleRecord, error) {
	rows, err := d.db.conn.QueryContext(ctx,
		`SELECT `+scheduleColumns+` FROM scheduled_workflows ORDER BY created_at, rowid`)
	if err != nil {
		return nil, queryError("list schedules", err)
	}
	defer rows.Close()

	var out []*ScheduleRecord
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, queryError("scan schedule", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, queryError("list schedules", err)
	}
	return out, nil
}

func (d *scheduleDAO) Delete(ctx context.Context, id types.ID) error {
	return d.execOne(ctx, "delete schedule", id,
		"DELETE FROM scheduled_workflows WHERE id = ?", id)
}

func (d *scheduleDAO) SetEnabled(ctx context.Context, id types.ID, enabled bool) error {
	return d.execOne(ctx, "update schedule", id,
		"UPDATE scheduled_workflows SET enabled = ? WHERE id = ?", enabled, id)
}

func (d *scheduleDAO) UpdateNextRun(ctx context.Context, id types.ID, next *time.Time) error {
	return d.execOne(ctx, "update schedule", id,
		"UPDATE scheduled_workflows SET next_run = ? WHERE id = ?", timeArg(next), id)
}

func (d *scheduleDAO) RecordFire(ctx context.Context, id types.ID, fired time.Time, next *time.Time) error {
	return d.execOne(ctx, "record schedule fire", id, `
		UPDATE scheduled_workflows
		SET last_run = ?, next_run = ?, run_count = run_count + 1
		WHERE id = ?`, fired.UTC(), timeArg(next), id)
}

func (d *scheduleDAO) AddRun(ctx context.Context, run *ScheduleRun) error {
	if run.ID.IsZero() {
		run.ID = types.NewID()
	}
	_, err := d.db.conn.ExecContext(ctx, `
		INSERT INTO scheduler_executions (
			id, schedule_id, workflow_id, workflow_name, execution_id, status,
			started_at, duration_seconds, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.ScheduleID,
		run.WorkflowID,
		run.WorkflowName,
		run.ExecutionID,
		run.Status,
		run.StartedAt.UTC(),
		run.DurationSeconds,
		run.Error,
	)
	if err != nil {
		return queryError("record schedule run", err)
	}
	return nil
}

func (d *scheduleDAO) History(ctx context.Context, limit int) ([]*ScheduleRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.db.conn.QueryContext(ctx, `
		SELECT id, schedule_id, workflow_id, workflow_name, execution_id, status,
			started_at, duration_seconds, error_message
		FROM scheduler_executions
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, queryError("list schedule history", err)
	}
	defer rows.Close()

	var out []*ScheduleRun
	for rows.Next() {
		var r ScheduleRun
		if err := rows.Scan(
			&r.ID, &r.ScheduleID, &r.WorkflowID, &r.WorkflowName, &r.ExecutionID, &r.Status,
			&r.StartedAt, &r.DurationSeconds, &r.Error,
		); err != nil {
			return nil, queryError("scan schedule run", err)
		}
		r.StartedAt = r.StartedAt.UTC()
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, queryError("list schedule history", err)
	}
	return out, nil
}

func (d *scheduleDAO) RunCounts(ctx context.Context, recentSince time.Time) (ScheduleRunCounts, error) {
	var c ScheduleRunCounts
	err := d.db.conn.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN started_at >= ? THEN 1 ELSE 0 END), 0)
		FROM scheduler_executions`, recentSince.UTC()).Scan(&c.Total, &c.Successful, &c.Recent)
	if err != nil {
		return c, queryError("count schedule runs", err)
	}
	return c, nil
}

func (d *scheduleDAO) execOne(ctx context.Context, op string, id types.ID, query string, args ...any) error {
	res, err := d.db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return queryError(op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.NewErrorf(types.SCHEDULE_NOT_FOUND, "scheduled workflow not found: %s", id)
	}
	return nil
}

func scanSchedule(row rowScanner) (*ScheduleRecord, error) {
	var s ScheduleRecord
	var lastRun, nextRun sql.NullTime
	err := row.Scan(
		&s.ID,
		&s.WorkflowID,
		&s.WorkflowName,
		&s.CronExpression,
		&s.Enabled,
		&s.CreatedAt,
		&lastRun,
		&nextRun,
		&s.RunCount,
	)
	if err != nil {
		return nil, err
	}
	s.CreatedAt = s.CreatedAt.UTC()
	s.LastRun = nullTime(lastRun)
	s.NextRun = nullTime(nextRun)
	return &s, nil
}
