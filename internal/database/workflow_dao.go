package database

import (
	"context"
	"time"

	"github.com/zero-day-ai/tideflow/internal/types"
)

// WorkflowRecord is a stored workflow definition. Config holds the JSON
// encoded workflow configuration.
type WorkflowRecord struct {
	ID          types.ID  `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Config      string    `json:"config"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// WorkflowDAO provides database operations for workflow definitions
type WorkflowDAO interface {
	// Save inserts the workflow or replaces the stored definition.
	Save(ctx context.Context, wf *WorkflowRecord) error

	// Get retrieves a workflow by ID
	Get(ctx context.Context, id types.ID) (*WorkflowRecord, error)

	// List returns all workflows, newest first
	List(ctx context.Context) ([]*WorkflowRecord, error)

	// UpdateStatus records the status of the latest run
	UpdateStatus(ctx context.Context, id types.ID, status string) error

	// Delete removes a workflow with its executions and schedules
	Delete(ctx context.Context, id types.ID) error
}

type workflowDAO struct {
	db *DB
}

// NewWorkflowDAO creates a new workflow DAO
func NewWorkflowDAO(db *DB) WorkflowDAO {
	return &workflowDAO{db: db}
}

func (d *workflowDAO) Save(ctx context.Context, wf *WorkflowRecord) error {
	if wf.ID.IsZero() {
		wf.ID = types.NewID()
	}
	now := time.Now().UTC()
	if wf.CreatedAt.IsZero() {
		wf.CreatedAt = now
	}
	wf.UpdatedAt = now
	if wf.Status == "" {
		wf.Status = "pending"
	}

	query := `
		INSERT INTO workflows (id, name, description, config, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			config = excluded.config,
			status = excluded.status,
			updated_at = excluded.updated_at
	`
	_, err := d.db.conn.ExecContext(ctx, query,
		wf.ID, wf.Name, wf.Description, wf.Config, wf.Status, wf.CreatedAt.UTC(), wf.UpdatedAt)
	if err != nil {
		return queryError("save workflow", err)
	}
	return nil
}

func (d *workflowDAO) Get(ctx context.Context, id types.ID) (*WorkflowRecord, error) {
	query := `
		SELECT id, name, description, config, status, created_at, updated_at
		FROM workflows
		WHERE id = ?
	`
	var wf WorkflowRecord
	err := d.db.conn.QueryRowContext(ctx, query, id).Scan(
		&wf.ID, &wf.Name, &wf.Description, &wf.Config, &wf.Status, &wf.CreatedAt, &wf.UpdatedAt,
	)
	if isNoRows(err) {
		return nil, notFound("workflow", id)
	}
	if err != nil {
		return nil, queryError("get workflow", err)
	}
	return &wf, nil
}

func (d *workflowDAO) List(ctx context.Context) ([]*WorkflowRecord, error) {
	rows, err := d.db.conn.QueryContext(ctx, `
		SELECT id, name, description, config, status, created_at, updated_at
		FROM workflows
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, queryError("list workflows", err)
	}
	defer rows.Close()

	var out []*WorkflowRecord
	for rows.Next() {
		var wf WorkflowRecord
		if err := rows.Scan(&wf.ID, &wf.Name, &wf.Description, &wf.Config, &wf.Status, &wf.CreatedAt, &wf.UpdatedAt); err != nil {
			return nil, queryError("scan workflow", err)
		}
		out = append(out, &wf)
	}
	if err := rows.Err(); err != nil {
		return nil, queryError("list workflows", err)
	}
	return out, nil
}

func (d *workflowDAO) UpdateStatus(ctx context.Context, id types.ID, status string) error {
	res, err := d.db.conn.ExecContext(ctx,
		"UPDATE workflows SET status = ?, updated_at = ? WHERE id = ?",
		status, time.Now().UTC(), id)
	if err != nil {
		return queryError("update workflow status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("workflow", id)
	}
	return nil
}

func (d *workflowDAO) Delete(ctx context.Context, id types.ID) error {
	res, err := d.db.conn.ExecContext(ctx, "DELETE FROM workflows WHERE id = ?", id)
	if err != nil {
		return queryError("delete workflow", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("workflow", id)
	}
	return nil
}
