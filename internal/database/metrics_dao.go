package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zero-day-ai/tideflow/internal/types"
)

// MetricSample is one measurement tied to a workflow, such as the duration
// of a run.
type MetricSample struct {
	WorkflowID types.ID       `json:"workflow_id"`
	Name       string         `json:"metric_name"`
	Value      float64        `json:"value"`
	RecordedAt time.Time      `json:"recorded_at"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// MetricAggregate summarizes samples of one metric for one workflow.
type MetricAggregate struct {
	WorkflowID types.ID `json:"workflow_id"`
	Name       string   `json:"metric_name"`
	Avg        float64  `json:"avg"`
	Min        float64  `json:"min"`
	Max        float64  `json:"max"`
	Count      int      `json:"count"`
}

// PerformanceSample is a host-level measurement from the system probe.
type PerformanceSample struct {
	Name       string    `json:"metric_name"`
	Value      float64   `json:"value"`
	RecordedAt time.Time `json:"recorded_at"`
}

// MetricsDAO stores workflow and performance samples.
type MetricsDAO interface {
	Record(ctx context.Context, sample *MetricSample) error
	Aggregate(ctx context.Context, since time.Time) ([]*MetricAggregate, error)
	RecordPerformance(ctx context.Context, sample *PerformanceSample) error
	Performance(ctx context.Context, name string, since time.Time) ([]*PerformanceSample, error)
	// Prune deletes samples recorded before cutoff and returns how many rows went.
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

type metricsDAO struct {
	db *DB
}

// NewMetricsDAO creates a new metrics DAO
func NewMetricsDAO(db *DB) MetricsDAO {
	return &metricsDAO{db: db}
}

func (d *metricsDAO) Record(ctx context.Context, sample *MetricSample) error {
	if sample.RecordedAt.IsZero() {
		sample.RecordedAt = time.Now()
	}
	var metadata []byte
	if len(sample.Metadata) > 0 {
		var err error
		if metadata, err = json.Marshal(sample.Metadata); err != nil {
			return fmt.Errorf("failed to marshal metric metadata: %w", err)
		}
	}

	_, err := d.db.conn.ExecContext(ctx, `
		INSERT INTO workflow_metrics (workflow_id, metric_name, metric_value, recorded_at, metadata)
		VALUES (?, ?, ?, ?, ?)`,
		sample.WorkflowID, sample.Name, sample.Value, sample.RecordedAt.UTC(), string(metadata))
	if err != nil {
		return queryError("record metric", err)
	}
	return nil
}

func (d *metricsDAO) Aggregate(ctx context.Context, since time.Time) ([]*MetricAggregate, error) {
	rows, err := d.db.conn.QueryContext(ctx, `
		SELECT workflow_id, metric_name, AVG(metric_value), MIN(metric_value), MAX(metric_value), COUNT(*)
		FROM workflow_metrics
		WHERE recorded_at >= ?
		GROUP BY workflow_id, metric_name
		ORDER BY workflow_id, metric_name`, since.UTC())
	if err != nil {
		return nil, queryError("aggregate metrics", err)
	}
	defer rows.Close()

	var out []*MetricAggregate
	for rows.Next() {
		var a MetricAggregate
		if err := rows.Scan(&a.WorkflowID, &a.Name, &a.Avg, &a.Min, &a.Max, &a.Count); err != nil {
			return nil, queryError("scan metric aggregate", err)
		}
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, queryError("aggregate metrics", err)
	}
	return out, nil
}

func (d *metricsDAO) RecordPerformance(ctx context.Context, sample *PerformanceSample) error {
	if sample.RecordedAt.IsZero() {
		sample.RecordedAt = time.Now()
	}
	_, err := d.db.conn.ExecContext(ctx,
		"INSERT INTO performance_metrics (metric_name, metric_value, recorded_at) VALUES (?, ?, ?)",
		sample.Name, sample.Value, sample.RecordedAt.UTC())
	if err != nil {
		return queryError("record performance metric", err)
	}
	return nil
}

func (d *metricsDAO) Performance(ctx context.Context, name string, since time.Time) ([]*PerformanceSample, error) {
	rows, err := d.db.conn.QueryContext(ctx, `
		SELECT metric_name, metric_value, recorded_at
		FROM performance_metrics
		WHERE metric_name = ? AND recorded_at >= ?
		ORDER BY recorded_at`, name, since.UTC())
	if err != nil {
		return nil, queryError("query performance metrics", err)
	}
	defer rows.Close()

	var out []*PerformanceSample
	for rows.Next() {
		var s PerformanceSample
		if err := rows.Scan(&s.Name, &s.Value, &s.RecordedAt); err != nil {
			return nil, queryError("scan performance metric", err)
		}
		s.RecordedAt = s.RecordedAt.UTC()
		out = append(out, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, queryError("query performance metrics", err)
	}
	return out, nil
}

func (d *metricsDAO) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	err := d.db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"workflow_metrics", "performance_metrics"} {
			res, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE recorded_at < ?", cutoff.UTC())
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, queryError("prune metrics", err)
	}
	return total, nil
}
