package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/tideflow/internal/types"
)

// setupTestDB creates a migrated database in a temporary directory.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := OpenAndMigrate(context.Background(), DefaultConfig(filepath.Join(t.TempDir(), "test.db")))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "flow.db")
	db, err := Open(context.Background(), DefaultConfig(path))
	require.NoError(t, err)
	assert.Equal(t, path, db.Path())

	var journalMode string
	require.NoError(t, db.Conn().QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var foreignKeys int
	require.NoError(t, db.Conn().QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys))
	assert.Equal(t, 1, foreignKeys)

	var synchronous int
	require.NoError(t, db.Conn().QueryRow("PRAGMA synchronous").Scan(&synchronous))
	assert.Equal(t, 1, synchronous, "NORMAL")

	assert.NoError(t, db.Health(context.Background()))
	assert.NoError(t, db.Checkpoint(context.Background()))
	assert.NoError(t, db.Close())
	assert.NoError(t, db.Close())
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(context.Background(), Config{})
	assert.Equal(t, types.DB_OPEN_FAILED, types.CodeOf(err))
}

func TestQueryError_BusyIsRetryable(t *testing.T) {
	busy := queryError("save workflow", sqlite3.Error{Code: sqlite3.ErrBusy})
	assert.Equal(t, types.DB_QUERY_FAILED, types.CodeOf(busy))
	var fe *types.FlowError
	require.ErrorAs(t, busy, &fe)
	assert.True(t, fe.Retryable)

	plain := queryError("save workflow", errors.New("constraint failed"))
	require.ErrorAs(t, plain, &fe)
	assert.False(t, fe.Retryable)
}

func TestMigrator(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	m := NewMigrator(db)

	version, err := m.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, version)
	assert.Equal(t, m.Latest(), version)

	applied, err := m.AppliedMigrations(ctx)
	require.NoError(t, err)
	require.Len(t, applied, 3)
	assert.Equal(t, "workflows", applied[0].Name)
	assert.Equal(t, "scheduling", applied[1].Name)
	assert.Equal(t, "metrics", applied[2].Name)

	// Re-running is a no-op.
	require.NoError(t, m.Migrate(ctx))

	for _, table := range []string{
		"workflows", "workflow_executions", "task_executions",
		"scheduled_workflows", "scheduler_executions",
		"workflow_metrics", "performance_metrics",
	} {
		var name string
		err := db.Conn().QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		assert.NoError(t, err, "table %s", table)
	}

	require.NoError(t, m.Rollback(ctx, 1))
	version, err = m.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, version)

	var name string
	err = db.Conn().QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='scheduled_workflows'").Scan(&name)
	assert.ErrorIs(t, err, sql.ErrNoRows)

	assert.Equal(t, types.DB_MIGRATION_FAILED, types.CodeOf(m.Rollback(ctx, 5)))
	require.NoError(t, m.Migrate(ctx))
	version, _ = m.CurrentVersion(ctx)
	assert.Equal(t, 3, version)
}

func TestParseScriptName(t *testing.T) {
	version, name, up, err := parseScriptName("002_scheduling.up.sql")
	require.NoError(t, err)
	assert.Equal(t, 2, version)
	assert.Equal(t, "scheduling", name)
	assert.True(t, up)

	_, name, up, err = parseScriptName("010_task_outputs.down.sql")
	require.NoError(t, err)
	assert.Equal(t, "task_outputs", name)
	assert.False(t, up)

	for _, bad := range []string{"002_scheduling.sql", "scheduling.up.sql", "000_zero.up.sql", "x_name.up.sql"} {
		_, _, _, err := parseScriptName(bad)
		assert.Equal(t, types.DB_MIGRATION_FAILED, types.CodeOf(err), bad)
	}
}

func TestWithTx(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	dao := NewWorkflowDAO(db)

	boom := errors.New("boom")
	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO workflows (id, name, config, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
			types.NewID(), "rolled-back", "{}", "pending", time.Now().UTC(), time.Now().UTC())
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	list, err := dao.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}
