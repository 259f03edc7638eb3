package database

import (
	"context"
	"database/sql"
	"embed"
	"io/fs"
	"path"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/zero-day-ai/tideflow/internal/types"
)

//go:embed migrations/*.sql
var schemaFS embed.FS

// Schema scripts are named NNN_name.up.sql and NNN_name.down.sql. The down
// script is optional.
type schemaStep struct {
	version int
	name    string
	up      string
	down    string
}

// MigrationInfo is one row of the schema_migrations ledger.
type MigrationInfo struct {
	Version   int
	Name      string
	AppliedAt time.Time
}

// Migrator moves the schema between versions of the embedded scripts.
type Migrator struct {
	db    *DB
	steps []schemaStep
}

// NewMigrator panics if the embedded script names are malformed, since
// that can only happen at build time.
func NewMigrator(db *DB) *Migrator {
	steps, err := readSchemaSteps(schemaFS)
	if err != nil {
		panic(err)
	}
	return &Migrator{db: db, steps: steps}
}

func readSchemaSteps(fsys fs.FS) ([]schemaStep, error) {
	files, err := fs.Glob(fsys, "migrations/*.sql")
	if err != nil {
		return nil, err
	}

	index := map[int]int{}
	var steps []schemaStep
	for _, file := range files {
		version, name, up, err := parseScriptName(path.Base(file))
		if err != nil {
			return nil, err
		}
		body, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, err
		}

		i, seen := index[version]
		if !seen {
			i = len(steps)
			index[version] = i
			steps = append(steps, schemaStep{version: version, name: name})
		}
		if up {
			steps[i].up = string(body)
		} else {
			steps[i].down = string(body)
		}
	}

	for _, s := range steps {
		if s.up == "" {
			return nil, types.NewErrorf(types.DB_MIGRATION_FAILED, "schema version %d (%s) has no up script", s.version, s.name)
		}
	}
	slices.SortFunc(steps, func(a, b schemaStep) int { return a.version - b.version })
	return steps, nil
}

func parseScriptName(base string) (version int, name string, up bool, err error) {
	stem, up := strings.CutSuffix(base, ".up.sql")
	if !up {
		var down bool
		if stem, down = strings.CutSuffix(base, ".down.sql"); !down {
			return 0, "", false, types.NewErrorf(types.DB_MIGRATION_FAILED, "schema script %s: want .up.sql or .down.sql", base)
		}
	}
	num, name, ok := strings.Cut(stem, "_")
	if !ok {
		return 0, "", false, types.NewErrorf(types.DB_MIGRATION_FAILED, "schema script %s: want NNN_name", base)
	}
	if version, err = strconv.Atoi(num); err != nil || version <= 0 {
		return 0, "", false, types.NewErrorf(types.DB_MIGRATION_FAILED, "schema script %s: bad version %q", base, num)
	}
	return version, name, up, nil
}

// Latest is the highest version the embedded scripts reach.
func (m *Migrator) Latest() int {
	if len(m.steps) == 0 {
		return 0
	}
	return m.steps[len(m.steps)-1].version
}

// Migrate applies every script above the current version, each in its own
// transaction.
func (m *Migrator) Migrate(ctx context.Context) error {
	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return err
	}
	for _, s := range m.steps {
		if s.version <= current {
			continue
		}
		if err := m.step(ctx, s, true); err != nil {
			return err
		}
	}
	return nil
}

// CurrentVersion reads the ledger; an empty ledger is version 0.
func (m *Migrator) CurrentVersion(ctx context.Context) (int, error) {
	if err := m.ensureLedger(ctx); err != nil {
		return 0, err
	}
	var v int
	if err := m.db.conn.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&v); err != nil {
		return 0, queryError("read schema version", err)
	}
	return v, nil
}

// Rollback runs down scripts, newest first, until the schema is at target.
func (m *Migrator) Rollback(ctx context.Context, target int) error {
	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return err
	}
	if target < 0 || target > current {
		return types.NewErrorf(types.DB_MIGRATION_FAILED, "cannot roll back to version %d from %d", target, current)
	}
	for i := len(m.steps) - 1; i >= 0; i-- {
		s := m.steps[i]
		if s.version > current {
			continue
		}
		if s.version <= target {
			break
		}
		if err := m.step(ctx, s, false); err != nil {
			return err
		}
	}
	return nil
}

// AppliedMigrations lists the ledger in version order.
func (m *Migrator) AppliedMigrations(ctx context.Context) ([]MigrationInfo, error) {
	if err := m.ensureLedger(ctx); err != nil {
		return nil, err
	}
	rows, err := m.db.conn.QueryContext(ctx, "SELECT version, name, applied_at FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, queryError("list schema versions", err)
	}
	defer rows.Close()

	var applied []MigrationInfo
	for rows.Next() {
		var info MigrationInfo
		if err := rows.Scan(&info.Version, &info.Name, &info.AppliedAt); err != nil {
			return nil, queryError("scan schema version", err)
		}
		applied = append(applied, info)
	}
	if err := rows.Err(); err != nil {
		return nil, queryError("list schema versions", err)
	}
	return applied, nil
}

func (m *Migrator) ensureLedger(ctx context.Context) error {
	const ddl = `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		name       TEXT NOT NULL,
		applied_at TIMESTAMP NOT NULL
	)`
	if _, err := m.db.conn.ExecContext(ctx, ddl); err != nil {
		return queryError("create schema ledger", err)
	}
	return nil
}

// step runs one script and updates the ledger in the same transaction. The
// sqlite3 driver executes multi-statement scripts in a single Exec.
func (m *Migrator) step(ctx context.Context, s schemaStep, up bool) error {
	script, ledger, args := s.down, "DELETE FROM schema_migrations WHERE version = ?", []any{s.version}
	if up {
		script = s.up
		ledger = "INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)"
		args = []any{s.version, s.name, time.Now().UTC()}
	}

	err := m.db.WithTx(ctx, func(tx *sql.Tx) error {
		if script != "" {
			if _, err := tx.ExecContext(ctx, script); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, ledger, args...)
		return err
	})
	if err != nil {
		verb := "apply"
		if !up {
			verb = "revert"
		}
		return types.WrapError(types.DB_MIGRATION_FAILED,
			verb+" schema version "+strconv.Itoa(s.version)+" ("+s.name+")", err)
	}
	return nil
}
