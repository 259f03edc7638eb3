package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/zero-day-ai/tideflow/internal/types"
)

const driverName = "sqlite3_tideflow"

var registerDriver sync.Once

// DB is the SQLite store shared by every DAO. Workflow runs, scheduler
// firings and the monitor write to it concurrently, so it runs in WAL mode
// and takes write locks when a transaction begins.
type DB struct {
	conn *sql.DB
	path string
}

// Config holds database configuration options
type Config struct {
	Path            string        `mapstructure:"path" yaml:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime" validate:"gte=0"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout" yaml:"busy_timeout" validate:"gte=0"`
}

// DefaultConfig returns the settings used for the database at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:            path,
		MaxOpenConns:    8,
		MaxIdleConns:    4,
		ConnMaxLifetime: time.Hour,
		BusyTimeout:     5 * time.Second,
	}
}

func (c Config) dsn() string {
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_foreign_keys", "on")
	q.Set("_txlock", "immediate")
	q.Set("_busy_timeout", strconv.FormatInt(c.BusyTimeout.Milliseconds(), 10))
	return "file:" + c.Path + "?" + q.Encode()
}

// Open opens the database file named by cfg, creating its directory, and
// checks that WAL journaling took effect.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	if cfg.Path == "" {
		return nil, types.NewError(types.DB_OPEN_FAILED, "database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, types.WrapError(types.DB_OPEN_FAILED, "failed to create database directory", err)
	}

	registerDriver.Do(func() {
		sql.Register(driverName, &sqlite3.SQLiteDriver{
			ConnectHook: func(c *sqlite3.SQLiteConn) error {
				_, err := c.Exec("PRAGMA synchronous = NORMAL", nil)
				return err
			},
		})
	})

	conn, err := sql.Open(driverName, cfg.dsn())
	if err != nil {
		return nil, types.WrapError(types.DB_OPEN_FAILED, "failed to open database", err)
	}
	if cfg.MaxOpenConns > 0 {
		conn.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	var mode string
	if err := conn.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
		conn.Close()
		return nil, types.WrapError(types.DB_OPEN_FAILED, "failed to open "+cfg.Path, err)
	}
	if mode != "wal" {
		conn.Close()
		return nil, types.NewErrorf(types.DB_OPEN_FAILED, "%s: journal mode is %s, want wal", cfg.Path, mode)
	}
	return &DB{conn: conn, path: cfg.Path}, nil
}

// OpenAndMigrate opens the database and applies pending migrations.
func OpenAndMigrate(ctx context.Context, cfg Config) (*DB, error) {
	db, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := NewMigrator(db).Migrate(ctx); err != nil {
		db.Close()
		return nil, types.WrapError(types.DB_MIGRATION_FAILED, "failed to run migrations", err)
	}
	return db, nil
}

// Close folds the write-ahead log back into the main file and closes the
// pool. A failed checkpoint does not prevent the close.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	cpErr := db.Checkpoint(ctx)
	err := errors.Join(cpErr, db.conn.Close())
	db.conn = nil
	return err
}

// Conn exposes the pool for ad hoc queries.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

func (db *DB) Path() string {
	return db.path
}

// Health runs a trivial query. Serve registers it as the database check.
func (db *DB) Health(ctx context.Context) error {
	var one int
	if err := db.conn.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database %s: %w", db.path, err)
	}
	return nil
}

// Checkpoint moves the WAL contents into the main database file.
func (db *DB) Checkpoint(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return queryError("checkpoint wal", err)
	}
	return nil
}

// WithTx runs fn in a transaction that commits when fn returns nil and
// rolls back otherwise, including on panic.
func (db *DB) WithTx(ctx context.Context, fn func(*sql.Tx) error) (err error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return queryError("begin transaction", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = errors.Join(err, rbErr)
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return queryError("commit transaction", err)
	}
	return nil
}

// queryError wraps a failed statement. SQLITE_BUSY and SQLITE_LOCKED mean
// another writer held the database past the busy timeout; those errors
// are marked retryable.
func queryError(op string, err error) error {
	fe := types.WrapError(types.DB_QUERY_FAILED, "failed to "+op, err)
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) && (sqlErr.Code == sqlite3.ErrBusy || sqlErr.Code == sqlite3.ErrLocked) {
		fe.Retryable = true
	}
	return fe
}

func notFound(what string, id any) error {
	return types.NewErrorf(types.DB_NOT_FOUND, "%s not found: %v", what, id)
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// nullTime converts a nullable column to a pointer.
func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

// timeArg converts an optional time to a query argument in UTC.
func timeArg(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC()
}
