package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/zero-day-ai/tideflow/cmd/tideflow/internal"
	"github.com/zero-day-ai/tideflow/internal/database"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Inspect and migrate the database schema",
	Long: `Inspect the schema version of the tideflow database and move it between
versions. Every other command migrates to the latest version on open.`,
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the schema version and applied migrations",
	Args:  cobra.NoArgs,
	RunE:  runDBStatus,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending migrations",
	Args:  cobra.NoArgs,
	RunE:  runDBMigrate,
}

var dbRollbackCmd = &cobra.Command{
	Use:   "rollback VERSION",
	Short: "Roll the schema back to VERSION",
	Long: `Run down migrations, newest first, until the schema is at VERSION.
Rolling back to 0 drops every tideflow table.`,
	Example: `  tideflow db rollback 2`,
	Args:    cobra.ExactArgs(1),
	RunE:    runDBRollback,
}

func init() {
	dbCmd.AddCommand(dbStatusCmd)
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbRollbackCmd)
}

type appliedMigration struct {
	Version   int       `json:"version"`
	Name      string    `json:"name"`
	AppliedAt time.Time `json:"applied_at"`
}

type schemaStatus struct {
	Path    string             `json:"path"`
	Version int                `json:"version"`
	Latest  int                `json:"latest"`
	Pending int                `json:"pending"`
	Applied []appliedMigration `json:"applied"`
}

// withMigrator opens the database without migrating it, so rollback and
// status see the schema as it is on disk.
func withMigrator(cmd *cobra.Command, fn func(ctx context.Context, db *database.DB, m *database.Migrator) error) error {
	ctx := cmd.Context()
	db, err := database.Open(ctx, cliConfig.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(ctx, db, database.NewMigrator(db))
}

func runDBStatus(cmd *cobra.Command, args []string) error {
	return withMigrator(cmd, func(ctx context.Context, db *database.DB, m *database.Migrator) error {
		version, err := m.CurrentVersion(ctx)
		if err != nil {
			return err
		}
		applied, err := m.AppliedMigrations(ctx)
		if err != nil {
			return err
		}

		status := schemaStatus{
			Path:    db.Path(),
			Version: version,
			Latest:  m.Latest(),
			Pending: max(m.Latest()-version, 0),
			Applied: make([]appliedMigration, 0, len(applied)),
		}
		for _, info := range applied {
			status.Applied = append(status.Applied, appliedMigration(info))
		}

		out := printer(cmd)
		if out.JSON() {
			return out.Value(status)
		}
		if err := out.Details([]internal.Field{
			{Label: "Database", Value: status.Path},
			{Label: "Version", Value: fmt.Sprintf("%d of %d", status.Version, status.Latest)},
			{Label: "Pending", Value: strconv.Itoa(status.Pending)},
		}); err != nil {
			return err
		}
		if len(status.Applied) == 0 {
			out.Line("\nNo migrations applied")
			return nil
		}
		out.Line()
		rows := make([][]string, 0, len(status.Applied))
		for _, a := range status.Applied {
			rows = append(rows, []string{strconv.Itoa(a.Version), a.Name, formatTime(&a.AppliedAt)})
		}
		return out.Table([]string{"VERSION", "NAME", "APPLIED"}, rows)
	})
}

func runDBMigrate(cmd *cobra.Command, args []string) error {
	return withMigrator(cmd, func(ctx context.Context, _ *database.DB, m *database.Migrator) error {
		if err := m.Migrate(ctx); err != nil {
			return err
		}
		version, err := m.CurrentVersion(ctx)
		if err != nil {
			return err
		}
		return printer(cmd).Success(fmt.Sprintf("Schema at version %d", version))
	})
}

func runDBRollback(cmd *cobra.Command, args []string) error {
	target, err := strconv.Atoi(args[0])
	if err != nil {
		return internal.WrapError(internal.ExitConfigError, "invalid version "+args[0], err)
	}
	return withMigrator(cmd, func(ctx context.Context, _ *database.DB, m *database.Migrator) error {
		if err := m.Rollback(ctx, target); err != nil {
			return err
		}
		return printer(cmd).Success(fmt.Sprintf("Schema rolled back to version %d", target))
	})
}
