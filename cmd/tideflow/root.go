package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zero-day-ai/tideflow/cmd/tideflow/internal"
	"github.com/zero-day-ai/tideflow/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "tideflow",
	Short: "tideflow - workflow automation and scheduling",
	Long: `tideflow runs DAG workflows of operational tasks (shell commands,
HTTP calls, health checks, backups, notifications), schedules them with
cron expressions and monitors their outcomes with alert rules.`,
	PersistentPreRunE: loadConfig,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

// cliConfig is the configuration loaded by loadConfig.
var cliConfig *config.Config

// Execute runs the root command with signal handling
func Execute(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return rootCmd.ExecuteContext(ctx)
}

// loadConfig resolves the home directory and config file from the
// persistent flags and loads the configuration every command builds on.
func loadConfig(cmd *cobra.Command, args []string) error {
	if err := opts.validate(); err != nil {
		return err
	}

	switch cmd.Name() {
	case "version", "help", "completion":
		return nil
	}

	homeDir := opts.home
	if homeDir == "" {
		homeDir = config.DefaultHomeDir()
	}

	configFile := opts.config
	if configFile == "" {
		configFile = config.DefaultConfigPath(homeDir)
	} else if _, err := os.Stat(configFile); err != nil {
		return internal.WrapError(internal.ExitConfigError, "config file not found: "+configFile, err)
	}

	loader := config.NewConfigLoader(config.NewValidator(), config.WithHomeDir(homeDir))
	cfg, err := loader.LoadWithDefaults(configFile)
	if err != nil {
		return internal.WrapError(internal.ExitConfigError, "failed to load configuration", err)
	}
	if opts.verbose {
		cfg.Logging.Level = "debug"
	}
	cliConfig = cfg
	return nil
}

func init() {
	opts.register(rootCmd)

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(workflowCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(metricsCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(serveCmd)
}
