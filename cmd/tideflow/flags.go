package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zero-day-ai/tideflow/cmd/tideflow/internal"
)

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	verbose bool
	output  string
	config  string
	home    string
}

var opts = &rootOptions{output: string(internal.FormatText)}

func (o *rootOptions) register(cmd *cobra.Command) {
	fs := cmd.PersistentFlags()
	fs.BoolVarP(&o.verbose, "verbose", "v", false, "Log at debug level and print error causes")
	fs.StringVarP(&o.output, "output", "o", string(internal.FormatText), "Output format (text|json)")
	fs.StringVar(&o.config, "config", "", "Config file (default $TIDEFLOW_HOME/config.yaml)")
	fs.StringVar(&o.home, "home", "", "Home directory for the database, templates and config (default ~/.tideflow)")
}

func (o *rootOptions) validate() error {
	switch internal.OutputFormat(o.output) {
	case internal.FormatText, internal.FormatJSON:
		return nil
	}
	return internal.NewCLIError(internal.ExitConfigError,
		fmt.Sprintf("invalid output format %q (must be text or json)", o.output))
}

func (o *rootOptions) format() internal.OutputFormat {
	return internal.OutputFormat(o.output)
}

// printer returns the result printer selected by --output.
func printer(cmd *cobra.Command) *internal.Printer {
	return internal.NewPrinter(opts.format(), cmd.OutOrStdout())
}
