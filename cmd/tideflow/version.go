package main

import (
	"github.com/spf13/cobra"

	"github.com/zero-day-ai/tideflow/pkg/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := printer(cmd)
		if out.JSON() {
			return out.Value(version.Info())
		}
		out.Line(version.String())
		return nil
	},
}
