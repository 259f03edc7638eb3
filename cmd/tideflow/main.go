// Command tideflow runs, schedules and monitors DAG workflows of operational
// tasks.
package main

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/zero-day-ai/tideflow/cmd/tideflow/internal"
)

func main() {
	os.Exit(run())
}

func run() (code int) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		fmt.Fprintf(os.Stderr, "tideflow: internal error: %v\n", r)
		if internal.VerboseRequested() {
			os.Stderr.Write(debug.Stack())
		} else {
			fmt.Fprintln(os.Stderr, "rerun with --verbose for a stack trace")
		}
		code = internal.ExitError
	}()

	return internal.HandleError(rootCmd, Execute(context.Background()))
}
