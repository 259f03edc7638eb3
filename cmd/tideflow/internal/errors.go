// Package internal holds the exit-code mapping and output rendering shared
// by the tideflow subcommands.
package internal

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zero-day-ai/tideflow/internal/types"
)

// Process exit codes. Scripts driving tideflow branch on these.
const (
	ExitSuccess           = 0
	ExitError             = 1
	ExitWorkflowFailed    = 2
	ExitTimeout           = 3
	ExitCancelled         = 4
	ExitSecurityViolation = 5
	ExitNotFound          = 6
	ExitConfigError       = 10
	ExitDatabaseError     = 12
)

// CLIError is a command failure with a chosen exit code.
type CLIError struct {
	Code    int
	Message string
	Cause   error
}

func (e *CLIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *CLIError) Unwrap() error {
	return e.Cause
}

// NewCLIError returns a CLIError without a cause.
func NewCLIError(code int, message string) *CLIError {
	return &CLIError{Code: code, Message: message}
}

// WrapError returns a CLIError carrying err as its cause.
func WrapError(code int, message string, err error) *CLIError {
	return &CLIError{Code: code, Message: message, Cause: err}
}

var storeFailures = map[types.ErrorCode]bool{
	types.DB_OPEN_FAILED:      true,
	types.DB_MIGRATION_FAILED: true,
	types.DB_QUERY_FAILED:     true,
}

// ExitCode classifies err. Explicit CLIError codes win over the flow error
// taxonomy; context errors anywhere in the chain mean cancel or timeout.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var cliErr *CLIError
	if errors.As(err, &cliErr) {
		return cliErr.Code
	}

	switch {
	case errors.Is(err, context.Canceled):
		return ExitCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return ExitTimeout
	}

	var flowErr *types.FlowError
	if !errors.As(err, &flowErr) {
		return ExitError
	}
	switch {
	case types.IsSecurityViolation(flowErr):
		return ExitSecurityViolation
	case types.IsTimeout(flowErr):
		return ExitTimeout
	case types.IsNotFound(flowErr):
		return ExitNotFound
	case types.IsConfigError(flowErr):
		return ExitConfigError
	case storeFailures[flowErr.Code]:
		return ExitDatabaseError
	case flowErr.Code == types.TASK_FAILED:
		return ExitWorkflowFailed
	}
	return ExitError
}

// HandleError reports err on the command's error stream and returns the
// process exit code. The cause of a CLIError is shown only with --verbose.
func HandleError(cmd *cobra.Command, err error) int {
	code := ExitCode(err)
	switch code {
	case ExitSuccess:
		return code
	case ExitCancelled:
		if errors.Is(err, context.Canceled) {
			cmd.PrintErrln("Operation cancelled")
			return code
		}
	case ExitTimeout:
		if errors.Is(err, context.DeadlineExceeded) {
			cmd.PrintErrln("Operation timed out")
			return code
		}
	}

	var cliErr *CLIError
	if errors.As(err, &cliErr) {
		cmd.PrintErrln("Error:", cliErr.Message)
		if cliErr.Cause != nil && verboseFlag(cmd) {
			cmd.PrintErrln("Cause:", cliErr.Cause)
		}
		return code
	}
	cmd.PrintErrln("Error:", err)
	return code
}

func verboseFlag(cmd *cobra.Command) bool {
	f := cmd.Flag("verbose")
	return f != nil && f.Changed
}

// VerboseRequested reports whether verbose output was asked for before
// flags were parsed, via TIDEFLOW_VERBOSE or a -v/--verbose argument.
func VerboseRequested() bool {
	if os.Getenv("TIDEFLOW_VERBOSE") != "" {
		return true
	}
	for _, arg := range os.Args[1:] {
		if arg == "-v" || arg == "--verbose" {
			return true
		}
	}
	return false
}
