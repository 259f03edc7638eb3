package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents a namespaced error code for tideflow errors.
type ErrorCode string

// Configuration error codes. Raised while building a workflow or a schedule,
// before any execution state exists, and never retried.
const (
	CONFIG_LOAD_FAILED         ErrorCode = "CONFIG_LOAD_FAILED"
	CONFIG_PARSE_FAILED        ErrorCode = "CONFIG_PARSE_FAILED"
	CONFIG_VALIDATION_FAILED   ErrorCode = "CONFIG_VALIDATION_FAILED"
	CONFIG_NOT_FOUND           ErrorCode = "CONFIG_NOT_FOUND"
	CONFIG_CYCLIC_DEPENDENCY   ErrorCode = "CONFIG_CYCLIC_DEPENDENCY"
	CONFIG_UNKNOWN_TASK_TYPE   ErrorCode = "CONFIG_UNKNOWN_TASK_TYPE"
	CONFIG_MISSING_FIELD       ErrorCode = "CONFIG_MISSING_FIELD"
	CONFIG_INVALID_CRON        ErrorCode = "CONFIG_INVALID_CRON"
	CONFIG_TEMPLATE_NOT_FOUND  ErrorCode = "CONFIG_TEMPLATE_NOT_FOUND"
	CONFIG_INVALID_DEPENDENCY  ErrorCode = "CONFIG_INVALID_DEPENDENCY"
	CONFIG_DUPLICATE_TASK      ErrorCode = "CONFIG_DUPLICATE_TASK"
	CONFIG_INVALID_ALERT_RULE  ErrorCode = "CONFIG_INVALID_ALERT_RULE"
	CONFIG_UNKNOWN_CHANNEL     ErrorCode = "CONFIG_UNKNOWN_CHANNEL"
	CONFIG_INVALID_TASK_PARAMS ErrorCode = "CONFIG_INVALID_TASK_PARAMS"
)

// Database error codes
const (
	DB_OPEN_FAILED      ErrorCode = "DB_OPEN_FAILED"
	DB_MIGRATION_FAILED ErrorCode = "DB_MIGRATION_FAILED"
	DB_QUERY_FAILED     ErrorCode = "DB_QUERY_FAILED"
	DB_NOT_FOUND        ErrorCode = "DB_NOT_FOUND"
)

// Execution error codes
const (
	SECURITY_VIOLATION     ErrorCode = "SECURITY_VIOLATION"
	TASK_TIMEOUT           ErrorCode = "TASK_TIMEOUT"
	TASK_FAILED            ErrorCode = "TASK_FAILED"
	ENGINE_FAILURE         ErrorCode = "ENGINE_FAILURE"
	WORKFLOW_NOT_FOUND     ErrorCode = "WORKFLOW_NOT_FOUND"
	WORKFLOW_NOT_RUNNING   ErrorCode = "WORKFLOW_NOT_RUNNING"
	WORKFLOW_INVALID_STATE ErrorCode = "WORKFLOW_INVALID_STATE"
	SCHEDULE_NOT_FOUND     ErrorCode = "SCHEDULE_NOT_FOUND"
)

// Telemetry error codes. Raised while setting up or flushing the log, trace
// and metric pipelines; an unusable telemetry section reports
// CONFIG_VALIDATION_FAILED instead.
const (
	TELEMETRY_EXPORTER_FAILED     ErrorCode = "TELEMETRY_EXPORTER_FAILED"
	TELEMETRY_REGISTRATION_FAILED ErrorCode = "TELEMETRY_REGISTRATION_FAILED"
	TELEMETRY_SHUTDOWN_FAILED     ErrorCode = "TELEMETRY_SHUTDOWN_FAILED"
)

// FlowError represents a structured error with error code, message, and optional cause.
// It supports error wrapping and retryability hints for the task executor.
type FlowError struct {
	Code      ErrorCode
	Message   string
	Retryable bool
	Cause     error
}

// Error implements the error interface.
// Format: "[CODE] message" or "[CODE] message: cause" if cause exists.
func (e *FlowError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error for error unwrapping chains.
func (e *FlowError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a FlowError with the same Code.
func (e *FlowError) Is(target error) bool {
	var flowErr *FlowError
	if errors.As(target, &flowErr) {
		return e.Code == flowErr.Code
	}
	return false
}

// NewError creates a new non-retryable FlowError with the given code and message.
func NewError(code ErrorCode, message string) *FlowError {
	return &FlowError{
		Code:    code,
		Message: message,
	}
}

// NewErrorf is NewError with a format string.
func NewErrorf(code ErrorCode, format string, args ...any) *FlowError {
	return NewError(code, fmt.Sprintf(format, args...))
}

// NewRetryableError creates a new retryable FlowError with the given code and message.
func NewRetryableError(code ErrorCode, message string) *FlowError {
	return &FlowError{
		Code:      code,
		Message:   message,
		Retryable: true,
	}
}

// WrapError creates a new non-retryable FlowError that wraps an existing error.
func WrapError(code ErrorCode, message string, cause error) *FlowError {
	return &FlowError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// CodeOf returns the code of the first FlowError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var flowErr *FlowError
	if errors.As(err, &flowErr) {
		return flowErr.Code
	}
	return ""
}

// IsConfigError reports whether err is a construction-time configuration error.
func IsConfigError(err error) bool {
	return strings.HasPrefix(string(CodeOf(err)), "CONFIG_")
}

// IsSecurityViolation reports whether err was raised by the access guard.
func IsSecurityViolation(err error) bool {
	return CodeOf(err) == SECURITY_VIOLATION
}

// IsTimeout reports whether err is a task timeout.
func IsTimeout(err error) bool {
	return CodeOf(err) == TASK_TIMEOUT
}

// IsNotFound reports whether err signals a missing workflow, schedule or row.
func IsNotFound(err error) bool {
	switch CodeOf(err) {
	case WORKFLOW_NOT_FOUND, SCHEDULE_NOT_FOUND, DB_NOT_FOUND, CONFIG_TEMPLATE_NOT_FOUND:
		return true
	}
	return false
}
