package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlowError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *FlowError
		contains []string
	}{
		{
			name:     "simple error without cause",
			err:      NewError(CONFIG_CYCLIC_DEPENDENCY, "cyclic dependency detected"),
			contains: []string{"[CONFIG_CYCLIC_DEPENDENCY]", "cyclic dependency detected"},
		},
		{
			name:     "error with cause",
			err:      WrapError(DB_QUERY_FAILED, "insert execution", errors.New("database is locked")),
			contains: []string{"[DB_QUERY_FAILED]", "insert execution", "database is locked"},
		},
		{
			name:     "formatted error",
			err:      NewErrorf(CONFIG_UNKNOWN_TASK_TYPE, "task %q has unknown type %q", "build", "rocket"),
			contains: []string{"[CONFIG_UNKNOWN_TASK_TYPE]", `task "build" has unknown type "rocket"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, substr := range tt.contains {
				assert.Contains(t, msg, substr)
			}
		})
	}
}

func TestFlowError_IsAndUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	wrapped := WrapError(DB_QUERY_FAILED, "update execution", cause)

	assert.ErrorIs(t, wrapped, cause)
	assert.ErrorIs(t, wrapped, NewError(DB_QUERY_FAILED, "other message"))
	assert.NotErrorIs(t, wrapped, NewError(DB_OPEN_FAILED, "open failed"))

	outer := fmt.Errorf("scheduler fire: %w", wrapped)
	var flowErr *FlowError
	require.ErrorAs(t, outer, &flowErr)
	assert.Equal(t, DB_QUERY_FAILED, flowErr.Code)
}

func TestNewRetryableError(t *testing.T) {
	err := NewRetryableError(TASK_FAILED, "handler reported failure")
	assert.True(t, err.Retryable)
	assert.Nil(t, err.Cause)

	assert.False(t, NewError(TASK_FAILED, "x").Retryable)
	assert.False(t, WrapError(TASK_FAILED, "x", errors.New("y")).Retryable)
}

func TestClassifiers(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		config   bool
		security bool
		timeout  bool
		notFound bool
	}{
		{name: "nil", err: nil},
		{name: "plain error", err: errors.New("boom")},
		{name: "cyclic dependency", err: NewError(CONFIG_CYCLIC_DEPENDENCY, "cycle"), config: true},
		{name: "invalid cron", err: fmt.Errorf("add job: %w", NewError(CONFIG_INVALID_CRON, "bad")), config: true},
		{name: "template missing", err: NewError(CONFIG_TEMPLATE_NOT_FOUND, "nope"), config: true, notFound: true},
		{name: "security violation", err: NewError(SECURITY_VIOLATION, "forbidden org"), security: true},
		{name: "timeout", err: NewError(TASK_TIMEOUT, "task timed out after 1s"), timeout: true},
		{name: "workflow not found", err: NewError(WORKFLOW_NOT_FOUND, "missing"), notFound: true},
		{name: "schedule not found", err: NewError(SCHEDULE_NOT_FOUND, "missing"), notFound: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.config, IsConfigError(tt.err))
			assert.Equal(t, tt.security, IsSecurityViolation(tt.err))
			assert.Equal(t, tt.timeout, IsTimeout(tt.err))
			assert.Equal(t, tt.notFound, IsNotFound(tt.err))
		})
	}
}
