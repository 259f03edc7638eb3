package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/tideflow/internal/handler"
	"github.com/zero-day-ai/tideflow/internal/types"
)

func TestNew_RejectsInvalidConfigurations(t *testing.T) {
	r := testRegistry(t)

	tests := []struct {
		name string
		cfg  *Config
		code types.ErrorCode
	}{
		{
			name: "nil config",
			cfg:  nil,
			code: types.CONFIG_MISSING_FIELD,
		},
		{
			name: "missing name",
			cfg:  &Config{Tasks: []TaskConfig{tc("A")}},
			code: types.CONFIG_MISSING_FIELD,
		},
		{
			name: "no tasks",
			cfg:  &Config{Name: "empty"},
			code: types.CONFIG_MISSING_FIELD,
		},
		{
			name: "task without type",
			cfg:  &Config{Name: "x", Tasks: []TaskConfig{{ID: "A", Name: "A"}}},
			code: types.CONFIG_MISSING_FIELD,
		},
		{
			name: "negative timeout",
			cfg:  &Config{Name: "x", Tasks: []TaskConfig{{ID: "A", Name: "A", Type: "noop", Timeout: -1}}},
			code: types.CONFIG_VALIDATION_FAILED,
		},
		{
			name: "bad trigger type",
			cfg:  &Config{Name: "x", TriggerType: "telepathy", Tasks: []TaskConfig{tc("A")}},
			code: types.CONFIG_VALIDATION_FAILED,
		},
		{
			name: "unknown task type",
			cfg:  &Config{Name: "x", Tasks: []TaskConfig{{ID: "A", Name: "A", Type: "teleport"}}},
			code: types.CONFIG_UNKNOWN_TASK_TYPE,
		},
		{
			name: "shell task without command",
			cfg:  &Config{Name: "x", Tasks: []TaskConfig{{ID: "A", Name: "A", Type: handler.TypeShell}}},
			code: types.CONFIG_MISSING_FIELD,
		},
		{
			name: "cycle",
			cfg:  &Config{Name: "x", Tasks: []TaskConfig{tc("A", "B"), tc("B", "A")}},
			code: types.CONFIG_CYCLIC_DEPENDENCY,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wf, err := New(tt.cfg, r)
			require.Error(t, err)
			assert.Nil(t, wf)
			assert.Equal(t, tt.code, types.CodeOf(err))
			assert.True(t, types.IsConfigError(err))
		})
	}
}

func TestNew_AppliesDefaults(t *testing.T) {
	r := testRegistry(t)
	cfg := &Config{
		Name: "defaults",
		Tasks: []TaskConfig{
			tc("A"),
			{ID: "B", Name: "B", Type: "noop", Timeout: 1.5, MaxRetries: intPtr(0), Dependencies: []string{"A"}},
		},
	}

	wf, err := New(cfg, r)
	require.NoError(t, err)
	assert.False(t, wf.ID.IsZero())
	assert.Equal(t, WorkflowStatusPending, wf.Status())
	assert.Equal(t, TriggerManual, wf.Config.TriggerType)
	assert.Equal(t, []string{"A", "B"}, wf.ExecutionOrder())

	a, _ := wf.Task("A")
	assert.Equal(t, DefaultTaskTimeout, a.Timeout)
	assert.Equal(t, DefaultMaxRetries, a.MaxRetries)
	assert.NotNil(t, a.Params)

	b, _ := wf.Task("B")
	assert.Equal(t, 1500*time.Millisecond, b.Timeout)
	assert.Equal(t, 0, b.MaxRetries)
}

func TestNew_Options(t *testing.T) {
	r := testRegistry(t)
	id := types.NewID()
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	wf, err := New(&Config{Name: "opts", Tasks: []TaskConfig{tc("A")}}, r,
		WithID(id),
		WithCreatedAt(created),
		WithTaskDefaults(10*time.Second, 1),
	)
	require.NoError(t, err)
	assert.Equal(t, id, wf.ID)
	assert.Equal(t, created, wf.CreatedAt)

	a, _ := wf.Task("A")
	assert.Equal(t, 10*time.Second, a.Timeout)
	assert.Equal(t, 1, a.MaxRetries)
}

func TestParseConfig(t *testing.T) {
	data := []byte(`
name: deploy
description: ship it
variables:
  env: staging
tasks:
  - id: build
    name: Build
    type: shell_command
    params:
      command: make build
    timeout: 120
  - id: test
    name: Test
    type: shell_command
    dependencies: [build]
    max_retries: 0
    continue_on_failure: true
    params:
      command: make test
`)

	cfg, err := ParseConfig(data)
	require.NoError(t, err)
	assert.Equal(t, "deploy", cfg.Name)
	assert.Equal(t, "staging", cfg.Variables["env"])
	require.Len(t, cfg.Tasks, 2)
	assert.Equal(t, 120.0, cfg.Tasks[0].Timeout)
	assert.Nil(t, cfg.Tasks[0].MaxRetries)
	require.NotNil(t, cfg.Tasks[1].MaxRetries)
	assert.Equal(t, 0, *cfg.Tasks[1].MaxRetries)
	assert.True(t, cfg.Tasks[1].ContinueOnFailure)
	assert.Equal(t, []string{"build"}, cfg.Tasks[1].Dependencies)

	_, err = ParseConfig([]byte("name: [unterminated"))
	assert.Equal(t, types.CONFIG_PARSE_FAILED, types.CodeOf(err))
}

func TestConfigClone(t *testing.T) {
	cfg := &Config{Name: "c", Variables: map[string]any{"k": "v"}, Tasks: []TaskConfig{tc("A")}}
	cp, err := cfg.Clone()
	require.NoError(t, err)

	cp.Variables["k"] = "changed"
	cp.Tasks[0].ID = "Z"
	assert.Equal(t, "v", cfg.Variables["k"])
	assert.Equal(t, "A", cfg.Tasks[0].ID)
}
