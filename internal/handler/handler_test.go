package handler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/tideflow/internal/guard"
	"github.com/zero-day-ai/tideflow/internal/types"
)

// fakeRunner records invocations and answers from a script keyed by the
// joined command line.
type fakeRunner struct {
	mu      sync.Mutex
	calls   []string
	replies map[string]*CommandResult
	err     error
}

func (f *fakeRunner) Run(_ context.Context, _ string, name string, args ...string) (*CommandResult, error) {
	line := strings.Join(append([]string{name}, args...), " ")

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, line)
	if f.err != nil {
		return nil, f.err
	}
	if res, ok := f.replies[line]; ok {
		return res, nil
	}
	return &CommandResult{}, nil
}

func (f *fakeRunner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newTestGuard(t *testing.T) guard.Guard {
	t.Helper()
	g, err := guard.NewPatternGuard(guard.Config{ForbiddenOrgs: []string{"forbidden-org"}})
	require.NoError(t, err)
	return g
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	noop := func(context.Context, *Request) (*Result, error) { return NewResult(), nil }

	require.NoError(t, r.Register(Spec{Type: "custom", Handler: noop}))
	assert.Error(t, r.Register(Spec{Type: "custom", Handler: noop}), "duplicate type")
	assert.Error(t, r.Register(Spec{Type: "", Handler: noop}))
	assert.Error(t, r.Register(Spec{Type: "nil-handler"}))

	h, ok := r.Lookup("custom")
	assert.True(t, ok)
	assert.NotNil(t, h)

	_, ok = r.Lookup("missing")
	assert.False(t, ok)
	assert.Equal(t, []string{"custom"}, r.Types())
}

func TestDefaultRegistry_Types(t *testing.T) {
	r, err := NewDefaultRegistry()
	require.NoError(t, err)

	for _, tt := range []string{
		TypeShell, TypePython, TypeFile, TypeService, TypeGit, TypeAPICall,
		TypeHealthCheck, TypeWait, TypeLogAnalysis, TypeBackup, TypeNotification,
	} {
		assert.True(t, r.Has(tt), tt)
	}
}

func TestRegistry_Validate(t *testing.T) {
	r, err := NewDefaultRegistry()
	require.NoError(t, err)

	tests := []struct {
		name     string
		taskType string
		params   map[string]any
		code     types.ErrorCode
	}{
		{name: "valid shell", taskType: TypeShell, params: map[string]any{"command": "true"}},
		{name: "unknown type", taskType: "teleport", code: types.CONFIG_UNKNOWN_TASK_TYPE},
		{name: "missing command", taskType: TypeShell, params: map[string]any{}, code: types.CONFIG_MISSING_FIELD},
		{name: "bad file operation", taskType: TypeFile, params: map[string]any{"operation": "shred", "source": "/tmp/x"}, code: types.CONFIG_INVALID_TASK_PARAMS},
		{name: "copy without destination", taskType: TypeFile, params: map[string]any{"operation": "copy", "source": "/tmp/x"}, code: types.CONFIG_INVALID_TASK_PARAMS},
		{name: "variable operation deferred", taskType: TypeGit, params: map[string]any{"operation": "${git_op}"}},
		{name: "clone without url", taskType: TypeGit, params: map[string]any{"operation": "clone"}, code: types.CONFIG_INVALID_TASK_PARAMS},
		{name: "disk health", taskType: TypeHealthCheck, params: map[string]any{"check_type": "disk"}},
		{name: "http health without url", taskType: TypeHealthCheck, params: map[string]any{"check_type": "http"}, code: types.CONFIG_INVALID_TASK_PARAMS},
		{name: "wait without params", taskType: TypeWait},
		{name: "inline python", taskType: TypePython, params: map[string]any{"script": "print(1)"}},
		{name: "python without script", taskType: TypePython, params: map[string]any{}, code: types.CONFIG_INVALID_TASK_PARAMS},
		{name: "python with both sources", taskType: TypePython, params: map[string]any{"script": "print(1)", "script_file": "job.py"}, code: types.CONFIG_INVALID_TASK_PARAMS},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Validate("t1", tt.taskType, tt.params)
			if tt.code == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.code, types.CodeOf(err))
			assert.True(t, types.IsConfigError(err))
		})
	}
}

func TestShell(t *testing.T) {
	t.Run("success captures outputs", func(t *testing.T) {
		runner := &fakeRunner{replies: map[string]*CommandResult{
			"sh -c echo hi": {ExitCode: 0, Stdout: "hi\n"},
		}}
		b := NewBuiltins(WithRunner(runner))

		res, err := b.Shell(context.Background(), &Request{Params: map[string]any{"command": "echo hi"}})
		require.NoError(t, err)
		assert.Equal(t, 0, res.Outputs["exit_code"])
		assert.Equal(t, "hi\n", res.Outputs["stdout"])
	})

	t.Run("non-zero exit is a retryable failure", func(t *testing.T) {
		runner := &fakeRunner{replies: map[string]*CommandResult{
			"sh -c exit 3": {ExitCode: 3, Stderr: "bad things"},
		}}
		b := NewBuiltins(WithRunner(runner))

		res, err := b.Shell(context.Background(), &Request{Params: map[string]any{"command": "exit 3"}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 3")
		assert.Contains(t, err.Error(), "bad things")
		assert.False(t, types.IsSecurityViolation(err))
		assert.Equal(t, 3, res.Outputs["exit_code"])
	})

	t.Run("guard violation never runs the command", func(t *testing.T) {
		runner := &fakeRunner{}
		b := NewBuiltins(WithRunner(runner), WithGuard(newTestGuard(t)))

		_, err := b.Shell(context.Background(), &Request{Params: map[string]any{
			"command": "git clone https://github.com/forbidden-org/repo",
		}})
		require.Error(t, err)
		assert.True(t, types.IsSecurityViolation(err))
		assert.Empty(t, runner.Calls())
	})

	t.Run("real shell", func(t *testing.T) {
		b := NewBuiltins()
		res, err := b.Shell(context.Background(), &Request{Params: map[string]any{
			"command":           "printf tideflow",
			"working_directory": t.TempDir(),
		}})
		require.NoError(t, err)
		assert.Equal(t, "tideflow", res.Outputs["stdout"])
	})
}

func TestPythonScript(t *testing.T) {
	t.Run("inline script", func(t *testing.T) {
		runner := &fakeRunner{replies: map[string]*CommandResult{
			"python3 -c print('hi')": {ExitCode: 0, Stdout: "hi\n"},
		}}
		b := NewBuiltins(WithRunner(runner))

		res, err := b.PythonScript(context.Background(), &Request{Params: map[string]any{"script": "print('hi')"}})
		require.NoError(t, err)
		assert.Equal(t, 0, res.Outputs["exit_code"])
		assert.Equal(t, "hi\n", res.Outputs["stdout"])
		assert.Equal(t, []string{"python3 -c print('hi')"}, runner.Calls())
	})

	t.Run("script file with interpreter override", func(t *testing.T) {
		runner := &fakeRunner{replies: map[string]*CommandResult{
			"python3.12 jobs/report.py": {ExitCode: 2, Stderr: "Traceback"},
		}}
		b := NewBuiltins(WithRunner(runner))

		res, err := b.PythonScript(context.Background(), &Request{Params: map[string]any{
			"script_file": "jobs/report.py",
			"interpreter": "python3.12",
		}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 2")
		assert.Contains(t, err.Error(), "Traceback")
		assert.Equal(t, 2, res.Outputs["exit_code"])
	})

	t.Run("guarded script file never runs", func(t *testing.T) {
		runner := &fakeRunner{}
		b := NewBuiltins(WithRunner(runner), WithGuard(newTestGuard(t)))

		_, err := b.PythonScript(context.Background(), &Request{Params: map[string]any{
			"script_file": "/srv/forbidden-org/job.py",
		}})
		require.Error(t, err)
		assert.True(t, types.IsSecurityViolation(err))
		assert.Empty(t, runner.Calls())
	})

	t.Run("guarded inline script never runs", func(t *testing.T) {
		runner := &fakeRunner{}
		b := NewBuiltins(WithRunner(runner), WithGuard(newTestGuard(t)))

		_, err := b.PythonScript(context.Background(), &Request{Params: map[string]any{
			"script": "import os; os.system('git clone https://github.com/forbidden-org/repo')",
		}})
		require.Error(t, err)
		assert.True(t, types.IsSecurityViolation(err))
		assert.Empty(t, runner.Calls())
	})

	t.Run("missing source", func(t *testing.T) {
		runner := &fakeRunner{}
		b := NewBuiltins(WithRunner(runner))

		_, err := b.PythonScript(context.Background(), &Request{Params: map[string]any{}})
		require.Error(t, err)
		assert.Empty(t, runner.Calls())
	})
}

func TestFileOperation(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]any
		want   string
	}{
		{"copy", map[string]any{"operation": "copy", "source": "/tmp/a", "destination": "/tmp/b"}, "cp -r /tmp/a /tmp/b"},
		{"move", map[string]any{"operation": "move", "source": "/tmp/a", "destination": "/tmp/b"}, "mv /tmp/a /tmp/b"},
		{"delete", map[string]any{"operation": "delete", "source": "/tmp/a"}, "rm -rf /tmp/a"},
		{"compress", map[string]any{"operation": "compress", "source": "/var/log/app", "destination": "/tmp/app.tgz"}, "tar -czf /tmp/app.tgz -C /var/log app"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{}
			b := NewBuiltins(WithRunner(runner))
			_, err := b.FileOperation(context.Background(), &Request{Params: tt.params})
			require.NoError(t, err)
			assert.Equal(t, []string{tt.want}, runner.Calls())
		})
	}

	t.Run("failing command", func(t *testing.T) {
		runner := &fakeRunner{replies: map[string]*CommandResult{"rm -rf /tmp/a": {ExitCode: 1}}}
		b := NewBuiltins(WithRunner(runner))
		_, err := b.FileOperation(context.Background(), &Request{Params: map[string]any{"operation": "delete", "source": "/tmp/a"}})
		assert.Error(t, err)
	})
}

func TestServiceManagement(t *testing.T) {
	t.Run("systemd status does not mutate", func(t *testing.T) {
		runner := &fakeRunner{replies: map[string]*CommandResult{
			"systemctl is-active nginx": {Stdout: "active\n"},
		}}
		b := NewBuiltins(WithRunner(runner))
		res, err := b.ServiceManagement(context.Background(), &Request{Params: map[string]any{"service_name": "nginx", "action": "status"}})
		require.NoError(t, err)
		assert.Equal(t, "active", res.Outputs["service_status"])
		assert.Equal(t, []string{"systemctl is-active nginx"}, runner.Calls())
	})

	t.Run("systemd restart", func(t *testing.T) {
		runner := &fakeRunner{}
		b := NewBuiltins(WithRunner(runner))
		_, err := b.ServiceManagement(context.Background(), &Request{Params: map[string]any{"service_name": "nginx", "action": "restart"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"sudo systemctl restart nginx"}, runner.Calls())
	})

	t.Run("docker status of stopped container fails", func(t *testing.T) {
		runner := &fakeRunner{}
		b := NewBuiltins(WithRunner(runner))
		res, err := b.ServiceManagement(context.Background(), &Request{Params: map[string]any{
			"service_name": "redis", "action": "status", "service_type": "docker",
		}})
		require.Error(t, err)
		assert.Equal(t, "not running", res.Outputs["service_status"])
	})
}

func TestGitOperation(t *testing.T) {
	t.Run("clone checks url and runs git", func(t *testing.T) {
		runner := &fakeRunner{}
		b := NewBuiltins(WithRunner(runner), WithGuard(newTestGuard(t)))
		res, err := b.GitOperation(context.Background(), &Request{Params: map[string]any{
			"operation": "clone", "repository_url": "https://github.com/golang/example", "working_directory": "/tmp/example",
		}})
		require.NoError(t, err)
		assert.Equal(t, "https://github.com/golang/example", res.Outputs["repository_url"])
		assert.Equal(t, []string{"git clone --branch main https://github.com/golang/example /tmp/example"}, runner.Calls())
	})

	t.Run("forbidden clone is a security violation", func(t *testing.T) {
		runner := &fakeRunner{}
		b := NewBuiltins(WithRunner(runner), WithGuard(newTestGuard(t)))
		_, err := b.GitOperation(context.Background(), &Request{Params: map[string]any{
			"operation": "clone", "repository_url": "git@github.com:forbidden-org/secret.git",
		}})
		require.Error(t, err)
		assert.True(t, types.IsSecurityViolation(err))
		assert.Empty(t, runner.Calls())
	})

	t.Run("push checks the configured origin", func(t *testing.T) {
		runner := &fakeRunner{replies: map[string]*CommandResult{
			"git -C /srv/repo remote get-url origin": {Stdout: "https://github.com/forbidden-org/secret\n"},
		}}
		b := NewBuiltins(WithRunner(runner), WithGuard(newTestGuard(t)))
		_, err := b.GitOperation(context.Background(), &Request{Params: map[string]any{
			"operation": "push", "working_directory": "/srv/repo",
		}})
		require.Error(t, err)
		assert.True(t, types.IsSecurityViolation(err))
		assert.Equal(t, []string{"git -C /srv/repo remote get-url origin"}, runner.Calls())
	})

	t.Run("commit stages then commits", func(t *testing.T) {
		runner := &fakeRunner{}
		b := NewBuiltins(WithRunner(runner))
		_, err := b.GitOperation(context.Background(), &Request{Params: map[string]any{
			"operation": "commit", "working_directory": "/srv/repo", "message": "nightly",
		}})
		require.NoError(t, err)
		assert.Equal(t, []string{
			"git -C /srv/repo add -A",
			"git -C /srv/repo commit -m nightly",
		}, runner.Calls())
	})

	t.Run("runner error", func(t *testing.T) {
		runner := &fakeRunner{err: errors.New("git not installed")}
		b := NewBuiltins(WithRunner(runner))
		_, err := b.GitOperation(context.Background(), &Request{Params: map[string]any{"operation": "checkout", "working_directory": "/srv/repo"}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "git not installed")
	})
}
