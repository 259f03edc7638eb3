package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/zero-day-ai/tideflow/internal/guard"
)

const defaultHTTPTimeout = 30 * time.Second

// Builtins holds the collaborators shared by the built-in handlers.
type Builtins struct {
	runner    CommandRunner
	guard     guard.Guard
	client    *http.Client
	diskUsage func(path string) (float64, error)
	logger    *slog.Logger
}

// BuiltinOption configures Builtins.
type BuiltinOption func(*Builtins)

// WithRunner sets the command runner used by shell, file, service and git handlers.
func WithRunner(runner CommandRunner) BuiltinOption {
	return func(b *Builtins) {
		b.runner = runner
	}
}

// WithGuard sets the access guard consulted before shell, file and git operations.
func WithGuard(g guard.Guard) BuiltinOption {
	return func(b *Builtins) {
		b.guard = g
	}
}

// WithHTTPClient sets the client used by api_call and http health checks.
func WithHTTPClient(client *http.Client) BuiltinOption {
	return func(b *Builtins) {
		b.client = client
	}
}

// WithDiskUsage overrides how disk usage percentages are measured.
func WithDiskUsage(fn func(path string) (float64, error)) BuiltinOption {
	return func(b *Builtins) {
		b.diskUsage = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) BuiltinOption {
	return func(b *Builtins) {
		b.logger = logger
	}
}

// NewBuiltins creates the built-in handler set.
func NewBuiltins(opts ...BuiltinOption) *Builtins {
	b := &Builtins{
		runner:    ExecRunner{},
		guard:     guard.AllowAll{},
		client:    &http.Client{Timeout: defaultHTTPTimeout},
		diskUsage: DiskUsagePercent,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Register adds every built-in task type to r.
func (b *Builtins) Register(r *Registry) error {
	specs := []Spec{
		{Type: TypeShell, Handler: b.Shell, Required: []string{"command"}},
		{Type: TypePython, Handler: b.PythonScript, Validate: validatePythonScript},
		{Type: TypeFile, Handler: b.FileOperation, Required: []string{"operation", "source"}, Validate: validateFileOperation},
		{Type: TypeService, Handler: b.ServiceManagement, Required: []string{"service_name"}, Validate: validateServiceManagement},
		{Type: TypeGit, Handler: b.GitOperation, Required: []string{"operation"}, Validate: validateGitOperation},
		{Type: TypeAPICall, Handler: b.APICall, Required: []string{"url"}},
		{Type: TypeHealthCheck, Handler: b.HealthCheck, Validate: validateHealthCheck},
		{Type: TypeWait, Handler: b.Wait},
		{Type: TypeLogAnalysis, Handler: b.LogAnalysis, Required: []string{"log_file", "patterns"}},
		{Type: TypeBackup, Handler: b.Backup, Required: []string{"sources", "destination"}},
		{Type: TypeNotification, Handler: b.Notification, Required: []string{"message"}},
	}
	for _, spec := range specs {
		if err := r.Register(spec); err != nil {
			return err
		}
	}
	return nil
}

// NewDefaultRegistry returns a registry populated with the built-in handlers.
func NewDefaultRegistry(opts ...BuiltinOption) (*Registry, error) {
	r := NewRegistry()
	if err := NewBuiltins(opts...).Register(r); err != nil {
		return nil, err
	}
	return r, nil
}
