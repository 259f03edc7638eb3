package handler

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/zero-day-ai/tideflow/internal/guard"
)

// Shell runs params.command through /bin/sh in params.working_directory.
// Outputs: exit_code, stdout, stderr.
func (b *Builtins) Shell(ctx context.Context, req *Request) (*Result, error) {
	command, err := requireString(req.Params, "command")
	if err != nil {
		return nil, err
	}
	dir := stringParam(req.Params, "working_directory", ".")

	if err := b.guard.Check(ctx, guard.OperationShell, command); err != nil {
		return nil, err
	}
	if err := b.checkPath(ctx, dir); err != nil {
		return nil, err
	}

	req.Logf("INFO", "executing command: %s", command)
	res, err := b.runner.Run(ctx, dir, "sh", "-c", command)
	if err != nil {
		return nil, fmt.Errorf("run command: %w", err)
	}

	out := NewResult().
		Set("exit_code", res.ExitCode).
		Set("stdout", res.Stdout).
		Set("stderr", res.Stderr)

	if res.ExitCode != 0 {
		return out, fmt.Errorf("command exited with status %d%s", res.ExitCode, stderrSuffix(res.Stderr))
	}
	return out, nil
}

// checkPath runs the guard against a local path when one is given.
func (b *Builtins) checkPath(ctx context.Context, path string) error {
	if path == "" || path == "." {
		return nil
	}
	return b.guard.Check(ctx, guard.OperationFile, filepath.Clean(path))
}

func stderrSuffix(stderr string) string {
	stderr = strings.TrimSpace(stderr)
	if stderr == "" {
		return ""
	}
	const max = 512
	if len(stderr) > max {
		stderr = stderr[:max] + "..."
	}
	return ": " + stderr
}
