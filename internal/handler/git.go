package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/zero-day-ai/tideflow/internal/guard"
)

const defaultBranch = "main"

func validateGitOperation(params map[string]any) error {
	if err := oneOf(params, "operation", "", "clone", "pull", "push", "checkout", "commit"); err != nil {
		return err
	}
	if stringParam(params, "operation", "") == "clone" && stringParam(params, "repository_url", "") == "" {
		return fmt.Errorf("clone requires repository_url")
	}
	return nil
}

// GitOperation performs clone, pull, push, checkout or commit. Every remote
// URL involved, including the configured origin for pull and push, is checked
// by the access guard before git runs.
// Outputs: exit_code, stdout, and repository_url when known.
func (b *Builtins) GitOperation(ctx context.Context, req *Request) (*Result, error) {
	op, err := requireString(req.Params, "operation")
	if err != nil {
		return nil, err
	}
	repoURL := stringParam(req.Params, "repository_url", "")
	dir := stringParam(req.Params, "working_directory", ".")
	branch := stringParam(req.Params, "branch", defaultBranch)

	if repoURL != "" {
		if err := b.guard.Check(ctx, guard.OperationGit, repoURL); err != nil {
			return nil, err
		}
	}
	if err := b.checkPath(ctx, dir); err != nil {
		return nil, err
	}

	if op == "pull" || op == "push" {
		origin, err := b.originURL(ctx, dir)
		if err != nil {
			return nil, err
		}
		if origin != "" {
			if err := b.guard.Check(ctx, guard.OperationGit, origin); err != nil {
				return nil, err
			}
			if repoURL == "" {
				repoURL = origin
			}
		}
	}

	var steps [][]string
	switch op {
	case "clone":
		steps = [][]string{{"clone", "--branch", branch, repoURL, dir}}
	case "pull":
		steps = [][]string{{"-C", dir, "pull", "origin", branch}}
	case "push":
		steps = [][]string{{"-C", dir, "push", "origin", branch}}
	case "checkout":
		steps = [][]string{{"-C", dir, "checkout", branch}}
	case "commit":
		message := stringParam(req.Params, "message", "Automated commit")
		steps = [][]string{
			{"-C", dir, "add", "-A"},
			{"-C", dir, "commit", "-m", message},
		}
	default:
		return nil, fmt.Errorf("unsupported git operation %q", op)
	}

	out := NewResult()
	if repoURL != "" {
		out.Set("repository_url", repoURL)
	}

	var stdout strings.Builder
	for _, args := range steps {
		req.Logf("INFO", "git %s", strings.Join(args, " "))
		res, err := b.runner.Run(ctx, "", "git", args...)
		if err != nil {
			return nil, fmt.Errorf("git %s: %w", op, err)
		}
		stdout.WriteString(res.Stdout)
		out.Set("exit_code", res.ExitCode)
		if res.ExitCode != 0 {
			out.Set("stdout", stdout.String())
			return out, fmt.Errorf("git %s exited with status %d%s", op, res.ExitCode, stderrSuffix(res.Stderr))
		}
	}
	out.Set("stdout", stdout.String())
	return out, nil
}

func (b *Builtins) originURL(ctx context.Context, dir string) (string, error) {
	res, err := b.runner.Run(ctx, "", "git", "-C", dir, "remote", "get-url", "origin")
	if err != nil {
		return "", fmt.Errorf("resolve origin: %w", err)
	}
	if res.ExitCode != 0 {
		// No origin configured; git itself will report the failure.
		return "", nil
	}
	return strings.TrimSpace(res.Stdout), nil
}
