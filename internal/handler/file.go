package handler

import (
	"context"
	"fmt"
	"path/filepath"
)

func validateFileOperation(params map[string]any) error {
	if err := oneOf(params, "operation", "", "copy", "move", "delete", "compress"); err != nil {
		return err
	}
	switch stringParam(params, "operation", "") {
	case "copy", "move", "compress":
		if stringParam(params, "destination", "") == "" {
			return fmt.Errorf("operation %q requires a destination", stringParam(params, "operation", ""))
		}
	}
	return nil
}

// FileOperation copies, moves, deletes or compresses paths. It succeeds iff
// the underlying command exits with status zero.
func (b *Builtins) FileOperation(ctx context.Context, req *Request) (*Result, error) {
	op, err := requireString(req.Params, "operation")
	if err != nil {
		return nil, err
	}
	source, err := requireString(req.Params, "source")
	if err != nil {
		return nil, err
	}
	destination := stringParam(req.Params, "destination", "")

	for _, p := range []string{source, destination} {
		if err := b.checkPath(ctx, p); err != nil {
			return nil, err
		}
	}

	var name string
	var args []string
	switch op {
	case "copy":
		name, args = "cp", []string{"-r", source, destination}
	case "move":
		name, args = "mv", []string{source, destination}
	case "delete":
		name, args = "rm", []string{"-rf", source}
	case "compress":
		name, args = "tar", []string{"-czf", destination, "-C", filepath.Dir(source), filepath.Base(source)}
	default:
		return nil, fmt.Errorf("unsupported file operation %q", op)
	}

	req.Logf("INFO", "file %s: %s", op, source)
	res, err := b.runner.Run(ctx, "", name, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	out := NewResult().Set("exit_code", res.ExitCode)
	if res.ExitCode != 0 {
		return out, fmt.Errorf("file %s exited with status %d%s", op, res.ExitCode, stderrSuffix(res.Stderr))
	}
	return out, nil
}
