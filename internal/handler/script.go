package handler

import (
	"context"
	"fmt"

	"github.com/zero-day-ai/tideflow/internal/guard"
)

const defaultInterpreter = "python3"

func validatePythonScript(params map[string]any) error {
	script := stringParam(params, "script", "")
	file := stringParam(params, "script_file", "")
	switch {
	case script == "" && file == "":
		return fmt.Errorf("one of script or script_file is required")
	case script != "" && file != "":
		return fmt.Errorf("script and script_file are mutually exclusive")
	}
	return nil
}

// PythonScript runs inline params.script with "python3 -c", or the file named
// by params.script_file, in params.working_directory. A relative script_file
// resolves against the working directory. params.interpreter overrides
// python3. Outputs: exit_code, stdout, stderr.
func (b *Builtins) PythonScript(ctx context.Context, req *Request) (*Result, error) {
	if err := validatePythonScript(req.Params); err != nil {
		return nil, err
	}
	script := stringParam(req.Params, "script", "")
	file := stringParam(req.Params, "script_file", "")
	dir := stringParam(req.Params, "working_directory", ".")
	interpreter := stringParam(req.Params, "interpreter", defaultInterpreter)

	if err := b.checkPath(ctx, dir); err != nil {
		return nil, err
	}

	var args []string
	if file != "" {
		if err := b.checkPath(ctx, file); err != nil {
			return nil, err
		}
		req.Logf("INFO", "executing script file: %s", file)
		args = []string{file}
	} else {
		if err := b.guard.Check(ctx, guard.OperationScript, script); err != nil {
			return nil, err
		}
		req.Logf("INFO", "executing inline script")
		args = []string{"-c", script}
	}

	res, err := b.runner.Run(ctx, dir, interpreter, args...)
	if err != nil {
		return nil, fmt.Errorf("run script: %w", err)
	}

	out := NewResult().
		Set("exit_code", res.ExitCode).
		Set("stdout", res.Stdout).
		Set("stderr", res.Stderr)

	if res.ExitCode != 0 {
		return out, fmt.Errorf("script exited with status %d%s", res.ExitCode, stderrSuffix(res.Stderr))
	}
	return out, nil
}
