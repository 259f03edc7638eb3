package handler

import (
	"context"
	"fmt"
	"strings"
)

func validateServiceManagement(params map[string]any) error {
	if err := oneOf(params, "action", "status", "start", "stop", "restart", "status"); err != nil {
		return err
	}
	return oneOf(params, "service_type", "systemd", "systemd", "docker")
}

// ServiceManagement starts, stops, restarts or queries a systemd unit or a
// docker container. The status action never changes service state.
// Outputs: service_status (status action only), exit_code.
func (b *Builtins) ServiceManagement(ctx context.Context, req *Request) (*Result, error) {
	service, err := requireString(req.Params, "service_name")
	if err != nil {
		return nil, err
	}
	action := stringParam(req.Params, "action", "status")
	serviceType := stringParam(req.Params, "service_type", "systemd")

	switch action {
	case "start", "stop", "restart", "status":
	default:
		return nil, fmt.Errorf("unsupported service action %q", action)
	}

	switch serviceType {
	case "systemd":
		return b.systemd(ctx, req, service, action)
	case "docker":
		return b.docker(ctx, req, service, action)
	default:
		return nil, fmt.Errorf("unsupported service type %q", serviceType)
	}
}

func (b *Builtins) systemd(ctx context.Context, req *Request, service, action string) (*Result, error) {
	if action == "status" {
		status, code, err := b.systemdStatus(ctx, service)
		if err != nil {
			return nil, err
		}
		out := NewResult().Set("service_status", status).Set("exit_code", code)
		if code != 0 {
			return out, fmt.Errorf("service %s is %s", service, status)
		}
		return out, nil
	}

	req.Logf("INFO", "systemctl %s %s", action, service)
	res, err := b.runner.Run(ctx, "", "sudo", "systemctl", action, service)
	if err != nil {
		return nil, fmt.Errorf("systemctl %s: %w", action, err)
	}
	out := NewResult().Set("exit_code", res.ExitCode)
	if res.ExitCode != 0 {
		return out, fmt.Errorf("systemctl %s %s exited with status %d%s", action, service, res.ExitCode, stderrSuffix(res.Stderr))
	}
	return out, nil
}

func (b *Builtins) systemdStatus(ctx context.Context, service string) (string, int, error) {
	res, err := b.runner.Run(ctx, "", "systemctl", "is-active", service)
	if err != nil {
		return "", 0, fmt.Errorf("systemctl is-active: %w", err)
	}
	status := strings.TrimSpace(res.Stdout)
	if status == "" {
		status = "unknown"
	}
	return status, res.ExitCode, nil
}

func (b *Builtins) docker(ctx context.Context, req *Request, container, action string) (*Result, error) {
	if action == "status" {
		status, err := b.dockerStatus(ctx, container)
		if err != nil {
			return nil, err
		}
		out := NewResult().Set("service_status", status)
		if status == "" {
			out.Set("service_status", "not running")
			return out, fmt.Errorf("container %s is not running", container)
		}
		return out, nil
	}

	req.Logf("INFO", "docker %s %s", action, container)
	res, err := b.runner.Run(ctx, "", "docker", action, container)
	if err != nil {
		return nil, fmt.Errorf("docker %s: %w", action, err)
	}
	out := NewResult().Set("exit_code", res.ExitCode)
	if res.ExitCode != 0 {
		return out, fmt.Errorf("docker %s %s exited with status %d%s", action, container, res.ExitCode, stderrSuffix(res.Stderr))
	}
	return out, nil
}

func (b *Builtins) dockerStatus(ctx context.Context, container string) (string, error) {
	res, err := b.runner.Run(ctx, "", "docker", "ps", "--filter", "name="+container, "--format", "{{.Status}}")
	if err != nil {
		return "", fmt.Errorf("docker ps: %w", err)
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("docker ps exited with status %d%s", res.ExitCode, stderrSuffix(res.Stderr))
	}
	return strings.TrimSpace(res.Stdout), nil
}
