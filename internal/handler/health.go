package handler

import (
	"context"
	"fmt"
	"net/http"
)

const defaultDiskThreshold = 90.0

func validateHealthCheck(params map[string]any) error {
	if err := oneOf(params, "check_type", "http", "http", "service", "disk"); err != nil {
		return err
	}
	switch stringParam(params, "check_type", "http") {
	case "http":
		if stringParam(params, "url", "") == "" {
			return fmt.Errorf("http health check requires url")
		}
	case "service":
		if stringParam(params, "service_name", "") == "" {
			return fmt.Errorf("service health check requires service_name")
		}
	}
	return nil
}

// HealthCheck probes an HTTP endpoint, a systemd service or disk usage.
// The measured value is always returned as an output, including on failure.
func (b *Builtins) HealthCheck(ctx context.Context, req *Request) (*Result, error) {
	switch checkType := stringParam(req.Params, "check_type", "http"); checkType {
	case "http":
		return b.httpHealth(ctx, req)
	case "service":
		return b.serviceHealth(ctx, req)
	case "disk":
		return b.diskHealth(req)
	default:
		return nil, fmt.Errorf("unsupported health check type %q", checkType)
	}
}

func (b *Builtins) httpHealth(ctx context.Context, req *Request) (*Result, error) {
	url, err := requireString(req.Params, "url")
	if err != nil {
		return nil, err
	}
	expected, err := intParam(req.Params, "expected_status", http.StatusOK)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := b.client.Do(httpReq)
	if err != nil {
		return NewResult().Set("healthy", false), fmt.Errorf("health check %s: %w", url, err)
	}
	resp.Body.Close()

	healthy := resp.StatusCode == expected
	out := NewResult().Set("status_code", resp.StatusCode).Set("healthy", healthy)
	if !healthy {
		return out, fmt.Errorf("health check %s returned status %d, expected %d", url, resp.StatusCode, expected)
	}
	return out, nil
}

func (b *Builtins) serviceHealth(ctx context.Context, req *Request) (*Result, error) {
	service, err := requireString(req.Params, "service_name")
	if err != nil {
		return nil, err
	}
	status, code, err := b.systemdStatus(ctx, service)
	if err != nil {
		return nil, err
	}
	healthy := code == 0
	out := NewResult().Set("service_status", status).Set("healthy", healthy)
	if !healthy {
		return out, fmt.Errorf("service %s is %s", service, status)
	}
	return out, nil
}

func (b *Builtins) diskHealth(req *Request) (*Result, error) {
	path := stringParam(req.Params, "path", "/")
	threshold, err := floatParam(req.Params, "threshold", defaultDiskThreshold)
	if err != nil {
		return nil, err
	}

	usage, err := b.diskUsage(path)
	if err != nil {
		return nil, fmt.Errorf("disk usage for %s: %w", path, err)
	}

	healthy := usage < threshold
	out := NewResult().Set("disk_usage_percent", usage).Set("healthy", healthy)
	if !healthy {
		return out, fmt.Errorf("disk usage for %s is %.1f%%, threshold %.1f%%", path, usage, threshold)
	}
	return out, nil
}
