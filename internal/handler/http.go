package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const maxResponseBytes = 1 << 20

// APICall issues an HTTP request and succeeds iff the response status equals
// params.expected_status (default 200).
// Outputs: status_code, response (decoded JSON when possible, otherwise text).
func (b *Builtins) APICall(ctx context.Context, req *Request) (*Result, error) {
	url, err := requireString(req.Params, "url")
	if err != nil {
		return nil, err
	}
	method := strings.ToUpper(stringParam(req.Params, "method", http.MethodGet))
	expected, err := intParam(req.Params, "expected_status", http.StatusOK)
	if err != nil {
		return nil, err
	}
	headers, err := stringMapParam(req.Params, "headers")
	if err != nil {
		return nil, err
	}

	body, contentType, err := encodeBody(req.Params["body"])
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	req.Logf("INFO", "%s %s", method, url)
	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	out := NewResult().
		Set("status_code", resp.StatusCode).
		Set("response", decodeBody(raw))

	if resp.StatusCode != expected {
		return out, fmt.Errorf("%s %s returned status %d, expected %d", method, url, resp.StatusCode, expected)
	}
	return out, nil
}

func encodeBody(v any) (io.Reader, string, error) {
	switch body := v.(type) {
	case nil:
		return nil, "", nil
	case string:
		return strings.NewReader(body), "", nil
	case []byte:
		return bytes.NewReader(body), "", nil
	default:
		data, err := json.Marshal(body)
		if err != nil {
			return nil, "", fmt.Errorf("encode body: %w", err)
		}
		return bytes.NewReader(data), "application/json", nil
	}
}

func decodeBody(raw []byte) any {
	var decoded any
	if len(raw) > 0 && json.Unmarshal(raw, &decoded) == nil {
		return decoded
	}
	return string(raw)
}
