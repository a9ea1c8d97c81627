package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/splax/faasdeck/internal/domain"
)

const maxInvokeBodySize = 8 << 20

// Invocation is one call routed to a function by the gateway.
type Invocation struct {
	Method  string
	Headers map[string]string
	Body    []byte
}

// InvokeResult is the function response as relayed by the gateway. Status
// codes of the function are reported here, not as errors.
type InvokeResult struct {
	Status     int
	StatusText string
	Headers    http.Header
	Body       []byte
	Truncated  bool
	Latency    time.Duration
	// CallID is set for asynchronous invocations.
	CallID string
}

// Invoke calls name synchronously through /function/{name}.
func (c *Client) Invoke(ctx context.Context, token, name string, inv Invocation) (InvokeResult, error) {
	return c.invoke(ctx, "/function/", token, name, inv)
}

// InvokeAsync queues a call through /async-function/{name}. The gateway
// answers 202 with a call id.
func (c *Client) InvokeAsync(ctx context.Context, token, name string, inv Invocation) (InvokeResult, error) {
	return c.invoke(ctx, "/async-function/", token, name, inv)
}

func (c *Client) invoke(ctx context.Context, prefix, token, name string, inv Invocation) (InvokeResult, error) {
	method := inv.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := c.newRequest(ctx, method, prefix+url.PathEscape(name), nil, token)
	if err != nil {
		return InvokeResult{}, err
	}
	if len(inv.Body) > 0 {
		req.Body = io.NopCloser(bytes.NewReader(inv.Body))
		req.ContentLength = int64(len(inv.Body))
	}
	for key, value := range inv.Headers {
		req.Header.Set(key, value)
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return InvokeResult{}, fmt.Errorf("perform request: %w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxInvokeBodySize+1))
	if err != nil {
		return InvokeResult{}, fmt.Errorf("read response: %w", err)
	}
	result := InvokeResult{
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Headers:    resp.Header.Clone(),
		Latency:    time.Since(started),
		CallID:     resp.Header.Get("X-Call-Id"),
	}
	if len(body) > maxInvokeBodySize {
		body = body[:maxInvokeBodySize]
		result.Truncated = true
	}
	result.Body = body
	return result, nil
}

// Health is the gateway health report.
type Health struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Healthy reports whether every check passed.
func (h Health) Healthy() bool {
	return h.Status == "ok"
}

// Health fetches /healthz. An unhealthy gateway answers 503 with the failing
// checks, which is returned as a report rather than an error.
func (c *Client) Health(ctx context.Context) (Health, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/healthz", nil, "")
	if err != nil {
		return Health{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Health{}, fmt.Errorf("perform request: %w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return Health{}, APIError{Status: resp.StatusCode, Message: extractError(resp.Body)}
	}
	var health Health
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return Health{}, fmt.Errorf("decode response: %w", err)
	}
	return health, nil
}

// GetSecret reports whether a secret exists. Values are never returned.
func (c *Client) GetSecret(ctx context.Context, token, name string) (domain.Secret, error) {
	var secret domain.Secret
	path := "/system/secrets/" + url.PathEscape(name)
	if err := c.do(ctx, http.MethodGet, path, nil, token, &secret); err != nil {
		return domain.Secret{}, err
	}
	return secret, nil
}
