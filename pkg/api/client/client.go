package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultBaseURL   = "http://localhost:8080"
	defaultTimeout   = 15 * time.Second
	maxErrorBodySize = 4096
	maxLogSize       = 8 << 20
)

// ErrUnauthorized indicates the gateway rejected the credentials or token (401/403).
var ErrUnauthorized = errors.New("gateway unauthorized")

// ErrTransport indicates the request never produced an HTTP response.
var ErrTransport = errors.New("gateway transport failure")

// Client provides typed access to the docker-faas gateway API.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
	requestID    func() string
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client used for one-shot calls.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithStreamClient overrides the HTTP client used for the build stream. It
// should carry no overall timeout; the request context bounds the stream.
func WithStreamClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.streamClient = h
		}
	}
}

// WithTimeout sets the timeout of the default one-shot HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient = &http.Client{Timeout: d}
		}
	}
}

// New constructs a Client pointing at the provided gateway base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := NormalizeBaseURL(base)
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid gateway url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("invalid gateway url: missing host in %q", base)
	}
	cli := &Client{
		baseURL:      trimmed,
		httpClient:   &http.Client{Timeout: defaultTimeout},
		streamClient: &http.Client{},
		requestID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// NormalizeBaseURL applies the default scheme and strips trailing slashes.
func NormalizeBaseURL(base string) string {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = defaultBaseURL
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	return strings.TrimRight(trimmed, "/")
}

// BaseURL returns the normalized gateway endpoint.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// APIError represents an error response from the gateway.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gateway request failed with status %d", e.Status)
	}
	return fmt.Sprintf("gateway request failed (%d): %s", e.Status, e.Message)
}

// Unwrap maps authentication failures onto ErrUnauthorized.
func (e APIError) Unwrap() error {
	if e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden {
		return ErrUnauthorized
	}
	return nil
}

// IsNotFound reports whether err is a 404 from the gateway.
func IsNotFound(err error) bool {
	var apiErr APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any, token string) (*http.Request, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}
	if c.requestID != nil {
		req.Header.Set("X-Request-ID", c.requestID())
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, token string, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	req, err := c.newRequest(ctx, method, path, body, token)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return APIError{Status: resp.StatusCode, Message: extractError(resp.Body)}
	}
	if v == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(body io.Reader) string {
	if body == nil {
		return ""
	}
	data, err := io.ReadAll(io.LimitReader(body, maxErrorBodySize))
	if err != nil || len(data) == 0 {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || payload.Error == "" {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(payload.Error)
}
