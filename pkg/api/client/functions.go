package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/splax/faasdeck/internal/domain"
)

// ListFunctions returns every deployed function.
func (c *Client) ListFunctions(ctx context.Context, token string) ([]domain.Function, error) {
	var functions []domain.Function
	if err := c.do(ctx, http.MethodGet, "/system/functions", nil, token, &functions); err != nil {
		return nil, err
	}
	return functions, nil
}

// DeployFunction creates a new function.
func (c *Client) DeployFunction(ctx context.Context, token string, fn domain.FunctionDeployment) error {
	return c.do(ctx, http.MethodPost, "/system/functions", fn, token, nil)
}

// UpdateFunction replaces an existing function definition.
func (c *Client) UpdateFunction(ctx context.Context, token string, fn domain.FunctionDeployment) error {
	return c.do(ctx, http.MethodPut, "/system/functions", fn, token, nil)
}

// DeleteFunction removes a function by name.
func (c *Client) DeleteFunction(ctx context.Context, token, name string) error {
	path := fmt.Sprintf("/system/functions?functionName=%s", url.QueryEscape(name))
	return c.do(ctx, http.MethodDelete, path, nil, token, nil)
}

// ScaleFunction sets the replica count of a function.
func (c *Client) ScaleFunction(ctx context.Context, token, name string, replicas int) error {
	body := map[string]any{
		"serviceName": name,
		"replicas":    replicas,
	}
	path := fmt.Sprintf("/system/scale-function/%s", url.PathEscape(name))
	return c.do(ctx, http.MethodPost, path, body, token, nil)
}

// ListContainers returns the replicas of a function.
func (c *Client) ListContainers(ctx context.Context, token, name string) ([]domain.Container, error) {
	path := fmt.Sprintf("/system/function/%s/containers", url.PathEscape(name))
	var containers []domain.Container
	if err := c.do(ctx, http.MethodGet, path, nil, token, &containers); err != nil {
		return nil, err
	}
	return containers, nil
}

// Logs returns the last tail log lines of a function as plain text.
func (c *Client) Logs(ctx context.Context, token, name string, tail int) (string, error) {
	values := url.Values{}
	values.Set("name", name)
	if tail > 0 {
		values.Set("tail", strconv.Itoa(tail))
	}
	req, err := c.newRequest(ctx, http.MethodGet, "/system/logs?"+values.Encode(), nil, token)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("perform request: %w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return "", APIError{Status: resp.StatusCode, Message: extractError(resp.Body)}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxLogSize))
	if err != nil {
		return "", fmt.Errorf("read logs: %w", err)
	}
	return string(data), nil
}

// ListSecrets returns secret names.
func (c *Client) ListSecrets(ctx context.Context, token string) ([]domain.Secret, error) {
	var secrets []domain.Secret
	if err := c.do(ctx, http.MethodGet, "/system/secrets", nil, token, &secrets); err != nil {
		return nil, err
	}
	return secrets, nil
}

type secretRequest struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// CreateSecret stores a new secret.
func (c *Client) CreateSecret(ctx context.Context, token, name, value string) error {
	return c.do(ctx, http.MethodPost, "/system/secrets", secretRequest{Name: name, Value: value}, token, nil)
}

// UpdateSecret replaces the value of an existing secret.
func (c *Client) UpdateSecret(ctx context.Context, token, name, value string) error {
	return c.do(ctx, http.MethodPut, "/system/secrets", secretRequest{Name: name, Value: value}, token, nil)
}

// DeleteSecret removes a secret by name.
func (c *Client) DeleteSecret(ctx context.Context, token, name string) error {
	path := fmt.Sprintf("/system/secrets?name=%s", url.QueryEscape(name))
	return c.do(ctx, http.MethodDelete, path, nil, token, nil)
}
