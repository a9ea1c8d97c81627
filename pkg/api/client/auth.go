package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// LoginResponse captures the token payload emitted by the gateway.
type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expiresAt"`
}

// Expiry parses ExpiresAt. A blank value yields the zero time.
func (r LoginResponse) Expiry() (time.Time, error) {
	raw := strings.TrimSpace(r.ExpiresAt)
	if raw == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse token expiry: %w", err)
	}
	return ts, nil
}

// Login exchanges credentials for a token.
func (c *Client) Login(ctx context.Context, username, password string) (LoginResponse, error) {
	body := map[string]string{
		"username": username,
		"password": password,
	}
	var resp LoginResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", body, "", &resp); err != nil {
		return LoginResponse{}, err
	}
	if strings.TrimSpace(resp.Token) == "" {
		return LoginResponse{}, fmt.Errorf("decode response: empty token")
	}
	return resp, nil
}

// Logout revokes the token on the gateway.
func (c *Client) Logout(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", nil, token, nil)
}

// SystemInfo describes the gateway build and provider.
type SystemInfo struct {
	Provider struct {
		Name          string `json:"name"`
		Version       string `json:"version"`
		Orchestration string `json:"orchestration"`
	} `json:"provider"`
	Version struct {
		Release    string `json:"release"`
		SHA        string `json:"sha"`
		CommitDate string `json:"commit_date,omitempty"`
	} `json:"version"`
	Arch string `json:"arch"`
}

// SystemInfo fetches /system/info.
func (c *Client) SystemInfo(ctx context.Context, token string) (SystemInfo, error) {
	var info SystemInfo
	if err := c.do(ctx, http.MethodGet, "/system/info", nil, token, &info); err != nil {
		return SystemInfo{}, err
	}
	return info, nil
}

// SystemConfig exposes the UI-safe gateway configuration.
type SystemConfig struct {
	AuthEnabled                  bool `json:"authEnabled"`
	RequireAuthForFunctions      bool `json:"requireAuthForFunctions"`
	DefaultReplicas              int  `json:"defaultReplicas"`
	MaxReplicas                  int  `json:"maxReplicas"`
	AuthTokenTTLSeconds          int  `json:"authTokenTTLSeconds"`
	BuildHistoryLimit            int  `json:"buildHistoryLimit"`
	BuildHistoryRetentionSeconds int  `json:"buildHistoryRetentionSeconds"`
	BuildOutputLimit             int  `json:"buildOutputLimit"`
}

// SystemConfig fetches /system/config.
func (c *Client) SystemConfig(ctx context.Context, token string) (SystemConfig, error) {
	var cfg SystemConfig
	if err := c.do(ctx, http.MethodGet, "/system/config", nil, token, &cfg); err != nil {
		return SystemConfig{}, err
	}
	return cfg, nil
}
