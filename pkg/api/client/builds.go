package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/splax/faasdeck/internal/domain"
)

// BuildRequest is the payload for inspecting or submitting a source build.
type BuildRequest struct {
	Name   string             `json:"name"`
	Deploy *bool              `json:"deploy,omitempty"`
	Source BuildSourcePayload `json:"source"`
}

// BuildSourcePayload is the source descriptor plus the local change-set.
type BuildSourcePayload struct {
	domain.SourceSpec
	Files []domain.FileChange `json:"files,omitempty"`
}

// InspectFile is one file reported by an inspection.
type InspectFile struct {
	Path     string `json:"path"`
	Content  string `json:"content,omitempty"`
	Editable bool   `json:"editable"`
}

// InspectResponse describes the resolved source of a build.
type InspectResponse struct {
	Name     string        `json:"name,omitempty"`
	Runtime  string        `json:"runtime,omitempty"`
	Command  string        `json:"command,omitempty"`
	Manifest string        `json:"manifest,omitempty"`
	Files    []InspectFile `json:"files,omitempty"`
}

// BuildResponse is returned by a build submission.
type BuildResponse struct {
	Name     string `json:"name"`
	Image    string `json:"image"`
	Deployed bool   `json:"deployed"`
	Updated  bool   `json:"updated"`
}

// InspectBuild resolves the source descriptor without building it.
func (c *Client) InspectBuild(ctx context.Context, token string, req BuildRequest) (InspectResponse, error) {
	var resp InspectResponse
	if err := c.do(ctx, http.MethodPost, "/system/builds/inspect", req, token, &resp); err != nil {
		return InspectResponse{}, err
	}
	return resp, nil
}

// SubmitBuild builds, and optionally deploys, the source descriptor.
func (c *Client) SubmitBuild(ctx context.Context, token string, req BuildRequest) (BuildResponse, error) {
	var resp BuildResponse
	if err := c.do(ctx, http.MethodPost, "/system/builds", req, token, &resp); err != nil {
		return BuildResponse{}, err
	}
	return resp, nil
}

// ListBuildsOptions filters the build history listing.
type ListBuildsOptions struct {
	Limit         int
	Status        []string
	Name          string
	IncludeOutput *bool
}

func (o ListBuildsOptions) query() string {
	values := url.Values{}
	if o.Limit > 0 {
		values.Set("limit", strconv.Itoa(o.Limit))
	}
	if len(o.Status) > 0 {
		values.Set("status", strings.Join(o.Status, ","))
	}
	if strings.TrimSpace(o.Name) != "" {
		values.Set("name", strings.TrimSpace(o.Name))
	}
	if o.IncludeOutput != nil {
		values.Set("includeOutput", strconv.FormatBool(*o.IncludeOutput))
	}
	if len(values) == 0 {
		return ""
	}
	return "?" + values.Encode()
}

// ListBuilds fetches recent builds, newest first.
func (c *Client) ListBuilds(ctx context.Context, token string, opts ListBuildsOptions) ([]domain.BuildEntry, error) {
	var builds []domain.BuildEntry
	if err := c.do(ctx, http.MethodGet, "/system/builds"+opts.query(), nil, token, &builds); err != nil {
		return nil, err
	}
	return builds, nil
}

// GetBuild fetches a single build record including its output.
func (c *Client) GetBuild(ctx context.Context, token, id string) (domain.BuildEntry, error) {
	path := fmt.Sprintf("/system/builds/%s", url.PathEscape(id))
	var entry domain.BuildEntry
	if err := c.do(ctx, http.MethodGet, path, nil, token, &entry); err != nil {
		return domain.BuildEntry{}, err
	}
	return entry, nil
}

// ClearBuilds deletes the gateway build history.
func (c *Client) ClearBuilds(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodDelete, "/system/builds", nil, token, nil)
}

// OpenBuildStream opens the build status event stream. The caller owns the
// returned body; cancelling ctx aborts the underlying transport.
func (c *Client) OpenBuildStream(ctx context.Context, token string) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/system/builds/stream", nil, token)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open build stream: %w: %w", ErrTransport, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		return nil, APIError{Status: resp.StatusCode, Message: extractError(resp.Body)}
	}
	return resp.Body, nil
}
