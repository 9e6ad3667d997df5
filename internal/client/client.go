// Package client talks to a running clnode daemon over its HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/clnode/internal/errors"
	"github.com/p-blackswan/clnode/internal/store"
)

// HTTPClient abstracts HTTP calls for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client wraps the daemon API.
type Client struct {
	baseURL    string
	httpClient HTTPClient
	logger     zerolog.Logger
}

// Health is the body of GET /api/health.
type Health struct {
	Status      string  `json:"status"`
	Uptime      float64 `json:"uptime"`
	DBSizeBytes int64   `json:"db_size_bytes"`
	Subscribers int     `json:"subscribers"`
}

// UptimeDuration returns Uptime as a duration.
func (h Health) UptimeDuration() time.Duration {
	return time.Duration(h.Uptime * float64(time.Second))
}

// NewClient creates a client for the daemon at baseURL.
func NewClient(baseURL string, logger zerolog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With().Str("component", "client").Logger(),
	}
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(hc HTTPClient) {
	c.httpClient = hc
}

// BaseURL returns the daemon's base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// WebSocketURL returns the URL of the live event stream.
func (c *Client) WebSocketURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String(), nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug().Str("method", method).Str("path", path).Msg("api request")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var problem struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(resp.Body)
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &problem) == nil && problem.Error != "" {
			msg = problem.Error
		}
		apiErr := perrors.NewAPIError(path, resp.StatusCode, msg)
		if resp.StatusCode == http.StatusNotFound {
			apiErr.Err = perrors.ErrNotFound
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// Health returns the daemon's health summary.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.do(ctx, http.MethodGet, "/api/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Stats returns aggregate counts.
func (c *Client) Stats(ctx context.Context) (*store.Stats, error) {
	var s store.Stats
	if err := c.do(ctx, http.MethodGet, "/api/stats", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSessions returns sessions, newest first.
func (c *Client) ListSessions(ctx context.Context, activeOnly bool) ([]store.Session, error) {
	path := "/api/sessions"
	if activeOnly {
		path += "?active=true"
	}
	var out []store.Session
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListAgents returns agents, newest first.
func (c *Client) ListAgents(ctx context.Context, activeOnly bool) ([]store.Agent, error) {
	path := "/api/agents"
	if activeOnly {
		path += "?active=true"
	}
	var out []store.Agent
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RegisterProject registers dir as a project through the hook endpoint and
// returns the project id the daemon assigned. Empty id and name let the
// daemon derive them from the path.
func (c *Client) RegisterProject(ctx context.Context, dir, id, name string) (string, error) {
	in := map[string]string{"project_path": dir}
	if id != "" {
		in["project_id"] = id
	}
	if name != "" {
		in["project_name"] = name
	}
	var out struct {
		OK        bool   `json:"ok"`
		ProjectID string `json:"project_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/hooks/RegisterProject", in, &out); err != nil {
		return "", err
	}
	if !out.OK {
		return "", fmt.Errorf("register project %s: daemon rejected the request: %w", dir, perrors.ErrInvalidInput)
	}
	return out.ProjectID, nil
}
