package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/p-blackswan/clnode/internal/errors"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", zerolog.Nop())
}

func TestClient_Health(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/health", r.URL.Path)
		w.Write([]byte(`{"status":"ok","uptime":90.5,"db_size_bytes":4096,"subscribers":2}`))
	})

	h, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, int64(4096), h.DBSizeBytes)
	assert.Equal(t, "1m30.5s", h.UptimeDuration().String())
}

func TestClient_ListSessionsAndAgents(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("active"))
		switch r.URL.Path {
		case "/api/sessions":
			w.Write([]byte(`[{"id":"s1","status":"active","started_at":"2026-01-02T03:04:05Z"}]`))
		case "/api/agents":
			w.Write([]byte(`[{"id":"a1","session_id":"s1","agent_name":"qa","status":"active"}]`))
		default:
			http.NotFound(w, r)
		}
	})

	sessions, err := c.ListSessions(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "s1", sessions[0].ID)

	agents, err := c.ListAgents(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, "qa", agents[0].AgentName)
}

func TestClient_RegisterProject(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/hooks/RegisterProject", r.URL.Path)
		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		if in["project_path"] == "" {
			w.Write([]byte(`{}`))
			return
		}
		assert.Equal(t, "demo", in["project_id"])
		assert.NotContains(t, in, "project_name")
		w.Write([]byte(`{"ok":true,"project_id":"demo"}`))
	})

	id, err := c.RegisterProject(context.Background(), "/src/demo", "demo", "")
	require.NoError(t, err)
	assert.Equal(t, "demo", id)

	_, err = c.RegisterProject(context.Background(), "", "", "")
	assert.ErrorIs(t, err, perrors.ErrInvalidInput)
}

func TestClient_Errors(t *testing.T) {
	status := http.StatusNotFound
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(`{"type":"request_error","status":404,"error":"session not found"}`))
	})

	_, err := c.Health(context.Background())
	require.Error(t, err)
	assert.True(t, perrors.IsNotFound(err))
	assert.False(t, perrors.IsRetryable(err))

	var apiErr *perrors.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "session not found", apiErr.Message)

	status = http.StatusServiceUnavailable
	_, err = c.Health(context.Background())
	assert.True(t, perrors.IsRetryable(err))
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(url, zerolog.Nop())
	_, err := c.Health(context.Background())
	require.Error(t, err)
	assert.True(t, perrors.IsRetryable(err))
}

func TestClient_WebSocketURL(t *testing.T) {
	tests := map[string]string{
		"http://localhost:3100":  "ws://localhost:3100/ws",
		"https://example.com/x/": "wss://example.com/x/ws",
		"http://127.0.0.1:3100/": "ws://127.0.0.1:3100/ws",
	}
	for in, want := range tests {
		got, err := NewClient(in, zerolog.Nop()).WebSocketURL()
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
}
