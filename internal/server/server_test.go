package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	gws "github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/clnode/internal/broadcast"
	"github.com/p-blackswan/clnode/internal/health"
	"github.com/p-blackswan/clnode/internal/hooks"
	"github.com/p-blackswan/clnode/internal/metrics"
	"github.com/p-blackswan/clnode/internal/ranker"
	"github.com/p-blackswan/clnode/internal/requestid"
	"github.com/p-blackswan/clnode/internal/store"
	"github.com/p-blackswan/clnode/internal/transcript"
)

type testEnv struct {
	srv   *Server
	store *store.Store
	hub   *broadcast.Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zerolog.Nop()

	st, err := store.New(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	m := metrics.New()
	hub := broadcast.NewHub(logger, m)
	r := ranker.New(st, ranker.Limits{}, logger, m)
	d := hooks.NewDispatcher(st, r, hub, transcript.NewExtractor(time.Millisecond, logger), logger, m)

	checker := health.NewChecker(logger)
	checker.Register("store", health.PingCheck(st))

	srv := New(Config{CORSOrigins: "http://localhost:5173"}, st, d, hub, checker, m, logger)
	return &testEnv{srv: srv, store: st, hub: hub}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, path, r)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.srv.App().Test(req, -1)
	require.NoError(t, err)
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, b
}

func TestServer_Probes(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	resp, body = env.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ready","checks":{"store":"ok"}}`, string(body))
}

func TestServer_RequestID(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodGet, "/healthz", "")
	assert.Len(t, resp.Header.Get(requestid.Header), 36)

	req, _ := http.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestid.Header, "abc-123")
	resp, err := env.srv.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, "abc-123", resp.Header.Get(requestid.Header))
}

func TestServer_CORS(t *testing.T) {
	env := newTestEnv(t)
	req, _ := http.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	resp, err := env.srv.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestServer_HookAlwaysOK(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/hooks/SubagentStart", `{"session_id":"s1","agent_id":"a1","agent_type":"qa"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"hookSpecificOutput":{"hookEventName":"SubagentStart","additionalContext":""}}`, string(body))

	resp, body = env.do(t, http.MethodPost, "/hooks/SessionStart", `{broken`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{}`, string(body))

	resp, body = env.do(t, http.MethodPost, "/hooks/Whatever", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{}`, string(body))

	resp, body = env.do(t, http.MethodPost, "/hooks/RegisterProject", `{"project_path":"/src/demo"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"ok":true,"project_id":"demo"}`, string(body))

	events, err := env.store.ListEvents(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, events, 4)

	_, body = env.do(t, http.MethodGet, "/metrics", "")
	assert.Contains(t, string(body), `clnode_events_total{event="SubagentStart"} 1`)
}

func TestServer_NotFound(t *testing.T) {
	env := newTestEnv(t)

	for path, msg := range map[string]string{
		"/api/sessions/nope": "session not found",
		"/api/agents/nope":   "agent not found",
		"/api/projects/nope": "project not found",
		"/api/tasks/42":      "task not found",
	} {
		resp, body := env.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)

		var pd ProblemDetail
		require.NoError(t, json.Unmarshal(body, &pd))
		assert.Equal(t, msg, pd.Error, path)
		assert.Equal(t, path, pd.Instance)
	}
}

func TestServer_BadRequests(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		method, path, body string
	}{
		{http.MethodPost, "/api/tasks", `{"description":"no title"}`},
		{http.MethodPost, "/api/projects", `{"id":"p","name":"P"}`},
		{http.MethodPost, "/api/context", `{"session_id":"s1","entry_type":"decision"}`},
		{http.MethodDelete, "/api/sessions/s1/context", ""},
		{http.MethodGet, "/api/tasks/abc", ""},
		{http.MethodPatch, "/api/tasks/1", `{not json`},
	}
	for _, tt := range tests {
		resp, _ := env.do(t, tt.method, tt.path, tt.body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "%s %s", tt.method, tt.path)
	}
}

func TestServer_SessionRoutes(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, http.MethodPost, "/hooks/SessionStart", `{"session_id":"s1"}`)
	env.do(t, http.MethodPost, "/hooks/SubagentStart", `{"session_id":"s1","agent_id":"a1","agent_type":"qa"}`)
	env.do(t, http.MethodPost, "/hooks/PostToolUse", `{"session_id":"s1","agent_id":"a1","tool_name":"Edit","tool_input":{"file_path":"/x.go"}}`)

	resp, body := env.do(t, http.MethodPost, "/api/context", `{"session_id":"s1","entry_type":"decision","content":"use sqlite","tags":["all"]}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Contains(t, string(body), `"id":`)

	var sess store.Session
	_, body = env.do(t, http.MethodGet, "/api/sessions/s1", "")
	require.NoError(t, json.Unmarshal(body, &sess))
	assert.Equal(t, store.SessionActive, sess.Status)

	var agents []store.Agent
	_, body = env.do(t, http.MethodGet, "/api/sessions/s1/agents", "")
	require.NoError(t, json.Unmarshal(body, &agents))
	require.Len(t, agents, 1)
	assert.Equal(t, "qa", agents[0].AgentName)

	var files []store.FileChange
	_, body = env.do(t, http.MethodGet, "/api/agents/a1/files", "")
	require.NoError(t, json.Unmarshal(body, &files))
	require.Len(t, files, 1)
	assert.Equal(t, store.ChangeEdit, files[0].ChangeType)

	var active []store.Agent
	_, body = env.do(t, http.MethodGet, "/api/agents?active=true", "")
	require.NoError(t, json.Unmarshal(body, &active))
	assert.Len(t, active, 1)

	resp, body = env.do(t, http.MethodDelete, "/api/sessions/s1/context?type=decision", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"deleted":1}`, string(body))

	var events []store.Event
	_, body = env.do(t, http.MethodGet, "/api/sessions/s1/events", "")
	require.NoError(t, json.Unmarshal(body, &events))
	assert.Len(t, events, 3)

	var acts []store.Activity
	_, body = env.do(t, http.MethodGet, "/api/activities?limit=2", "")
	require.NoError(t, json.Unmarshal(body, &acts))
	assert.Len(t, acts, 2)

	var stats store.Stats
	_, body = env.do(t, http.MethodGet, "/api/stats", "")
	require.NoError(t, json.Unmarshal(body, &stats))
	assert.Equal(t, 1, stats.ActiveSessions)
	assert.Equal(t, 1, stats.TotalFileChanges)
}

func TestServer_TaskLifecycle(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/api/tasks", `{"title":"Ship it","description":"all of it","tags":["release"]}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var task store.Task
	require.NoError(t, json.Unmarshal(body, &task))
	assert.Equal(t, store.TaskPending, task.Status)

	path := "/api/tasks/" + strconv.FormatInt(task.ID, 10)

	resp, body = env.do(t, http.MethodPatch, path, `{"status":"in_progress"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &task))
	assert.Equal(t, store.TaskInProgress, task.Status)
	require.NotNil(t, task.Description)
	assert.Equal(t, "all of it", *task.Description)
	assert.Equal(t, []string{"release"}, task.Tags)

	_, body = env.do(t, http.MethodPatch, path, `{"description":null}`)
	task = store.Task{}
	require.NoError(t, json.Unmarshal(body, &task))
	assert.Nil(t, task.Description)
	assert.Equal(t, store.TaskInProgress, task.Status)

	resp, _ = env.do(t, http.MethodPost, path+"/comments", `{"content":"step 1","comment_type":"plan","author":"qa"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var comments []store.TaskComment
	_, body = env.do(t, http.MethodGet, path+"/comments", "")
	require.NoError(t, json.Unmarshal(body, &comments))
	require.Len(t, comments, 2)
	assert.Equal(t, store.CommentStatusChange, comments[0].CommentType)
	assert.Equal(t, "status changed: pending → in_progress", comments[0].Content)
	assert.Equal(t, store.CommentPlan, comments[1].CommentType)

	resp, _ = env.do(t, http.MethodPatch, "/api/tasks/999", `{"title":"x"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = env.do(t, http.MethodPost, "/api/tasks/999/comments", `{"content":"x"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.do(t, http.MethodDelete, path, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = env.do(t, http.MethodDelete, path, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_Projects(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/api/projects", `{"id":"p1","name":"One","path":"/p/one"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var p store.Project
	require.NoError(t, json.Unmarshal(body, &p))
	assert.Equal(t, "/p/one", p.Path)

	var list []store.Project
	_, body = env.do(t, http.MethodGet, "/api/projects", "")
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Len(t, list, 1)

	_, err := env.store.CreateTask(context.Background(), store.NewTask{ProjectID: &p.ID, Title: "scoped"})
	require.NoError(t, err)
	_, err = env.store.CreateTask(context.Background(), store.NewTask{Title: "global"})
	require.NoError(t, err)

	var tasks []store.Task
	_, body = env.do(t, http.MethodGet, "/api/tasks?project_id=p1", "")
	require.NoError(t, json.Unmarshal(body, &tasks))
	require.Len(t, tasks, 1)
	assert.Equal(t, "scoped", tasks[0].Title)
}

func TestServer_ProjectIDDefaultsToPathSlug(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/api/projects", `{"path":"/code/My Repo"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var p store.Project
	require.NoError(t, json.Unmarshal(body, &p))
	assert.Equal(t, "my-repo", p.ID)
	assert.Equal(t, "my-repo", p.Name)
	assert.Equal(t, "/code/My Repo", p.Path)
}

func TestServer_APIHealth(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var h map[string]any
	require.NoError(t, json.Unmarshal(body, &h))
	assert.Equal(t, "ok", h["status"])
	assert.Contains(t, h, "uptime")
	assert.Greater(t, h["db_size_bytes"], 0.0)
}

func TestServer_WebSocketStream(t *testing.T) {
	env := newTestEnv(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go env.srv.Serve(ln)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		env.srv.Shutdown(ctx)
	})

	base := ln.Addr().String()
	conn, _, err := gws.DefaultDialer.Dial("ws://"+base+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return env.hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Post("http://"+base+"/hooks/SessionStart", fiber.MIMEApplicationJSON, strings.NewReader(`{"session_id":"live"}`))
	require.NoError(t, err)
	resp.Body.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg struct {
		Event string         `json:"event"`
		Data  map[string]any `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "SessionStart", msg.Event)
	assert.Equal(t, "live", msg.Data["session_id"])

	conn.Close()
	require.Eventually(t, func() bool { return env.hub.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServer_WebSocketRequiresUpgrade(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.do(t, http.MethodGet, "/ws", "")
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}
