package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/p-blackswan/clnode/internal/errors"
)

func TestContextEntries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddContextEntry(ctx, ContextEntry{SessionID: "s1", AgentID: strPtr("a1"), EntryType: "note", Content: "first", Tags: []string{"x", "x"}})
	require.NoError(t, err)
	_, err = s.AddContextEntry(ctx, ContextEntry{SessionID: "s1", EntryType: EntryDecision, Content: "use sqlite"})
	require.NoError(t, err)
	_, err = s.AddContextEntry(ctx, ContextEntry{SessionID: "s2", AgentID: strPtr("a1"), EntryType: "note", Content: "elsewhere"})
	require.NoError(t, err)

	entries, err := s.ListContextBySession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "use sqlite", entries[0].Content, "newest first")
	assert.Equal(t, []string{"x"}, entries[1].Tags)
	assert.Equal(t, []string{}, entries[0].Tags)

	byAgent, err := s.ListContextByAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Len(t, byAgent, 2)

	n, err := s.DeleteContextByType(ctx, "s1", "note")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	entries, err = s.ListContextBySession(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAddContextEntry_Validation(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AddContextEntry(context.Background(), ContextEntry{SessionID: "s1", EntryType: "note"})
	assert.Error(t, err)
}

func TestFileChanges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordFileChange(ctx, "s1", strPtr("a1"), "/src/main.go", ChangeCreate))
	require.NoError(t, s.RecordFileChange(ctx, "s1", nil, "/src/util.go", ChangeEdit))

	changes, err := s.ListFileChangesBySession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, "/src/util.go", changes[0].FilePath)

	byAgent, err := s.ListFileChangesByAgent(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, byAgent, 1)
	assert.Equal(t, ChangeCreate, byAgent[0].ChangeType)
}

func TestActivitiesAndEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.LogActivity(ctx, "s1", nil, "SessionStart", map[string]any{"cwd": "/repo"}))
	require.NoError(t, s.LogActivity(ctx, "s1", strPtr("a1"), "SubagentStart", nil))

	acts, err := s.ListActivities(ctx, 10)
	require.NoError(t, err)
	require.Len(t, acts, 2)
	assert.Equal(t, "SubagentStart", acts[0].EventType)
	assert.JSONEq(t, `{"cwd":"/repo"}`, string(acts[1].Details))

	bySession, err := s.ListActivitiesBySession(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, bySession, 2)

	_, err = s.SaveEvent(ctx, strPtr("s1"), "SessionStart", `{"session_id":"s1"}`)
	require.NoError(t, err)
	_, err = s.SaveEvent(ctx, nil, "Mystery", `not json`)
	require.NoError(t, err)

	events, err := s.ListEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "Mystery", events[0].EventType)
	assert.Nil(t, events[0].SessionID)
	assert.Equal(t, "not json", events[0].Payload)

	sessionEvents, err := s.ListEventsBySession(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, sessionEvents, 1)
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.StartSession(ctx, "s1", nil))
	require.NoError(t, s.StartSession(ctx, "s2", nil))
	_, err := s.EndSession(ctx, "s2")
	require.NoError(t, err)
	require.NoError(t, s.StartAgent(ctx, Agent{ID: "a1", SessionID: "s1", AgentName: "x"}))
	_, err = s.CreateTask(ctx, NewTask{Title: "open"})
	require.NoError(t, err)
	_, err = s.CreateTask(ctx, NewTask{Title: "done", Status: TaskCompleted})
	require.NoError(t, err)
	require.NoError(t, s.RecordFileChange(ctx, "s1", nil, "/f", ChangeEdit))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{
		TotalSessions: 2, ActiveSessions: 1,
		TotalAgents: 1, ActiveAgents: 1,
		TotalFileChanges: 1,
		TotalTasks:       2, OpenTasks: 1,
	}, *st)
}

func TestProjects(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RegisterProject(ctx, "web", "Web", "/code/web"))

	id, err := s.FindProjectByPath(ctx, "/code/web")
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, "web", *id)

	// Moving the project invalidates the cached path.
	require.NoError(t, s.RegisterProject(ctx, "web", "Web", "/code/web2"))
	id, err = s.FindProjectByPath(ctx, "/code/web")
	require.NoError(t, err)
	assert.Nil(t, id)

	p, err := s.GetProject(ctx, "web")
	require.NoError(t, err)
	assert.Equal(t, "/code/web2", p.Path)

	missing, err := s.GetProject(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	assert.ErrorIs(t, s.RegisterProject(ctx, "x", "X", ""), perrors.ErrInvalidInput)
	assert.ErrorIs(t, s.RegisterProject(ctx, "", "X", "/code/x"), perrors.ErrInvalidInput)

	projects, err := s.ListProjects(ctx)
	require.NoError(t, err)
	assert.Len(t, projects, 1)
}

func TestRunRetention(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.SaveEvent(ctx, nil, "Old", "{}")
	require.NoError(t, err)
	_, err = s.db.Exec(`UPDATE events SET received_at = ?`, time.Now().Add(-48*time.Hour).UnixMilli())
	require.NoError(t, err)
	_, err = s.SaveEvent(ctx, nil, "New", "{}")
	require.NoError(t, err)

	res, err := s.RunRetention(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Events)

	events, err := s.ListEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "New", events[0].EventType)

	res, err = s.RunRetention(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, res.Events)

	size, err := s.DBSizeBytes(ctx)
	require.NoError(t, err)
	assert.Positive(t, size)
}
