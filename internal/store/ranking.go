package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Queries in this file feed the context ranker. "Open" means any status other
// than completed or cancelled.

const openTaskFilter = `status NOT IN ('completed', 'cancelled')`

// stageOrder ranks open tasks for display; unknown statuses sit with pending.
const stageOrder = `CASE status
	WHEN 'in_progress' THEN 0
	WHEN 'needs_review' THEN 1
	WHEN 'backlog' THEN 3
	WHEN 'idea' THEN 4
	ELSE 2 END`

// SiblingAgents returns completed agents with a summary that share a parent
// within the session, most recently completed first.
func (s *Store) SiblingAgents(ctx context.Context, sessionID, parentAgentID string, limit int) ([]Agent, error) {
	return s.queryAgents(ctx, "list sibling agents", `
		SELECT `+agentColumns+` FROM agents
		WHERE session_id = ? AND parent_agent_id = ? AND status = 'completed'
		  AND context_summary IS NOT NULL AND context_summary != ''
		ORDER BY completed_at DESC, rowid DESC LIMIT ?`,
		sessionID, parentAgentID, limit)
}

// SameTypeAgents returns completed agents of a type from any session. When
// parentAgentID is set, the sibling set (same session and parent) is excluded.
func (s *Store) SameTypeAgents(ctx context.Context, agentType, sessionID, parentAgentID string, limit int) ([]Agent, error) {
	query := `
		SELECT ` + agentColumns + ` FROM agents
		WHERE agent_type = ? AND status = 'completed'
		  AND context_summary IS NOT NULL AND context_summary != ''`
	args := []any{agentType}
	if parentAgentID != "" {
		query += ` AND NOT (session_id = ? AND parent_agent_id IS ?)`
		args = append(args, sessionID, parentAgentID)
	}
	query += ` ORDER BY completed_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)
	return s.queryAgents(ctx, "list same-type agents", query, args...)
}

// CrossSessionContext returns entries of the given types written in other
// sessions of the same project, with the writing agent's name when known.
func (s *Store) CrossSessionContext(ctx context.Context, projectID, sessionID string, entryTypes []string, limit int) ([]ContextEntry, error) {
	if len(entryTypes) == 0 {
		return []ContextEntry{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	args := []any{projectID, sessionID}
	args = append(args, stringArgs(entryTypes)...)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+contextColumns+`, a.agent_name
		FROM context_entries ce
		JOIN sessions s ON s.id = ce.session_id
		LEFT JOIN agents a ON a.id = ce.agent_id
		WHERE s.project_id = ? AND ce.session_id != ?
		  AND ce.entry_type IN (`+placeholders(len(entryTypes))+`)
		ORDER BY ce.created_at DESC, ce.id DESC LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list cross-session context: %w", err)
	}
	defer rows.Close()

	entries := []ContextEntry{}
	for rows.Next() {
		var agentName sql.NullString
		e, err := scanContextEntry(rows, &agentName)
		if err != nil {
			return nil, fmt.Errorf("failed to scan context entry: %w", err)
		}
		e.AgentName = nullableString(agentName)
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// TaggedContext returns session entries carrying any of tags, or whose type
// is one of entryTypes, newest first.
func (s *Store) TaggedContext(ctx context.Context, sessionID string, tags, entryTypes []string, limit int) ([]ContextEntry, error) {
	tagCond := "0"
	if len(tags) > 0 {
		tagCond = `EXISTS (SELECT 1 FROM json_each(ce.tags) j WHERE j.value IN (` + placeholders(len(tags)) + `))`
	}
	typeCond := "0"
	if len(entryTypes) > 0 {
		typeCond = `ce.entry_type IN (` + placeholders(len(entryTypes)) + `)`
	}

	args := []any{sessionID}
	args = append(args, stringArgs(tags)...)
	args = append(args, stringArgs(entryTypes)...)
	args = append(args, limit)

	return s.queryContext(ctx, "list tagged context", `
		SELECT `+contextColumns+` FROM context_entries ce
		WHERE ce.session_id = ? AND (`+tagCond+` OR `+typeCond+`)
		ORDER BY ce.created_at DESC, ce.id DESC LIMIT ?`, args...)
}

// RecentContext returns the newest entries of a session.
func (s *Store) RecentContext(ctx context.Context, sessionID string, limit int) ([]ContextEntry, error) {
	return s.queryContext(ctx, "list recent context", `
		SELECT `+contextColumns+` FROM context_entries ce
		WHERE ce.session_id = ?
		ORDER BY ce.created_at DESC, ce.id DESC LIMIT ?`, sessionID, limit)
}

// RecentDecisions returns the newest session entries of the given types.
func (s *Store) RecentDecisions(ctx context.Context, sessionID string, entryTypes []string, limit int) ([]ContextEntry, error) {
	if len(entryTypes) == 0 {
		return []ContextEntry{}, nil
	}
	args := []any{sessionID}
	args = append(args, stringArgs(entryTypes)...)
	args = append(args, limit)

	return s.queryContext(ctx, "list recent decisions", `
		SELECT `+contextColumns+` FROM context_entries ce
		WHERE ce.session_id = ? AND ce.entry_type IN (`+placeholders(len(entryTypes))+`)
		ORDER BY ce.created_at DESC, ce.id DESC LIMIT ?`, args...)
}

// AssignedTasks returns open tasks assigned to agentName in a project, oldest
// first, each with its latest plan comment. A nil projectID matches tasks
// that have no project.
func (s *Store) AssignedTasks(ctx context.Context, projectID *string, agentName string) ([]AssignedTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+`,
			(SELECT c.content FROM task_comments c
			 WHERE c.task_id = tasks.id AND c.comment_type = 'plan'
			 ORDER BY c.created_at DESC, c.id DESC LIMIT 1)
		FROM tasks
		WHERE project_id IS ? AND assigned_to = ? AND `+openTaskFilter+`
		ORDER BY created_at ASC, id ASC`,
		toNullString(projectID), agentName)
	if err != nil {
		return nil, fmt.Errorf("failed to list assigned tasks: %w", err)
	}
	defer rows.Close()

	tasks := []AssignedTask{}
	for rows.Next() {
		var plan sql.NullString
		t, err := scanTask(rows, &plan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, AssignedTask{Task: *t, Plan: nullableString(plan)})
	}
	return tasks, rows.Err()
}

// IncompleteTasks returns open tasks assigned to agentName, oldest first.
func (s *Store) IncompleteTasks(ctx context.Context, projectID *string, agentName string) ([]Task, error) {
	return s.queryTasks(ctx, "list incomplete tasks", `
		SELECT `+taskColumns+` FROM tasks
		WHERE project_id IS ? AND assigned_to = ? AND `+openTaskFilter+`
		ORDER BY created_at ASC, id ASC`,
		toNullString(projectID), agentName)
}

// OpenTasks returns all open tasks of a project in board order:
// in_progress, needs_review, pending, backlog, idea, then oldest first.
func (s *Store) OpenTasks(ctx context.Context, projectID *string) ([]Task, error) {
	return s.queryTasks(ctx, "list open tasks", `
		SELECT `+taskColumns+` FROM tasks
		WHERE project_id IS ? AND `+openTaskFilter+`
		ORDER BY `+stageOrder+`, created_at ASC, id ASC`,
		toNullString(projectID))
}

// ActiveAgentsBySession returns a session's running agents in spawn order.
func (s *Store) ActiveAgentsBySession(ctx context.Context, sessionID string) ([]Agent, error) {
	return s.queryAgents(ctx, "list active agents", `
		SELECT `+agentColumns+` FROM agents
		WHERE session_id = ? AND status = 'active'
		ORDER BY started_at ASC, rowid ASC`, sessionID)
}

// CompletedAgentsBySession returns a session's completed agents that left a
// summary, most recently completed first.
func (s *Store) CompletedAgentsBySession(ctx context.Context, sessionID string, limit int) ([]Agent, error) {
	return s.queryAgents(ctx, "list completed agents", `
		SELECT `+agentColumns+` FROM agents
		WHERE session_id = ? AND status = 'completed'
		  AND context_summary IS NOT NULL AND context_summary != ''
		ORDER BY completed_at DESC, rowid DESC LIMIT ?`, sessionID, limit)
}
