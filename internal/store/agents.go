package store

import (
	"context"
	"database/sql"
	"fmt"

	perrors "github.com/p-blackswan/clnode/internal/errors"
)

const agentColumns = `id, session_id, agent_name, agent_type, parent_agent_id, status,
	started_at, completed_at, context_summary`

// StartAgent records a sub-agent spawn. Restarting a known id reactivates it,
// clears its completion time and moves it to the new session. Type and parent
// are only replaced when the restart carries them. Name and summary are kept.
func (s *Store) StartAgent(ctx context.Context, a Agent) error {
	if a.ID == "" || a.SessionID == "" {
		return fmt.Errorf("start agent: id and session id: %w", perrors.ErrInvalidInput)
	}
	if a.AgentName == "" {
		a.AgentName = "unknown"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (id, session_id, agent_name, agent_type, parent_agent_id, status, started_at)
		VALUES (?, ?, ?, ?, ?, 'active', ?)
		ON CONFLICT(id) DO UPDATE SET
			session_id = excluded.session_id,
			agent_type = COALESCE(excluded.agent_type, agents.agent_type),
			parent_agent_id = COALESCE(excluded.parent_agent_id, agents.parent_agent_id),
			status = 'active',
			started_at = excluded.started_at,
			completed_at = NULL`,
		a.ID, a.SessionID, a.AgentName,
		toNullString(nonEmpty(a.AgentType)), toNullString(nonEmpty(a.ParentAgentID)),
		nowMillis(),
	)
	if err != nil {
		return fmt.Errorf("failed to start agent: %w", err)
	}
	return nil
}

// StopAgent completes an agent. A nil or empty summary keeps the stored one.
func (s *Store) StopAgent(ctx context.Context, id string, summary *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE agents SET
			status = 'completed',
			completed_at = ?,
			context_summary = COALESCE(?, context_summary)
		WHERE id = ?`,
		nowMillis(), toNullString(nonEmpty(summary)), id,
	)
	if err != nil {
		return fmt.Errorf("failed to stop agent: %w", err)
	}
	return nil
}

// GetAgent retrieves an agent by id. Returns nil if not found.
func (s *Store) GetAgent(ctx context.Context, id string) (*Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return a, nil
}

// ListAgents returns agents, most recently started first.
func (s *Store) ListAgents(ctx context.Context, activeOnly bool) ([]Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents`
	if activeOnly {
		query += ` WHERE status = 'active'`
	}
	query += ` ORDER BY started_at DESC, rowid DESC`
	return s.queryAgents(ctx, "list agents", query)
}

// ListAgentsBySession returns a session's agents in spawn order.
func (s *Store) ListAgentsBySession(ctx context.Context, sessionID string) ([]Agent, error) {
	return s.queryAgents(ctx, "list session agents",
		`SELECT `+agentColumns+` FROM agents WHERE session_id = ? ORDER BY started_at ASC, rowid ASC`,
		sessionID)
}

func (s *Store) queryAgents(ctx context.Context, op, query string, args ...any) ([]Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	defer rows.Close()

	agents := []Agent{}
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}

func scanAgent(r rowScanner) (*Agent, error) {
	a := &Agent{}
	var agentType, parentID, summary sql.NullString
	var startedAt int64
	var completedAt sql.NullInt64
	if err := r.Scan(&a.ID, &a.SessionID, &a.AgentName, &agentType, &parentID, &a.Status,
		&startedAt, &completedAt, &summary); err != nil {
		return nil, err
	}
	a.AgentType = nullableString(agentType)
	a.ParentAgentID = nullableString(parentID)
	a.ContextSummary = nullableString(summary)
	a.StartedAt = fromMillis(startedAt)
	a.CompletedAt = nullableTime(completedAt)
	return a, nil
}
