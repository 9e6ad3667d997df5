package store

import (
	"context"
	"database/sql"
	"fmt"
)

// StartSession creates a session or reactivates an existing one. A nil
// projectID keeps whatever project the session already had.
func (s *Store) StartSession(ctx context.Context, id string, projectID *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, project_id, status, started_at) VALUES (?, ?, 'active', ?)
		ON CONFLICT(id) DO UPDATE SET
			status = 'active',
			started_at = excluded.started_at,
			ended_at = NULL,
			project_id = COALESCE(excluded.project_id, sessions.project_id)`,
		id, toNullString(nonEmpty(projectID)), nowMillis(),
	)
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	return nil
}

// EndSession marks a session ended and completes its still-active agents.
// Returns the number of agents that were completed by the cascade.
func (s *Store) EndSession(ctx context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := nowMillis()
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET status = 'ended', ended_at = ? WHERE id = ?`, now, id,
	); err != nil {
		return 0, fmt.Errorf("failed to end session: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE agents SET status = 'completed', completed_at = ?
		 WHERE session_id = ? AND status = 'active'`, now, id,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to complete session agents: %w", err)
	}
	n, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit session end: %w", err)
	}
	return int(n), nil
}

// GetSession retrieves a session by id. Returns nil if not found.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, status, started_at, ended_at FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return sess, nil
}

// ListSessions returns sessions, most recently started first.
func (s *Store) ListSessions(ctx context.Context, activeOnly bool) ([]Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, project_id, status, started_at, ended_at FROM sessions`
	if activeOnly {
		query += ` WHERE status = 'active'`
	}
	query += ` ORDER BY started_at DESC, rowid DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

// SessionProject returns the project a session belongs to, or nil.
func (s *Store) SessionProject(ctx context.Context, sessionID string) (*string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var projectID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT project_id FROM sessions WHERE id = ?`, sessionID).Scan(&projectID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session project: %w", err)
	}
	return nullableString(projectID), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (*Session, error) {
	sess := &Session{}
	var projectID sql.NullString
	var startedAt int64
	var endedAt sql.NullInt64
	if err := r.Scan(&sess.ID, &projectID, &sess.Status, &startedAt, &endedAt); err != nil {
		return nil, err
	}
	sess.ProjectID = nullableString(projectID)
	sess.StartedAt = fromMillis(startedAt)
	sess.EndedAt = nullableTime(endedAt)
	return sess, nil
}
