package store

import (
	"context"
	"database/sql"
	"fmt"
)

// File change kinds.
const (
	ChangeCreate = "create"
	ChangeEdit   = "edit"
)

// RecordFileChange appends a file change.
func (s *Store) RecordFileChange(ctx context.Context, sessionID string, agentID *string, filePath, changeType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO file_changes (session_id, agent_id, file_path, change_type, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		sessionID, toNullString(nonEmpty(agentID)), filePath, changeType, nowMillis(),
	)
	if err != nil {
		return fmt.Errorf("failed to record file change: %w", err)
	}
	return nil
}

// ListFileChangesBySession returns a session's file changes, newest first.
func (s *Store) ListFileChangesBySession(ctx context.Context, sessionID string) ([]FileChange, error) {
	return s.queryFileChanges(ctx, `WHERE session_id = ?`, sessionID)
}

// ListFileChangesByAgent returns an agent's file changes, newest first.
func (s *Store) ListFileChangesByAgent(ctx context.Context, agentID string) ([]FileChange, error) {
	return s.queryFileChanges(ctx, `WHERE agent_id = ?`, agentID)
}

func (s *Store) queryFileChanges(ctx context.Context, where string, args ...any) ([]FileChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, agent_id, file_path, change_type, created_at
		FROM file_changes `+where+` ORDER BY created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list file changes: %w", err)
	}
	defer rows.Close()

	changes := []FileChange{}
	for rows.Next() {
		var fc FileChange
		var agentID sql.NullString
		var createdAt int64
		if err := rows.Scan(&fc.ID, &fc.SessionID, &agentID, &fc.FilePath, &fc.ChangeType, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan file change: %w", err)
		}
		fc.AgentID = nullableString(agentID)
		fc.CreatedAt = fromMillis(createdAt)
		changes = append(changes, fc)
	}
	return changes, rows.Err()
}
