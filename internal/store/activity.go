package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// LogActivity appends an activity row. details is encoded as JSON.
func (s *Store) LogActivity(ctx context.Context, sessionID string, agentID *string, eventType string, details any) error {
	var encoded sql.NullString
	if details != nil {
		b, err := json.Marshal(details)
		if err != nil {
			return fmt.Errorf("failed to encode activity details: %w", err)
		}
		encoded = sql.NullString{String: string(b), Valid: true}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activity_log (session_id, agent_id, event_type, details, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		sessionID, toNullString(nonEmpty(agentID)), eventType, encoded, nowMillis(),
	)
	if err != nil {
		return fmt.Errorf("failed to log activity: %w", err)
	}
	return nil
}

// ListActivities returns the most recent activity across all sessions.
func (s *Store) ListActivities(ctx context.Context, limit int) ([]Activity, error) {
	return s.queryActivities(ctx,
		`ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
}

// ListActivitiesBySession returns a session's activity, newest first.
func (s *Store) ListActivitiesBySession(ctx context.Context, sessionID string) ([]Activity, error) {
	return s.queryActivities(ctx,
		`WHERE session_id = ? ORDER BY created_at DESC, id DESC`, sessionID)
}

func (s *Store) queryActivities(ctx context.Context, tail string, args ...any) ([]Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, agent_id, event_type, details, created_at
		FROM activity_log `+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	defer rows.Close()

	activities := []Activity{}
	for rows.Next() {
		var a Activity
		var agentID, details sql.NullString
		var createdAt int64
		if err := rows.Scan(&a.ID, &a.SessionID, &agentID, &a.EventType, &details, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		a.AgentID = nullableString(agentID)
		if details.Valid && json.Valid([]byte(details.String)) {
			a.Details = json.RawMessage(details.String)
		} else {
			a.Details = json.RawMessage("null")
		}
		a.CreatedAt = fromMillis(createdAt)
		activities = append(activities, a)
	}
	return activities, rows.Err()
}
