package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SaveEvent appends a raw hook payload. It is the first write for every hook
// call and is never rolled back by later failures.
func (s *Store) SaveEvent(ctx context.Context, sessionID *string, eventType, payload string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events (session_id, event_type, payload, received_at) VALUES (?, ?, ?, ?)`,
		toNullString(nonEmpty(sessionID)), eventType, payload, nowMillis(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save event: %w", err)
	}
	return res.LastInsertId()
}

// ListEvents returns the most recent raw events.
func (s *Store) ListEvents(ctx context.Context, limit int) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, event_type, payload, received_at
		 FROM events ORDER BY received_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return scanEvents(rows)
}

// ListEventsBySession returns a session's raw events in arrival order.
func (s *Store) ListEventsBySession(ctx context.Context, sessionID string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, event_type, payload, received_at
		 FROM events WHERE session_id = ? ORDER BY received_at ASC, id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list session events: %w", err)
	}
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var e Event
		var sessionID sql.NullString
		var receivedAt int64
		if err := rows.Scan(&e.ID, &sessionID, &e.EventType, &e.Payload, &receivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.SessionID = nullableString(sessionID)
		e.ReceivedAt = fromMillis(receivedAt)
		events = append(events, e)
	}
	return events, rows.Err()
}
