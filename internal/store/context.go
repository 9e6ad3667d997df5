package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	perrors "github.com/p-blackswan/clnode/internal/errors"
)

const contextColumns = `ce.id, ce.session_id, ce.agent_id, ce.entry_type, ce.content, ce.tags, ce.created_at`

// AddContextEntry stores a context entry and returns its id.
func (s *Store) AddContextEntry(ctx context.Context, e ContextEntry) (int64, error) {
	if e.SessionID == "" || e.EntryType == "" || strings.TrimSpace(e.Content) == "" {
		return 0, fmt.Errorf("add context: session id, entry type and content: %w", perrors.ErrInvalidInput)
	}
	tags, err := encodeTags(e.Tags)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO context_entries (session_id, agent_id, entry_type, content, tags, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.SessionID, toNullString(nonEmpty(e.AgentID)), e.EntryType, e.Content, tags, nowMillis(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to add context entry: %w", err)
	}
	return res.LastInsertId()
}

// ListContextBySession returns a session's entries, newest first.
func (s *Store) ListContextBySession(ctx context.Context, sessionID string) ([]ContextEntry, error) {
	return s.queryContext(ctx, "list session context",
		`SELECT `+contextColumns+` FROM context_entries ce
		 WHERE ce.session_id = ? ORDER BY ce.created_at DESC, ce.id DESC`, sessionID)
}

// ListContextByAgent returns an agent's entries, newest first.
func (s *Store) ListContextByAgent(ctx context.Context, agentID string) ([]ContextEntry, error) {
	return s.queryContext(ctx, "list agent context",
		`SELECT `+contextColumns+` FROM context_entries ce
		 WHERE ce.agent_id = ? ORDER BY ce.created_at DESC, ce.id DESC`, agentID)
}

// DeleteContextByType removes every entry of one type from a session.
func (s *Store) DeleteContextByType(ctx context.Context, sessionID, entryType string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM context_entries WHERE session_id = ? AND entry_type = ?`, sessionID, entryType)
	if err != nil {
		return 0, fmt.Errorf("failed to delete context entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *Store) queryContext(ctx context.Context, op, query string, args ...any) ([]ContextEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	defer rows.Close()

	entries := []ContextEntry{}
	for rows.Next() {
		e, err := scanContextEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan context entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func scanContextEntry(r rowScanner, extra ...any) (*ContextEntry, error) {
	e := &ContextEntry{}
	var agentID, tags sql.NullString
	var createdAt int64
	dest := []any{&e.ID, &e.SessionID, &agentID, &e.EntryType, &e.Content, &tags, &createdAt}
	if err := r.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	e.AgentID = nullableString(agentID)
	e.Tags = decodeTags(tags)
	e.CreatedAt = fromMillis(createdAt)
	return e, nil
}
