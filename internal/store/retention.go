package store

import (
	"context"
	"fmt"
	"time"
)

// RetentionResult reports how many rows a retention pass removed.
type RetentionResult struct {
	Events     int64
	Activities int64
}

// RunRetention deletes raw events and activity rows older than maxAge.
// Entities (sessions, agents, tasks, context) are never pruned.
func (s *Store) RunRetention(ctx context.Context, maxAge time.Duration) (RetentionResult, error) {
	var res RetentionResult
	if maxAge <= 0 {
		return res, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-maxAge).UnixMilli()

	r, err := s.db.ExecContext(ctx, "DELETE FROM events WHERE received_at < ?", cutoff)
	if err != nil {
		return res, fmt.Errorf("failed to delete old events: %w", err)
	}
	res.Events, _ = r.RowsAffected()

	r, err = s.db.ExecContext(ctx, "DELETE FROM activity_log WHERE created_at < ?", cutoff)
	if err != nil {
		return res, fmt.Errorf("failed to delete old activities: %w", err)
	}
	res.Activities, _ = r.RowsAffected()

	return res, nil
}

// DBSizeBytes returns the database size in bytes.
func (s *Store) DBSizeBytes(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err != nil {
		return 0, fmt.Errorf("failed to get page count: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0, fmt.Errorf("failed to get page size: %w", err)
	}
	return pageCount * pageSize, nil
}
