package store

import (
	"context"
	"fmt"
)

// Stats returns dashboard counters.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := &Stats{}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM sessions),
			(SELECT COUNT(*) FROM sessions WHERE status = 'active'),
			(SELECT COUNT(*) FROM agents),
			(SELECT COUNT(*) FROM agents WHERE status = 'active'),
			(SELECT COUNT(*) FROM context_entries),
			(SELECT COUNT(*) FROM file_changes),
			(SELECT COUNT(*) FROM tasks),
			(SELECT COUNT(*) FROM tasks WHERE status NOT IN ('completed', 'cancelled'))`,
	).Scan(&st.TotalSessions, &st.ActiveSessions, &st.TotalAgents, &st.ActiveAgents,
		&st.TotalContextEntries, &st.TotalFileChanges, &st.TotalTasks, &st.OpenTasks)
	if err != nil {
		return nil, fmt.Errorf("failed to compute stats: %w", err)
	}
	return st, nil
}
