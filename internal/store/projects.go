package store

import (
	"context"
	"database/sql"
	"fmt"

	perrors "github.com/p-blackswan/clnode/internal/errors"
)

// RegisterProject creates or replaces a project by id.
func (s *Store) RegisterProject(ctx context.Context, id, name, path string) error {
	if id == "" || path == "" {
		return fmt.Errorf("register project: id and path: %w", perrors.ErrInvalidInput)
	}
	if name == "" {
		name = id
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, path, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, path = excluded.path`,
		id, name, path, nowMillis(),
	)
	if err != nil {
		return fmt.Errorf("failed to register project: %w", err)
	}
	// Any cached path may now point elsewhere.
	s.projects.Purge()
	return nil
}

// GetProject retrieves a project by id. Returns nil if not found.
func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p := &Project{}
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, path, created_at FROM projects WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.Path, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	p.CreatedAt = fromMillis(createdAt)
	return p, nil
}

// FindProjectByPath resolves a working directory to a project id by exact
// path match. Returns nil if no project is registered at that path.
func (s *Store) FindProjectByPath(ctx context.Context, path string) (*string, error) {
	if path == "" {
		return nil, nil
	}
	if id, ok := s.projects.Get(path); ok {
		return &id, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM projects WHERE path = ?`, path).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find project by path: %w", err)
	}
	s.projects.Put(path, id)
	return &id, nil
}

// ListProjects returns all projects, newest first.
func (s *Store) ListProjects(ctx context.Context) ([]Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, path, created_at FROM projects ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	projects := []Project{}
	for rows.Next() {
		var p Project
		var createdAt int64
		if err := rows.Scan(&p.ID, &p.Name, &p.Path, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		p.CreatedAt = fromMillis(createdAt)
		projects = append(projects, p)
	}
	return projects, rows.Err()
}
