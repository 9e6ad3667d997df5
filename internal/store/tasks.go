package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	perrors "github.com/p-blackswan/clnode/internal/errors"
)

const taskColumns = `id, project_id, title, description, status, assigned_to, tags, created_at, updated_at`

// CreateTask inserts a task and returns its id. Status defaults to pending.
func (s *Store) CreateTask(ctx context.Context, t NewTask) (int64, error) {
	if strings.TrimSpace(t.Title) == "" {
		return 0, fmt.Errorf("create task: title: %w", perrors.ErrInvalidInput)
	}
	if t.Status == "" {
		t.Status = TaskPending
	}
	tags, err := encodeTags(t.Tags)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := nowMillis()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (project_id, title, description, status, assigned_to, tags, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		toNullString(nonEmpty(t.ProjectID)), t.Title, toNullString(t.Description), t.Status,
		toNullString(nonEmpty(t.AssignedTo)), tags, now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create task: %w", err)
	}
	return res.LastInsertId()
}

// GetTask retrieves a task by id. Returns nil if not found.
func (s *Store) GetTask(ctx context.Context, id int64) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return t, nil
}

// UpdateTask applies a sparse update. It returns false when the task does not
// exist. A status change appends one status_change comment in the same
// transaction.
func (s *Store) UpdateTask(ctx context.Context, id int64, u TaskUpdate) (bool, error) {
	if u.Title.Set && (u.Title.Value == nil || strings.TrimSpace(*u.Title.Value) == "") {
		return false, fmt.Errorf("update task: title: %w", perrors.ErrInvalidInput)
	}
	if u.Status.Set && (u.Status.Value == nil || *u.Status.Value == "") {
		return false, fmt.Errorf("update task: status: %w", perrors.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var oldStatus string
	err = tx.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?`, id).Scan(&oldStatus)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load task: %w", err)
	}
	if u.Empty() {
		return true, nil
	}

	var sets []string
	var args []any
	if u.ProjectID.Set {
		sets = append(sets, "project_id = ?")
		args = append(args, toNullString(nonEmpty(u.ProjectID.Value)))
	}
	if u.Title.Set {
		sets = append(sets, "title = ?")
		args = append(args, *u.Title.Value)
	}
	if u.Description.Set {
		sets = append(sets, "description = ?")
		args = append(args, toNullString(u.Description.Value))
	}
	if u.Status.Set {
		sets = append(sets, "status = ?")
		args = append(args, *u.Status.Value)
	}
	if u.AssignedTo.Set {
		sets = append(sets, "assigned_to = ?")
		args = append(args, toNullString(nonEmpty(u.AssignedTo.Value)))
	}
	if u.Tags.Set {
		tags, err := encodeTags(u.Tags.Value)
		if err != nil {
			return false, err
		}
		sets = append(sets, "tags = ?")
		args = append(args, tags)
	}

	now := nowMillis()
	sets = append(sets, "updated_at = ?")
	args = append(args, now, id)

	if _, err := tx.ExecContext(ctx,
		`UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...,
	); err != nil {
		return false, fmt.Errorf("failed to update task: %w", err)
	}

	if u.Status.Set && *u.Status.Value != oldStatus {
		content := fmt.Sprintf("status changed: %s → %s", oldStatus, *u.Status.Value)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO task_comments (task_id, author, comment_type, content, created_at)
			VALUES (?, 'system', ?, ?, ?)`,
			id, CommentStatusChange, content, now,
		); err != nil {
			return false, fmt.Errorf("failed to record status change: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit task update: %w", err)
	}
	return true, nil
}

// DeleteTask removes a task and its comments. Returns false if it did not exist.
func (s *Store) DeleteTask(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM task_comments WHERE task_id = ?`, id); err != nil {
		return false, fmt.Errorf("failed to delete task comments: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete task: %w", err)
	}
	n, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit task delete: %w", err)
	}
	return n > 0, nil
}

// ListTasks returns tasks, newest first. A nil projectID lists every task.
func (s *Store) ListTasks(ctx context.Context, projectID *string) ([]Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var args []any
	if projectID != nil {
		query += ` WHERE project_id = ?`
		args = append(args, *projectID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	return s.queryTasks(ctx, "list tasks", query, args...)
}

// AddTaskComment appends a comment and returns its id.
func (s *Store) AddTaskComment(ctx context.Context, c TaskComment) (int64, error) {
	if strings.TrimSpace(c.Content) == "" {
		return 0, fmt.Errorf("add comment: content: %w", perrors.ErrInvalidInput)
	}
	if c.CommentType == "" {
		c.CommentType = CommentPlain
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO task_comments (task_id, author, comment_type, content, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		c.TaskID, toNullString(nonEmpty(c.Author)), c.CommentType, c.Content, nowMillis(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to add task comment: %w", err)
	}
	return res.LastInsertId()
}

// ListTaskComments returns a task's comments, oldest first.
func (s *Store) ListTaskComments(ctx context.Context, taskID int64) ([]TaskComment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, author, comment_type, content, created_at
		FROM task_comments WHERE task_id = ? ORDER BY created_at ASC, id ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list task comments: %w", err)
	}
	defer rows.Close()

	comments := []TaskComment{}
	for rows.Next() {
		var c TaskComment
		var author sql.NullString
		var createdAt int64
		if err := rows.Scan(&c.ID, &c.TaskID, &author, &c.CommentType, &c.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan task comment: %w", err)
		}
		c.Author = nullableString(author)
		c.CreatedAt = fromMillis(createdAt)
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

func (s *Store) queryTasks(ctx context.Context, op, query string, args ...any) ([]Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	defer rows.Close()

	tasks := []Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func scanTask(r rowScanner, extra ...any) (*Task, error) {
	t := &Task{}
	var projectID, description, assignedTo, tags sql.NullString
	var createdAt, updatedAt int64
	dest := []any{&t.ID, &projectID, &t.Title, &description, &t.Status, &assignedTo, &tags,
		&createdAt, &updatedAt}
	if err := r.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	t.ProjectID = nullableString(projectID)
	t.Description = nullableString(description)
	t.AssignedTo = nullableString(assignedTo)
	t.Tags = decodeTags(tags)
	t.CreatedAt = fromMillis(createdAt)
	t.UpdatedAt = fromMillis(updatedAt)
	return t, nil
}
