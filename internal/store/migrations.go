package store

import (
	"fmt"
)

func (s *Store) migrate() error {
	if err := s.migrateV1(); err != nil {
		return err
	}
	return s.migrateV2()
}

func (s *Store) migrateV1() error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		path       TEXT NOT NULL UNIQUE,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id         TEXT PRIMARY KEY,
		project_id TEXT,
		status     TEXT NOT NULL DEFAULT 'active',
		started_at INTEGER NOT NULL,
		ended_at   INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project_id);
	CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);

	CREATE TABLE IF NOT EXISTS agents (
		id              TEXT PRIMARY KEY,
		session_id      TEXT NOT NULL,
		agent_name      TEXT NOT NULL,
		agent_type      TEXT,
		parent_agent_id TEXT,
		status          TEXT NOT NULL DEFAULT 'active',
		started_at      INTEGER NOT NULL,
		completed_at    INTEGER,
		context_summary TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_agents_session ON agents(session_id, status);
	CREATE INDEX IF NOT EXISTS idx_agents_parent ON agents(session_id, parent_agent_id);
	CREATE INDEX IF NOT EXISTS idx_agents_type ON agents(agent_type, status);

	CREATE TABLE IF NOT EXISTS context_entries (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		agent_id   TEXT,
		entry_type TEXT NOT NULL,
		content    TEXT NOT NULL,
		tags       TEXT,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_context_session ON context_entries(session_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_context_agent ON context_entries(agent_id);

	CREATE TABLE IF NOT EXISTS file_changes (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id  TEXT NOT NULL,
		agent_id    TEXT,
		file_path   TEXT NOT NULL,
		change_type TEXT NOT NULL,
		created_at  INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_files_session ON file_changes(session_id);
	CREATE INDEX IF NOT EXISTS idx_files_agent ON file_changes(agent_id);

	CREATE TABLE IF NOT EXISTS activity_log (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		agent_id   TEXT,
		event_type TEXT NOT NULL,
		details    TEXT,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_activity_session ON activity_log(session_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_activity_created ON activity_log(created_at);

	CREATE TABLE IF NOT EXISTS events (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id  TEXT,
		event_type  TEXT NOT NULL,
		payload     TEXT NOT NULL,
		received_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id);
	CREATE INDEX IF NOT EXISTS idx_events_received ON events(received_at);

	CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	INSERT OR IGNORE INTO meta(key, value) VALUES ('schema_version', '1');
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute migration v1: %w", err)
	}

	return nil
}

// migrateV2 adds the task board.
func (s *Store) migrateV2() error {
	var version string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&version)
	if err != nil || version >= "2" {
		return nil
	}

	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id  TEXT,
		title       TEXT NOT NULL,
		description TEXT,
		status      TEXT NOT NULL DEFAULT 'pending',
		assigned_to TEXT,
		tags        TEXT,
		created_at  INTEGER NOT NULL,
		updated_at  INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_id, status);
	CREATE INDEX IF NOT EXISTS idx_tasks_assigned ON tasks(assigned_to);

	CREATE TABLE IF NOT EXISTS task_comments (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id      INTEGER NOT NULL,
		author       TEXT,
		comment_type TEXT NOT NULL DEFAULT 'comment',
		content      TEXT NOT NULL,
		created_at   INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_comments_task ON task_comments(task_id, created_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute migration v2: %w", err)
	}

	if _, err := s.db.Exec(`INSERT OR REPLACE INTO meta(key, value) VALUES ('schema_version', '2')`); err != nil {
		return fmt.Errorf("failed to update schema version: %w", err)
	}

	return nil
}
