package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/p-blackswan/clnode/lru"
)

const projectCacheSize = 128

// Store is the SQLite-backed event store and entity repository.
type Store struct {
	db       *sql.DB
	logger   zerolog.Logger
	mu       sync.RWMutex
	projects *lru.Cache[string, string] // path -> project id
}

// New opens (or creates) the SQLite database and runs migrations.
// ":memory:" is pinned to a single connection so every query sees the same database.
func New(dbPath string, logger zerolog.Logger) (*Store, error) {
	inMemory := dbPath == ":memory:"
	if !inMemory {
		if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if inMemory {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{
		db:       db,
		logger:   logger.With().Str("component", "store").Logger(),
		projects: lru.New[string, string](projectCacheSize),
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	s.logger.Info().Str("path", dbPath).Msg("Store initialized successfully")
	return s, nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB returns the underlying database connection (for testing).
func (s *Store) DB() *sql.DB {
	return s.db
}

var (
	sharedMu    sync.Mutex
	sharedStore *Store
)

// Shared returns the process-wide store, opening it on first use.
// Concurrent first callers block on the same open; a failed open is not
// cached, so the next call retries.
func Shared(dbPath string, logger zerolog.Logger) (*Store, error) {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if sharedStore != nil {
		return sharedStore, nil
	}
	s, err := New(dbPath, logger)
	if err != nil {
		return nil, err
	}
	sharedStore = s
	return s, nil
}

// CloseShared closes the process-wide store if it was opened.
func CloseShared() error {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if sharedStore == nil {
		return nil
	}
	err := sharedStore.Close()
	sharedStore = nil
	return err
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullableTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func nullableString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func toNullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

// nonEmpty treats "" as absent.
func nonEmpty(p *string) *string {
	if p == nil || *p == "" {
		return nil
	}
	return p
}

// normalizeTags removes duplicates and blanks while keeping first occurrence order.
func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func encodeTags(tags []string) (sql.NullString, error) {
	tags = normalizeTags(tags)
	if tags == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode tags: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeTags(v sql.NullString) []string {
	if !v.Valid || v.String == "" {
		return []string{}
	}
	var tags []string
	if err := json.Unmarshal([]byte(v.String), &tags); err != nil || tags == nil {
		return []string{}
	}
	return tags
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
