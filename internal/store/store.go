// Package store provides the local persisted store for replog.
//
// This is the single source of truth for reads: every contract read is
// served from here, and writes land here synchronously before any
// network round-trip. The store is an embedded SQLite database (WAL
// mode for concurrent readers) with one namespace per entity type:
//
//   - exercises: the exercise records, including tombstones
//   - user: the device's account
//   - syncstate: reconciliation bookkeeping (metadata keys, conflict log)
//
// Namespaces are stable identifiers used for both local storage and
// migration bookkeeping; each can be cleared independently.
//
// Mutations notify the subscription hub so UI-facing feeds re-render
// without polling.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Namespace names. Stable; used by ClearNamespace and migration
// bookkeeping.
const (
	NamespaceExercises = "exercises"
	NamespaceUser      = "user"
	NamespaceSyncState = "syncstate"
)

// Namespaces lists every namespace in the store.
func Namespaces() []string {
	return []string{NamespaceExercises, NamespaceUser, NamespaceSyncState}
}

// Store wraps the embedded SQLite database with the subscription hub.
type Store struct {
	conn *sql.DB
	path string
	hub  *hub
}

// Open creates or opens the local store at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent
// reads. The caller MUST call Close() when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping local store: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{
		conn: conn,
		path: path,
		hub:  newHub(),
	}

	// WAL for concurrent readers during writes.
	if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := s.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the store, checkpointing the WAL first.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close local store: %w", err)
	}

	s.conn = nil
	return nil
}

// InitSchema creates the namespace tables if they don't exist.
// Idempotent; safe to call on every open.
func (s *Store) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS exercises (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		sync_status TEXT NOT NULL DEFAULT 'pending',
		deleted INTEGER NOT NULL DEFAULT 0,
		sync_attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_exercises_user ON exercises(user_id);
	CREATE INDEX IF NOT EXISTS idx_exercises_status ON exercises(sync_status);
	CREATE INDEX IF NOT EXISTS idx_exercises_pending
	    ON exercises(sync_status, deleted);

	CREATE TABLE IF NOT EXISTS user (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL DEFAULT '',
		is_anonymous INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		last_sync_at TEXT,
		sync_status TEXT NOT NULL DEFAULT 'pending',
		sync_attempts INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS syncstate (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conflict_log (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		exercise_id TEXT NOT NULL,
		discarded TEXT NOT NULL,
		winner_updated_at TEXT NOT NULL,
		resolved_at TEXT NOT NULL
	);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize store schema: %w", err)
	}

	return nil
}

// ClearNamespace wipes one namespace. The syncstate namespace covers
// both the metadata keys and the conflict log.
func (s *Store) ClearNamespace(ctx context.Context, namespace string) error {
	var stmts []string
	switch namespace {
	case NamespaceExercises:
		stmts = []string{"DELETE FROM exercises"}
	case NamespaceUser:
		stmts = []string{"DELETE FROM user"}
	case NamespaceSyncState:
		stmts = []string{"DELETE FROM syncstate", "DELETE FROM conflict_log"}
	default:
		return fmt.Errorf("unknown namespace %q", namespace)
	}

	for _, stmt := range stmts {
		if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to clear namespace %s: %w", namespace, err)
		}
	}

	if namespace == NamespaceExercises {
		for _, userID := range s.hub.userIDs() {
			s.notify(ctx, userID)
		}
	}
	return nil
}

// ClearAll wipes every namespace.
func (s *Store) ClearAll(ctx context.Context) error {
	for _, ns := range Namespaces() {
		if err := s.ClearNamespace(ctx, ns); err != nil {
			return err
		}
	}
	return nil
}

// Meta returns a syncstate metadata value.
func (s *Store) Meta(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.conn.QueryRowContext(ctx, "SELECT value FROM syncstate WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read meta %s: %w", key, err)
	}
	return value, true, nil
}

// SetMeta upserts a syncstate metadata value.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	query := `
	INSERT INTO syncstate (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	if _, err := s.conn.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to set meta %s: %w", key, err)
	}
	return nil
}
