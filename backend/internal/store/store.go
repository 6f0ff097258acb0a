// Package store persists tasks, their message history, and small cached
// lookups (model/mode lists, analytics snapshots) to a local SQLite file.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// Store is a single-connection SQLite-backed persistence layer. All access
// serializes through one connection (SetMaxOpenConns(1)) to avoid
// SQLITE_BUSY errors from concurrent writers.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// Open opens (creating if absent) the SQLite file at path, applies pragmas
// tuned for a single-writer desktop workload, and runs migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, log: slog.Default()}
	if err := s.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	// journal_mode returns the resulting mode as a result row, unlike the
	// other pragmas below, so it's queried rather than exec'd.
	var mode string
	if err := s.db.QueryRowContext(ctx, "PRAGMA journal_mode = WAL").Scan(&mode); err != nil {
		return fmt.Errorf("store: pragma journal_mode: %w", err)
	}

	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA cache_size = -16000",
		"PRAGMA mmap_size = 268435456",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("store: pragma %q: %w", p, err)
		}
	}

	tables := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			model TEXT NOT NULL,
			prompt TEXT,
			project_path TEXT,
			worktree_path TEXT,
			branch TEXT,
			status TEXT DEFAULT 'ready',
			cost_usd REAL DEFAULT 0.0,
			total_tokens INTEGER,
			context_window INTEGER,
			title_summary TEXT,
			agent_session_id TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id TEXT NOT NULL,
			message_type TEXT NOT NULL,
			content TEXT,
			reasoning TEXT,
			tool_name TEXT,
			tool_arguments TEXT,
			tool_return TEXT,
			timestamp INTEGER NOT NULL,
			FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS pending_attachments (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			file_name TEXT,
			mime_type TEXT,
			relative_path TEXT NOT NULL,
			byte_size INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS message_attachments (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			message_id INTEGER NOT NULL,
			file_name TEXT,
			mime_type TEXT,
			relative_path TEXT NOT NULL,
			byte_size INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE,
			FOREIGN KEY (message_id) REFERENCES messages(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS cached_models (
			agent_id TEXT NOT NULL,
			value TEXT NOT NULL,
			name TEXT,
			description TEXT,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (agent_id, value)
		)`,
		`CREATE TABLE IF NOT EXISTS cached_modes (
			agent_id TEXT NOT NULL,
			value TEXT NOT NULL,
			name TEXT,
			description TEXT,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (agent_id, value)
		)`,
		`CREATE TABLE IF NOT EXISTS analytics_cache (
			agent_id TEXT PRIMARY KEY,
			snapshot_json TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS discord_threads (
			task_id TEXT PRIMARY KEY,
			thread_id INTEGER NOT NULL,
			channel_id INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		)`,
	}
	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("store: create table: %w", err)
		}
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_task_id_id ON messages(task_id, id)`,
		`CREATE INDEX IF NOT EXISTS idx_message_attachments_task_message ON message_attachments(task_id, message_id)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_attachments_task_created ON pending_attachments(task_id, created_at)`,
	}
	for _, idx := range indexes {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("store: create index: %w", err)
		}
	}

	// Additive-only migrations. Failure here means the column already
	// exists on an older database file; that's expected, not an error.
	migrations := []string{
		`ALTER TABLE tasks ADD COLUMN acp_session_id TEXT`, // legacy column, backfilled below then left unused
		`UPDATE tasks SET agent_session_id = acp_session_id WHERE agent_session_id IS NULL AND acp_session_id IS NOT NULL`,
	}
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			s.log.Debug("store: migration skipped (likely already applied)", "stmt", m, "err", err)
		}
	}

	return nil
}

// Shutdown runs PRAGMA optimize and a truncating WAL checkpoint before
// closing a long-lived WAL-mode database, then closes the connection. It
// does not VACUUM.
func (s *Store) Shutdown(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA optimize"); err != nil {
		s.log.Warn("store: optimize failed", "err", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.log.Warn("store: wal checkpoint failed", "err", err)
	}
	return s.db.Close()
}

// DB returns the underlying *sql.DB for callers (e.g. tests) needing direct
// access.
func (s *Store) DB() *sql.DB { return s.db }

func unixMilli(t time.Time) int64 { return t.UnixMilli() }
