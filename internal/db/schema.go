package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/adamavenir/mailroom/internal/core"
)

// SchemaVersion is stamped into PRAGMA user_version. A store carrying any other
// non-zero version is refused rather than migrated.
const SchemaVersion = 1

const schemaSQL = `
-- Conversation containers
CREATE TABLE IF NOT EXISTS threads (
  thread_id TEXT PRIMARY KEY,              -- e.g., "thrd-0190f6c2-..."
  subject TEXT NOT NULL,                   -- immutable after creation
  created_at TEXT NOT NULL,                -- UTC, fixed-width RFC3339 micros
  last_activity_at TEXT NOT NULL,          -- created_at of newest message
  participant_handles TEXT NOT NULL,       -- JSON array, sorted, derived from messages
  metadata TEXT NOT NULL DEFAULT '{}'      -- JSON object of string values
);

CREATE INDEX IF NOT EXISTS idx_threads_activity ON threads(last_activity_at);

-- Immutable messages
CREATE TABLE IF NOT EXISTS messages (
  message_id TEXT PRIMARY KEY,
  thread_id TEXT NOT NULL,
  from_handle TEXT NOT NULL,
  to_handles TEXT NOT NULL,                -- JSON array, ordered
  subject TEXT NOT NULL,
  body TEXT NOT NULL,
  created_at TEXT NOT NULL,
  in_reply_to TEXT,                        -- parent message id
  tags TEXT NOT NULL DEFAULT '[]',         -- JSON array, sorted
  FOREIGN KEY (thread_id) REFERENCES threads(thread_id),
  FOREIGN KEY (in_reply_to) REFERENCES messages(message_id)
);

CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, created_at);
CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at);
CREATE INDEX IF NOT EXISTS idx_messages_from ON messages(from_handle);

-- Shared directory of agents
CREATE TABLE IF NOT EXISTS address_book (
  handle TEXT PRIMARY KEY,
  display_name TEXT NOT NULL DEFAULT '',
  description TEXT NOT NULL DEFAULT '',
  tags TEXT NOT NULL DEFAULT '[]',
  is_active INTEGER NOT NULL DEFAULT 1,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL,
  updated_by TEXT NOT NULL,
  version INTEGER NOT NULL DEFAULT 1       -- optimistic concurrency token
);

-- Append-only audit trail
CREATE TABLE IF NOT EXISTS audit_log (
  event_id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  actor_handle TEXT NOT NULL,
  target_handle TEXT,
  details TEXT NOT NULL DEFAULT '{}',      -- JSON object
  timestamp TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_log_target ON audit_log(target_handle, timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_log_actor ON audit_log(actor_handle, timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_log_type ON audit_log(event_type, timestamp);

CREATE TRIGGER IF NOT EXISTS audit_log_no_update BEFORE UPDATE ON audit_log
BEGIN
  SELECT RAISE(ABORT, 'audit_log is append-only');
END;

CREATE TRIGGER IF NOT EXISTS audit_log_no_delete BEFORE DELETE ON audit_log
BEGIN
  SELECT RAISE(ABORT, 'audit_log is append-only');
END;

CREATE TRIGGER IF NOT EXISTS messages_no_update BEFORE UPDATE ON messages
BEGIN
  SELECT RAISE(ABORT, 'messages are immutable');
END;

CREATE TRIGGER IF NOT EXISTS messages_no_delete BEFORE DELETE ON messages
BEGIN
  SELECT RAISE(ABORT, 'messages are immutable');
END;
`

// DBTX represents shared methods across sql.DB and sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// InitSchema creates the schema in an empty store and verifies the version of
// an existing one.
func InitSchema(ctx context.Context, db *sql.DB) error {
	ready, err := schemaReady(ctx, db)
	if err != nil || ready {
		return err
	}
	// Only an empty store needs the writer lock. Re-check under it in case
	// another process initialized the file first.
	return WithTx(ctx, db, func(tx *sql.Tx) error {
		ready, err := schemaReady(ctx, tx)
		if err != nil || ready {
			return err
		}
		if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", SchemaVersion)); err != nil {
			return fmt.Errorf("stamp schema version: %w", err)
		}
		return nil
	})
}

// schemaReady reports whether the store already carries the current schema.
// It returns false with no error only for an empty, unversioned store.
func schemaReady(ctx context.Context, db DBTX) (bool, error) {
	version, err := userVersion(ctx, db)
	if err != nil {
		return false, err
	}
	exists, err := schemaExists(ctx, db)
	if err != nil {
		return false, err
	}
	switch {
	case version == SchemaVersion:
		if !exists {
			return false, fmt.Errorf("%w: version %d stamped but tables missing", core.ErrSchemaMismatch, version)
		}
		return true, nil
	case version != 0:
		return false, fmt.Errorf("%w: store has version %d, want %d", core.ErrSchemaMismatch, version, SchemaVersion)
	case exists:
		return false, fmt.Errorf("%w: unversioned tables present", core.ErrSchemaMismatch)
	}
	return false, nil
}

// CheckSchema verifies the schema version without creating anything.
func CheckSchema(ctx context.Context, db DBTX) error {
	version, err := userVersion(ctx, db)
	if err != nil {
		return err
	}
	if version != SchemaVersion {
		return fmt.Errorf("%w: store has version %d, want %d", core.ErrSchemaMismatch, version, SchemaVersion)
	}
	return nil
}

// SchemaExists reports whether the mailroom tables are present.
func SchemaExists(ctx context.Context, db DBTX) (bool, error) {
	return schemaExists(ctx, db)
}

func schemaExists(ctx context.Context, db DBTX) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sqlite_master
		WHERE type = 'table' AND name IN ('threads', 'messages', 'address_book', 'audit_log')
	`).Scan(&count)
	if err != nil {
		return false, classifyError(err)
	}
	return count > 0, nil
}

func userVersion(ctx context.Context, db DBTX) (int, error) {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema version: %w", classifyError(err))
	}
	return version, nil
}
