package db

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/adamavenir/mailroom/internal/core"
	"github.com/adamavenir/mailroom/internal/types"
)

func TestInitSchemaCreatesTables(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	exists, err := SchemaExists(ctx, db)
	if err != nil {
		t.Fatalf("schema exists: %v", err)
	}
	if !exists {
		t.Fatal("expected schema to exist")
	}

	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type='table' ORDER BY name`)
	if err != nil {
		t.Fatalf("list tables: %v", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("scan table: %v", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows: %v", err)
	}

	want := []string{"address_book", "audit_log", "messages", "threads"}
	if len(names) != len(want) {
		t.Fatalf("expected tables %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("expected tables %v, got %v", want, names)
		}
	}

	version, err := userVersion(ctx, db)
	if err != nil {
		t.Fatalf("user version: %v", err)
	}
	if version != SchemaVersion {
		t.Fatalf("expected version %d, got %d", SchemaVersion, version)
	}
}

func TestReopenKeepsSchema(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "mail.db")

	first, err := OpenDatabase(ctx, path, OpenOptions{})
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	insertThread(t, first, "thrd-1", "msg-1", "alice", []string{"bob"}, at(1))
	_ = first.Close()

	second, err := OpenDatabase(ctx, path, OpenOptions{})
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer second.Close()

	thread, err := LookupThread(ctx, second, "thrd-1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if thread == nil {
		t.Fatal("expected thread to survive reopen")
	}
}

func TestOpenRejectsSchemaMismatch(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "mail.db")

	db, err := OpenDatabase(ctx, path, OpenOptions{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := db.Exec("PRAGMA user_version = 99"); err != nil {
		t.Fatalf("stamp version: %v", err)
	}
	_ = db.Close()

	_, err = OpenDatabase(ctx, path, OpenOptions{})
	if !errors.Is(err, core.ErrSchemaMismatch) {
		t.Fatalf("expected schema mismatch, got %v", err)
	}
}

func TestOpenDoesNotWaitForWriter(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "mail.db")

	writer, err := OpenDatabase(ctx, path, OpenOptions{})
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	defer writer.Close()
	insertThread(t, writer, "thrd-1", "msg-1", "alice", []string{"bob"}, at(1))

	tx, err := writer.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	if err := CreateThread(ctx, tx, types.Thread{ID: "thrd-2", Subject: "held", CreatedAt: at(2), LastActivityAt: at(2)}); err != nil {
		t.Fatalf("write under lock: %v", err)
	}

	reader, err := OpenDatabase(ctx, path, OpenOptions{BusyTimeout: 200 * time.Millisecond})
	if err != nil {
		t.Fatalf("open while writer holds lock: %v", err)
	}
	defer reader.Close()

	thread, err := LookupThread(ctx, reader, "thrd-1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if thread == nil {
		t.Fatal("expected committed thread to be visible")
	}
	held, err := LookupThread(ctx, reader, "thrd-2")
	if err != nil {
		t.Fatalf("lookup held: %v", err)
	}
	if held != nil {
		t.Fatal("expected uncommitted thread to stay invisible")
	}

	err = WithTx(ctx, reader, func(tx *sql.Tx) error {
		return CreateThread(ctx, tx, types.Thread{ID: "thrd-3", Subject: "blocked", CreatedAt: at(3), LastActivityAt: at(3)})
	})
	if !errors.Is(err, core.ErrStoreBusy) {
		t.Fatalf("expected a second writer to get ErrStoreBusy, got %v", err)
	}
}

func TestOpenRejectsMissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "mail.db")
	if _, err := OpenDatabase(context.Background(), path, OpenOptions{}); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestReadOnlyOpenChecksSchema(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "mail.db")

	db, err := OpenDatabase(ctx, path, OpenOptions{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = db.Close()

	ro, err := OpenDatabase(ctx, path, OpenOptions{ReadOnly: true})
	if err != nil {
		t.Fatalf("read-only open: %v", err)
	}
	defer ro.Close()

	if _, err := ro.Exec(`INSERT INTO threads (thread_id, subject, created_at, last_activity_at, participant_handles) VALUES ('x', 's', 't', 't', '[]')`); err == nil {
		t.Fatal("expected read-only store to reject writes")
	}
}

func TestAuditLogIsAppendOnly(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	err := AppendAuditEvent(ctx, db, auditEvent("evt-1", "alice", "bob", at(1)))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := db.Exec(`UPDATE audit_log SET actor_handle = 'mallory'`); err == nil {
		t.Fatal("expected update to be rejected")
	}
	if _, err := db.Exec(`DELETE FROM audit_log`); err == nil {
		t.Fatal("expected delete to be rejected")
	}
}

func TestMessagesAreImmutable(t *testing.T) {
	db := openTestDB(t)
	insertThread(t, db, "thrd-1", "msg-1", "alice", []string{"bob"}, at(1))

	if _, err := db.Exec(`UPDATE messages SET body = 'changed'`); err == nil {
		t.Fatal("expected update to be rejected")
	}
	if _, err := db.Exec(`DELETE FROM messages`); err == nil {
		t.Fatal("expected delete to be rejected")
	}
}

func TestMessageRequiresThread(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	err := WithTx(ctx, db, func(tx *sql.Tx) error {
		return CreateMessage(ctx, tx, types.Message{
			ID:         "msg-orphan",
			ThreadID:   "thrd-missing",
			FromHandle: "alice",
			ToHandles:  []string{"bob"},
			Subject:    "s",
			Body:       "b",
			CreatedAt:  at(1),
		})
	})
	if err == nil {
		t.Fatal("expected foreign key violation")
	}
}
