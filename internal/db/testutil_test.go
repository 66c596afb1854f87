package db

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/adamavenir/mailroom/internal/access"
	"github.com/adamavenir/mailroom/internal/types"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := OpenDatabase(context.Background(), path, OpenOptions{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

func strPtr(value string) *string {
	return &value
}

var adminScope = access.Scope{Admin: true}

func scopeFor(handle string) access.Scope {
	return access.Scope{Handle: handle}
}

// insertThread writes a thread with one message from "from" to "to" at ts.
func insertThread(t *testing.T, db *sql.DB, threadID, messageID, from string, to []string, ts time.Time) {
	t.Helper()
	ctx := context.Background()
	err := WithTx(ctx, db, func(tx *sql.Tx) error {
		if err := CreateThread(ctx, tx, types.Thread{
			ID:             threadID,
			Subject:        "subject " + threadID,
			CreatedAt:      ts,
			LastActivityAt: ts,
		}); err != nil {
			return err
		}
		if err := CreateMessage(ctx, tx, types.Message{
			ID:         messageID,
			ThreadID:   threadID,
			FromHandle: from,
			ToHandles:  to,
			Subject:    "subject " + threadID,
			Body:       "body of " + messageID,
			CreatedAt:  ts,
		}); err != nil {
			return err
		}
		return RefreshThread(ctx, tx, threadID)
	})
	if err != nil {
		t.Fatalf("insert thread %s: %v", threadID, err)
	}
}

func insertReply(t *testing.T, db *sql.DB, threadID, messageID, parentID, from string, to []string, ts time.Time) {
	t.Helper()
	ctx := context.Background()
	err := WithTx(ctx, db, func(tx *sql.Tx) error {
		if err := CreateMessage(ctx, tx, types.Message{
			ID:         messageID,
			ThreadID:   threadID,
			FromHandle: from,
			ToHandles:  to,
			Subject:    "subject " + threadID,
			Body:       "body of " + messageID,
			CreatedAt:  ts,
			InReplyTo:  strPtr(parentID),
		}); err != nil {
			return err
		}
		return RefreshThread(ctx, tx, threadID)
	})
	if err != nil {
		t.Fatalf("insert reply %s: %v", messageID, err)
	}
}

func at(seconds int) time.Time {
	return time.Date(2025, 1, 1, 0, 0, seconds, 0, time.UTC)
}
