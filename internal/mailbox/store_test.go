package mailbox

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/adamavenir/mailroom/internal/core"
	"github.com/adamavenir/mailroom/internal/types"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

func TestOpenOwnsStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "mailroom.db")

	s, err := Open(ctx, path, types.Identity{Handle: "Alice"}, Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if s.Handle() != "alice" {
		t.Fatalf("expected normalized handle, got %s", s.Handle())
	}
	msg := mustSend(t, s, []string{"bob"}, "Persist", "me")
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := s.Send(ctx, SendInput{To: []string{"bob"}, Subject: "x", Body: "y"}); err == nil {
		t.Fatal("expected closed session to refuse writes")
	}

	reopened, err := Open(ctx, path, types.Identity{Handle: "bob"}, Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	got, err := reopened.GetMessage(ctx, msg.ID)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if got == nil {
		t.Fatal("expected message to persist across sessions")
	}
}

func TestOpenRejectsBadIdentity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mailroom.db")
	if _, err := Open(context.Background(), path, types.Identity{Handle: "not valid"}, Options{}); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestOpenRejectsSchemaMismatch(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "mailroom.db")

	raw, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open raw: %v", err)
	}
	if _, err := raw.Exec("PRAGMA user_version = 7"); err != nil {
		t.Fatalf("stamp: %v", err)
	}
	_ = raw.Close()

	if _, err := Open(ctx, path, types.Identity{Handle: "alice"}, Options{}); !errors.Is(err, core.ErrSchemaMismatch) {
		t.Fatalf("expected schema mismatch, got %v", err)
	}
}

func TestOpenRejectsInaccessiblePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope", "mailroom.db")
	if _, err := Open(context.Background(), path, types.Identity{Handle: "alice"}, Options{}); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestSharedStoreSessions(t *testing.T) {
	st := openTestStore(t)
	alice := sessionFor(t, st, "alice")
	if err := alice.Close(); err != nil {
		t.Fatalf("close session: %v", err)
	}
	// Closing a borrowed session leaves the store usable.
	bob := sessionFor(t, st, "bob")
	mustSend(t, bob, []string{"alice"}, "Still", "open")
}

// holdWriterLock takes the store's writer lock and returns its release.
func holdWriterLock(t *testing.T, st *Store) func() {
	t.Helper()
	tx, err := st.db.BeginTx(context.Background(), nil)
	if err != nil {
		t.Fatalf("begin immediate: %v", err)
	}
	var once sync.Once
	release := func() {
		once.Do(func() { _ = tx.Rollback() })
	}
	t.Cleanup(release)
	return release
}

func TestBlockedWriterReturnsStoreBusy(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "mailroom.db")
	holder, err := OpenStore(ctx, path, Options{})
	if err != nil {
		t.Fatalf("open holder: %v", err)
	}
	defer holder.Close()
	mustSend(t, sessionFor(t, holder, "alice"), []string{"bob"}, "Before", "lock")

	contender, err := OpenStore(ctx, path, Options{BusyTimeout: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("open contender: %v", err)
	}
	defer contender.Close()
	bob := sessionFor(t, contender, "bob")

	release := holdWriterLock(t, holder)

	start := time.Now()
	_, err = bob.Send(ctx, SendInput{To: []string{"alice"}, Subject: "Blocked", Body: "x"})
	if !errors.Is(err, core.ErrStoreBusy) {
		t.Fatalf("expected ErrStoreBusy, got %v", err)
	}
	if !core.IsRetryable(err) {
		t.Fatalf("expected busy error to be retryable: %v", err)
	}
	if waited := time.Since(start); waited < 100*time.Millisecond {
		t.Fatalf("expected the busy timeout to elapse, returned after %v", waited)
	}

	// Reads keep working while the lock is held.
	threads, err := bob.ListThreads(ctx, ListThreadsOptions{})
	if err != nil {
		t.Fatalf("read under lock: %v", err)
	}
	if len(threads) != 1 {
		t.Fatalf("expected 1 visible thread, got %d", len(threads))
	}

	release()
	mustSend(t, bob, []string{"alice"}, "After", "release")
}

func TestBusyRetriesOption(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "mailroom.db")
	holder, err := OpenStore(ctx, path, Options{})
	if err != nil {
		t.Fatalf("open holder: %v", err)
	}
	defer holder.Close()

	var logs bytes.Buffer
	logger := zerolog.New(&logs)
	st, err := OpenStore(ctx, path, Options{BusyTimeout: 50 * time.Millisecond, BusyRetries: 10, Logger: &logger})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()
	s := sessionFor(t, st, "alice")

	release := holdWriterLock(t, holder)
	go func() {
		time.Sleep(250 * time.Millisecond)
		release()
	}()

	mustSend(t, s, []string{"bob"}, "Retry", "enabled")
	if !strings.Contains(logs.String(), "store busy, retrying") {
		t.Fatalf("expected at least one busy retry, logs: %s", logs.String())
	}
}

func TestReadOnlyStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "mailroom.db")
	writer, err := OpenStore(ctx, path, Options{})
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	defer writer.Close()
	sent := mustSend(t, sessionFor(t, writer, "alice"), []string{"bob"}, "Hello", "there")

	release := holdWriterLock(t, writer)
	defer release()

	reader, err := OpenStore(ctx, path, Options{ReadOnly: true, BusyTimeout: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("read-only open while writer holds lock: %v", err)
	}
	defer reader.Close()
	bob := sessionFor(t, reader, "bob")

	got, err := bob.GetMessage(ctx, sent.ID)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if got == nil || got.Body != "there" {
		t.Fatalf("expected message through read-only store, got %+v", got)
	}

	if _, err := bob.Send(ctx, SendInput{To: []string{"alice"}, Subject: "No", Body: "write"}); !errors.Is(err, core.ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
	if _, err := bob.AddEntry(ctx, EntryInput{Handle: "bob"}); !errors.Is(err, core.ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly for address book write, got %v", err)
	}
}

func TestReadOnlyStoreMustExist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mailroom.db")
	if _, err := OpenStore(context.Background(), path, Options{ReadOnly: true}); err == nil {
		t.Fatal("expected read-only open of a missing store to fail")
	}
}
