package mailbox

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/adamavenir/mailroom/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mailroom.db")
	st, err := OpenStore(context.Background(), path, Options{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st
}

func sessionFor(t *testing.T, st *Store, handle string) *Session {
	t.Helper()
	s, err := st.Session(types.Identity{Handle: handle})
	if err != nil {
		t.Fatalf("session %s: %v", handle, err)
	}
	return s
}

func mustSend(t *testing.T, s *Session, to []string, subject, body string) *types.Message {
	t.Helper()
	msg, err := s.Send(context.Background(), SendInput{To: to, Subject: subject, Body: body})
	if err != nil {
		t.Fatalf("send from %s: %v", s.Handle(), err)
	}
	return msg
}

func mustAddEntry(t *testing.T, s *Session, handle string, tags ...string) *types.AddressBookEntry {
	t.Helper()
	entry, err := s.AddEntry(context.Background(), EntryInput{Handle: handle, Tags: tags})
	if err != nil {
		t.Fatalf("add entry %s: %v", handle, err)
	}
	return entry
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func int64Ptr(v int64) *int64 {
	return &v
}

func strPtr(v string) *string {
	return &v
}
