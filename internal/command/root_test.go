package command

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/adamavenir/mailroom/internal/core"
	"github.com/adamavenir/mailroom/internal/types"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

func executeCommand(cmd *cobra.Command, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return buf.String(), err
}

// run executes a fresh root command against store as handle.
func run(t *testing.T, store, handle string, args ...string) (string, error) {
	t.Helper()
	full := append([]string{"--store", store}, args...)
	if handle != "" {
		full = append([]string{"--as", handle}, full...)
	}
	return executeCommand(NewRootCmd("test"), full...)
}

func mustRun(t *testing.T, store, handle string, args ...string) string {
	t.Helper()
	out, err := run(t, store, handle, args...)
	if err != nil {
		t.Fatalf("%v: %v\n%s", args, err, out)
	}
	return out
}

func decode[T any](t *testing.T, out string) T {
	t.Helper()
	var value T
	if err := json.Unmarshal([]byte(out), &value); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	return value
}

func tempStore(t *testing.T) string {
	t.Helper()
	t.Setenv("MAILROOM_AS", "")
	t.Setenv("MAILROOM_STORE", "")
	return filepath.Join(t.TempDir(), "mailroom.db")
}

func TestRootCommandVersion(t *testing.T) {
	cmd := NewRootCmd("test")

	output, err := executeCommand(cmd, "--version")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(output, "mailroom version test") {
		t.Fatalf("unexpected output: %q", output)
	}
}

func TestInitCreatesStore(t *testing.T) {
	t.Setenv("MAILROOM_STORE", "")
	projectDir := t.TempDir()
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(projectDir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Chdir(cwd)
	})

	if _, err := executeCommand(NewRootCmd("test"), "init"); err != nil {
		t.Fatalf("init: %v", err)
	}
	project, err := core.DiscoverProject(projectDir)
	if err != nil {
		t.Fatalf("discover project: %v", err)
	}
	if _, err := os.Stat(project.DBPath); err != nil {
		t.Fatalf("expected store file: %v", err)
	}

	if _, err := executeCommand(NewRootCmd("test"), "init"); err == nil {
		t.Fatal("expected second init to fail without --force")
	}
	if _, err := executeCommand(NewRootCmd("test"), "init", "--force"); err != nil {
		t.Fatalf("init --force: %v", err)
	}

	// Commands discover the store from the working directory.
	if _, err := executeCommand(NewRootCmd("test"), "--as", "alice", "threads"); err != nil {
		t.Fatalf("threads after init: %v", err)
	}
}

func TestCommandRequiresIdentity(t *testing.T) {
	store := tempStore(t)

	out, err := run(t, store, "", "threads")
	if err == nil {
		t.Fatal("expected missing identity error")
	}
	if !strings.Contains(out, "--as") {
		t.Fatalf("expected hint about --as, got %q", out)
	}

	t.Setenv("MAILROOM_AS", "alice")
	mustRun(t, store, "", "threads")
}

func TestSendReplyFlow(t *testing.T) {
	store := tempStore(t)

	sent := decode[types.Message](t, mustRun(t, store, "alice", "--json", "send", "--to", "bob", "-s", "Deploy", "Friday", "at", "3?"))
	if sent.Body != "Friday at 3?" {
		t.Fatalf("unexpected body %q", sent.Body)
	}

	reply := decode[types.Message](t, mustRun(t, store, "bob", "--json", "reply", sent.ID, "works for me"))
	if reply.ThreadID != sent.ThreadID {
		t.Fatalf("reply landed in %s, want %s", reply.ThreadID, sent.ThreadID)
	}
	if len(reply.ToHandles) != 1 || reply.ToHandles[0] != "alice" {
		t.Fatalf("expected reply to alice, got %v", reply.ToHandles)
	}

	threadReply := decode[types.Message](t, mustRun(t, store, "alice", "--json", "reply", "#"+sent.ThreadID, "great"))
	if threadReply.InReplyTo == nil || *threadReply.InReplyTo != reply.ID {
		t.Fatalf("thread reply should answer the newest message, got %v", threadReply.InReplyTo)
	}

	result := decode[threadResult](t, mustRun(t, store, "bob", "--json", "thread", sent.ThreadID))
	if len(result.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(result.Messages))
	}
	if !equalHandles(result.Thread.ParticipantHandles, []string{"alice", "bob"}) {
		t.Fatalf("unexpected participants %v", result.Thread.ParticipantHandles)
	}

	out := mustRun(t, store, "bob", "thread", sent.ThreadID)
	if !strings.Contains(out, "Deploy") || !strings.Contains(out, "works for me") {
		t.Fatalf("unexpected thread output: %q", out)
	}

	if _, err := run(t, store, "carol", "thread", sent.ThreadID); err == nil {
		t.Fatal("carol should not see alice and bob's thread")
	}
	if _, err := run(t, store, "carol", "reply", sent.ID, "hi"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found for carol's reply, got %v", err)
	}
}

func TestSendModes(t *testing.T) {
	store := tempStore(t)

	sent := decode[[]types.Message](t, mustRun(t, store, "alice", "--json", "send", "--to", "bob,carol", "--broadcast", "-s", "Notice", "standup moved"))
	if len(sent) != 2 || sent[0].ThreadID == sent[1].ThreadID {
		t.Fatalf("broadcast should create one thread per recipient: %+v", sent)
	}

	group := decode[types.Message](t, mustRun(t, store, "alice", "--json", "send", "--to", "bob", "--to", "carol", "--group", "-s", "Team", "hello"))
	if !equalHandles(group.ToHandles, []string{"bob", "carol"}) {
		t.Fatalf("unexpected group recipients %v", group.ToHandles)
	}

	if _, err := run(t, store, "alice", "send", "--to", "bob", "--group", "--broadcast", "-s", "x", "y"); err == nil {
		t.Fatal("expected --group with --broadcast to fail")
	}
	if _, err := run(t, store, "alice", "send", "--to", "bob", "-s", "   ", "y"); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("expected validation error for blank subject, got %v", err)
	}

	threads := decode[[]types.Thread](t, mustRun(t, store, "carol", "--json", "threads"))
	if len(threads) != 2 {
		t.Fatalf("carol should see her broadcast thread and the group thread, got %d", len(threads))
	}
}

func TestMessagesAndSearch(t *testing.T) {
	store := tempStore(t)
	mustRun(t, store, "alice", "send", "--to", "bob", "-s", "Deploy window", "Friday")
	mustRun(t, store, "alice", "send", "--to", "carol", "-s", "Lunch", "noon?")

	fromAlice := decode[[]types.Message](t, mustRun(t, store, "bob", "--json", "messages", "--from", "alice"))
	if len(fromAlice) != 1 || fromAlice[0].Subject != "Deploy window" {
		t.Fatalf("bob should only see his message: %+v", fromAlice)
	}

	found := decode[[]types.Message](t, mustRun(t, store, "alice", "--json", "search", "DEPLOY", "--fields", "subject"))
	if len(found) != 1 {
		t.Fatalf("expected one match, got %d", len(found))
	}

	out := mustRun(t, store, "carol", "search", "deploy")
	if !strings.Contains(out, "No messages matching") {
		t.Fatalf("carol should not find bob's thread: %q", out)
	}

	if _, err := run(t, store, "alice", "search", "x", "--fields", "title"); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestArchiveAndMeta(t *testing.T) {
	store := tempStore(t)
	sent := decode[types.Message](t, mustRun(t, store, "alice", "--json", "send", "--to", "bob", "-s", "Old", "done"))

	mustRun(t, store, "alice", "archive", sent.ThreadID)
	if threads := decode[[]types.Thread](t, mustRun(t, store, "alice", "--json", "threads")); len(threads) != 0 {
		t.Fatalf("archived thread should be hidden, got %d", len(threads))
	}
	if threads := decode[[]types.Thread](t, mustRun(t, store, "alice", "--json", "threads", "--archived")); len(threads) != 1 {
		t.Fatalf("expected archived thread with --archived, got %d", len(threads))
	}
	mustRun(t, store, "bob", "unarchive", sent.ThreadID)

	mustRun(t, store, "bob", "meta", sent.ThreadID, "priority", "high")
	meta := decode[map[string]string](t, mustRun(t, store, "alice", "--json", "meta", sent.ThreadID))
	if meta["priority"] != "high" {
		t.Fatalf("unexpected metadata %v", meta)
	}
	mustRun(t, store, "bob", "meta", sent.ThreadID, "priority", "--unset")
	meta = decode[map[string]string](t, mustRun(t, store, "alice", "--json", "meta", sent.ThreadID))
	if _, ok := meta["priority"]; ok {
		t.Fatalf("priority should be removed: %v", meta)
	}

	if _, err := run(t, store, "carol", "archive", sent.ThreadID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found for carol, got %v", err)
	}
}

func TestBookCommands(t *testing.T) {
	store := tempStore(t)

	added := decode[types.AddressBookEntry](t, mustRun(t, store, "alice", "--json", "book", "add", "ops-bot", "--name", "Ops", "--tag", "ops,oncall"))
	if added.Version != 1 || !added.IsActive {
		t.Fatalf("unexpected new entry %+v", added)
	}
	mustRun(t, store, "alice", "book", "add", "reviewer", "--description", "reviews PRs")

	if _, err := run(t, store, "alice", "book", "add", "ops-bot"); !errors.Is(err, core.ErrAlreadyExists) {
		t.Fatalf("expected already exists, got %v", err)
	}

	updated := decode[types.AddressBookEntry](t, mustRun(t, store, "bob", "--json", "book", "update", "ops-bot", "--description", "pages people", "--expected-version", "1"))
	if updated.Version != 2 || updated.UpdatedBy != "bob" {
		t.Fatalf("unexpected update %+v", updated)
	}

	out, err := run(t, store, "carol", "book", "update", "ops-bot", "--name", "Stale", "--expected-version", "1")
	var conflict *core.ConflictError
	if !errors.As(err, &conflict) || conflict.CurrentVersion != 2 {
		t.Fatalf("expected conflict at version 2, got %v", err)
	}
	if !strings.Contains(out, "Hint:") {
		t.Fatalf("expected conflict hint, got %q", out)
	}

	if _, err := run(t, store, "alice", "book", "update", "ops-bot"); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("expected validation error for empty update, got %v", err)
	}

	matched := decode[[]types.AddressBookEntry](t, mustRun(t, store, "alice", "--json", "book", "list", "--match", "ops-*"))
	if len(matched) != 1 || matched[0].Handle != "ops-bot" {
		t.Fatalf("unexpected glob matches %+v", matched)
	}

	searched := decode[[]types.AddressBookEntry](t, mustRun(t, store, "alice", "--json", "book", "search", "review"))
	if len(searched) != 1 || searched[0].Handle != "reviewer" {
		t.Fatalf("unexpected search results %+v", searched)
	}

	mustRun(t, store, "alice", "book", "deactivate", "reviewer")
	active := decode[[]types.AddressBookEntry](t, mustRun(t, store, "alice", "--json", "book", "list"))
	if len(active) != 1 {
		t.Fatalf("expected one active entry, got %d", len(active))
	}
	all := decode[[]types.AddressBookEntry](t, mustRun(t, store, "alice", "--json", "book", "list", "--all"))
	if len(all) != 2 {
		t.Fatalf("expected two entries with --all, got %d", len(all))
	}

	entry := decode[types.AddressBookEntry](t, mustRun(t, store, "alice", "--json", "book", "get", "reviewer"))
	if entry.IsActive || entry.Version != 2 {
		t.Fatalf("unexpected deactivated entry %+v", entry)
	}
	if _, err := run(t, store, "alice", "book", "get", "nobody"); err == nil {
		t.Fatal("expected error for unknown handle")
	}
}

func TestAuditAndWhoami(t *testing.T) {
	store := tempStore(t)
	mustRun(t, store, "alice", "send", "--to", "bob", "-s", "Hi", "there")
	mustRun(t, store, "alice", "book", "add", "root", "--tag", "admin")

	events := decode[[]types.AuditEvent](t, mustRun(t, store, "bob", "--json", "audit", "--type", "message_send"))
	if len(events) != 1 || events[0].ActorHandle != "alice" {
		t.Fatalf("unexpected events %+v", events)
	}
	if events[0].TargetHandle == nil || *events[0].TargetHandle != "bob" {
		t.Fatalf("expected target bob, got %v", events[0].TargetHandle)
	}

	if _, err := run(t, store, "bob", "audit", "--type", "bogus"); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	who := decode[whoamiResult](t, mustRun(t, store, "root", "--json", "whoami"))
	if !who.Admin || who.Entry == nil {
		t.Fatalf("root should be an admin with an entry: %+v", who)
	}
	who = decode[whoamiResult](t, mustRun(t, store, "bob", "--json", "whoami"))
	if who.Admin || who.Entry != nil {
		t.Fatalf("bob should be a plain handle: %+v", who)
	}
}

func TestReadCommandsIgnoreWriterLock(t *testing.T) {
	store := tempStore(t)
	t.Setenv("MAILROOM_BUSY_TIMEOUT", "100ms")
	t.Setenv("MAILROOM_BUSY_RETRIES", "0")
	mustRun(t, store, "alice", "send", "--to", "bob", "-s", "Locked", "hold on")

	holder, err := sql.Open("sqlite", "file:"+store+"?_txlock=immediate")
	if err != nil {
		t.Fatalf("open holder: %v", err)
	}
	defer holder.Close()
	tx, err := holder.Begin()
	if err != nil {
		t.Fatalf("begin immediate: %v", err)
	}
	defer tx.Rollback()

	threads := decode[[]types.Thread](t, mustRun(t, store, "bob", "--json", "threads"))
	if len(threads) != 1 {
		t.Fatalf("expected 1 thread under lock, got %d", len(threads))
	}
	mustRun(t, store, "bob", "search", "hold")
	mustRun(t, store, "bob", "whoami")

	out, err := run(t, store, "bob", "send", "--to", "alice", "-s", "Blocked", "x")
	if !errors.Is(err, core.ErrStoreBusy) {
		t.Fatalf("expected writer to hit ErrStoreBusy, got %v\n%s", err, out)
	}
	if !strings.Contains(out, "Hint: another writer holds the store") {
		t.Fatalf("expected busy hint, got %q", out)
	}
}

func TestMissingProjectHint(t *testing.T) {
	t.Setenv("MAILROOM_STORE", "")
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Chdir(cwd)
	})

	out, err := executeCommand(NewRootCmd("test"), "--as", "alice", "threads")
	if !errors.Is(err, core.ErrNoStore) {
		t.Fatalf("expected ErrNoStore, got %v", err)
	}
	if !strings.Contains(out, "mailroom init") {
		t.Fatalf("expected init hint, got %q", out)
	}
}

func TestServeIssuesToken(t *testing.T) {
	store := tempStore(t)
	t.Setenv("MAILROOM_JWT_SECRET", "")
	if _, err := run(t, store, "", "serve", "--issue-token", "alice"); err == nil {
		t.Fatal("expected serve without a secret to fail")
	}

	t.Setenv("MAILROOM_JWT_SECRET", "s3cret")
	out := mustRun(t, store, "", "serve", "--issue-token", "alice")
	if strings.Count(strings.TrimSpace(out), ".") != 2 {
		t.Fatalf("expected a JWT, got %q", out)
	}
}

func equalHandles(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
