package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/adamavenir/mailroom/internal/access"
	"github.com/adamavenir/mailroom/internal/types"
)

const (
	defaultThreadLimit = 100
	maxThreadLimit     = 1000
)

const threadColumns = `t.thread_id, t.subject, t.created_at, t.last_activity_at, t.participant_handles, t.metadata`

// CreateThread inserts a new thread row. Participants are refreshed from
// messages by RefreshThread once the first message is in place.
func CreateThread(ctx context.Context, db DBTX, thread types.Thread) error {
	participants, err := encodeStrings(thread.ParticipantHandles)
	if err != nil {
		return err
	}
	metadata, err := encodeMap(thread.Metadata)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO threads (thread_id, subject, created_at, last_activity_at, participant_handles, metadata)
		VALUES (?, ?, ?, ?, ?, ?)
	`, thread.ID, thread.Subject, formatTime(thread.CreatedAt), formatTime(thread.LastActivityAt), participants, metadata)
	if err != nil {
		return fmt.Errorf("insert thread: %w", err)
	}
	return nil
}

// GetThread returns a thread visible in scope, or nil when it is absent or hidden.
func GetThread(ctx context.Context, db DBTX, scope access.Scope, threadID string) (*types.Thread, error) {
	clause, args := scope.ThreadClause("t")
	query := "SELECT " + threadColumns + " FROM threads t" +
		whereClause([]string{"t.thread_id = ?", clause})
	row := db.QueryRowContext(ctx, query, append([]any{threadID}, args...)...)

	thread, err := scanThread(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &thread, nil
}

// LookupThread returns a thread without visibility filtering. Callers must have
// already checked access.
func LookupThread(ctx context.Context, db DBTX, threadID string) (*types.Thread, error) {
	return GetThread(ctx, db, access.Scope{Admin: true}, threadID)
}

// GetThreads returns visible threads, most recently active first.
func GetThreads(ctx context.Context, db DBTX, scope access.Scope, options *types.ThreadQueryOptions) ([]types.Thread, error) {
	if options == nil {
		options = &types.ThreadQueryOptions{}
	}
	clause, args := scope.ThreadClause("t")
	conditions := []string{clause}

	if options.Participant != "" {
		conditions = append(conditions, "EXISTS (SELECT 1 FROM json_each(t.participant_handles) pp WHERE pp.value = ?)")
		args = append(args, options.Participant)
	}
	if !options.IncludeArchived {
		conditions = append(conditions, "COALESCE(json_extract(t.metadata, '$.archived'), '') != 'true'")
	}

	query := "SELECT " + threadColumns + " FROM threads t" + whereClause(conditions) +
		" ORDER BY t.last_activity_at DESC, t.thread_id DESC LIMIT ?"
	args = append(args, clampLimit(options.Limit, defaultThreadLimit, maxThreadLimit))

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query threads: %w", err)
	}
	defer rows.Close()

	return scanThreads(rows)
}

// RefreshThread recomputes a thread's participant set and last activity from
// all of its messages. The participant set is always rebuilt in full.
func RefreshThread(ctx context.Context, db DBTX, threadID string) error {
	rows, err := db.QueryContext(ctx, `
		SELECT from_handle, to_handles, created_at FROM messages WHERE thread_id = ?
	`, threadID)
	if err != nil {
		return fmt.Errorf("load thread messages: %w", err)
	}
	defer rows.Close()

	seen := map[string]struct{}{}
	var latest string
	count := 0
	for rows.Next() {
		var from, toJSON, createdAt string
		if err := rows.Scan(&from, &toJSON, &createdAt); err != nil {
			return err
		}
		to, err := decodeStrings(toJSON)
		if err != nil {
			return err
		}
		seen[from] = struct{}{}
		for _, handle := range to {
			seen[handle] = struct{}{}
		}
		if createdAt > latest {
			latest = createdAt
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("refresh thread %s: no messages", threadID)
	}

	participants := make([]string, 0, len(seen))
	for handle := range seen {
		participants = append(participants, handle)
	}
	sort.Strings(participants)
	encoded, err := encodeStrings(participants)
	if err != nil {
		return err
	}

	result, err := db.ExecContext(ctx, `
		UPDATE threads
		SET participant_handles = ?, last_activity_at = MAX(last_activity_at, ?)
		WHERE thread_id = ?
	`, encoded, latest, threadID)
	if err != nil {
		return fmt.Errorf("update thread: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("refresh thread %s: thread missing", threadID)
	}
	return nil
}

// SetThreadMetadata replaces a thread's metadata map.
func SetThreadMetadata(ctx context.Context, db DBTX, threadID string, metadata map[string]string) error {
	encoded, err := encodeMap(metadata)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `UPDATE threads SET metadata = ? WHERE thread_id = ?`, encoded, threadID); err != nil {
		return fmt.Errorf("update thread metadata: %w", err)
	}
	return nil
}

// ThreadLastActivity returns the last activity time of a thread.
func ThreadLastActivity(ctx context.Context, db DBTX, threadID string) (time.Time, error) {
	var raw string
	err := db.QueryRowContext(ctx, `SELECT last_activity_at FROM threads WHERE thread_id = ?`, threadID).Scan(&raw)
	if err != nil {
		return time.Time{}, err
	}
	return parseTime(raw)
}

func scanThread(scanner interface{ Scan(dest ...any) error }) (types.Thread, error) {
	var (
		thread         types.Thread
		createdAt      string
		lastActivityAt string
		participants   string
		metadata       string
	)
	if err := scanner.Scan(&thread.ID, &thread.Subject, &createdAt, &lastActivityAt, &participants, &metadata); err != nil {
		return types.Thread{}, err
	}
	var err error
	if thread.CreatedAt, err = parseTime(createdAt); err != nil {
		return types.Thread{}, err
	}
	if thread.LastActivityAt, err = parseTime(lastActivityAt); err != nil {
		return types.Thread{}, err
	}
	if thread.ParticipantHandles, err = decodeStrings(participants); err != nil {
		return types.Thread{}, err
	}
	if thread.Metadata, err = decodeMap[string](metadata); err != nil {
		return types.Thread{}, err
	}
	return thread, nil
}

func scanThreads(rows *sql.Rows) ([]types.Thread, error) {
	threads := []types.Thread{}
	for rows.Next() {
		thread, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		threads = append(threads, thread)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return threads, nil
}
