package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/adamavenir/mailroom/internal/access"
	"github.com/adamavenir/mailroom/internal/types"
)

const (
	defaultMessageLimit = 100
	maxMessageLimit     = 1000
	defaultSearchLimit  = 50
	maxSearchLimit      = 500
)

// messageColumnsAliased is the explicit column list for SELECT queries joined
// against threads as t.
const messageColumnsAliased = `m.message_id, m.thread_id, m.from_handle, m.to_handles, m.subject, m.body, m.created_at, m.in_reply_to, m.tags`

const messageFrom = ` FROM messages m JOIN threads t ON t.thread_id = m.thread_id`

// CreateMessage inserts a message. The thread must already exist.
func CreateMessage(ctx context.Context, db DBTX, message types.Message) error {
	toJSON, err := encodeStrings(message.ToHandles)
	if err != nil {
		return err
	}
	tagsJSON, err := encodeStrings(message.Tags)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO messages (message_id, thread_id, from_handle, to_handles, subject, body, created_at, in_reply_to, tags)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, message.ID, message.ThreadID, message.FromHandle, toJSON, message.Subject, message.Body,
		formatTime(message.CreatedAt), nullableValue(message.InReplyTo), tagsJSON)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// GetMessage returns a message whose thread is visible in scope, or nil.
func GetMessage(ctx context.Context, db DBTX, scope access.Scope, messageID string) (*types.Message, error) {
	clause, args := scope.ThreadClause("t")
	query := "SELECT " + messageColumnsAliased + messageFrom +
		whereClause([]string{"m.message_id = ?", clause})
	row := db.QueryRowContext(ctx, query, append([]any{messageID}, args...)...)

	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// GetLatestThreadMessage returns the newest message of a visible thread, or nil.
// Ties on created_at go to the later insert.
func GetLatestThreadMessage(ctx context.Context, db DBTX, scope access.Scope, threadID string) (*types.Message, error) {
	clause, args := scope.ThreadClause("t")
	query := "SELECT " + messageColumnsAliased + messageFrom +
		whereClause([]string{"m.thread_id = ?", clause}) +
		" ORDER BY m.created_at DESC, m.rowid DESC LIMIT 1"
	row := db.QueryRowContext(ctx, query, append([]any{threadID}, args...)...)

	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// GetMessages returns visible messages in chronological order.
//
// Without SinceID the newest Limit messages are returned; with SinceID the
// first Limit messages after that cursor are returned. An unknown or hidden
// cursor yields no messages.
func GetMessages(ctx context.Context, db DBTX, scope access.Scope, options *types.MessageQueryOptions) ([]types.Message, error) {
	if options == nil {
		options = &types.MessageQueryOptions{}
	}
	clause, args := scope.ThreadClause("t")
	conditions := []string{clause}

	if options.ThreadID != "" {
		conditions = append(conditions, "m.thread_id = ?")
		args = append(args, options.ThreadID)
	}
	if options.From != "" {
		conditions = append(conditions, "m.from_handle = ?")
		args = append(args, options.From)
	}
	if options.To != "" {
		conditions = append(conditions, "EXISTS (SELECT 1 FROM json_each(m.to_handles) r WHERE r.value = ?)")
		args = append(args, options.To)
	}

	ascending := false
	if options.SinceID != "" {
		cursor, err := GetMessage(ctx, db, scope, options.SinceID)
		if err != nil {
			return nil, err
		}
		if cursor == nil {
			return []types.Message{}, nil
		}
		conditions = append(conditions,
			"(m.created_at > ? OR (m.created_at = ? AND m.rowid > (SELECT rowid FROM messages WHERE message_id = ?)))")
		created := formatTime(cursor.CreatedAt)
		args = append(args, created, created, cursor.ID)
		ascending = true
	}

	order := " ORDER BY m.created_at DESC, m.rowid DESC"
	if ascending {
		order = " ORDER BY m.created_at ASC, m.rowid ASC"
	}
	query := "SELECT " + messageColumnsAliased + messageFrom + whereClause(conditions) + order + " LIMIT ?"
	args = append(args, clampLimit(options.Limit, defaultMessageLimit, maxMessageLimit))

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	if !ascending {
		reverseMessages(messages)
	}
	return messages, nil
}

// SearchMessages performs a case-insensitive substring search over visible
// messages, newest first.
func SearchMessages(ctx context.Context, db DBTX, scope access.Scope, options types.MessageSearchOptions) ([]types.Message, error) {
	clause, args := scope.ThreadClause("t")
	conditions := []string{clause}
	needle := foldCase(options.Query)

	switch options.Fields {
	case types.SearchSubject:
		conditions = append(conditions, containsFolded("m.subject"))
		args = append(args, needle)
	case types.SearchBody:
		conditions = append(conditions, containsFolded("m.body"))
		args = append(args, needle)
	default:
		conditions = append(conditions, "("+containsFolded("m.subject")+" OR "+containsFolded("m.body")+")")
		args = append(args, needle, needle)
	}
	if options.From != "" {
		conditions = append(conditions, "m.from_handle = ?")
		args = append(args, options.From)
	}
	if options.To != "" {
		conditions = append(conditions, "EXISTS (SELECT 1 FROM json_each(m.to_handles) r WHERE r.value = ?)")
		args = append(args, options.To)
	}

	query := "SELECT " + messageColumnsAliased + messageFrom + whereClause(conditions) +
		" ORDER BY m.created_at DESC, m.rowid DESC LIMIT ?"
	args = append(args, clampLimit(options.Limit, defaultSearchLimit, maxSearchLimit))

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

func scanMessage(scanner interface{ Scan(dest ...any) error }) (types.Message, error) {
	var (
		msg       types.Message
		toJSON    string
		createdAt string
		inReplyTo sql.NullString
		tagsJSON  string
	)
	if err := scanner.Scan(&msg.ID, &msg.ThreadID, &msg.FromHandle, &toJSON, &msg.Subject, &msg.Body, &createdAt, &inReplyTo, &tagsJSON); err != nil {
		return types.Message{}, err
	}
	var err error
	if msg.ToHandles, err = decodeStrings(toJSON); err != nil {
		return types.Message{}, err
	}
	if msg.Tags, err = decodeStrings(tagsJSON); err != nil {
		return types.Message{}, err
	}
	if msg.CreatedAt, err = parseTime(createdAt); err != nil {
		return types.Message{}, err
	}
	msg.InReplyTo = nullStringPtr(inReplyTo)
	return msg, nil
}

func scanMessages(rows *sql.Rows) ([]types.Message, error) {
	messages := []types.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return messages, nil
}

func reverseMessages(messages []types.Message) {
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
}
