package mailbox

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/adamavenir/mailroom/internal/access"
	"github.com/adamavenir/mailroom/internal/core"
	"github.com/adamavenir/mailroom/internal/db"
	"github.com/adamavenir/mailroom/internal/types"
)

// SendInput describes a new conversation.
type SendInput struct {
	To      []string
	Subject string
	Body    string
	Tags    []string
}

// ReplyInput describes a reply. To overrides recipient inference when set.
type ReplyInput struct {
	Body string
	Tags []string
	To   []string
}

type validatedSend struct {
	to      []string
	subject string
	body    string
	tags    []string
}

func validateSend(input SendInput) (validatedSend, error) {
	to, err := core.NormalizeRecipients(input.To)
	if err != nil {
		return validatedSend{}, err
	}
	subject, err := core.ValidateSubject(input.Subject)
	if err != nil {
		return validatedSend{}, err
	}
	body, err := core.ValidateBody(input.Body)
	if err != nil {
		return validatedSend{}, err
	}
	tags, err := core.NormalizeTags(input.Tags)
	if err != nil {
		return validatedSend{}, err
	}
	return validatedSend{to: to, subject: subject, body: body, tags: tags}, nil
}

// Send starts a new thread with one message. A new thread is created on every
// call, even when an earlier thread has the same recipients and subject.
func (s *Session) Send(ctx context.Context, input SendInput) (*types.Message, error) {
	in, err := validateSend(input)
	if err != nil {
		return nil, err
	}

	var sent types.Message
	err = s.write(ctx, "send", func(tx *sql.Tx) error {
		msg, err := s.startThread(ctx, tx, in.to, in, db.Now())
		if err != nil {
			return err
		}
		details := map[string]any{"message_id": msg.ID, "thread_id": msg.ThreadID, "to": msg.ToHandles}
		if err := s.audit(ctx, tx, types.EventMessageSend, singleTarget(msg.ToHandles), details, msg.CreatedAt); err != nil {
			return err
		}
		sent = msg
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Debug().Str("thread_id", sent.ThreadID).Str("message_id", sent.ID).Msg("message sent")
	return &sent, nil
}

// SendGroup starts one thread whose participants are the sender and every recipient.
func (s *Session) SendGroup(ctx context.Context, input SendInput) (*types.Message, error) {
	in, err := validateSend(input)
	if err != nil {
		return nil, err
	}

	var sent types.Message
	err = s.write(ctx, "send_group", func(tx *sql.Tx) error {
		msg, err := s.startThread(ctx, tx, in.to, in, db.Now())
		if err != nil {
			return err
		}
		details := map[string]any{"message_id": msg.ID, "thread_id": msg.ThreadID, "to": msg.ToHandles}
		if err := s.audit(ctx, tx, types.EventMessageGroup, singleTarget(msg.ToHandles), details, msg.CreatedAt); err != nil {
			return err
		}
		sent = msg
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Debug().Str("thread_id", sent.ThreadID).Int("recipients", len(sent.ToHandles)).Msg("group message sent")
	return &sent, nil
}

// SendBroadcast starts one independent two-party thread per recipient, so no
// recipient can see another's thread. All threads are created atomically.
func (s *Session) SendBroadcast(ctx context.Context, input SendInput) ([]types.Message, error) {
	in, err := validateSend(input)
	if err != nil {
		return nil, err
	}

	var sent []types.Message
	err = s.write(ctx, "send_broadcast", func(tx *sql.Tx) error {
		sent = sent[:0]
		now := db.Now()
		for _, recipient := range in.to {
			msg, err := s.startThread(ctx, tx, []string{recipient}, in, now)
			if err != nil {
				return err
			}
			details := map[string]any{
				"message_id": msg.ID,
				"thread_id":  msg.ThreadID,
				"to":         msg.ToHandles,
				"fanout":     len(in.to),
			}
			if err := s.audit(ctx, tx, types.EventMessageBroadcast, recipient, details, now); err != nil {
				return err
			}
			sent = append(sent, msg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Debug().Int("threads", len(sent)).Msg("broadcast sent")
	return sent, nil
}

// startThread inserts a thread and its first message and audits the thread.
func (s *Session) startThread(ctx context.Context, tx *sql.Tx, to []string, in validatedSend, now time.Time) (types.Message, error) {
	threadID, err := core.NewID(core.PrefixThread)
	if err != nil {
		return types.Message{}, err
	}
	messageID, err := core.NewID(core.PrefixMessage)
	if err != nil {
		return types.Message{}, err
	}

	thread := types.Thread{
		ID:                 threadID,
		Subject:            in.subject,
		CreatedAt:          now,
		LastActivityAt:     now,
		ParticipantHandles: participantsOf(s.identity.Handle, to),
		Metadata:           map[string]string{},
	}
	if err := db.CreateThread(ctx, tx, thread); err != nil {
		return types.Message{}, err
	}

	msg := types.Message{
		ID:         messageID,
		ThreadID:   threadID,
		FromHandle: s.identity.Handle,
		ToHandles:  append([]string(nil), to...),
		Subject:    in.subject,
		Body:       in.body,
		CreatedAt:  now,
		Tags:       append([]string{}, in.tags...),
	}
	if err := db.CreateMessage(ctx, tx, msg); err != nil {
		return types.Message{}, err
	}
	if err := db.RefreshThread(ctx, tx, threadID); err != nil {
		return types.Message{}, err
	}

	details := map[string]any{"thread_id": threadID, "subject": in.subject}
	if err := s.audit(ctx, tx, types.EventThreadCreate, "", details, now); err != nil {
		return types.Message{}, err
	}
	return msg, nil
}

// Reply answers a message. The parent must be visible to the caller; unknown
// and hidden messages both yield core.ErrNotFound.
//
// Without an explicit To, a reply goes back to the parent's sender. Replying to
// one's own message goes to that message's recipients other than the caller,
// or to the caller alone if there are none.
func (s *Session) Reply(ctx context.Context, messageID string, input ReplyInput) (*types.Message, error) {
	messageID, err := core.RequireID("message_id", messageID)
	if err != nil {
		return nil, err
	}
	return s.reply(ctx, input, func(tx *sql.Tx, scope access.Scope) (*types.Message, error) {
		parent, err := db.GetMessage(ctx, tx, scope, messageID)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			return nil, fmt.Errorf("message %s: %w", messageID, core.ErrNotFound)
		}
		return parent, nil
	})
}

// ReplyThread replies to the newest message of a thread.
func (s *Session) ReplyThread(ctx context.Context, threadID string, input ReplyInput) (*types.Message, error) {
	threadID, err := core.RequireID("thread_id", threadID)
	if err != nil {
		return nil, err
	}
	return s.reply(ctx, input, func(tx *sql.Tx, scope access.Scope) (*types.Message, error) {
		parent, err := db.GetLatestThreadMessage(ctx, tx, scope, threadID)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			return nil, fmt.Errorf("thread %s: %w", threadID, core.ErrNotFound)
		}
		return parent, nil
	})
}

func (s *Session) reply(ctx context.Context, input ReplyInput, resolveParent func(tx *sql.Tx, scope access.Scope) (*types.Message, error)) (*types.Message, error) {
	body, err := core.ValidateBody(input.Body)
	if err != nil {
		return nil, err
	}
	tags, err := core.NormalizeTags(input.Tags)
	if err != nil {
		return nil, err
	}
	var explicitTo []string
	if len(input.To) > 0 {
		if explicitTo, err = core.NormalizeRecipients(input.To); err != nil {
			return nil, err
		}
	}

	var sent types.Message
	err = s.write(ctx, "reply", func(tx *sql.Tx) error {
		scope, err := s.scope(ctx, tx)
		if err != nil {
			return err
		}
		parent, err := resolveParent(tx, scope)
		if err != nil {
			return err
		}
		thread, err := db.LookupThread(ctx, tx, parent.ThreadID)
		if err != nil {
			return err
		}
		if thread == nil {
			return fmt.Errorf("thread %s: %w", parent.ThreadID, core.ErrNotFound)
		}

		to := explicitTo
		if len(to) == 0 {
			to = InferReplyRecipients(s.identity.Handle, *parent)
		}

		// created_at never precedes the thread's last activity, which keeps
		// last_activity_at monotonic across writers with skewed clocks.
		now := db.Now()
		if thread.LastActivityAt.After(now) {
			now = thread.LastActivityAt
		}

		messageID, err := core.NewID(core.PrefixMessage)
		if err != nil {
			return err
		}
		parentID := parent.ID
		msg := types.Message{
			ID:         messageID,
			ThreadID:   thread.ID,
			FromHandle: s.identity.Handle,
			ToHandles:  to,
			Subject:    thread.Subject,
			Body:       body,
			CreatedAt:  now,
			InReplyTo:  &parentID,
			Tags:       tags,
		}
		if err := db.CreateMessage(ctx, tx, msg); err != nil {
			return err
		}
		if err := db.RefreshThread(ctx, tx, thread.ID); err != nil {
			return err
		}

		details := map[string]any{
			"message_id":  msg.ID,
			"thread_id":   msg.ThreadID,
			"in_reply_to": parentID,
			"to":          msg.ToHandles,
		}
		if err := s.audit(ctx, tx, types.EventMessageReply, singleTarget(msg.ToHandles), details, now); err != nil {
			return err
		}
		sent = msg
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Debug().Str("thread_id", sent.ThreadID).Str("message_id", sent.ID).Msg("reply sent")
	return &sent, nil
}

// InferReplyRecipients returns the default recipients when sender replies to parent.
func InferReplyRecipients(sender string, parent types.Message) []string {
	if parent.FromHandle != sender {
		return []string{parent.FromHandle}
	}
	var to []string
	for _, handle := range parent.ToHandles {
		if handle != sender {
			to = append(to, handle)
		}
	}
	if len(to) == 0 {
		return []string{sender}
	}
	return to
}

// GetMessage returns a visible message, or nil when it is unknown or hidden.
func (s *Session) GetMessage(ctx context.Context, messageID string) (*types.Message, error) {
	messageID = core.CleanID(messageID)
	if messageID == "" {
		return nil, nil
	}
	var msg *types.Message
	err := s.read(ctx, func(q db.DBTX, scope access.Scope) error {
		var err error
		msg, err = db.GetMessage(ctx, q, scope, messageID)
		return err
	})
	return msg, err
}

// ListMessagesOptions filters ListMessages.
type ListMessagesOptions struct {
	ThreadID string
	From     string
	To       string
	SinceID  string
	Limit    int
}

// ListMessages lists visible messages in chronological order. A hidden or
// unknown ThreadID yields an empty list.
func (s *Session) ListMessages(ctx context.Context, opts ListMessagesOptions) ([]types.Message, error) {
	query := &types.MessageQueryOptions{
		ThreadID: core.CleanID(opts.ThreadID),
		SinceID:  core.CleanID(opts.SinceID),
		Limit:    opts.Limit,
	}
	var err error
	if query.From, err = optionalHandle(opts.From); err != nil {
		return nil, err
	}
	if query.To, err = optionalHandle(opts.To); err != nil {
		return nil, err
	}

	var messages []types.Message
	err = s.read(ctx, func(q db.DBTX, scope access.Scope) error {
		var err error
		messages, err = db.GetMessages(ctx, q, scope, query)
		return err
	})
	return messages, err
}

// SearchOptions narrows SearchMessages.
type SearchOptions struct {
	Fields types.SearchField
	From   string
	To     string
	Limit  int
}

// SearchMessages finds visible messages whose subject and/or body contain
// query, case-insensitively, newest first.
func (s *Session) SearchMessages(ctx context.Context, query string, opts SearchOptions) ([]types.Message, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &core.ValidationError{Field: "query", Reason: "must not be empty"}
	}
	switch opts.Fields {
	case types.SearchBoth, types.SearchSubject, types.SearchBody:
	default:
		return nil, &core.ValidationError{Field: "fields", Reason: fmt.Sprintf("unknown search field %q", opts.Fields)}
	}
	search := types.MessageSearchOptions{Query: query, Fields: opts.Fields, Limit: opts.Limit}
	var err error
	if search.From, err = optionalHandle(opts.From); err != nil {
		return nil, err
	}
	if search.To, err = optionalHandle(opts.To); err != nil {
		return nil, err
	}

	var messages []types.Message
	err = s.read(ctx, func(q db.DBTX, scope access.Scope) error {
		var err error
		messages, err = db.SearchMessages(ctx, q, scope, search)
		return err
	})
	return messages, err
}

func participantsOf(sender string, to []string) []string {
	seen := map[string]struct{}{sender: {}}
	for _, handle := range to {
		seen[handle] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for handle := range seen {
		out = append(out, handle)
	}
	sort.Strings(out)
	return out
}

func singleTarget(to []string) string {
	if len(to) == 1 {
		return to[0]
	}
	return ""
}

func optionalHandle(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	return core.NormalizeHandle(raw)
}
