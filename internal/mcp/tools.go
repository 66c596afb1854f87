package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/adamavenir/mailroom/internal/core"
	"github.com/adamavenir/mailroom/internal/mailbox"
	"github.com/adamavenir/mailroom/internal/types"
	mcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

// ToolContext is what every tool handler acts through.
type ToolContext struct {
	Session *mailbox.Session
}

type sendArgs struct {
	To      []string `json:"to" jsonschema:"Recipient handles"`
	Subject string   `json:"subject" jsonschema:"Thread subject (max 200 characters)"`
	Body    string   `json:"body" jsonschema:"Message body, stored verbatim"`
	Tags    []string `json:"tags,omitempty" jsonschema:"Optional tags such as urgent or ops"`
}

type replyArgs struct {
	MessageID string   `json:"message_id" jsonschema:"ID of the message being answered"`
	Body      string   `json:"body" jsonschema:"Reply body"`
	To        []string `json:"to,omitempty" jsonschema:"Override recipients. Defaults to the parent's sender, or its recipients when replying to yourself"`
	Tags      []string `json:"tags,omitempty" jsonschema:"Optional tags"`
}

type replyThreadArgs struct {
	ThreadID string   `json:"thread_id" jsonschema:"Thread to reply in. The reply answers its newest message"`
	Body     string   `json:"body" jsonschema:"Reply body"`
	To       []string `json:"to,omitempty" jsonschema:"Override recipients"`
	Tags     []string `json:"tags,omitempty" jsonschema:"Optional tags"`
}

type inboxArgs struct {
	Limit           int  `json:"limit,omitempty" jsonschema:"Maximum number of threads (default: 20)"`
	IncludeArchived bool `json:"include_archived,omitempty" jsonschema:"Include archived threads"`
}

type readThreadArgs struct {
	ThreadID string `json:"thread_id" jsonschema:"Thread to read"`
	Since    string `json:"since,omitempty" jsonschema:"Only messages after this message ID (for polling)"`
	Limit    int    `json:"limit,omitempty" jsonschema:"Maximum number of messages (default: 50)"`
}

type searchArgs struct {
	Query  string `json:"query" jsonschema:"Case-insensitive text to find"`
	Fields string `json:"fields,omitempty" jsonschema:"subject, body, or both (default)"`
	From   string `json:"from,omitempty" jsonschema:"Only messages from this handle"`
	Limit  int    `json:"limit,omitempty" jsonschema:"Maximum results (default: 20)"`
}

type directoryArgs struct {
	Query string `json:"query,omitempty" jsonschema:"Text to match against handle, display name and description"`
	Tag   string `json:"tag,omitempty" jsonschema:"Only entries carrying this tag"`
}

type whoamiArgs struct{}

// RegisterTools registers the mail tools on server.
func RegisterTools(server *mcp.Server, tc *ToolContext) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "mail_send",
		Description: "Start a new thread with one message. Every send creates a new thread.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args sendArgs) (*mcp.CallToolResult, any, error) {
		return handleSend(ctx, tc, args), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "mail_reply",
		Description: "Reply to a message in its thread.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args replyArgs) (*mcp.CallToolResult, any, error) {
		return handleReply(ctx, tc, args), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "mail_reply_thread",
		Description: "Reply to the newest message of a thread.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args replyThreadArgs) (*mcp.CallToolResult, any, error) {
		return handleReplyThread(ctx, tc, args), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "mail_broadcast",
		Description: "Send the same message as a separate private thread to each recipient.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args sendArgs) (*mcp.CallToolResult, any, error) {
		return handleBroadcast(ctx, tc, args), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "mail_group",
		Description: "Start one thread shared by you and all recipients.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args sendArgs) (*mcp.CallToolResult, any, error) {
		return handleGroup(ctx, tc, args), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "mail_inbox",
		Description: "List your threads, most recently active first.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args inboxArgs) (*mcp.CallToolResult, any, error) {
		return handleInbox(ctx, tc, args), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "mail_read_thread",
		Description: "Read the messages of a thread in chronological order.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args readThreadArgs) (*mcp.CallToolResult, any, error) {
		return handleReadThread(ctx, tc, args), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "mail_search",
		Description: "Search messages you can see by subject and/or body.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args searchArgs) (*mcp.CallToolResult, any, error) {
		return handleSearch(ctx, tc, args), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "mail_directory",
		Description: "Look up agents in the shared address book.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args directoryArgs) (*mcp.CallToolResult, any, error) {
		return handleDirectory(ctx, tc, args), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "mail_whoami",
		Description: "Show which handle this server acts as.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, _ whoamiArgs) (*mcp.CallToolResult, any, error) {
		return handleWhoami(ctx, tc), nil, nil
	})
}

func handleSend(ctx context.Context, tc *ToolContext, args sendArgs) *mcp.CallToolResult {
	msg, err := tc.Session.Send(ctx, mailbox.SendInput{To: args.To, Subject: args.Subject, Body: args.Body, Tags: args.Tags})
	if err != nil {
		return toolError(err)
	}
	return toolResult(fmt.Sprintf("Sent #%s in new thread #%s to %s", msg.ID, msg.ThreadID, joinHandles(msg.ToHandles)), false)
}

func handleGroup(ctx context.Context, tc *ToolContext, args sendArgs) *mcp.CallToolResult {
	msg, err := tc.Session.SendGroup(ctx, mailbox.SendInput{To: args.To, Subject: args.Subject, Body: args.Body, Tags: args.Tags})
	if err != nil {
		return toolError(err)
	}
	return toolResult(fmt.Sprintf("Sent #%s to group thread #%s with %s", msg.ID, msg.ThreadID, joinHandles(msg.ToHandles)), false)
}

func handleBroadcast(ctx context.Context, tc *ToolContext, args sendArgs) *mcp.CallToolResult {
	messages, err := tc.Session.SendBroadcast(ctx, mailbox.SendInput{To: args.To, Subject: args.Subject, Body: args.Body, Tags: args.Tags})
	if err != nil {
		return toolError(err)
	}
	lines := make([]string, 0, len(messages))
	for _, msg := range messages {
		lines = append(lines, fmt.Sprintf("  %s -> thread #%s", joinHandles(msg.ToHandles), msg.ThreadID))
	}
	return toolResult(fmt.Sprintf("Broadcast to %d recipients:\n%s", len(messages), strings.Join(lines, "\n")), false)
}

func handleReply(ctx context.Context, tc *ToolContext, args replyArgs) *mcp.CallToolResult {
	msg, err := tc.Session.Reply(ctx, args.MessageID, mailbox.ReplyInput{Body: args.Body, To: args.To, Tags: args.Tags})
	if err != nil {
		return toolError(err)
	}
	return toolResult(fmt.Sprintf("Replied #%s in thread #%s to %s", msg.ID, msg.ThreadID, joinHandles(msg.ToHandles)), false)
}

func handleReplyThread(ctx context.Context, tc *ToolContext, args replyThreadArgs) *mcp.CallToolResult {
	msg, err := tc.Session.ReplyThread(ctx, args.ThreadID, mailbox.ReplyInput{Body: args.Body, To: args.To, Tags: args.Tags})
	if err != nil {
		return toolError(err)
	}
	return toolResult(fmt.Sprintf("Replied #%s in thread #%s to %s", msg.ID, msg.ThreadID, joinHandles(msg.ToHandles)), false)
}

func handleInbox(ctx context.Context, tc *ToolContext, args inboxArgs) *mcp.CallToolResult {
	limit := args.Limit
	if limit <= 0 {
		limit = 20
	}
	threads, err := tc.Session.ListThreads(ctx, mailbox.ListThreadsOptions{Limit: limit, IncludeArchived: args.IncludeArchived})
	if err != nil {
		return toolError(err)
	}
	if len(threads) == 0 {
		return toolResult("No threads", false)
	}
	return toolResult(fmt.Sprintf("Threads (%d):\n\n%s", len(threads), formatThreads(threads)), false)
}

func handleReadThread(ctx context.Context, tc *ToolContext, args readThreadArgs) *mcp.CallToolResult {
	threadID := core.CleanID(args.ThreadID)
	thread, err := tc.Session.GetThread(ctx, threadID)
	if err != nil {
		return toolError(err)
	}
	if thread == nil {
		return toolResult(fmt.Sprintf("Thread #%s not found", threadID), true)
	}
	limit := args.Limit
	if limit <= 0 {
		limit = 50
	}
	messages, err := tc.Session.ListMessages(ctx, mailbox.ListMessagesOptions{ThreadID: thread.ID, SinceID: args.Since, Limit: limit})
	if err != nil {
		return toolError(err)
	}
	header := fmt.Sprintf("Thread #%s %q with %s (%d messages):", thread.ID, thread.Subject, joinHandles(thread.ParticipantHandles), len(messages))
	if len(messages) == 0 {
		if args.Since != "" {
			return toolResult(fmt.Sprintf("No messages after #%s", core.CleanID(args.Since)), false)
		}
		return toolResult(header, false)
	}
	return toolResult(fmt.Sprintf("%s\n\n%s", header, formatMessages(messages)), false)
}

func handleSearch(ctx context.Context, tc *ToolContext, args searchArgs) *mcp.CallToolResult {
	fields := types.SearchField(strings.ToLower(strings.TrimSpace(args.Fields)))
	if fields == "both" {
		fields = types.SearchBoth
	}
	limit := args.Limit
	if limit <= 0 {
		limit = 20
	}
	messages, err := tc.Session.SearchMessages(ctx, args.Query, mailbox.SearchOptions{Fields: fields, From: args.From, Limit: limit})
	if err != nil {
		return toolError(err)
	}
	if len(messages) == 0 {
		return toolResult(fmt.Sprintf("No messages matching %q", args.Query), false)
	}
	return toolResult(fmt.Sprintf("Matches (%d):\n\n%s", len(messages), formatMessages(messages)), false)
}

func handleDirectory(ctx context.Context, tc *ToolContext, args directoryArgs) *mcp.CallToolResult {
	var (
		entries []types.AddressBookEntry
		err     error
	)
	if strings.TrimSpace(args.Query) != "" {
		entries, err = tc.Session.SearchEntries(ctx, args.Query, mailbox.SearchEntriesOptions{Tag: args.Tag, ActiveOnly: true})
	} else {
		entries, err = tc.Session.ListEntries(ctx, mailbox.ListEntriesOptions{Tag: args.Tag, ActiveOnly: true})
	}
	if err != nil {
		return toolError(err)
	}
	if len(entries) == 0 {
		return toolResult("No matching agents", false)
	}
	lines := make([]string, 0, len(entries))
	for _, entry := range entries {
		line := "@" + entry.Handle
		if entry.DisplayName != "" {
			line += " (" + entry.DisplayName + ")"
		}
		if len(entry.Tags) > 0 {
			line += " [" + strings.Join(entry.Tags, ", ") + "]"
		}
		if entry.Description != "" {
			line += ": " + entry.Description
		}
		lines = append(lines, line)
	}
	return toolResult(strings.Join(lines, "\n"), false)
}

func handleWhoami(ctx context.Context, tc *ToolContext) *mcp.CallToolResult {
	admin, err := tc.Session.IsAdmin(ctx)
	if err != nil {
		return toolError(err)
	}
	text := "You are @" + tc.Session.Handle()
	if admin {
		text += " (admin)"
	}
	return toolResult(text, false)
}

func formatThreads(threads []types.Thread) string {
	lines := make([]string, 0, len(threads))
	for _, thread := range threads {
		archived := ""
		if thread.Archived() {
			archived = " [archived]"
		}
		lines = append(lines, fmt.Sprintf("[#%s] %q with %s, last activity %s%s",
			thread.ID, thread.Subject, joinHandles(thread.ParticipantHandles),
			thread.LastActivityAt.Format("2006-01-02 15:04:05Z"), archived))
	}
	return strings.Join(lines, "\n")
}

func formatMessages(messages []types.Message) string {
	lines := make([]string, 0, len(messages))
	for _, msg := range messages {
		lines = append(lines, fmt.Sprintf("[#%s] @%s -> %s: %s", msg.ID, msg.FromHandle, joinHandles(msg.ToHandles), msg.Body))
	}
	return strings.Join(lines, "\n")
}

func joinHandles(handles []string) string {
	out := make([]string, len(handles))
	for i, h := range handles {
		out[i] = "@" + h
	}
	return strings.Join(out, ", ")
}

func toolResult(text string, isError bool) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: isError,
	}
}

func toolError(err error) *mcp.CallToolResult {
	return toolResult("Error: "+err.Error(), true)
}
