package command

import (
	"fmt"
	"sort"

	"github.com/adamavenir/mailroom/internal/core"
	"github.com/adamavenir/mailroom/internal/mailbox"
	"github.com/adamavenir/mailroom/internal/types"
	"github.com/spf13/cobra"
)

type threadResult struct {
	Thread   types.Thread    `json:"thread"`
	Messages []types.Message `json:"messages"`
}

func isThreadRef(ref string) bool {
	return core.IDHasPrefix(core.CleanID(ref), core.PrefixThread)
}

// NewThreadsCmd creates the threads command.
func NewThreadsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threads",
		Short: "List visible threads, most recently active first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			archived, _ := cmd.Flags().GetBool("archived")
			participant, _ := cmd.Flags().GetString("participant")
			limit, _ := cmd.Flags().GetInt("limit")

			ctx, err := GetReadContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			threads, err := ctx.Session.ListThreads(cmd.Context(), mailbox.ListThreadsOptions{
				Participant:     participant,
				IncludeArchived: archived,
				Limit:           limit,
			})
			if err != nil {
				return writeCommandError(cmd, err)
			}

			out := cmd.OutOrStdout()
			if ctx.JSONMode {
				return writeJSON(out, threads)
			}
			if len(threads) == 0 {
				fmt.Fprintln(out, "No threads")
				return nil
			}
			for _, thread := range threads {
				fmt.Fprintln(out, FormatThread(thread))
			}
			return nil
		},
	}

	cmd.Flags().Bool("archived", false, "include archived threads")
	cmd.Flags().String("participant", "", "only threads this handle takes part in")
	cmd.Flags().Int("limit", 0, "maximum threads to show")
	return cmd
}

// NewThreadCmd creates the thread command.
func NewThreadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "thread <thread-id>",
		Short: "Show a thread and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			since, _ := cmd.Flags().GetString("since")
			limit, _ := cmd.Flags().GetInt("limit")

			ctx, err := GetReadContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			thread, err := ctx.Session.GetThread(cmd.Context(), args[0])
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if thread == nil {
				return writeCommandError(cmd, fmt.Errorf("thread not found: %s", core.CleanID(args[0])))
			}
			messages, err := ctx.Session.ListMessages(cmd.Context(), mailbox.ListMessagesOptions{
				ThreadID: thread.ID,
				SinceID:  since,
				Limit:    limit,
			})
			if err != nil {
				return writeCommandError(cmd, err)
			}

			out := cmd.OutOrStdout()
			if ctx.JSONMode {
				return writeJSON(out, threadResult{Thread: *thread, Messages: messages})
			}
			fmt.Fprintln(out, FormatThread(*thread))
			for _, msg := range messages {
				fmt.Fprintln(out, FormatMessage(msg))
			}
			return nil
		},
	}

	cmd.Flags().String("since", "", "only messages after this message id")
	cmd.Flags().Int("limit", 0, "maximum messages to show")
	return cmd
}

// NewMessagesCmd creates the messages command.
func NewMessagesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "messages",
		Short: "List visible messages in chronological order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			threadID, _ := cmd.Flags().GetString("thread")
			from, _ := cmd.Flags().GetString("from")
			to, _ := cmd.Flags().GetString("to")
			since, _ := cmd.Flags().GetString("since")
			limit, _ := cmd.Flags().GetInt("limit")

			ctx, err := GetReadContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			messages, err := ctx.Session.ListMessages(cmd.Context(), mailbox.ListMessagesOptions{
				ThreadID: threadID,
				From:     from,
				To:       to,
				SinceID:  since,
				Limit:    limit,
			})
			if err != nil {
				return writeCommandError(cmd, err)
			}
			return printMessages(cmd, ctx, messages, "No messages")
		},
	}

	cmd.Flags().String("thread", "", "only messages in this thread")
	cmd.Flags().String("from", "", "only messages from this handle")
	cmd.Flags().String("to", "", "only messages addressed to this handle")
	cmd.Flags().String("since", "", "only messages after this message id")
	cmd.Flags().Int("limit", 0, "maximum messages to show")
	return cmd
}

// NewSearchCmd creates the search command.
func NewSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search visible messages by subject and body",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, _ := cmd.Flags().GetString("fields")
			from, _ := cmd.Flags().GetString("from")
			to, _ := cmd.Flags().GetString("to")
			limit, _ := cmd.Flags().GetInt("limit")
			if fields == "both" {
				fields = ""
			}

			ctx, err := GetReadContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			messages, err := ctx.Session.SearchMessages(cmd.Context(), args[0], mailbox.SearchOptions{
				Fields: types.SearchField(fields),
				From:   from,
				To:     to,
				Limit:  limit,
			})
			if err != nil {
				return writeCommandError(cmd, err)
			}
			return printMessages(cmd, ctx, messages, fmt.Sprintf("No messages matching %q", args[0]))
		},
	}

	cmd.Flags().String("fields", "both", "subject, body, or both")
	cmd.Flags().String("from", "", "only messages from this handle")
	cmd.Flags().String("to", "", "only messages addressed to this handle")
	cmd.Flags().Int("limit", 0, "maximum results")
	return cmd
}

func printMessages(cmd *cobra.Command, ctx *CommandContext, messages []types.Message, empty string) error {
	out := cmd.OutOrStdout()
	if ctx.JSONMode {
		return writeJSON(out, messages)
	}
	if len(messages) == 0 {
		fmt.Fprintln(out, empty)
		return nil
	}
	for _, msg := range messages {
		fmt.Fprintln(out, FormatMessage(msg))
	}
	return nil
}

// NewArchiveCmd creates the archive command.
func NewArchiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive <thread-id>",
		Short: "Hide a thread from default listings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runThreadMutation(cmd, "Archived", func(ctx *CommandContext) (*types.Thread, error) {
				return ctx.Session.ArchiveThread(cmd.Context(), args[0])
			})
		},
	}
}

// NewUnarchiveCmd creates the unarchive command.
func NewUnarchiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unarchive <thread-id>",
		Short: "Return an archived thread to default listings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runThreadMutation(cmd, "Unarchived", func(ctx *CommandContext) (*types.Thread, error) {
				return ctx.Session.UnarchiveThread(cmd.Context(), args[0])
			})
		},
	}
}

// NewMetaCmd creates the meta command.
func NewMetaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "meta <thread-id> [key] [value]",
		Short: "Show or set thread metadata",
		Long: `Show all metadata of a thread, one key, or set a key.

An empty value (or --unset) removes the key.`,
		Args: cobra.RangeArgs(1, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			unset, _ := cmd.Flags().GetBool("unset")
			if len(args) == 3 || (len(args) == 2 && unset) {
				value := ""
				if len(args) == 3 {
					value = args[2]
				}
				return runThreadMutation(cmd, "Updated", func(ctx *CommandContext) (*types.Thread, error) {
					return ctx.Session.SetThreadMetadata(cmd.Context(), args[0], args[1], value)
				})
			}

			ctx, err := GetReadContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			metadata, err := ctx.Session.GetThreadMetadata(cmd.Context(), args[0])
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if metadata == nil {
				return writeCommandError(cmd, fmt.Errorf("thread not found: %s", core.CleanID(args[0])))
			}
			if len(args) == 2 {
				metadata = map[string]string{args[1]: metadata[args[1]]}
			}

			out := cmd.OutOrStdout()
			if ctx.JSONMode {
				return writeJSON(out, metadata)
			}
			keys := make([]string, 0, len(metadata))
			for key := range metadata {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			for _, key := range keys {
				fmt.Fprintf(out, "%s=%s\n", key, metadata[key])
			}
			return nil
		},
	}

	cmd.Flags().Bool("unset", false, "remove the key")
	return cmd
}

func runThreadMutation(cmd *cobra.Command, verb string, mutate func(ctx *CommandContext) (*types.Thread, error)) error {
	ctx, err := GetContext(cmd)
	if err != nil {
		return writeCommandError(cmd, err)
	}
	defer ctx.Close()

	thread, err := mutate(ctx)
	if err != nil {
		return writeCommandError(cmd, err)
	}
	out := cmd.OutOrStdout()
	if ctx.JSONMode {
		return writeJSON(out, thread)
	}
	fmt.Fprintf(out, "%s #%s\n", verb, thread.ID)
	return nil
}
