package command

import (
	"errors"
	"fmt"
	"strings"

	"github.com/adamavenir/mailroom/internal/mailbox"
	"github.com/adamavenir/mailroom/internal/types"
	"github.com/spf13/cobra"
)

// NewSendCmd creates the send command.
func NewSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <body>",
		Short: "Start a new thread",
		Long: `Start a new thread with one message.

By default all recipients share the thread. --broadcast instead creates one
private thread per recipient.`,
		Example: `  mailroom send --as alice --to bob -s "Deploy" "Friday at 3?"
  mailroom send --as alice --to bob,carol --broadcast -s "Standup" "moved to 10:00"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			to, _ := cmd.Flags().GetStringSlice("to")
			subject, _ := cmd.Flags().GetString("subject")
			tags, _ := cmd.Flags().GetStringSlice("tag")
			broadcast, _ := cmd.Flags().GetBool("broadcast")
			group, _ := cmd.Flags().GetBool("group")
			if broadcast && group {
				return writeCommandError(cmd, errors.New("--broadcast and --group are mutually exclusive"))
			}

			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			input := mailbox.SendInput{To: to, Subject: subject, Body: strings.Join(args, " "), Tags: tags}
			var sent []types.Message
			switch {
			case broadcast:
				sent, err = ctx.Session.SendBroadcast(cmd.Context(), input)
			case group:
				var msg *types.Message
				if msg, err = ctx.Session.SendGroup(cmd.Context(), input); err == nil {
					sent = []types.Message{*msg}
				}
			default:
				var msg *types.Message
				if msg, err = ctx.Session.Send(cmd.Context(), input); err == nil {
					sent = []types.Message{*msg}
				}
			}
			if err != nil {
				return writeCommandError(cmd, err)
			}

			out := cmd.OutOrStdout()
			if ctx.JSONMode {
				if broadcast {
					return writeJSON(out, sent)
				}
				return writeJSON(out, sent[0])
			}
			for _, msg := range sent {
				fmt.Fprintf(out, "[#%s] sent to %s in thread #%s\n", msg.ID, formatHandles(msg.ToHandles), msg.ThreadID)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceP("to", "t", nil, "recipient handles (comma-separated or repeated)")
	cmd.Flags().StringP("subject", "s", "", "thread subject")
	cmd.Flags().StringSlice("tag", nil, "message tags")
	cmd.Flags().Bool("broadcast", false, "one private thread per recipient")
	cmd.Flags().Bool("group", false, "record the shared thread as a group send")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

// NewReplyCmd creates the reply command.
func NewReplyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reply <message-id|thread-id> <body>",
		Short: "Reply to a message, or to the newest message of a thread",
		Long: `Reply in an existing thread.

Without --to, a reply goes to the parent's sender. Replying to your own
message goes to its recipients instead.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			to, _ := cmd.Flags().GetStringSlice("to")
			tags, _ := cmd.Flags().GetStringSlice("tag")

			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			target := args[0]
			input := mailbox.ReplyInput{Body: strings.Join(args[1:], " "), To: to, Tags: tags}
			var msg *types.Message
			if isThreadRef(target) {
				msg, err = ctx.Session.ReplyThread(cmd.Context(), target, input)
			} else {
				msg, err = ctx.Session.Reply(cmd.Context(), target, input)
			}
			if err != nil {
				return writeCommandError(cmd, err)
			}

			out := cmd.OutOrStdout()
			if ctx.JSONMode {
				return writeJSON(out, msg)
			}
			fmt.Fprintf(out, "[#%s] replied to %s in thread #%s\n", msg.ID, formatHandles(msg.ToHandles), msg.ThreadID)
			return nil
		},
	}

	cmd.Flags().StringSliceP("to", "t", nil, "override the inferred recipients")
	cmd.Flags().StringSlice("tag", nil, "message tags")
	return cmd
}
