package command

import (
	"fmt"

	"github.com/adamavenir/mailroom/internal/mailbox"
	"github.com/adamavenir/mailroom/internal/types"
	"github.com/spf13/cobra"
)

// NewAuditCmd creates the audit command.
func NewAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show audit events, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, _ := cmd.Flags().GetString("actor")
			target, _ := cmd.Flags().GetString("target")
			eventType, _ := cmd.Flags().GetString("type")
			limit, _ := cmd.Flags().GetInt("limit")

			ctx, err := GetReadContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			events, err := ctx.Session.ListEvents(cmd.Context(), mailbox.EventFilter{
				Actor:     actor,
				Target:    target,
				EventType: types.EventType(eventType),
				Limit:     limit,
			})
			if err != nil {
				return writeCommandError(cmd, err)
			}

			out := cmd.OutOrStdout()
			if ctx.JSONMode {
				return writeJSON(out, events)
			}
			if len(events) == 0 {
				fmt.Fprintln(out, "No events")
				return nil
			}
			for _, event := range events {
				fmt.Fprintln(out, FormatEvent(event))
			}
			return nil
		},
	}

	cmd.Flags().String("actor", "", "only events by this handle")
	cmd.Flags().String("target", "", "only events targeting this handle")
	cmd.Flags().String("type", "", "only events of this type, e.g. message_send")
	cmd.Flags().Int("limit", 0, "maximum events")
	return cmd
}
