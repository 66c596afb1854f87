package command

import (
	"fmt"

	"github.com/adamavenir/mailroom/internal/types"
	"github.com/spf13/cobra"
)

type whoamiResult struct {
	Handle string                  `json:"handle"`
	Admin  bool                    `json:"admin"`
	Entry  *types.AddressBookEntry `json:"entry,omitempty"`
	Store  string                  `json:"store"`
}

// NewWhoamiCmd creates the whoami command.
func NewWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the acting handle and its address book entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetReadContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			handle := ctx.Session.Handle()
			admin, err := ctx.Session.IsAdmin(cmd.Context())
			if err != nil {
				return writeCommandError(cmd, err)
			}
			entry, err := ctx.Session.GetEntry(cmd.Context(), handle)
			if err != nil {
				return writeCommandError(cmd, err)
			}

			out := cmd.OutOrStdout()
			if ctx.JSONMode {
				return writeJSON(out, whoamiResult{Handle: handle, Admin: admin, Entry: entry, Store: ctx.Project.DBPath})
			}
			line := formatHandle(handle)
			if admin {
				line += " (admin)"
			}
			fmt.Fprintln(out, line)
			if entry == nil {
				fmt.Fprintln(out, "  not in the address book")
			} else {
				fmt.Fprintln(out, FormatEntry(*entry))
			}
			return nil
		},
	}
}
