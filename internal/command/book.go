package command

import (
	"fmt"

	"github.com/adamavenir/mailroom/internal/core"
	"github.com/adamavenir/mailroom/internal/mailbox"
	"github.com/adamavenir/mailroom/internal/types"
	"github.com/spf13/cobra"
)

// NewBookCmd creates the address book command group.
func NewBookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "book",
		Aliases: []string{"address-book"},
		Short:   "Manage the shared address book",
	}
	cmd.AddCommand(
		newBookAddCmd(),
		newBookUpdateCmd(),
		newBookGetCmd(),
		newBookListCmd(),
		newBookSearchCmd(),
		newBookDeactivateCmd(),
	)
	return cmd
}

func newBookAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <handle>",
		Short: "Add an agent to the address book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			description, _ := cmd.Flags().GetString("description")
			tags, _ := cmd.Flags().GetStringSlice("tag")

			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			entry, err := ctx.Session.AddEntry(cmd.Context(), mailbox.EntryInput{
				Handle:      args[0],
				DisplayName: name,
				Description: description,
				Tags:        tags,
			})
			if err != nil {
				return writeCommandError(cmd, err)
			}
			return printEntry(cmd, ctx, entry, "Added")
		},
	}

	cmd.Flags().String("name", "", "display name")
	cmd.Flags().String("description", "", "what this agent does")
	cmd.Flags().StringSlice("tag", nil, "tags (comma-separated or repeated)")
	return cmd
}

func newBookUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update <handle>",
		Short: "Update an address book entry",
		Long: `Update the fields given as flags.

With --expected-version the update fails if someone else changed the entry
first; without it the last write wins.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			update, err := entryUpdateFromFlags(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}

			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			entry, err := ctx.Session.UpdateEntry(cmd.Context(), args[0], update)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			return printEntry(cmd, ctx, entry, "Updated")
		},
	}

	cmd.Flags().String("name", "", "display name")
	cmd.Flags().String("description", "", "what this agent does")
	cmd.Flags().StringSlice("tag", nil, "replace the tags (pass --tag= to clear)")
	cmd.Flags().Bool("active", true, "mark the entry active or inactive")
	cmd.Flags().Int64("expected-version", 0, "fail unless the entry is at this version")
	return cmd
}

func entryUpdateFromFlags(cmd *cobra.Command) (mailbox.EntryUpdate, error) {
	var update mailbox.EntryUpdate
	flags := cmd.Flags()
	if flags.Changed("name") {
		name, _ := flags.GetString("name")
		update.DisplayName = &name
	}
	if flags.Changed("description") {
		description, _ := flags.GetString("description")
		update.Description = &description
	}
	if flags.Changed("tag") {
		tags, _ := flags.GetStringSlice("tag")
		if tags == nil {
			tags = []string{}
		}
		update.Tags = &tags
	}
	if flags.Changed("active") {
		active, _ := flags.GetBool("active")
		update.IsActive = &active
	}
	if flags.Changed("expected-version") {
		version, _ := flags.GetInt64("expected-version")
		update.ExpectedVersion = &version
	}
	if update == (mailbox.EntryUpdate{}) {
		return update, &core.ValidationError{Field: "update", Reason: "no fields to change"}
	}
	return update, nil
}

func newBookGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <handle>",
		Short: "Show one address book entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetReadContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			entry, err := ctx.Session.GetEntry(cmd.Context(), args[0])
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if entry == nil {
				return writeCommandError(cmd, fmt.Errorf("no address book entry for %s", args[0]))
			}
			return printEntry(cmd, ctx, entry, "")
		},
	}
}

func newBookListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List address book entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			all, _ := cmd.Flags().GetBool("all")
			tag, _ := cmd.Flags().GetString("tag")
			pattern, _ := cmd.Flags().GetString("match")
			limit, _ := cmd.Flags().GetInt("limit")

			ctx, err := GetReadContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			entries, err := ctx.Session.ListEntries(cmd.Context(), mailbox.ListEntriesOptions{
				ActiveOnly:    !all,
				Tag:           tag,
				HandlePattern: pattern,
				Limit:         limit,
			})
			if err != nil {
				return writeCommandError(cmd, err)
			}
			return printEntries(cmd, ctx, entries)
		},
	}

	cmd.Flags().Bool("all", false, "include inactive entries")
	cmd.Flags().String("tag", "", "only entries with this tag")
	cmd.Flags().String("match", "", "glob over handles, e.g. 'ops-*'")
	cmd.Flags().Int("limit", 0, "maximum entries")
	return cmd
}

func newBookSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search handles, names and descriptions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			all, _ := cmd.Flags().GetBool("all")
			tag, _ := cmd.Flags().GetString("tag")
			limit, _ := cmd.Flags().GetInt("limit")

			ctx, err := GetReadContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			entries, err := ctx.Session.SearchEntries(cmd.Context(), args[0], mailbox.SearchEntriesOptions{
				Tag:        tag,
				ActiveOnly: !all,
				Limit:      limit,
			})
			if err != nil {
				return writeCommandError(cmd, err)
			}
			return printEntries(cmd, ctx, entries)
		},
	}

	cmd.Flags().Bool("all", false, "include inactive entries")
	cmd.Flags().String("tag", "", "only entries with this tag")
	cmd.Flags().Int("limit", 0, "maximum entries")
	return cmd
}

func newBookDeactivateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deactivate <handle>",
		Short: "Mark an entry inactive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var expected *int64
			if cmd.Flags().Changed("expected-version") {
				version, _ := cmd.Flags().GetInt64("expected-version")
				expected = &version
			}

			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			entry, err := ctx.Session.DeactivateEntry(cmd.Context(), args[0], expected)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			return printEntry(cmd, ctx, entry, "Deactivated")
		},
	}

	cmd.Flags().Int64("expected-version", 0, "fail unless the entry is at this version")
	return cmd
}

func printEntry(cmd *cobra.Command, ctx *CommandContext, entry *types.AddressBookEntry, verb string) error {
	out := cmd.OutOrStdout()
	if ctx.JSONMode {
		return writeJSON(out, entry)
	}
	if verb != "" {
		fmt.Fprintf(out, "%s @%s (v%d)\n", verb, entry.Handle, entry.Version)
		return nil
	}
	fmt.Fprintln(out, FormatEntry(*entry))
	return nil
}

func printEntries(cmd *cobra.Command, ctx *CommandContext, entries []types.AddressBookEntry) error {
	out := cmd.OutOrStdout()
	if ctx.JSONMode {
		return writeJSON(out, entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "No entries")
		return nil
	}
	for _, entry := range entries {
		fmt.Fprintln(out, FormatEntry(entry))
	}
	return nil
}
