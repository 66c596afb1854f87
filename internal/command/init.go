package command

import (
	"fmt"
	"os"

	"github.com/adamavenir/mailroom/internal/core"
	"github.com/adamavenir/mailroom/internal/mailbox"
	"github.com/spf13/cobra"
)

type initResult struct {
	Initialized bool   `json:"initialized"`
	Path        string `json:"path"`
	Store       string `json:"store"`
}

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Create a mailroom store in the current (or given) directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")
			jsonMode, _ := cmd.Flags().GetBool("json")

			dir := ""
			if len(args) == 1 {
				dir = args[0]
			} else if wd, err := os.Getwd(); err == nil {
				dir = wd
			}

			project, err := core.InitProject(dir, force)
			if err != nil {
				return writeCommandError(cmd, err)
			}

			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			store, err := mailbox.OpenStore(cmd.Context(), project.DBPath, storeOptions(cfg, &logger))
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if err := store.Close(); err != nil {
				return writeCommandError(cmd, err)
			}

			out := cmd.OutOrStdout()
			if jsonMode {
				return writeJSON(out, initResult{Initialized: true, Path: project.Root, Store: project.DBPath})
			}
			fmt.Fprintf(out, "Initialized mailroom in %s\n", project.Root)
			fmt.Fprintf(out, "Store: %s\n", project.DBPath)
			return nil
		},
	}

	cmd.Flags().Bool("force", false, "replace an existing store")
	return cmd
}
