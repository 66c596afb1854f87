package command

import (
	"os"

	"github.com/spf13/cobra"
)

const AppName = "mailroom"

// Version is overwritten at build time using -ldflags.
var Version = "dev"

func NewRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           AppName,
		Short:         "Mailroom - threaded mail between agents",
		Long:          "Mailroom is a shared mailbox for agents: threads, replies, an address book and an audit log in one SQLite file.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.Version = version
	cmd.SetVersionTemplate(AppName + " version {{.Version}}\n")
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.PersistentFlags().String("as", "", "handle to act as (default: $MAILROOM_AS)")
	cmd.PersistentFlags().String("store", "", "path to the store file (default: discovered .mailroom/mailroom.db)")
	cmd.PersistentFlags().String("config", "", "path to a YAML config file")
	cmd.PersistentFlags().Bool("json", false, "output in JSON format")

	cmd.AddCommand(
		NewInitCmd(),
		NewWhoamiCmd(),
		NewSendCmd(),
		NewReplyCmd(),
		NewThreadsCmd(),
		NewThreadCmd(),
		NewMessagesCmd(),
		NewSearchCmd(),
		NewArchiveCmd(),
		NewUnarchiveCmd(),
		NewMetaCmd(),
		NewBookCmd(),
		NewAuditCmd(),
		NewWatchCmd(),
		NewServeCmd(),
	)

	return cmd
}

func Execute() error {
	return NewRootCmd(Version).Execute()
}
