package command

import (
	"errors"
	"fmt"

	"github.com/adamavenir/mailroom/internal/core"
	"github.com/spf13/cobra"
)

func writeCommandError(cmd *cobra.Command, err error) error {
	fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s\n", err.Error())

	switch {
	case errors.Is(err, core.ErrSchemaMismatch):
		fmt.Fprintln(cmd.ErrOrStderr(), "Hint: this store was created by a different mailroom version.")
	case errors.Is(err, core.ErrStoreBusy):
		fmt.Fprintln(cmd.ErrOrStderr(), "Hint: another writer holds the store. Retry, or raise store.busy_retries.")
	case errors.Is(err, core.ErrNoStore):
		fmt.Fprintln(cmd.ErrOrStderr(), "Hint: pass --store, set MAILROOM_STORE, or run 'mailroom init'.")
	case errors.Is(err, core.ErrConflict):
		fmt.Fprintln(cmd.ErrOrStderr(), "Hint: the entry changed since you read it. Re-read it with 'mailroom book get'.")
	}

	return err
}
