package command

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/adamavenir/mailroom/internal/mailbox"
	"github.com/adamavenir/mailroom/internal/types"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

const (
	watchDebounce = 50 * time.Millisecond
	watchBatch    = 100
)

// NewWatchCmd creates the watch command.
func NewWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream new visible messages as they arrive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			last, _ := cmd.Flags().GetInt("last")
			interval, _ := cmd.Flags().GetDuration("poll")

			ctx, err := GetReadContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			limit := last
			if limit <= 0 {
				limit = 1
			}
			recent, err := ctx.Session.ListMessages(cmd.Context(), mailbox.ListMessagesOptions{Limit: limit})
			if err != nil {
				return writeCommandError(cmd, err)
			}

			out := cmd.OutOrStdout()
			emit := func(msg types.Message) {
				if ctx.JSONMode {
					_ = writeJSON(out, msg)
					return
				}
				fmt.Fprintln(out, FormatMessage(msg))
			}

			cursor := ""
			if len(recent) > 0 {
				cursor = recent[len(recent)-1].ID
				if last > 0 {
					for _, msg := range recent {
						emit(msg)
					}
				}
			}
			if !ctx.JSONMode {
				fmt.Fprintf(out, "--- watching as @%s (Ctrl+C to stop) ---\n", ctx.Session.Handle())
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if err := watchMessages(runCtx, ctx.Session, ctx.Project.DBPath, cursor, interval, emit); err != nil {
				return writeCommandError(cmd, err)
			}
			return nil
		},
	}

	cmd.Flags().Int("last", 0, "print the last N messages before watching")
	cmd.Flags().Duration("poll", 2*time.Second, "fallback poll interval when no file events arrive")
	return cmd
}

// watchMessages emits every message visible to session that lands after
// cursor, until ctx is done. Writes to the store file or its WAL trigger a
// check; interval bounds the wait when file events are missed.
func watchMessages(ctx context.Context, session *mailbox.Session, dbPath, cursor string, interval time.Duration, emit func(types.Message)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(dbPath)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(dbPath), err)
	}

	watched := map[string]bool{
		filepath.Clean(dbPath):          true,
		filepath.Clean(dbPath + "-wal"): true,
	}

	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	debounce := time.NewTimer(watchDebounce)
	debounce.Stop()
	pending := false

	drain := func() error {
		for {
			messages, err := session.ListMessages(ctx, mailbox.ListMessagesOptions{SinceID: cursor, Limit: watchBatch})
			if err != nil {
				return err
			}
			for _, msg := range messages {
				emit(msg)
			}
			// Without a cursor the listing is the newest batch, so there is
			// nothing further to page through.
			fresh := cursor == ""
			if len(messages) > 0 {
				cursor = messages[len(messages)-1].ID
			}
			if fresh || len(messages) < watchBatch {
				return nil
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !watched[filepath.Clean(event.Name)] {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if !pending {
					pending = true
					debounce.Reset(watchDebounce)
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return err
		case <-debounce.C:
			pending = false
			if err := drain(); err != nil {
				return err
			}
		case <-ticker.C:
			if err := drain(); err != nil {
				return err
			}
		}
	}
}
