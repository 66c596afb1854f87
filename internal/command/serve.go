package command

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/adamavenir/mailroom/internal/httpapi"
	"github.com/adamavenir/mailroom/internal/mailbox"
	"github.com/spf13/cobra"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the REST API over the store",
		Long: `Serve the REST API. Callers authenticate with a bearer token whose subject
is their handle; mint one with --issue-token.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr, _ = cmd.Flags().GetString("addr")
			}
			if cfg.Server.JWTSecret == "" {
				return writeCommandError(cmd, errors.New("server.jwt_secret is required (or set MAILROOM_JWT_SECRET)"))
			}

			if handle, _ := cmd.Flags().GetString("issue-token"); handle != "" {
				ttl, _ := cmd.Flags().GetDuration("token-ttl")
				token, err := httpapi.IssueToken(cfg.Server.JWTSecret, handle, ttl)
				if err != nil {
					return writeCommandError(cmd, err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), token)
				return nil
			}

			project, err := resolveProject(cfg)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			store, err := mailbox.OpenStore(cmd.Context(), project.DBPath, storeOptions(cfg, &logger))
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer store.Close()

			api := httpapi.New(store, cfg.Server, logger)
			httpServer := &http.Server{
				Addr:         cfg.Server.Addr,
				Handler:      api.Handler(),
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 60 * time.Second,
				IdleTimeout:  120 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				logger.Info().Msg("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				_ = httpServer.Shutdown(shutdownCtx)
			}()

			logger.Info().Str("addr", cfg.Server.Addr).Str("store", project.DBPath).Msg("serving")
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return writeCommandError(cmd, err)
			}
			return nil
		},
	}

	cmd.Flags().String("addr", "", "listen address (default from config, :8080)")
	cmd.Flags().String("issue-token", "", "print a bearer token for this handle and exit")
	cmd.Flags().Duration("token-ttl", 24*time.Hour, "lifetime of an issued token")
	return cmd
}
