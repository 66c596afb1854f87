package command

import (
	"fmt"
	"strings"

	"github.com/adamavenir/mailroom/internal/config"
	"github.com/adamavenir/mailroom/internal/core"
	"github.com/adamavenir/mailroom/internal/logging"
	"github.com/adamavenir/mailroom/internal/mailbox"
	"github.com/adamavenir/mailroom/internal/types"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// CommandContext provides shared command resources.
type CommandContext struct {
	Session  *mailbox.Session
	Project  core.Project
	Config   config.Config
	JSONMode bool
	Logger   zerolog.Logger
}

// Close releases the session and the store it owns.
func (c *CommandContext) Close() error {
	if c.Session == nil {
		return nil
	}
	return c.Session.Close()
}

// GetContext loads configuration, locates the store and opens a session for
// the acting handle.
func GetContext(cmd *cobra.Command) (*CommandContext, error) {
	return openContext(cmd, false)
}

// GetReadContext is GetContext for commands that never write. An existing
// store is opened read-only so the command never waits on a writer.
func GetReadContext(cmd *cobra.Command) (*CommandContext, error) {
	return openContext(cmd, true)
}

func openContext(cmd *cobra.Command, readOnly bool) (*CommandContext, error) {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Handle) == "" {
		return nil, fmt.Errorf("no identity: pass --as or set %sAS", config.EnvPrefix)
	}
	project, err := resolveProject(cfg)
	if err != nil {
		return nil, err
	}
	opts := storeOptions(cfg, &logger)
	// A store named by --store may not exist yet; the first open creates it.
	opts.ReadOnly = readOnly && project.StoreExists()
	session, err := mailbox.Open(cmd.Context(), project.DBPath, types.Identity{Handle: cfg.Handle}, opts)
	if err != nil {
		return nil, err
	}
	jsonMode, _ := cmd.Flags().GetBool("json")
	return &CommandContext{
		Session:  session,
		Project:  project,
		Config:   cfg,
		JSONMode: jsonMode,
		Logger:   logger,
	}, nil
}

// loadConfig layers defaults, the --config file, the environment and the
// persistent flags, then configures logging to stderr.
func loadConfig(cmd *cobra.Command) (config.Config, zerolog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	if as, _ := cmd.Flags().GetString("as"); as != "" {
		cfg.Handle = as
	}
	if store, _ := cmd.Flags().GetString("store"); store != "" {
		cfg.Store.Path = store
	}
	logger := logging.Setup(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
	return cfg, logger, nil
}

func resolveProject(cfg config.Config) (core.Project, error) {
	return core.LocateProject(cfg.Store.Path)
}

func storeOptions(cfg config.Config, logger *zerolog.Logger) mailbox.Options {
	return mailbox.Options{
		BusyTimeout: cfg.Store.BusyTimeout,
		BusyRetries: cfg.Store.BusyRetries,
		AdminTag:    cfg.Store.AdminTag,
		Logger:      logger,
	}
}
