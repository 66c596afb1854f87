package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/adamavenir/mailroom/internal/config"
	"github.com/adamavenir/mailroom/internal/core"
	"github.com/adamavenir/mailroom/internal/logging"
	"github.com/adamavenir/mailroom/internal/mailbox"
	"github.com/adamavenir/mailroom/internal/mcp"
	"github.com/adamavenir/mailroom/internal/types"
)

// Version is overwritten at build time using -ldflags.
var Version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load(os.Getenv(config.EnvPrefix + "CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	// stdout carries the protocol, so logs always go to stderr as JSON.
	logger := logging.Setup(os.Stderr, cfg.Logging.Level, logging.FormatJSON)

	handle := cfg.Handle
	if len(os.Args) >= 3 {
		handle = os.Args[2]
	}
	if handle == "" {
		fmt.Fprintf(os.Stderr, "No agent handle: pass one as the second argument or set %sAS\n", config.EnvPrefix)
		os.Exit(1)
	}

	project, err := core.LocateProject(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to locate store: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	session, err := mailbox.Open(ctx, project.DBPath, types.Identity{Handle: handle}, mailbox.Options{
		BusyTimeout: cfg.Store.BusyTimeout,
		BusyRetries: cfg.Store.BusyRetries,
		AdminTag:    cfg.Store.AdminTag,
		Logger:      &logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start MCP server: %v\n", err)
		os.Exit(1)
	}
	defer session.Close()

	server := mcp.NewServer(session, Version, logger)
	if err := server.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		_ = session.Close()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: mailroom-mcp <project-path|store-file> [handle]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Arguments:")
	fmt.Fprintln(os.Stderr, "  project-path  Path to a project with a .mailroom/ directory, or a store file")
	fmt.Fprintln(os.Stderr, "  handle        Agent handle to act as (default: $MAILROOM_AS)")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Example:")
	fmt.Fprintln(os.Stderr, "  mailroom-mcp /Users/adam/dev/myproject reviewer")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Configure in Claude Desktop (~/Library/Application Support/Claude/claude_desktop_config.json):")
	fmt.Fprintln(os.Stderr, "  {")
	fmt.Fprintln(os.Stderr, "    \"mcpServers\": {")
	fmt.Fprintln(os.Stderr, "      \"mailroom-myproject\": {")
	fmt.Fprintln(os.Stderr, "        \"command\": \"/path/to/mailroom-mcp\",")
	fmt.Fprintln(os.Stderr, "        \"args\": [\"/Users/adam/dev/myproject\", \"reviewer\"]")
	fmt.Fprintln(os.Stderr, "      }")
	fmt.Fprintln(os.Stderr, "    }")
	fmt.Fprintln(os.Stderr, "  }")
}
