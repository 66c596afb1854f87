// Package mcp exposes a mailbox session as Model Context Protocol tools over
// stdio. The server owns no state of its own: every tool call is forwarded to
// the session it was built with.
package mcp

import (
	"context"

	"github.com/adamavenir/mailroom/internal/mailbox"
	mcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
)

// ServerName is the implementation name reported to MCP clients.
const ServerName = "mailroom"

// Server serves mail tools for one agent.
type Server struct {
	mcp     *mcp.Server
	session *mailbox.Session
	log     zerolog.Logger
}

// NewServer builds an MCP server whose tools act as session's agent.
func NewServer(session *mailbox.Session, version string, logger zerolog.Logger) *Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    ServerName,
		Version: version,
	}, nil)
	RegisterTools(server, &ToolContext{Session: session})
	return &Server{
		mcp:     server,
		session: session,
		log:     logger.With().Str("component", "mcp").Str("agent", session.Handle()).Logger(),
	}
}

// MCP returns the underlying SDK server, for callers that supply their own transport.
func (s *Server) MCP() *mcp.Server {
	return s.mcp
}

// Run serves over stdin/stdout until ctx is cancelled or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.log.Info().Msg("serving on stdio")
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && ctx.Err() == nil {
		s.log.Error().Err(err).Msg("server stopped")
		return err
	}
	s.log.Info().Msg("server stopped")
	return nil
}
