// Package mcpserver exposes the question pipeline as Model Context Protocol
// tools, over streamable HTTP inside the API or over stdio.
package mcpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sqlscribe/sqlscribe/internal/assistant"
	"github.com/sqlscribe/sqlscribe/internal/auth"
	"github.com/sqlscribe/sqlscribe/internal/history"
	"github.com/sqlscribe/sqlscribe/internal/indexer"
	"github.com/sqlscribe/sqlscribe/internal/observability"
)

const (
	Name    = "sqlscribe"
	Version = "0.1.0"
)

var ErrMissingAssistant = errors.New("mcpserver: assistant is required")

type Assistant interface {
	Ask(ctx context.Context, q assistant.Question) (assistant.Answer, error)
	Index(ctx context.Context, projectName string, opts indexer.Options) (indexer.Summary, error)
	History(ctx context.Context, projectName string, limit int) ([]history.Entry, error)
	DefaultProject() string
}

type Server struct {
	assistant Assistant
	logger    *slog.Logger
}

func New(assist Assistant, logger *slog.Logger) (*Server, error) {
	if assist == nil {
		return nil, ErrMissingAssistant
	}
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	return &Server{assistant: assist, logger: logger}, nil
}

// MCPServer builds a protocol server whose tools act as identity. A nil
// identity trusts the caller, which is what stdio sessions get.
func (s *Server) MCPServer(identity *auth.Identity) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: Name, Version: Version}, nil)
	t := &tools{assistant: s.assistant, identity: identity, logger: s.logger}

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "ask_database",
		Description: "Answer a natural language question by generating and running a read-only SQL query against an indexed project",
	}, t.askDatabase)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "index_project",
		Description: "Index the target database schema into a project's vector store",
	}, t.indexProject)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "list_history",
		Description: "List recent questions, generated SQL and outcomes for a project, newest first",
	}, t.listHistory)
	return srv
}

// HTTPHandler serves streamable HTTP. Each session is bound to the identity
// the auth middleware attached to the request that opened it.
func (s *Server) HTTPHandler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		if identity, ok := auth.IdentityFromContext(r.Context()); ok {
			return s.MCPServer(&identity)
		}
		return s.MCPServer(nil)
	}, nil)
}

// RunStdio blocks until ctx is cancelled or the peer disconnects.
func (s *Server) RunStdio(ctx context.Context) error {
	return s.MCPServer(nil).Run(ctx, &mcp.StdioTransport{})
}
