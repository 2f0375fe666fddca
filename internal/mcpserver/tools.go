package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sqlscribe/sqlscribe/internal/assistant"
	"github.com/sqlscribe/sqlscribe/internal/auth"
	"github.com/sqlscribe/sqlscribe/internal/history"
	"github.com/sqlscribe/sqlscribe/internal/indexer"
	"github.com/sqlscribe/sqlscribe/internal/query"
)

type tools struct {
	assistant Assistant
	identity  *auth.Identity
	logger    *slog.Logger
}

type AskInput struct {
	Question    string `json:"question" jsonschema:"the question to answer, in plain language"`
	ProjectName string `json:"project_name,omitempty" jsonschema:"project whose indexed schema is used (default: default_project)"`
}

type AskOutput struct {
	ProjectName string      `json:"project_name"`
	SQL         string      `json:"sql"`
	Columns     []string    `json:"columns"`
	Rows        []query.Row `json:"rows"`
	Truncated   bool        `json:"truncated"`
}

type IndexInput struct {
	ProjectName string `json:"project_name,omitempty" jsonschema:"project to index (default: default_project)"`
	Rebuild     bool   `json:"rebuild,omitempty" jsonschema:"drop existing fragments before indexing"`
}

type HistoryInput struct {
	ProjectName string `json:"project_name,omitempty" jsonschema:"project to list; empty lists every project the key may read"`
	Limit       int    `json:"limit,omitempty" jsonschema:"maximum number of entries (default 50)"`
}

func (t *tools) askDatabase(ctx context.Context, _ *mcp.CallToolRequest, input AskInput) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(input.Question) == "" {
		return toolError("%s: question is required", assistant.CodeMessageRequired), nil, nil
	}
	projectName := t.project(input.ProjectName)
	ctx, ok := t.authorize(ctx, projectName, auth.RoleQueryReader)
	if !ok {
		return forbidden(projectName), nil, nil
	}

	answer, err := t.assistant.Ask(ctx, assistant.Question{ProjectName: projectName, Message: input.Question})
	if err != nil {
		return t.pipelineError(ctx, "ask_database", err), nil, nil
	}
	out := AskOutput{
		ProjectName: answer.ProjectName,
		SQL:         answer.SQL,
		Columns:     answer.Columns,
		Rows:        answer.Rows,
		Truncated:   answer.Truncated,
	}
	if out.Columns == nil {
		out.Columns = []string{}
	}
	if out.Rows == nil {
		out.Rows = []query.Row{}
	}
	return toolJSON(out)
}

func (t *tools) indexProject(ctx context.Context, _ *mcp.CallToolRequest, input IndexInput) (*mcp.CallToolResult, any, error) {
	projectName := t.project(input.ProjectName)
	ctx, ok := t.authorize(ctx, projectName, auth.RoleIndexer)
	if !ok {
		return forbidden(projectName), nil, nil
	}
	summary, err := t.assistant.Index(ctx, projectName, indexer.Options{Rebuild: input.Rebuild})
	if err != nil {
		return t.pipelineError(ctx, "index_project", err), nil, nil
	}
	return toolJSON(summary)
}

func (t *tools) listHistory(ctx context.Context, _ *mcp.CallToolRequest, input HistoryInput) (*mcp.CallToolResult, any, error) {
	if input.Limit < 0 {
		return toolError("limit must be a non-negative integer"), nil, nil
	}
	ctx, ok := t.authorize(ctx, input.ProjectName, auth.RoleQueryReader)
	if !ok {
		return forbidden(input.ProjectName), nil, nil
	}
	entries, err := t.assistant.History(ctx, input.ProjectName, input.Limit)
	if err != nil {
		return t.pipelineError(ctx, "list_history", err), nil, nil
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	return toolJSON(entries)
}

func (t *tools) project(name string) string {
	if name == "" {
		return t.assistant.DefaultProject()
	}
	return name
}

func (t *tools) authorize(ctx context.Context, projectName, role string) (context.Context, bool) {
	if t.identity == nil {
		return ctx, true
	}
	ctx = auth.WithIdentity(ctx, *t.identity)
	return ctx, auth.Authorize(ctx, projectName, role)
}

func (t *tools) pipelineError(ctx context.Context, tool string, err error) *mcp.CallToolResult {
	code := assistant.ErrorCode(err)
	if code == assistant.CodeInternal {
		t.logger.ErrorContext(ctx, "mcp tool failed", slog.String("tool", tool), slog.String("error", err.Error()))
		return toolError("%s: internal error", code)
	}
	return toolError("%s: %v", code, err)
}

func forbidden(projectName string) *mcp.CallToolResult {
	return toolError("FORBIDDEN: api key may not access project %q", projectName)
}

func toolError(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(format, args...)}},
		IsError: true,
	}
}

func toolJSON(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return toolError("marshal result: %v", err), nil, nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}
