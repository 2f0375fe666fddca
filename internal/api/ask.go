package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sqlscribe/sqlscribe/internal/assistant"
	"github.com/sqlscribe/sqlscribe/internal/auth"
	"github.com/sqlscribe/sqlscribe/internal/observability"
	"github.com/sqlscribe/sqlscribe/internal/query"
	"github.com/sqlscribe/sqlscribe/internal/sqlguard"
)

type askRequest struct {
	Message     string  `json:"message"`
	ProjectName *string `json:"project_name"`
}

type askResponse struct {
	Response    []query.Row `json:"response"`
	SQL         string      `json:"sql"`
	Columns     []string    `json:"columns"`
	Truncated   bool        `json:"truncated"`
	ProjectName string      `json:"project_name"`
	Model       string      `json:"model,omitempty"`
	DurationMs  int64       `json:"duration_ms"`
}

func handleGetResponse(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Assistant == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASSISTANT_NOT_CONFIGURED", "question pipeline is not configured", false, nil)
		return
	}

	var request askRequest
	if !decodeBody(w, r, &request) {
		return
	}
	if strings.TrimSpace(request.Message) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, assistant.CodeMessageRequired, "No message provided.", false, nil)
		return
	}
	projectName := projectOrDefault(request.ProjectName, deps.Assistant.DefaultProject())
	if !auth.Authorize(r.Context(), projectName, auth.RoleQueryReader) {
		writeForbidden(w, r, projectName)
		return
	}

	answer, err := deps.Assistant.Ask(r.Context(), assistant.Question{ProjectName: projectName, Message: request.Message})
	if err != nil {
		writePipelineError(deps, w, r, err)
		return
	}

	rows := answer.Rows
	if rows == nil {
		rows = []query.Row{}
	}
	columns := answer.Columns
	if columns == nil {
		columns = []string{}
	}
	writeJSON(w, http.StatusOK, askResponse{
		Response:    rows,
		SQL:         answer.SQL,
		Columns:     columns,
		Truncated:   answer.Truncated,
		ProjectName: answer.ProjectName,
		Model:       answer.Model,
		DurationMs:  answer.DurationMs,
	})
}

// writePipelineError maps a pipeline failure onto its status code. Messages
// for unexpected errors stay generic; the detail goes to the log.
func writePipelineError(deps Dependencies, w http.ResponseWriter, r *http.Request, err error) {
	code := assistant.ErrorCode(err)
	retryable := assistant.Retryable(err)
	message := err.Error()
	var extra map[string]any

	status := http.StatusInternalServerError
	switch code {
	case assistant.CodeMessageRequired, assistant.CodeInvalidProject:
		status = http.StatusBadRequest
	case assistant.CodeStoreMissing:
		status = http.StatusNotFound
		message = "project has not been indexed; add a data source first"
	case assistant.CodeGeneration:
		status = http.StatusBadGateway
	case assistant.CodeUnsafeQuery:
		status = http.StatusUnprocessableEntity
		var unsafe *sqlguard.UnsafeQueryError
		if errors.As(err, &unsafe) {
			extra = map[string]any{"reason": unsafe.Reason}
			if unsafe.Keyword != "" {
				extra["keyword"] = unsafe.Keyword
			}
		}
	case assistant.CodeQueryFailed:
		status = http.StatusInternalServerError
	default:
		message = "internal error"
	}

	if status >= http.StatusInternalServerError && deps.Logger != nil {
		deps.Logger.ErrorContext(r.Context(), "request failed",
			observability.TraceAttr(r.Context()),
			slog.String("path", r.URL.Path),
			slog.String("error_code", code),
			slog.String("error", err.Error()),
		)
	}
	writeError(r.Context(), w, status, code, message, retryable, extra)
}

// decodeBody reads a JSON object. An empty body decodes as {}.
func decodeBody(w http.ResponseWriter, r *http.Request, target any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil && !errors.Is(err, io.EOF) {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid request body", false, map[string]any{"details": err.Error()})
		return false
	}
	return true
}

// projectOrDefault applies the default only when the field was omitted. An
// explicitly empty name is passed through and rejected downstream.
func projectOrDefault(name *string, fallback string) string {
	if name == nil {
		return fallback
	}
	return *name
}

func writeForbidden(w http.ResponseWriter, r *http.Request, projectName string) {
	writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", "api key may not access this project", false, map[string]any{"project_name": projectName})
}
