package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/sqlscribe/sqlscribe/internal/auth"
	"github.com/sqlscribe/sqlscribe/internal/indexer"
	"github.com/sqlscribe/sqlscribe/internal/observability"
	"github.com/sqlscribe/sqlscribe/internal/project"
)

const dataSourceAddedMessage = "Data source added and embeddings stored successfully."

type addDataSourceRequest struct {
	ProjectName *string `json:"project_name"`
	Rebuild     bool    `json:"rebuild"`
}

type addDataSourceResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Summary indexer.Summary `json:"summary"`
}

func handleAddDataSource(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Assistant == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASSISTANT_NOT_CONFIGURED", "indexing is not configured", false, nil)
		return
	}

	var request addDataSourceRequest
	if !decodeBody(w, r, &request) {
		return
	}
	projectName := projectOrDefault(request.ProjectName, deps.Assistant.DefaultProject())
	if err := project.Validate(projectName); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_PROJECT", "No project name provided.", false, map[string]any{"details": err.Error()})
		return
	}
	if !auth.Authorize(r.Context(), projectName, auth.RoleIndexer) {
		writeForbidden(w, r, projectName)
		return
	}

	summary, err := deps.Assistant.Index(r.Context(), projectName, indexer.Options{Rebuild: request.Rebuild})
	if err != nil {
		if errors.Is(err, project.ErrInvalidName) {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_PROJECT", err.Error(), false, nil)
			return
		}
		if deps.Logger != nil {
			deps.Logger.ErrorContext(r.Context(), "indexing failed",
				observability.TraceAttr(r.Context()),
				slog.String("project", projectName),
				slog.String("error", err.Error()),
			)
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "INDEX_FAILED", "failed to index data source", true, nil)
		return
	}

	writeJSON(w, http.StatusOK, addDataSourceResponse{
		Success: true,
		Message: dataSourceAddedMessage,
		Summary: summary,
	})
}
