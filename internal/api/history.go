package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/sqlscribe/sqlscribe/internal/auth"
	"github.com/sqlscribe/sqlscribe/internal/history"
)

func handleHistory(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Assistant == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASSISTANT_NOT_CONFIGURED", "history is not configured", false, nil)
		return
	}

	projectName := r.URL.Query().Get("project_name")
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a non-negative integer", false, map[string]any{"limit": raw})
			return
		}
		limit = parsed
	}
	// Listing every project needs a key scoped to "*".
	if !auth.Authorize(r.Context(), projectName, auth.RoleQueryReader) {
		writeForbidden(w, r, projectName)
		return
	}

	entries, err := deps.Assistant.History(r.Context(), projectName, limit)
	if err != nil {
		writePipelineError(deps, w, r, err)
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"project_name": projectName,
		"entries":      entries,
	})
}

const parquetContentType = "application/vnd.apache.parquet"

func handleHistoryExport(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Assistant == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASSISTANT_NOT_CONFIGURED", "history is not configured", false, nil)
		return
	}

	projectName := r.URL.Query().Get("project_name")
	limit := history.MaxListLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a non-negative integer", false, map[string]any{"limit": raw})
			return
		}
		limit = parsed
	}
	if !auth.Authorize(r.Context(), projectName, auth.RoleQueryReader) {
		writeForbidden(w, r, projectName)
		return
	}

	entries, err := deps.Assistant.History(r.Context(), projectName, limit)
	if err != nil {
		writePipelineError(deps, w, r, err)
		return
	}
	export, err := history.EncodeParquet(entries)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "EXPORT_FAILED", "failed to encode history", false, nil)
		return
	}

	w.Header().Set("Content-Type", parquetContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="history.parquet"`)
	w.Header().Set("X-Record-Count", strconv.FormatInt(export.RecordCount, 10))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(export.Data)
}
