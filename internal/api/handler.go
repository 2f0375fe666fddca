// Package api exposes the question answering pipeline over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sqlscribe/sqlscribe/internal/assistant"
	"github.com/sqlscribe/sqlscribe/internal/config"
	"github.com/sqlscribe/sqlscribe/internal/history"
	"github.com/sqlscribe/sqlscribe/internal/indexer"
	"github.com/sqlscribe/sqlscribe/internal/observability"
)

const maxRequestBytes = 1 << 20

type ReadinessCheck func(ctx context.Context) error

// Assistant is the pipeline the handlers drive. *assistant.Service
// implements it.
type Assistant interface {
	Ask(ctx context.Context, q assistant.Question) (assistant.Answer, error)
	Index(ctx context.Context, projectName string, opts indexer.Options) (indexer.Summary, error)
	History(ctx context.Context, projectName string, limit int) ([]history.Entry, error)
	DefaultProject() string
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Assistant         Assistant
	MCP               http.Handler
	UI                http.Handler
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	protected := http.NewServeMux()
	askHandler := func(w http.ResponseWriter, r *http.Request) {
		handleGetResponse(deps, w, r)
	}
	protected.HandleFunc("POST /get_response", askHandler)
	protected.HandleFunc("POST /get_response/", askHandler)
	indexHandler := func(w http.ResponseWriter, r *http.Request) {
		handleAddDataSource(deps, w, r)
	}
	protected.HandleFunc("POST /add_data_source", indexHandler)
	protected.HandleFunc("POST /add_data_source/", indexHandler)
	protected.HandleFunc("GET /history", func(w http.ResponseWriter, r *http.Request) {
		handleHistory(deps, w, r)
	})
	protected.HandleFunc("GET /history/export", func(w http.ResponseWriter, r *http.Request) {
		handleHistoryExport(deps, w, r)
	})
	protectedRoutes := []string{
		"POST /get_response",
		"POST /get_response/",
		"POST /add_data_source",
		"POST /add_data_source/",
		"GET /history",
		"GET /history/export",
	}
	if deps.MCP != nil {
		// Streamable HTTP uses POST for calls, GET for the event stream and
		// DELETE to end a session.
		for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodDelete} {
			pattern := method + " /mcp"
			protected.Handle(pattern, deps.MCP)
			protectedRoutes = append(protectedRoutes, pattern)
		}
	}

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	for _, pattern := range protectedRoutes {
		mux.Handle(pattern, protectedHandler)
	}
	if deps.UI != nil {
		mux.Handle("GET /{path...}", deps.UI)
	}

	logger := deps.Logger
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	middlewares = append(middlewares, observability.RecoverMiddleware(logger))
	return chain(mux, middlewares...)
}

// Ping turns a dependency's ping function into a readiness check.
func Ping(name string, ping func(ctx context.Context) error) ReadinessCheck {
	return func(ctx context.Context) error {
		if ping == nil {
			return errors.New(name + " is not configured")
		}
		if err := ping(ctx); err != nil {
			return errors.New(name + " is not reachable: " + err.Error())
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error":      message,
		"error_code": code,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
