// Package history records every question asked of a project together with
// the generated SQL and what came back.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sqlscribe/sqlscribe/internal/config"
	"github.com/sqlscribe/sqlscribe/internal/observability"
)

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendNone     = "none"
)

// Entry is one question/answer exchange. Entries are never updated.
type Entry struct {
	ID              uuid.UUID       `json:"id"`
	ProjectName     string          `json:"project_name"`
	UserQuery       string          `json:"user_query"`
	GeneratedSQL    string          `json:"generated_sql,omitempty"`
	ExecutionResult json.RawMessage `json:"execution_result,omitempty"`
	Status          Status          `json:"status"`
	ErrorCode       string          `json:"error_code,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	ModelUsed       string          `json:"model_used,omitempty"`
	Provider        string          `json:"provider,omitempty"`
	DurationMs      int64           `json:"duration_ms"`
	CreatedAt       time.Time       `json:"created_at"`
}

type Store interface {
	Record(ctx context.Context, entry Entry) error
	// List returns the newest entries first. An empty project lists all.
	List(ctx context.Context, project string, limit int) ([]Entry, error)
	Ping(ctx context.Context) error
	Close() error
}

// Open builds the store selected by cfg.Backend.
func Open(ctx context.Context, cfg config.HistoryConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Backend {
	case BackendPostgres:
		store, err := OpenPostgres(ctx, PostgresConfig{DSN: cfg.DSN, Debug: cfg.Debug})
		if err != nil {
			return nil, err
		}
		return store, nil
	case BackendSQLite:
		store, err := OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	case BackendNone, "":
		if logger != nil {
			logger.Info("query history disabled")
		}
		return Noop{}, nil
	default:
		return nil, fmt.Errorf("unsupported history backend %q", cfg.Backend)
	}
}

// NormalizeLimit clamps a caller supplied page size.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

func withDefaults(entry Entry, now time.Time) Entry {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.CreatedAt = entry.CreatedAt.UTC()
	if entry.Status == "" {
		entry.Status = StatusSucceeded
	}
	return entry
}

// Recorder writes entries on behalf of request handlers. A failed write is
// logged and counted but never returned to the caller.
type Recorder struct {
	store   Store
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

func NewRecorder(store Store, timeout time.Duration, logger *slog.Logger) *Recorder {
	if store == nil {
		store = Noop{}
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	return &Recorder{store: store, timeout: timeout, logger: logger, now: time.Now}
}

func (r *Recorder) Record(ctx context.Context, entry Entry) {
	entry = withDefaults(entry, r.now())
	// The write outlives a client that hung up after getting its answer.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	if err := r.store.Record(writeCtx, entry); err != nil {
		observability.IncrementHistoryWriteFailures()
		r.logger.WarnContext(ctx, "query history write failed",
			slog.String("project", entry.ProjectName),
			slog.String("history_id", entry.ID.String()),
			slog.String("error", err.Error()),
			observability.TraceAttr(ctx),
		)
	}
}

// Noop discards entries.
type Noop struct{}

func (Noop) Record(context.Context, Entry) error { return nil }

func (Noop) List(context.Context, string, int) ([]Entry, error) { return []Entry{}, nil }

func (Noop) Ping(context.Context) error { return nil }

func (Noop) Close() error { return nil }
