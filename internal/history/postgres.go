package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"github.com/sqlscribe/sqlscribe/internal/migrations"
)

// historyRow maps the query_history table owned by internal/migrations.
type historyRow struct {
	bun.BaseModel `bun:"table:query_history,alias:h"`

	ID              uuid.UUID `bun:"id,pk,type:uuid"`
	ProjectName     string    `bun:"project_name,notnull"`
	UserQuery       string    `bun:"user_query,notnull"`
	GeneratedSQL    string    `bun:"generated_sql,nullzero"`
	ExecutionResult string    `bun:"execution_result,type:jsonb,nullzero"`
	Status          string    `bun:"status,notnull"`
	ErrorCode       string    `bun:"error_code,nullzero"`
	ErrorMessage    string    `bun:"error_message,nullzero"`
	ModelUsed       string    `bun:"model_used,nullzero"`
	Provider        string    `bun:"provider,nullzero"`
	DurationMs      int64     `bun:"duration_ms,notnull"`
	CreatedAt       time.Time `bun:"created_at,notnull"`
}

func rowFromEntry(entry Entry) historyRow {
	return historyRow{
		ID:              entry.ID,
		ProjectName:     entry.ProjectName,
		UserQuery:       entry.UserQuery,
		GeneratedSQL:    entry.GeneratedSQL,
		ExecutionResult: string(entry.ExecutionResult),
		Status:          string(entry.Status),
		ErrorCode:       entry.ErrorCode,
		ErrorMessage:    entry.ErrorMessage,
		ModelUsed:       entry.ModelUsed,
		Provider:        entry.Provider,
		DurationMs:      entry.DurationMs,
		CreatedAt:       entry.CreatedAt,
	}
}

func (r historyRow) entry() Entry {
	entry := Entry{
		ID:           r.ID,
		ProjectName:  r.ProjectName,
		UserQuery:    r.UserQuery,
		GeneratedSQL: r.GeneratedSQL,
		Status:       Status(r.Status),
		ErrorCode:    r.ErrorCode,
		ErrorMessage: r.ErrorMessage,
		ModelUsed:    r.ModelUsed,
		Provider:     r.Provider,
		DurationMs:   r.DurationMs,
		CreatedAt:    r.CreatedAt.UTC(),
	}
	if r.ExecutionResult != "" {
		entry.ExecutionResult = []byte(r.ExecutionResult)
	}
	return entry
}

type PostgresConfig struct {
	DSN   string
	Debug bool
}

// PostgresStore keeps history in Postgres through bun.
type PostgresStore struct {
	db *bun.DB
}

func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("history dsn is required")
	}
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DSN)))
	store := NewPostgresStore(sqldb, cfg.Debug)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		_ = store.Close()
		return nil, err
	}
	if err := migrations.NewRunner().RequireCurrent(pingCtx, sqldb); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStore wraps an already opened Postgres handle.
func NewPostgresStore(sqldb *sql.DB, debug bool) *PostgresStore {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Record(ctx context.Context, entry Entry) error {
	entry = withDefaults(entry, time.Now())
	row := rowFromEntry(entry)
	if _, err := s.db.NewInsert().Model(&row).Returning("NULL").Exec(ctx); err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, project string, limit int) ([]Entry, error) {
	var rows []historyRow
	q := s.db.NewSelect().
		Model(&rows).
		OrderExpr("h.created_at DESC").
		Limit(NormalizeLimit(limit))
	if project != "" {
		q = q.Where("h.project_name = ?", project)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list history entries: %w", err)
	}
	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, row.entry())
	}
	return entries, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping history db: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
