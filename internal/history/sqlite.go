package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Fixed width so created_at sorts lexically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS query_history (
		id TEXT PRIMARY KEY,
		project_name TEXT NOT NULL,
		user_query TEXT NOT NULL,
		generated_sql TEXT,
		execution_result TEXT,
		status TEXT NOT NULL,
		error_code TEXT,
		error_message TEXT,
		model_used TEXT,
		provider TEXT,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_query_history_project_created
		ON query_history (project_name, created_at DESC)`,
}

// SQLiteStore keeps history in a local SQLite file. It migrates itself on open.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("history sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	store := &SQLiteStore{db: db, path: path}
	if err := store.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i, script := range sqliteMigrations {
		version := i + 1
		if version <= current {
			continue
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx, script); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("mark migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", version, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Record(ctx context.Context, entry Entry) error {
	entry = withDefaults(entry, time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO query_history (
			id, project_name, user_query, generated_sql, execution_result, status,
			error_code, error_message, model_used, provider, duration_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID.String(), entry.ProjectName, entry.UserQuery,
		nullString(entry.GeneratedSQL), nullString(string(entry.ExecutionResult)), string(entry.Status),
		nullString(entry.ErrorCode), nullString(entry.ErrorMessage),
		nullString(entry.ModelUsed), nullString(entry.Provider),
		entry.DurationMs, entry.CreatedAt.UTC().Format(sqliteTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, project string, limit int) ([]Entry, error) {
	query := `
		SELECT id, project_name, user_query, generated_sql, execution_result, status,
			error_code, error_message, model_used, provider, duration_ms, created_at
		FROM query_history`
	args := []any{}
	if project != "" {
		query += ` WHERE project_name = ?`
		args = append(args, project)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, NormalizeLimit(limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list history entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := []Entry{}
	for rows.Next() {
		entry, err := scanSQLiteEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history entries: %w", err)
	}
	return entries, nil
}

func scanSQLiteEntry(rows *sql.Rows) (Entry, error) {
	var (
		entry                                 Entry
		id, status, createdAt                 string
		generatedSQL, result, errorCode       sql.NullString
		errorMessage, modelUsed, providerName sql.NullString
	)
	if err := rows.Scan(&id, &entry.ProjectName, &entry.UserQuery, &generatedSQL, &result, &status,
		&errorCode, &errorMessage, &modelUsed, &providerName, &entry.DurationMs, &createdAt); err != nil {
		return Entry{}, fmt.Errorf("scan history entry: %w", err)
	}
	parsedID, err := uuid.Parse(id)
	if err != nil {
		return Entry{}, fmt.Errorf("parse history id %q: %w", id, err)
	}
	created, err := time.Parse(sqliteTimeLayout, createdAt)
	if err != nil {
		return Entry{}, fmt.Errorf("parse history timestamp %q: %w", createdAt, err)
	}
	entry.ID = parsedID
	entry.Status = Status(status)
	entry.CreatedAt = created
	entry.GeneratedSQL = generatedSQL.String
	if result.Valid && result.String != "" {
		entry.ExecutionResult = []byte(result.String)
	}
	entry.ErrorCode = errorCode.String
	entry.ErrorMessage = errorMessage.String
	entry.ModelUsed = modelUsed.String
	entry.Provider = providerName.String
	return entry, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping history db: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
