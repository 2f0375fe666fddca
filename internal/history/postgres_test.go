package history

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

func TestPostgresRecordInsertsRow(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewPostgresStore(db, false)

	mock.ExpectExec(`INSERT INTO "query_history" .*'shop'.*'how many orders\?'`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Record(context.Background(), Entry{
		ProjectName:  "shop",
		UserQuery:    "how many orders?",
		GeneratedSQL: "SELECT count(*) FROM orders",
	})
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestPostgresRecordWrapsErrors(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewPostgresStore(db, false)
	boom := errors.New("relation \"query_history\" does not exist")

	mock.ExpectExec(`INSERT INTO "query_history"`).WillReturnError(boom)

	if err := store.Record(context.Background(), Entry{ProjectName: "shop", UserQuery: "q"}); !errors.Is(err, boom) {
		t.Fatalf("Record() error = %v, want wrapped %v", err, boom)
	}
	assertSQLMock(t, mock)
}

func TestPostgresListFiltersByProject(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewPostgresStore(db, false)
	id := uuid.New()
	created := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM "query_history" AS "h" WHERE \(h\.project_name = 'shop'\) ORDER BY h\.created_at DESC LIMIT 2`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "project_name", "user_query", "generated_sql", "execution_result", "status",
			"error_code", "error_message", "model_used", "provider", "duration_ms", "created_at",
		}).AddRow(id.String(), "shop", "how many orders?", "SELECT count(*) FROM orders", `[{"count":3}]`, "succeeded",
			nil, nil, "gpt-4o-mini", "openai-compatible", int64(12), created))

	entries, err := store.List(context.Background(), "shop", 2)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d", len(entries))
	}
	got := entries[0]
	if got.ID != id || got.Status != StatusSucceeded || string(got.ExecutionResult) != `[{"count":3}]` {
		t.Fatalf("entry = %+v", got)
	}
	if got.ErrorCode != "" || !got.CreatedAt.Equal(created) {
		t.Fatalf("entry = %+v", got)
	}
	assertSQLMock(t, mock)
}

func TestRowFromEntryLeavesEmptyResultNull(t *testing.T) {
	row := rowFromEntry(Entry{ProjectName: "shop", UserQuery: "q"})
	if row.ExecutionResult != "" {
		t.Fatalf("ExecutionResult = %q", row.ExecutionResult)
	}
	if row.entry().ExecutionResult != nil {
		t.Fatal("round trip should keep a nil result")
	}
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
