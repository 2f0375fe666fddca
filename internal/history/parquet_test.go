package history

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"
)

func TestEncodeParquet(t *testing.T) {
	created := time.Date(2026, time.March, 2, 9, 30, 0, 0, time.UTC)
	entries := []Entry{
		{
			ID:              uuid.MustParse("6f1c2a8e-1f7b-4c1e-9d55-5d1a0f0b7c01"),
			ProjectName:     "shop",
			UserQuery:       "count users",
			GeneratedSQL:    "SELECT count(*) FROM users",
			ExecutionResult: json.RawMessage(`[{"count":2}]`),
			Status:          StatusSucceeded,
			ModelUsed:       "gpt-test",
			DurationMs:      12,
			CreatedAt:       created,
		},
		{
			ProjectName:  "shop",
			UserQuery:    "drop users",
			GeneratedSQL: "DROP TABLE users",
			Status:       StatusFailed,
			ErrorCode:    "UNSAFE_QUERY",
			CreatedAt:    created.Add(time.Minute),
		},
	}

	export, err := EncodeParquet(entries)
	if err != nil {
		t.Fatalf("EncodeParquet() error = %v", err)
	}
	if export.RecordCount != 2 || len(export.Data) == 0 {
		t.Fatalf("export = %d rows, %d bytes", export.RecordCount, len(export.Data))
	}

	reader := parquet.NewGenericReader[parquetEntry](bytes.NewReader(export.Data))
	defer func() { _ = reader.Close() }()
	rows := make([]parquetEntry, 2)
	count, err := reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		t.Fatalf("reader.Read() error = %v", err)
	}
	if count != 2 {
		t.Fatalf("read rows = %d", count)
	}
	if rows[0].ID != "6f1c2a8e-1f7b-4c1e-9d55-5d1a0f0b7c01" || rows[0].ExecutionResult != `[{"count":2}]` {
		t.Fatalf("first row = %+v", rows[0])
	}
	if rows[0].CreatedAtUnixMs != created.UnixMilli() {
		t.Fatalf("created_at = %d", rows[0].CreatedAtUnixMs)
	}
	if rows[1].ErrorCode != "UNSAFE_QUERY" || rows[1].Status != string(StatusFailed) {
		t.Fatalf("second row = %+v", rows[1])
	}
}

func TestEncodeParquetEmpty(t *testing.T) {
	export, err := EncodeParquet(nil)
	if err != nil {
		t.Fatalf("EncodeParquet() error = %v", err)
	}
	if export.RecordCount != 0 || len(export.Data) == 0 {
		t.Fatalf("export = %d rows, %d bytes", export.RecordCount, len(export.Data))
	}
}
