package history

import (
	"bytes"
	"fmt"

	"github.com/parquet-go/parquet-go"
)

type ParquetExport struct {
	Data        []byte
	RecordCount int64
}

type parquetEntry struct {
	ID              string `parquet:"id"`
	ProjectName     string `parquet:"project_name"`
	UserQuery       string `parquet:"user_query"`
	GeneratedSQL    string `parquet:"generated_sql"`
	ExecutionResult string `parquet:"execution_result_json"`
	Status          string `parquet:"status"`
	ErrorCode       string `parquet:"error_code"`
	ErrorMessage    string `parquet:"error_message"`
	ModelUsed       string `parquet:"model_used"`
	Provider        string `parquet:"provider"`
	DurationMs      int64  `parquet:"duration_ms"`
	CreatedAtUnixMs int64  `parquet:"created_at_unix_ms"`
}

// EncodeParquet writes entries as a single Parquet file, in order. An empty
// slice yields a valid file with no rows.
func EncodeParquet(entries []Entry) (ParquetExport, error) {
	rows := make([]parquetEntry, 0, len(entries))
	for _, entry := range entries {
		rows = append(rows, parquetEntry{
			ID:              entry.ID.String(),
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
			CreatedAtUnixMs: entry.CreatedAt.UTC().UnixMilli(),
		})
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[parquetEntry](buf)
	if len(rows) > 0 {
		if _, err := writer.Write(rows); err != nil {
			return ParquetExport{}, fmt.Errorf("write parquet rows: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return ParquetExport{}, fmt.Errorf("close parquet writer: %w", err)
	}
	return ParquetExport{Data: buf.Bytes(), RecordCount: int64(len(rows))}, nil
}
