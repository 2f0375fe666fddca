package query

import (
	"bytes"
	"encoding/json"
	"time"
)

// Row is one result row. It encodes as a JSON object whose keys keep the
// column order of the statement.
type Row struct {
	Columns []string
	Values  []any
}

func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, column := range r.Columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(column)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		var value any
		if i < len(r.Values) {
			value = r.Values[i]
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		buf.Write(encoded)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

const (
	dateLayout      = "2006-01-02"
	timestampLayout = "2006-01-02T15:04:05.999999"
	timeLayout      = "15:04:05.999999"
	timeTZLayout    = "15:04:05.999999Z07:00"
)

// Canonicalize turns dates, times and timestamps into ISO-8601 strings and byte
// slices into strings. Every other value is returned unchanged.
// databaseType is the driver's column type name, upper-cased.
func Canonicalize(value any, databaseType string) any {
	switch typed := value.(type) {
	case time.Time:
		switch databaseType {
		case "DATE":
			return typed.Format(dateLayout)
		case "TIME":
			return typed.Format(timeLayout)
		case "TIMETZ", "TIME WITH TIME ZONE":
			return typed.Format(timeTZLayout)
		case "TIMESTAMP", "DATETIME", "TIMESTAMP_NS", "TIMESTAMP_MS", "TIMESTAMP_S":
			return typed.Format(timestampLayout)
		default:
			return typed.Format(time.RFC3339Nano)
		}
	case []byte:
		return string(typed)
	default:
		return value
	}
}
