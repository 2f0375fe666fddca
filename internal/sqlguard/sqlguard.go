// Package sqlguard turns model output into a statement that is safe to run:
// a single read-only SELECT.
package sqlguard

import (
	"errors"
	"strings"
)

var ErrUnsafeQuery = errors.New("sqlguard: unsafe query")

// UnsafeQueryError explains why a statement was refused. It matches
// ErrUnsafeQuery.
type UnsafeQueryError struct {
	Reason  string
	Keyword string
}

func (e *UnsafeQueryError) Error() string {
	if e.Keyword != "" {
		return "unsafe query: " + e.Reason + ": " + e.Keyword
	}
	return "unsafe query: " + e.Reason
}

func (e *UnsafeQueryError) Is(target error) bool {
	return target == ErrUnsafeQuery
}

// Statement is a query that passed Validate. The executor only accepts
// this type, so unchecked text cannot reach the database.
type Statement struct {
	sql string
}

func (s Statement) SQL() string {
	return s.sql
}

func (s Statement) String() string {
	return s.sql
}

// Prepare extracts and validates raw model output.
func Prepare(raw string) (Statement, error) {
	return Validate(ExtractSQL(raw))
}

// ExtractSQL strips code fences and surrounding whitespace from model output
// and collapses it onto one line. When the text opens with prose the first
// fenced block is used. Line comments are dropped before collapsing so they
// cannot swallow the rest of the statement.
func ExtractSQL(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, "```") {
		if start := strings.Index(text, "```"); start >= 0 {
			text = text[start:]
		}
	}
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if newline := strings.IndexAny(text, "\r\n"); newline >= 0 && isFenceLanguage(text[:newline]) {
			text = text[newline:]
		} else if isFenceLanguage(text) {
			text = ""
		} else {
			for _, tag := range []string{"sql", "SQL"} {
				if strings.HasPrefix(text, tag+" ") {
					text = strings.TrimPrefix(text, tag)
					break
				}
			}
		}
		if end := strings.Index(text, "```"); end >= 0 {
			text = text[:end]
		}
	}
	text = stripLineComments(strings.TrimSpace(text))
	text = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(text)
	return strings.TrimSpace(text)
}

func isFenceLanguage(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return true
	}
	if strings.EqualFold(s, "select") || strings.EqualFold(s, "with") {
		return false
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return false
		}
	}
	return true
}

var forbiddenKeywords = map[string]struct{}{
	"INSERT": {}, "UPDATE": {}, "DELETE": {}, "MERGE": {}, "UPSERT": {},
	"DROP": {}, "CREATE": {}, "ALTER": {}, "TRUNCATE": {},
	"GRANT": {}, "REVOKE": {}, "COPY": {}, "CALL": {}, "EXECUTE": {},
	"VACUUM": {}, "REINDEX": {}, "REFRESH": {}, "LOCK": {},
	"ATTACH": {}, "DETACH": {}, "INSTALL": {}, "PRAGMA": {},
	"INTO": {},
}

// Functions with side effects that a read-only transaction does not stop.
var forbiddenFunctions = map[string]struct{}{
	"PG_SLEEP": {}, "PG_TERMINATE_BACKEND": {}, "PG_CANCEL_BACKEND": {}, "PG_RELOAD_CONF": {},
	"SET_CONFIG": {}, "NEXTVAL": {}, "SETVAL": {}, "LO_IMPORT": {}, "LO_EXPORT": {},
	"PG_READ_FILE": {}, "PG_READ_BINARY_FILE": {}, "PG_LS_DIR": {}, "PG_ADVISORY_LOCK": {},
	"PG_ADVISORY_XACT_LOCK": {}, "DBLINK": {}, "DBLINK_EXEC": {},
	// DuckDB table functions that read host files.
	"READ_CSV": {}, "READ_CSV_AUTO": {}, "SNIFF_CSV": {}, "READ_TEXT": {}, "READ_BLOB": {},
	"READ_PARQUET": {}, "PARQUET_SCAN": {}, "PARQUET_METADATA": {}, "PARQUET_SCHEMA": {},
	"READ_JSON": {}, "READ_JSON_AUTO": {}, "READ_JSON_OBJECTS": {}, "READ_NDJSON": {},
	"READ_NDJSON_AUTO": {}, "READ_NDJSON_OBJECTS": {}, "GLOB": {},
}

// Validate accepts exactly one SELECT statement, optionally introduced by
// WITH, with at most one trailing semicolon. Literals, quoted identifiers
// and comments are not inspected.
func Validate(sqlText string) (Statement, error) {
	tokens, err := tokenize(sqlText)
	if err != nil {
		return Statement{}, err
	}
	if n := len(tokens); n > 0 && tokens[n-1].is(";") {
		tokens = tokens[:n-1]
	}
	if len(tokens) == 0 {
		return Statement{}, &UnsafeQueryError{Reason: "empty statement"}
	}

	first := 0
	for first < len(tokens) && tokens[first].is("(") {
		first++
	}
	if first == len(tokens) {
		return Statement{}, &UnsafeQueryError{Reason: "no SELECT"}
	}
	if !tokens[first].isWord("SELECT") && !tokens[first].isWord("WITH") {
		return Statement{}, &UnsafeQueryError{Reason: "statement must start with SELECT or WITH", Keyword: tokens[first].text}
	}

	hasSelect := false
	for i, tok := range tokens {
		if tok.is(";") {
			return Statement{}, &UnsafeQueryError{Reason: "multiple statements"}
		}
		if tok.kind != wordToken {
			continue
		}
		if _, ok := forbiddenKeywords[tok.text]; ok {
			return Statement{}, &UnsafeQueryError{Reason: "forbidden keyword", Keyword: tok.text}
		}
		if _, ok := forbiddenFunctions[tok.text]; ok && i+1 < len(tokens) && tokens[i+1].is("(") {
			return Statement{}, &UnsafeQueryError{Reason: "forbidden function", Keyword: strings.ToLower(tok.text)}
		}
		if tok.text == "SELECT" {
			hasSelect = true
		}
	}
	if !hasSelect {
		return Statement{}, &UnsafeQueryError{Reason: "no SELECT"}
	}

	text := strings.TrimSpace(sqlText)
	text = strings.TrimSpace(strings.TrimSuffix(text, ";"))
	return Statement{sql: text}, nil
}
