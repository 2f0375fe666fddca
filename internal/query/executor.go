// Package query runs validated statements against the target database and
// returns JSON friendly rows.
package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sqlscribe/sqlscribe/internal/observability"
	"github.com/sqlscribe/sqlscribe/internal/sqlguard"
)

var ErrDatabase = errors.New("query: database error")

// DatabaseError matches ErrDatabase. It never carries the statement text.
type DatabaseError struct {
	Op  string
	Err error
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("query execution failed: %s: %v", e.Op, e.Err)
}

func (e *DatabaseError) Is(target error) bool {
	return target == ErrDatabase
}

func (e *DatabaseError) Unwrap() error {
	return e.Err
}

type Result struct {
	Columns   []string      `json:"columns"`
	Rows      []Row         `json:"rows"`
	Truncated bool          `json:"truncated"`
	Duration  time.Duration `json:"-"`
}

type Options struct {
	// MaxRows stops reading after this many rows; zero reads everything.
	MaxRows int
	Timeout time.Duration
	// ReadOnlyTx asks the driver for a READ ONLY transaction.
	ReadOnlyTx bool
	Logger     *slog.Logger
}

type Executor struct {
	db   *sql.DB
	opts Options
}

func NewExecutor(db *sql.DB, opts Options) *Executor {
	if opts.Logger == nil {
		opts.Logger = observability.DiscardLogger()
	}
	return &Executor{db: db, opts: opts}
}

// Execute runs stmt inside a transaction that is always rolled back. An
// empty result is a successful empty Rows slice.
func (e *Executor) Execute(ctx context.Context, stmt sqlguard.Statement) (Result, error) {
	start := time.Now()
	result, err := e.execute(ctx, stmt)
	result.Duration = time.Since(start)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	observability.ObservePipelineStage("execute", outcome, result.Duration)
	return result, err
}

func (e *Executor) execute(ctx context.Context, stmt sqlguard.Statement) (Result, error) {
	if e.db == nil {
		return Result{}, &DatabaseError{Op: "connect", Err: errors.New("database is not configured")}
	}
	sqlText := strings.TrimSpace(stmt.SQL())
	if sqlText == "" {
		return Result{}, &DatabaseError{Op: "prepare", Err: errors.New("statement is empty")}
	}
	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	e.opts.Logger.DebugContext(ctx, "executing statement", observability.TraceAttr(ctx), slog.String("sql", sqlText))

	tx, err := e.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: e.opts.ReadOnlyTx})
	if err != nil {
		return Result{}, &DatabaseError{Op: "begin", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, sqlText)
	if err != nil {
		return Result{}, &DatabaseError{Op: "execute", Err: err}
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return Result{}, &DatabaseError{Op: "columns", Err: err}
	}
	typeNames := make([]string, len(columns))
	if types, err := rows.ColumnTypes(); err == nil {
		for i, columnType := range types {
			if i < len(typeNames) {
				typeNames[i] = strings.ToUpper(columnType.DatabaseTypeName())
			}
		}
	}

	result := Result{Columns: columns, Rows: make([]Row, 0)}
	for rows.Next() {
		if e.opts.MaxRows > 0 && len(result.Rows) == e.opts.MaxRows {
			result.Truncated = true
			break
		}
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return Result{}, &DatabaseError{Op: "scan", Err: err}
		}
		for i := range values {
			values[i] = Canonicalize(values[i], typeNames[i])
		}
		result.Rows = append(result.Rows, Row{Columns: columns, Values: values})
	}
	if err := rows.Err(); err != nil {
		return Result{}, &DatabaseError{Op: "iterate", Err: err}
	}
	return result, nil
}
