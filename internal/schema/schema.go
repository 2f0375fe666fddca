// Package schema reads table, column and foreign key metadata from a
// relational database's information_schema.
package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const DefaultSchema = "public"

type Column struct {
	Table      string
	Name       string
	DataType   string
	IsNullable string
	Default    sql.NullString
	PrimaryKey bool
}

type ForeignKey struct {
	TableSchema        string
	Table              string
	Column             string
	ForeignTableSchema string
	ForeignTable       string
	ForeignColumn      string
}

type Snapshot struct {
	Columns     []Column
	ForeignKeys []ForeignKey
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type Introspector struct {
	db     querier
	schema string
}

// NewIntrospector reads from schemaName, or "public" when empty.
func NewIntrospector(db *sql.DB, schemaName string) *Introspector {
	schemaName = strings.TrimSpace(schemaName)
	if schemaName == "" {
		schemaName = DefaultSchema
	}
	return &Introspector{db: db, schema: schemaName}
}

// Introspect returns every column and foreign key of the configured schema.
// An empty database name means the connection's current database.
func (i *Introspector) Introspect(ctx context.Context, database string) (Snapshot, error) {
	columns, err := i.Columns(ctx, database)
	if err != nil {
		return Snapshot{}, err
	}
	foreignKeys, err := i.ForeignKeys(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Columns: columns, ForeignKeys: foreignKeys}, nil
}

const columnsQuery = `
SELECT c.table_name, c.column_name, c.data_type, c.is_nullable, c.column_default,
	EXISTS (
		SELECT 1
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		WHERE tc.constraint_type = 'PRIMARY KEY'
			AND tc.table_schema = c.table_schema
			AND tc.table_name = c.table_name
			AND kcu.column_name = c.column_name
	) AS is_primary_key
FROM information_schema.columns c
WHERE c.table_catalog = COALESCE(NULLIF($1, ''), current_database())
	AND c.table_schema = $2
ORDER BY c.table_name, c.ordinal_position`

func (i *Introspector) Columns(ctx context.Context, database string) ([]Column, error) {
	rows, err := i.db.QueryContext(ctx, columnsQuery, database, i.schema)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns := make([]Column, 0)
	for rows.Next() {
		var column Column
		if err := rows.Scan(
			&column.Table,
			&column.Name,
			&column.DataType,
			&column.IsNullable,
			&column.Default,
			&column.PrimaryKey,
		); err != nil {
			return nil, fmt.Errorf("scan column row: %w", err)
		}
		columns = append(columns, column)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate column rows: %w", err)
	}
	return columns, nil
}

const foreignKeysQuery = `
SELECT tc.table_schema, tc.table_name, kcu.column_name,
	ccu.table_schema AS foreign_table_schema,
	ccu.table_name AS foreign_table_name,
	ccu.column_name AS foreign_column_name
FROM information_schema.table_constraints AS tc
JOIN information_schema.key_column_usage AS kcu
	ON tc.constraint_name = kcu.constraint_name
	AND tc.table_schema = kcu.table_schema
JOIN information_schema.constraint_column_usage AS ccu
	ON ccu.constraint_name = tc.constraint_name
	AND ccu.table_schema = tc.table_schema
WHERE tc.constraint_type = 'FOREIGN KEY'
	AND tc.table_schema = $1
ORDER BY tc.table_name, kcu.column_name`

func (i *Introspector) ForeignKeys(ctx context.Context) ([]ForeignKey, error) {
	rows, err := i.db.QueryContext(ctx, foreignKeysQuery, i.schema)
	if err != nil {
		return nil, fmt.Errorf("query foreign keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	keys := make([]ForeignKey, 0)
	for rows.Next() {
		var key ForeignKey
		if err := rows.Scan(
			&key.TableSchema,
			&key.Table,
			&key.Column,
			&key.ForeignTableSchema,
			&key.ForeignTable,
			&key.ForeignColumn,
		); err != nil {
			return nil, fmt.Errorf("scan foreign key row: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate foreign key rows: %w", err)
	}
	return keys, nil
}

// PrimaryKeyMarker closes the fragment of a primary key column.
const PrimaryKeyMarker = "PRIMARY KEY"

// Fragment renders c as its non-null values joined by single spaces, in
// catalog order, followed by PrimaryKeyMarker for key columns.
func (c Column) Fragment() string {
	fields := []string{c.Table, c.Name, c.DataType, c.IsNullable}
	if c.Default.Valid {
		fields = append(fields, c.Default.String)
	}
	if c.PrimaryKey {
		fields = append(fields, PrimaryKeyMarker)
	}
	return joinFields(fields)
}

func (fk ForeignKey) Fragment() string {
	return joinFields([]string{fk.TableSchema, fk.Table, fk.Column, fk.ForeignTableSchema, fk.ForeignTable, fk.ForeignColumn})
}

func joinFields(fields []string) string {
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		parts = append(parts, field)
	}
	return strings.Join(parts, " ")
}
