package schema

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestIntrospectReadsColumnsAndForeignKeys(t *testing.T) {
	db, mock := newSQLMock(t)
	introspector := NewIntrospector(db, "")

	mock.ExpectQuery(regexp.QuoteMeta(columnsQuery)).
		WithArgs("shop", "public").
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "column_name", "data_type", "is_nullable", "column_default", "is_primary_key"}).
			AddRow("orders", "id", "integer", "NO", "nextval('orders_id_seq'::regclass)", true).
			AddRow("orders", "customer_id", "integer", "YES", nil, false))
	mock.ExpectQuery(regexp.QuoteMeta(foreignKeysQuery)).
		WithArgs("public").
		WillReturnRows(sqlmock.NewRows([]string{"table_schema", "table_name", "column_name", "foreign_table_schema", "foreign_table_name", "foreign_column_name"}).
			AddRow("public", "orders", "customer_id", "public", "customers", "id"))

	snapshot, err := introspector.Introspect(context.Background(), "shop")
	if err != nil {
		t.Fatalf("Introspect() error = %v", err)
	}
	if len(snapshot.Columns) != 2 {
		t.Fatalf("len(Columns) = %d", len(snapshot.Columns))
	}
	first := snapshot.Columns[0]
	if first.Table != "orders" || first.Name != "id" || !first.PrimaryKey {
		t.Fatalf("Columns[0] = %+v", first)
	}
	if !first.Default.Valid {
		t.Fatal("Columns[0].Default should be set")
	}
	if snapshot.Columns[1].Default.Valid {
		t.Fatal("Columns[1].Default should be NULL")
	}
	if len(snapshot.ForeignKeys) != 1 || snapshot.ForeignKeys[0].ForeignTable != "customers" {
		t.Fatalf("ForeignKeys = %+v", snapshot.ForeignKeys)
	}
	assertSQLMock(t, mock)
}

func TestIntrospectUsesConfiguredSchema(t *testing.T) {
	db, mock := newSQLMock(t)
	introspector := NewIntrospector(db, "analytics")

	mock.ExpectQuery(`FROM information_schema.columns`).
		WithArgs("", "analytics").
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "column_name", "data_type", "is_nullable", "column_default", "is_primary_key"}))
	mock.ExpectQuery(`constraint_type = 'FOREIGN KEY'`).
		WithArgs("analytics").
		WillReturnRows(sqlmock.NewRows([]string{"table_schema", "table_name", "column_name", "foreign_table_schema", "foreign_table_name", "foreign_column_name"}))

	snapshot, err := introspector.Introspect(context.Background(), "")
	if err != nil {
		t.Fatalf("Introspect() error = %v", err)
	}
	if len(snapshot.Columns) != 0 || len(snapshot.ForeignKeys) != 0 {
		t.Fatalf("snapshot = %+v", snapshot)
	}
	assertSQLMock(t, mock)
}

func TestIntrospectWrapsCatalogErrors(t *testing.T) {
	db, mock := newSQLMock(t)
	introspector := NewIntrospector(db, "public")
	boom := errors.New("permission denied for schema public")

	mock.ExpectQuery(`FROM information_schema.columns`).WillReturnError(boom)

	_, err := introspector.Introspect(context.Background(), "")
	if !errors.Is(err, boom) {
		t.Fatalf("Introspect() error = %v, want wrapped %v", err, boom)
	}
	assertSQLMock(t, mock)
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

func TestColumnFragment(t *testing.T) {
	tests := []struct {
		name   string
		column Column
		want   string
	}{
		{
			name:   "primary key with default",
			column: Column{Table: "orders", Name: "id", DataType: "integer", IsNullable: "NO", Default: sql.NullString{String: "nextval('orders_id_seq'::regclass)", Valid: true}, PrimaryKey: true},
			want:   "orders id integer NO nextval('orders_id_seq'::regclass) PRIMARY KEY",
		},
		{
			name:   "null default is skipped",
			column: Column{Table: "orders", Name: "note", DataType: "text", IsNullable: "YES"},
			want:   "orders note text YES",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.column.Fragment(); got != tt.want {
				t.Fatalf("Fragment() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestForeignKeyFragment(t *testing.T) {
	fk := ForeignKey{TableSchema: "public", Table: "orders", Column: "customer_id", ForeignTableSchema: "public", ForeignTable: "customers", ForeignColumn: "id"}
	if got, want := fk.Fragment(), "public orders customer_id public customers id"; got != want {
		t.Fatalf("Fragment() = %q, want %q", got, want)
	}
}
