package prompt

import (
	"context"
	"reflect"
	"strings"
	"testing"
)

func TestComposeOrdersSections(t *testing.T) {
	composer := NewComposer("", 0, nil)
	got := composer.Compose(context.Background(), Input{
		Query: "how many orders did each customer place?",
		Schema: []string{
			"orders id integer NO nextval('orders_id_seq'::regclass) PRIMARY KEY",
			"orders customer_id integer NO",
		},
		Relationships: []string{"public orders customer_id public customers id"},
	})

	if !strings.HasPrefix(got.Text, "You are an expert PostgreSQL database developer.") {
		t.Fatalf("unexpected preamble: %q", got.Text)
	}
	order := []string{
		primaryKeysHeading,
		"Table: orders - Primary Key: id",
		schemaHeading,
		"orders customer_id integer NO",
		relationshipsHeading,
		"public orders customer_id public customers id",
		queryHeading,
		"how many orders did each customer place?",
		"Do not execute it, just provide the query.",
	}
	last := -1
	for _, part := range order {
		idx := strings.Index(got.Text, part)
		if idx < 0 {
			t.Fatalf("prompt is missing %q:\n%s", part, got.Text)
		}
		if idx <= last {
			t.Fatalf("%q is out of order:\n%s", part, got.Text)
		}
		last = idx
	}
	if !reflect.DeepEqual(got.PrimaryKeys, []PrimaryKey{{Table: "orders", Column: "id"}}) {
		t.Fatalf("PrimaryKeys = %+v", got.PrimaryKeys)
	}
}

func TestComposeKeepsEmptySections(t *testing.T) {
	query := "list every widget"
	got := NewComposer("", 0, nil).Compose(context.Background(), Input{Query: query})

	for _, heading := range []string{primaryKeysHeading, schemaHeading, relationshipsHeading, queryHeading} {
		if strings.Count(got.Text, heading) != 1 {
			t.Fatalf("heading %q should appear once:\n%s", heading, got.Text)
		}
	}
	if strings.Count(got.Text, query) != 1 {
		t.Fatalf("query should appear verbatim once:\n%s", got.Text)
	}
	if !strings.Contains(got.Text, schemaHeading+"\n\n\n"+relationshipsHeading) {
		t.Fatalf("empty schema section should have an empty body:\n%s", got.Text)
	}
	if len(got.PrimaryKeys) != 0 {
		t.Fatalf("PrimaryKeys = %+v", got.PrimaryKeys)
	}
}

func TestComposeUsesDialect(t *testing.T) {
	got := NewComposer("DuckDB", 0, nil).Compose(context.Background(), Input{Query: "q"})
	if !strings.HasPrefix(got.Text, "You are an expert DuckDB database developer.") {
		t.Fatalf("unexpected preamble: %q", got.Text)
	}
}

func TestComposeFlagsSoftBudget(t *testing.T) {
	in := Input{Query: "q", Schema: []string{strings.Repeat("wide_table col text YES ", 20)}}

	over := NewComposer("", 100, nil).Compose(context.Background(), in)
	if !over.OverBudget || over.Chars <= 100 {
		t.Fatalf("OverBudget = %v, Chars = %d", over.OverBudget, over.Chars)
	}
	if !strings.Contains(over.Text, in.Schema[0]) {
		t.Fatal("context must not be truncated")
	}

	unlimited := NewComposer("", 0, nil).Compose(context.Background(), in)
	if unlimited.OverBudget {
		t.Fatal("zero budget should never flag")
	}
}

func TestPrimaryKeyHints(t *testing.T) {
	got := PrimaryKeyHints([]string{
		"customers id integer NO PRIMARY KEY",
		"customers id integer NO PRIMARY KEY",
		"customers name text YES",
		"PRIMARY KEY",
		"line_items order_id integer NO PRIMARY KEY",
	})
	want := []PrimaryKey{
		{Table: "customers", Column: "id"},
		{Table: "line_items", Column: "order_id"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("PrimaryKeyHints() = %+v, want %+v", got, want)
	}
}
