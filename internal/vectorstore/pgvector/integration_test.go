//go:build integration

package pgvector

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/sqlscribe/sqlscribe/internal/project"
	"github.com/sqlscribe/sqlscribe/internal/vectorstore"
)

func TestProviderRoundTripAgainstPostgres(t *testing.T) {
	dsn := os.Getenv("SQLSCRIBE_TEST_PGVECTOR_DSN")
	if dsn == "" {
		t.Skip("SQLSCRIBE_TEST_PGVECTOR_DSN is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := Connect(ctx, dsn)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer pool.Close()

	provider, err := NewProvider(pool, vectorstore.HashEmbedding(64))
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	if err := provider.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}

	proj, err := project.Resolve("it-" + time.Now().UTC().Format("20060102150405.000000"))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if _, err := provider.Open(ctx, proj, vectorstore.ReadOnly); !errors.Is(err, vectorstore.ErrStoreUnavailable) {
		t.Fatalf("Open(unindexed) error = %v", err)
	}

	writer, err := provider.Open(ctx, proj, vectorstore.ReadWrite)
	if err != nil {
		t.Fatalf("Open(write) error = %v", err)
	}
	if err := writer.CreateCollection(ctx, vectorstore.SchemaCollection); err != nil {
		t.Fatalf("CreateCollection() error = %v", err)
	}
	docs := []vectorstore.Document{
		{ID: "1", Content: "orders id integer NO PRIMARY KEY"},
		{ID: "2", Content: "invoices total numeric NO"},
	}
	if err := writer.AddDocuments(ctx, vectorstore.SchemaCollection, docs); err != nil {
		t.Fatalf("AddDocuments() error = %v", err)
	}
	if err := writer.AddDocuments(ctx, vectorstore.SchemaCollection, docs[:1]); err != nil {
		t.Fatalf("AddDocuments(upsert) error = %v", err)
	}
	_ = writer.Close(ctx)

	reader, err := provider.Open(ctx, proj, vectorstore.ReadOnly)
	if err != nil {
		t.Fatalf("Open(read) error = %v", err)
	}
	info, err := reader.GetCollection(ctx, vectorstore.SchemaCollection)
	if err != nil || info.Count != 2 {
		t.Fatalf("GetCollection() = %+v, %v", info, err)
	}
	matches, err := reader.Query(ctx, vectorstore.SchemaCollection, "invoice total", 10)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(matches) != 2 || matches[0].ID != "2" {
		t.Fatalf("matches = %+v", matches)
	}

	rebuild, err := provider.Open(ctx, proj, vectorstore.ReadWrite)
	if err != nil {
		t.Fatalf("Open(rebuild) error = %v", err)
	}
	if err := rebuild.DeleteCollection(ctx, vectorstore.SchemaCollection); err != nil {
		t.Fatalf("DeleteCollection() error = %v", err)
	}
	if info, err := reader.GetCollection(ctx, vectorstore.SchemaCollection); err != nil || info.Count != 2 {
		t.Fatalf("reader during rebuild = %+v, %v", info, err)
	}
	if err := rebuild.CreateCollection(ctx, vectorstore.SchemaCollection); err != nil {
		t.Fatalf("CreateCollection() error = %v", err)
	}
	if err := rebuild.AddDocuments(ctx, vectorstore.SchemaCollection, docs[1:]); err != nil {
		t.Fatalf("AddDocuments(rebuild) error = %v", err)
	}
	if err := rebuild.Close(ctx); err != nil {
		t.Fatalf("Close(rebuild) error = %v", err)
	}
	if info, err := reader.GetCollection(ctx, vectorstore.SchemaCollection); err != nil || info.Count != 1 {
		t.Fatalf("reader after rebuild = %+v, %v", info, err)
	}
}
