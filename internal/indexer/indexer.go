// Package indexer turns a database's catalog into fragments in a project's
// vector store.
package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/sqlscribe/sqlscribe/internal/observability"
	"github.com/sqlscribe/sqlscribe/internal/project"
	"github.com/sqlscribe/sqlscribe/internal/schema"
	"github.com/sqlscribe/sqlscribe/internal/vectorstore"
)

type IDStrategy string

const (
	// IDContentHash derives ids from fragment text, so indexing the same
	// catalog twice overwrites rather than appends.
	IDContentHash IDStrategy = "content-hash"
	// IDSequential numbers fragments "1".."n" per collection per run.
	IDSequential IDStrategy = "sequential"
)

func ParseIDStrategy(raw string) (IDStrategy, error) {
	switch IDStrategy(raw) {
	case "", IDContentHash:
		return IDContentHash, nil
	case IDSequential:
		return IDSequential, nil
	default:
		return "", fmt.Errorf("unknown id strategy %q", raw)
	}
}

type Introspector interface {
	Introspect(ctx context.Context, database string) (schema.Snapshot, error)
}

type Options struct {
	// Rebuild drops both collections before writing.
	Rebuild bool
}

type Summary struct {
	ProjectName           string `json:"project_name"`
	SchemaFragments       int    `json:"schema_fragments"`
	RelationshipFragments int    `json:"relationship_fragments"`
	SchemaTotal           int    `json:"schema_total"`
	RelationshipTotal     int    `json:"relationship_total"`
	Rebuilt               bool   `json:"rebuilt"`
	DurationMs            int64  `json:"duration_ms"`
}

type Service struct {
	Introspector Introspector
	Stores       vectorstore.Provider
	// Database is passed to the introspector; empty means the current one.
	Database   string
	IDStrategy IDStrategy
	Logger     *slog.Logger
	Clock      func() time.Time
}

func (s *Service) Index(ctx context.Context, p project.Project, opts Options) (summary Summary, err error) {
	s.ensureDefaults()
	if s.Introspector == nil {
		return Summary{}, fmt.Errorf("introspector is required")
	}
	if s.Stores == nil {
		return Summary{}, fmt.Errorf("vector store provider is required")
	}

	start := s.Clock()
	summary = Summary{ProjectName: p.Name, Rebuilt: opts.Rebuild}
	defer func() {
		summary.DurationMs = s.Clock().Sub(start).Milliseconds()
		outcome := "success"
		if err != nil {
			outcome = "error"
		}
		observability.ObserveIndexRun(outcome, summary.SchemaFragments, summary.RelationshipFragments)
		observability.ObservePipelineStage("index", outcome, s.Clock().Sub(start))
	}()

	snapshot, err := s.Introspector.Introspect(ctx, s.Database)
	if err != nil {
		return summary, fmt.Errorf("introspect schema: %w", err)
	}
	schemaDocs := s.documents(vectorstore.SchemaCollection, columnFragments(snapshot.Columns), "column")
	relationshipDocs := s.documents(vectorstore.RelationshipCollection, foreignKeyFragments(snapshot.ForeignKeys), "foreign_key")
	if len(schemaDocs) == 0 {
		s.Logger.WarnContext(ctx, "catalog returned no columns", slog.String("project", p.Name), slog.String("database", s.Database))
	}

	store, err := s.Stores.Open(ctx, p, vectorstore.ReadWrite)
	if err != nil {
		return summary, fmt.Errorf("open store for %q: %w", p.Name, err)
	}
	defer func() {
		if closeErr := store.Close(ctx); closeErr != nil && err == nil {
			err = fmt.Errorf("close store for %q: %w", p.Name, closeErr)
		}
	}()

	for _, batch := range []struct {
		collection string
		docs       []vectorstore.Document
		written    *int
		total      *int
	}{
		{vectorstore.SchemaCollection, schemaDocs, &summary.SchemaFragments, &summary.SchemaTotal},
		{vectorstore.RelationshipCollection, relationshipDocs, &summary.RelationshipFragments, &summary.RelationshipTotal},
	} {
		if opts.Rebuild {
			if err := store.DeleteCollection(ctx, batch.collection); err != nil {
				return summary, fmt.Errorf("clear collection %s: %w", batch.collection, err)
			}
		}
		if err := store.CreateCollection(ctx, batch.collection); err != nil {
			return summary, fmt.Errorf("create collection %s: %w", batch.collection, err)
		}
		if err := store.AddDocuments(ctx, batch.collection, batch.docs); err != nil {
			return summary, fmt.Errorf("add documents to %s: %w", batch.collection, err)
		}
		*batch.written = len(batch.docs)

		info, err := store.GetCollection(ctx, batch.collection)
		if err != nil {
			return summary, fmt.Errorf("count collection %s: %w", batch.collection, err)
		}
		*batch.total = info.Count
	}

	s.Logger.InfoContext(ctx, "project indexed",
		observability.TraceAttr(ctx),
		slog.String("project", p.Name),
		slog.String("namespace", p.Namespace),
		slog.Int("schema_fragments", summary.SchemaFragments),
		slog.Int("relationship_fragments", summary.RelationshipFragments),
		slog.Int("schema_total", summary.SchemaTotal),
		slog.Int("relationship_total", summary.RelationshipTotal),
		slog.Bool("rebuilt", opts.Rebuild),
	)
	return summary, nil
}

func (s *Service) documents(collection string, fragments []fragment, kind string) []vectorstore.Document {
	docs := make([]vectorstore.Document, 0, len(fragments))
	seen := make(map[string]struct{}, len(fragments))
	for i, f := range fragments {
		id := strconv.Itoa(i + 1)
		if s.IDStrategy == IDContentHash {
			id = ContentID(collection, f.text)
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		metadata := map[string]string{"kind": kind}
		for k, v := range f.metadata {
			metadata[k] = v
		}
		docs = append(docs, vectorstore.Document{ID: id, Content: f.text, Metadata: metadata})
	}
	return docs
}

// ContentID is the stable id of text within collection.
func ContentID(collection, text string) string {
	sum := sha256.Sum256([]byte(collection + "\x00" + text))
	return hex.EncodeToString(sum[:16])
}

type fragment struct {
	text     string
	metadata map[string]string
}

func columnFragments(columns []schema.Column) []fragment {
	out := make([]fragment, 0, len(columns))
	for _, column := range columns {
		out = append(out, fragment{
			text:     column.Fragment(),
			metadata: map[string]string{"table": column.Table, "column": column.Name},
		})
	}
	return out
}

func foreignKeyFragments(keys []schema.ForeignKey) []fragment {
	out := make([]fragment, 0, len(keys))
	for _, fk := range keys {
		out = append(out, fragment{
			text: fk.Fragment(),
			metadata: map[string]string{
				"table":          fk.Table,
				"column":         fk.Column,
				"foreign_table":  fk.ForeignTable,
				"foreign_column": fk.ForeignColumn,
			},
		})
	}
	return out
}

func (s *Service) ensureDefaults() {
	if s.IDStrategy == "" {
		s.IDStrategy = IDContentHash
	}
	if s.Logger == nil {
		s.Logger = observability.DiscardLogger()
	}
	if s.Clock == nil {
		s.Clock = time.Now
	}
}
