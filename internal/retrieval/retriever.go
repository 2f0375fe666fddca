// Package retrieval finds the schema and relationship fragments closest to a
// question.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sqlscribe/sqlscribe/internal/observability"
	"github.com/sqlscribe/sqlscribe/internal/project"
	"github.com/sqlscribe/sqlscribe/internal/vectorstore"
)

const DefaultTopK = 10

type Fragment struct {
	ID         string            `json:"id"`
	Text       string            `json:"text"`
	Rank       int               `json:"rank"`
	Similarity float32           `json:"similarity"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Result holds both fragment lists, most similar first.
type Result struct {
	Schema        []Fragment `json:"schema"`
	Relationships []Fragment `json:"relationships"`
}

type Retriever struct {
	stores vectorstore.Provider
	topK   int
	logger *slog.Logger
}

func NewRetriever(stores vectorstore.Provider, topK int, logger *slog.Logger) *Retriever {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	return &Retriever{stores: stores, topK: topK, logger: logger}
}

// Retrieve queries both collections of p's store. A project that was never
// indexed, or lacks either collection, fails with
// vectorstore.ErrStoreUnavailable.
func (r *Retriever) Retrieve(ctx context.Context, p project.Project, query string) (Result, error) {
	start := time.Now()
	result, err := r.retrieve(ctx, p, query)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	observability.ObservePipelineStage("retrieve", outcome, time.Since(start))
	return result, err
}

func (r *Retriever) retrieve(ctx context.Context, p project.Project, query string) (Result, error) {
	store, err := r.stores.Open(ctx, p, vectorstore.ReadOnly)
	if err != nil {
		return Result{}, err
	}
	defer func() {
		if err := store.Close(ctx); err != nil {
			r.logger.WarnContext(ctx, "close store failed", slog.String("project", p.Name), slog.Any("error", err))
		}
	}()

	for _, name := range []string{vectorstore.SchemaCollection, vectorstore.RelationshipCollection} {
		if _, err := store.GetCollection(ctx, name); err != nil {
			return Result{}, fmt.Errorf("project %q: %w", p.Name, err)
		}
	}

	schemaMatches, err := store.Query(ctx, vectorstore.SchemaCollection, query, r.topK)
	if err != nil {
		return Result{}, fmt.Errorf("query schema fragments: %w", err)
	}
	relationshipMatches, err := store.Query(ctx, vectorstore.RelationshipCollection, query, r.topK)
	if err != nil {
		return Result{}, fmt.Errorf("query relationship fragments: %w", err)
	}

	result := Result{
		Schema:        toFragments(schemaMatches),
		Relationships: toFragments(relationshipMatches),
	}
	r.logger.DebugContext(ctx, "fragments retrieved",
		observability.TraceAttr(ctx),
		slog.String("project", p.Name),
		slog.Int("schema", len(result.Schema)),
		slog.Int("relationships", len(result.Relationships)),
	)
	return result, nil
}

func toFragments(matches []vectorstore.Match) []Fragment {
	fragments := make([]Fragment, 0, len(matches))
	for i, match := range matches {
		fragments = append(fragments, Fragment{
			ID:         match.ID,
			Text:       match.Content,
			Rank:       i + 1,
			Similarity: match.Similarity,
			Metadata:   match.Metadata,
		})
	}
	return fragments
}

// Texts returns the fragment texts in rank order.
func Texts(fragments []Fragment) []string {
	texts := make([]string, 0, len(fragments))
	for _, fragment := range fragments {
		texts = append(texts, fragment.Text)
	}
	return texts
}
