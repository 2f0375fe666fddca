package vectorstore

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/sqlscribe/sqlscribe/internal/config"
)

// EmbeddingFunc turns text into a vector. Implementations must be safe for
// concurrent use.
type EmbeddingFunc func(ctx context.Context, text string) ([]float32, error)

func NewEmbeddingFunc(cfg config.EmbeddingConfig) (EmbeddingFunc, error) {
	switch cfg.Provider {
	case "hash":
		return HashEmbedding(cfg.Dimensions), nil
	case "openai":
		llm, err := openai.New(
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithToken(strings.TrimPrefix(cfg.APIKey, "Bearer ")),
			openai.WithEmbeddingModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai embedding client: %w", err)
		}
		return newLangChainEmbedding(llm)
	case "ollama":
		llm, err := ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama embedding client: %w", err)
		}
		return newLangChainEmbedding(llm)
	default:
		return nil, fmt.Errorf("unsupported embedding provider %q", cfg.Provider)
	}
}

func newLangChainEmbedding(client embeddings.EmbedderClient) (EmbeddingFunc, error) {
	embedder, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	return func(ctx context.Context, text string) ([]float32, error) {
		vector, err := embedder.EmbedQuery(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed text: %w", err)
		}
		return vector, nil
	}, nil
}

// HashEmbedding is a deterministic bag-of-words embedding that needs no
// model. Identifiers are split on underscores and a trailing plural "s" is
// folded, so "customer_orders" lands near "orders of a customer".
func HashEmbedding(dimensions int) EmbeddingFunc {
	if dimensions < 2 {
		dimensions = 2
	}
	return func(_ context.Context, text string) ([]float32, error) {
		vector := make([]float32, dimensions)
		// The last slot keeps empty input away from the zero vector.
		vector[dimensions-1] = 0.01
		for _, term := range hashTerms(text) {
			h := fnv.New64a()
			_, _ = h.Write([]byte(term))
			sum := h.Sum64()
			index := int(sum % uint64(dimensions-1))
			if sum&(1<<63) != 0 {
				vector[index] -= 1
			} else {
				vector[index] += 1
			}
		}
		normalize(vector)
		return vector, nil
	}
}

func hashTerms(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	terms := make([]string, 0, len(words)*2)
	for _, word := range words {
		parts := strings.Split(word, "_")
		if len(parts) > 1 {
			terms = append(terms, word)
		}
		for _, part := range parts {
			if part == "" {
				continue
			}
			if len(part) > 3 && strings.HasSuffix(part, "s") && !strings.HasSuffix(part, "ss") {
				part = strings.TrimSuffix(part, "s")
			}
			terms = append(terms, part)
		}
	}
	return terms
}

func normalize(vector []float32) {
	var norm float64
	for _, v := range vector {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vector {
		vector[i] *= scale
	}
}
