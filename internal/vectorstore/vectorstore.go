// Package vectorstore keeps one semantic store per project and answers
// similarity queries against it.
package vectorstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/sqlscribe/sqlscribe/internal/project"
)

const (
	SchemaCollection       = "schema_embeddings"
	RelationshipCollection = "relationship_embeddings"
)

var (
	ErrStoreUnavailable   = errors.New("vectorstore: store unavailable")
	ErrCollectionNotFound = fmt.Errorf("%w: collection not found", ErrStoreUnavailable)
	ErrReadOnly           = errors.New("vectorstore: store opened read-only")
	ErrClosed             = errors.New("vectorstore: store closed")
)

type Mode int

const (
	ReadOnly Mode = iota
	ReadWrite
)

func (m Mode) String() string {
	if m == ReadWrite {
		return "read_write"
	}
	return "read_only"
}

type Document struct {
	ID       string
	Content  string
	Metadata map[string]string
}

// Match is a query hit, most similar first.
type Match struct {
	ID         string
	Content    string
	Metadata   map[string]string
	Similarity float32
}

type CollectionInfo struct {
	Name  string
	Count int
}

// Store is a handle on one project's store. Handles are opened per
// operation and must be closed.
type Store interface {
	CreateCollection(ctx context.Context, name string) error
	GetCollection(ctx context.Context, name string) (CollectionInfo, error)
	ListCollections(ctx context.Context) ([]CollectionInfo, error)
	// AddDocuments upserts by document ID.
	AddDocuments(ctx context.Context, collection string, docs []Document) error
	Query(ctx context.Context, collection, text string, topK int) ([]Match, error)
	DeleteCollection(ctx context.Context, name string) error
	Close(ctx context.Context) error
}

type Provider interface {
	// Open returns a handle on p's store. Opening a store that was never
	// written in ReadOnly mode fails with ErrStoreUnavailable.
	Open(ctx context.Context, p project.Project, mode Mode) (Store, error)
}
