// Package pgvector stores project fragments in PostgreSQL using the
// pgvector extension.
package pgvector

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgv "github.com/pgvector/pgvector-go"

	"github.com/sqlscribe/sqlscribe/internal/project"
	"github.com/sqlscribe/sqlscribe/internal/vectorstore"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type writeTx interface {
	querier
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Connect opens a pgx pool and pings it.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse vector store dsn: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute

	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create vector store pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := p.Ping(pingCtx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping vector store: %w", err)
	}
	return p, nil
}

// Provider hands out project stores. A ReadWrite handle is one transaction
// holding the namespace's advisory lock until Close, so writers of a
// project are serialized and readers see either the old or the new
// collections, never a rebuild in progress.
type Provider struct {
	db    querier
	begin func(ctx context.Context) (writeTx, error)
	embed vectorstore.EmbeddingFunc
}

func NewProvider(db *pgxpool.Pool, embed vectorstore.EmbeddingFunc) (*Provider, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if embed == nil {
		return nil, fmt.Errorf("embedding function is required")
	}
	begin := func(ctx context.Context) (writeTx, error) { return db.Begin(ctx) }
	return &Provider{db: db, begin: begin, embed: embed}, nil
}

var schemaStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS vector`,
	`CREATE TABLE IF NOT EXISTS sqlscribe_collections (
	namespace TEXT NOT NULL,
	name TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (namespace, name)
)`,
	`CREATE TABLE IF NOT EXISTS sqlscribe_fragments (
	namespace TEXT NOT NULL,
	collection TEXT NOT NULL,
	id TEXT NOT NULL,
	content TEXT NOT NULL,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	embedding vector NOT NULL,
	PRIMARY KEY (namespace, collection, id),
	FOREIGN KEY (namespace, collection) REFERENCES sqlscribe_collections (namespace, name) ON DELETE CASCADE
)`,
}

func (p *Provider) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := p.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure vector store schema: %w", err)
		}
	}
	return nil
}

func (p *Provider) Open(ctx context.Context, proj project.Project, mode vectorstore.Mode) (vectorstore.Store, error) {
	if proj.Namespace == "" {
		return nil, fmt.Errorf("%w: project %q has no namespace", vectorstore.ErrStoreUnavailable, proj.Name)
	}
	if mode == vectorstore.ReadWrite {
		return p.openWriter(ctx, proj)
	}
	var exists bool
	if err := p.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM sqlscribe_collections WHERE namespace = $1)`, proj.Namespace).Scan(&exists); err != nil {
		return nil, fmt.Errorf("%w: check project %q: %v", vectorstore.ErrStoreUnavailable, proj.Name, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: project %q has not been indexed", vectorstore.ErrStoreUnavailable, proj.Name)
	}
	return &store{db: p.db, embed: p.embed, namespace: proj.Namespace, mode: mode}, nil
}

func (p *Provider) openWriter(ctx context.Context, proj project.Project) (vectorstore.Store, error) {
	tx, err := p.begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: begin write for project %q: %v", vectorstore.ErrStoreUnavailable, proj.Name, err)
	}
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, proj.Namespace); err != nil {
		_ = tx.Rollback(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("lock project %q: %w", proj.Name, err)
	}
	return &store{db: tx, tx: tx, embed: p.embed, namespace: proj.Namespace, mode: vectorstore.ReadWrite}, nil
}

// store is a project handle. tx is set for write handles only; failed
// records a write error so Close rolls back.
type store struct {
	db        querier
	tx        writeTx
	embed     vectorstore.EmbeddingFunc
	namespace string
	mode      vectorstore.Mode
	closed    bool
	failed    bool
}

func (s *store) CreateCollection(ctx context.Context, name string) error {
	if err := s.writable(); err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, `
INSERT INTO sqlscribe_collections (namespace, name)
VALUES ($1, $2)
ON CONFLICT (namespace, name) DO NOTHING`, s.namespace, name); err != nil {
		return s.fail(fmt.Errorf("create collection %q: %w", name, err))
	}
	return nil
}

func (s *store) GetCollection(ctx context.Context, name string) (vectorstore.CollectionInfo, error) {
	if s.closed {
		return vectorstore.CollectionInfo{}, vectorstore.ErrClosed
	}
	var count int
	err := s.db.QueryRow(ctx, `
SELECT (SELECT count(*) FROM sqlscribe_fragments f WHERE f.namespace = c.namespace AND f.collection = c.name)
FROM sqlscribe_collections c
WHERE c.namespace = $1 AND c.name = $2`, s.namespace, name).Scan(&count)
	if err != nil {
		if err == pgx.ErrNoRows {
			return vectorstore.CollectionInfo{}, fmt.Errorf("%w: %s", vectorstore.ErrCollectionNotFound, name)
		}
		return vectorstore.CollectionInfo{}, fmt.Errorf("get collection %q: %w", name, err)
	}
	return vectorstore.CollectionInfo{Name: name, Count: count}, nil
}

func (s *store) ListCollections(ctx context.Context) ([]vectorstore.CollectionInfo, error) {
	if s.closed {
		return nil, vectorstore.ErrClosed
	}
	rows, err := s.db.Query(ctx, `
SELECT c.name, count(f.id)
FROM sqlscribe_collections c
LEFT JOIN sqlscribe_fragments f ON f.namespace = c.namespace AND f.collection = c.name
WHERE c.namespace = $1
GROUP BY c.name
ORDER BY c.name`, s.namespace)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()

	infos := make([]vectorstore.CollectionInfo, 0)
	for rows.Next() {
		var info vectorstore.CollectionInfo
		if err := rows.Scan(&info.Name, &info.Count); err != nil {
			return nil, fmt.Errorf("scan collection row: %w", err)
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

func (s *store) AddDocuments(ctx context.Context, name string, docs []vectorstore.Document) error {
	if err := s.writable(); err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}
	if _, err := s.GetCollection(ctx, name); err != nil {
		return s.fail(err)
	}

	batch := &pgx.Batch{}
	for _, doc := range docs {
		vector, err := s.embed(ctx, doc.Content)
		if err != nil {
			return s.fail(fmt.Errorf("embed document %q: %w", doc.ID, err))
		}
		batch.Queue(`
INSERT INTO sqlscribe_fragments (namespace, collection, id, content, metadata, embedding)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (namespace, collection, id)
DO UPDATE SET content = EXCLUDED.content, metadata = EXCLUDED.metadata, embedding = EXCLUDED.embedding`,
			s.namespace, name, doc.ID, doc.Content, metadataOrEmpty(doc.Metadata), pgv.NewVector(vector),
		)
	}
	results := s.db.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()
	for i := range docs {
		if _, err := results.Exec(); err != nil {
			return s.fail(fmt.Errorf("upsert document %q: %w", docs[i].ID, err))
		}
	}
	return nil
}

func (s *store) Query(ctx context.Context, name, text string, topK int) ([]vectorstore.Match, error) {
	if s.closed {
		return nil, vectorstore.ErrClosed
	}
	if _, err := s.GetCollection(ctx, name); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return []vectorstore.Match{}, nil
	}
	vector, err := s.embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	rows, err := s.db.Query(ctx, `
SELECT id, content, metadata, 1 - (embedding <=> $3) AS similarity
FROM sqlscribe_fragments
WHERE namespace = $1 AND collection = $2
ORDER BY embedding <=> $3
LIMIT $4`, s.namespace, name, pgv.NewVector(vector), topK)
	if err != nil {
		return nil, fmt.Errorf("query collection %q: %w", name, err)
	}
	defer rows.Close()

	matches := make([]vectorstore.Match, 0, topK)
	for rows.Next() {
		var (
			match      vectorstore.Match
			similarity float64
		)
		if err := rows.Scan(&match.ID, &match.Content, &match.Metadata, &similarity); err != nil {
			return nil, fmt.Errorf("scan match row: %w", err)
		}
		match.Similarity = float32(similarity)
		matches = append(matches, match)
	}
	return matches, rows.Err()
}

func (s *store) DeleteCollection(ctx context.Context, name string) error {
	if err := s.writable(); err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, `DELETE FROM sqlscribe_collections WHERE namespace = $1 AND name = $2`, s.namespace, name); err != nil {
		return s.fail(fmt.Errorf("delete collection %q: %w", name, err))
	}
	return nil
}

// Close ends the handle. A write handle commits, or rolls back when one of
// its writes failed. The pool is owned by the caller.
func (s *store) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.tx == nil {
		return nil
	}
	if s.failed {
		_ = s.tx.Rollback(context.WithoutCancel(ctx))
		return nil
	}
	if err := s.tx.Commit(ctx); err != nil {
		_ = s.tx.Rollback(context.WithoutCancel(ctx))
		return fmt.Errorf("commit project store: %w", err)
	}
	return nil
}

func (s *store) fail(err error) error {
	s.failed = true
	return err
}

func (s *store) writable() error {
	if s.closed {
		return vectorstore.ErrClosed
	}
	if s.mode != vectorstore.ReadWrite {
		return vectorstore.ErrReadOnly
	}
	return nil
}

func metadataOrEmpty(metadata map[string]string) map[string]string {
	if metadata == nil {
		return map[string]string{}
	}
	return metadata
}
