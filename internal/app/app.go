// Package app assembles the question pipeline from configuration. The API,
// MCP and reindex binaries share it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sqlscribe/sqlscribe/internal/api"
	"github.com/sqlscribe/sqlscribe/internal/assistant"
	"github.com/sqlscribe/sqlscribe/internal/config"
	"github.com/sqlscribe/sqlscribe/internal/database"
	"github.com/sqlscribe/sqlscribe/internal/history"
	"github.com/sqlscribe/sqlscribe/internal/indexer"
	"github.com/sqlscribe/sqlscribe/internal/nl2sql"
	"github.com/sqlscribe/sqlscribe/internal/observability"
	"github.com/sqlscribe/sqlscribe/internal/prompt"
	"github.com/sqlscribe/sqlscribe/internal/query"
	"github.com/sqlscribe/sqlscribe/internal/retrieval"
	"github.com/sqlscribe/sqlscribe/internal/schema"
	s3store "github.com/sqlscribe/sqlscribe/internal/storage/s3"
	"github.com/sqlscribe/sqlscribe/internal/vectorstore"
	"github.com/sqlscribe/sqlscribe/internal/vectorstore/pgvector"
)

type App struct {
	Config    config.Config
	Target    *sql.DB
	Stores    vectorstore.Provider
	History   history.Store
	Assistant *assistant.Service

	storeRoot    string
	vectorPool   *pgxpool.Pool
	closeHistory func() error
}

// Build opens every dependency named by cfg. On error whatever was already
// opened is closed.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *App, err error) {
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.Target, err = database.Open(ctx, database.ConfigFromTarget(cfg.Target))
	if err != nil {
		return nil, fmt.Errorf("open target database: %w", err)
	}
	logger.InfoContext(ctx, "target database opened",
		slog.String("driver", cfg.Target.Driver),
		slog.String("dsn", cfg.Target.DSN),
		slog.String("schema", cfg.Target.Schema),
	)

	embed, err := vectorstore.NewEmbeddingFunc(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}
	if err := a.openStores(ctx, cfg, embed, logger); err != nil {
		return nil, err
	}

	generator, err := nl2sql.New(cfg.AI, logger)
	if err != nil {
		return nil, fmt.Errorf("generator: %w", err)
	}

	store, err := history.Open(ctx, cfg.History, logger)
	if err != nil {
		return nil, fmt.Errorf("history store: %w", err)
	}
	a.History = store
	a.closeHistory = store.Close

	idStrategy, err := indexer.ParseIDStrategy(cfg.Pipeline.IDStrategy)
	if err != nil {
		return nil, err
	}

	a.Assistant = assistant.NewService(assistant.Options{
		Retriever: retrieval.NewRetriever(a.Stores, cfg.Pipeline.TopK, logger),
		Composer:  prompt.NewComposer(cfg.Pipeline.Dialect, cfg.Pipeline.MaxPromptChars, logger),
		Generator: generator,
		Executor: query.NewExecutor(a.Target, query.Options{
			MaxRows:    cfg.Pipeline.MaxRows,
			Timeout:    cfg.Pipeline.ExecutionTimeout,
			ReadOnlyTx: database.SupportsReadOnlyTx(cfg.Target.Driver),
			Logger:     logger,
		}),
		Indexer: &indexer.Service{
			Introspector: schema.NewIntrospector(a.Target, cfg.Target.Schema),
			Stores:       a.Stores,
			Database:     cfg.Target.Database,
			IDStrategy:   idStrategy,
			Logger:       logger,
		},
		History:          store,
		DefaultProject:   cfg.Pipeline.DefaultProject,
		RetrievalTimeout: cfg.Pipeline.RetrievalTimeout,
		IndexTimeout:     cfg.Pipeline.IndexTimeout,
		HistoryTimeout:   cfg.Pipeline.HistoryTimeout,
		Logger:           logger,
	})
	return a, nil
}

func (a *App) openStores(ctx context.Context, cfg config.Config, embed vectorstore.EmbeddingFunc, logger *slog.Logger) error {
	switch cfg.VectorStore.Backend {
	case "pgvector":
		pool, err := pgvector.Connect(ctx, cfg.VectorStore.DSN)
		if err != nil {
			return fmt.Errorf("vector store: %w", err)
		}
		a.vectorPool = pool
		provider, err := pgvector.NewProvider(pool, embed)
		if err != nil {
			return fmt.Errorf("vector store: %w", err)
		}
		if err := provider.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("vector store schema: %w", err)
		}
		a.Stores = provider
		return nil
	default:
		var archive *vectorstore.Archive
		if cfg.Archive.Enabled {
			objects, err := s3store.New(ctx, s3store.ConfigFromArchive(cfg.Archive))
			if err != nil {
				return fmt.Errorf("store archive: %w", err)
			}
			archive, err = vectorstore.NewArchive(objects)
			if err != nil {
				return fmt.Errorf("store archive: %w", err)
			}
		}
		provider, err := vectorstore.NewChromemProvider(vectorstore.ChromemConfig{
			Root:     cfg.VectorStore.Root,
			Compress: cfg.VectorStore.Compress,
			Embed:    embed,
			Archive:  archive,
			Logger:   logger,
		})
		if err != nil {
			return fmt.Errorf("vector store: %w", err)
		}
		a.storeRoot = provider.Root()
		a.Stores = provider
		return nil
	}
}

// Readiness pings the target database, the history store and the vector
// store backend.
func (a *App) Readiness() api.ReadinessCheck {
	checks := []api.ReadinessCheck{
		api.Ping("target database", a.Target.PingContext),
		api.Ping("history store", a.History.Ping),
	}
	if a.vectorPool != nil {
		checks = append(checks, api.Ping("vector store", a.vectorPool.Ping))
	} else {
		checks = append(checks, api.Ping("vector store root", a.checkStoreRoot))
	}
	return api.CombineReadinessChecks(checks...)
}

func (a *App) checkStoreRoot(context.Context) error {
	return os.MkdirAll(a.storeRoot, 0o755)
}

func (a *App) Close() error {
	var errs []error
	if a.closeHistory != nil {
		errs = append(errs, a.closeHistory())
	}
	if a.vectorPool != nil {
		a.vectorPool.Close()
	}
	if a.Target != nil {
		errs = append(errs, a.Target.Close())
	}
	return errors.Join(errs...)
}
