package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sqlscribe/sqlscribe/internal/app"
	"github.com/sqlscribe/sqlscribe/internal/config"
	"github.com/sqlscribe/sqlscribe/internal/observability"
	"github.com/sqlscribe/sqlscribe/internal/reindex"
)

func main() {
	once := flag.Bool("once", false, "run a single cycle and exit")
	projectName := flag.String("project", "", "with -once, reindex only this project")
	flag.Parse()

	cfg, err := config.LoadFromEnv("sqlscribe-reindexer")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	application, err := app.Build(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to initialize pipeline", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = application.Close() }()

	svc := &reindex.Service{
		Indexer: application.Assistant,
		Config: reindex.Config{
			Interval: cfg.Reindex.Interval,
			Projects: cfg.Reindex.Projects,
			Rebuild:  cfg.Reindex.Rebuild,
		},
		Logger: logger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *once {
		summary, err := svc.RunOnce(ctx, *projectName)
		encoded, _ := json.MarshalIndent(summary, "", "  ")
		_, _ = os.Stdout.Write(append(encoded, '\n'))
		if err != nil {
			logger.Error("reindex failed", slog.Any("error", err))
			stop()
			_ = application.Close()
			os.Exit(1)
		}
		return
	}

	logger.Info("reindex worker started", slog.Any("projects", cfg.Reindex.Projects), slog.Duration("interval", cfg.Reindex.Interval))
	if err := svc.Run(ctx); err != nil {
		logger.Error("reindex worker failed", slog.Any("error", err))
		stop()
		_ = application.Close()
		os.Exit(1)
	}
	logger.Info("reindex worker stopped")
}
