package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sqlscribe/sqlscribe/internal/app"
	"github.com/sqlscribe/sqlscribe/internal/config"
	"github.com/sqlscribe/sqlscribe/internal/mcpserver"
	"github.com/sqlscribe/sqlscribe/internal/observability"
)

func main() {
	cfg, err := config.LoadFromEnv("sqlscribe-mcp")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	// stdout carries the protocol.
	logger := observability.NewLogger(cfg, os.Stderr)
	application, err := app.Build(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to initialize pipeline", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = application.Close() }()

	server, err := mcpserver.New(application.Assistant, logger)
	if err != nil {
		logger.Error("failed to initialize mcp server", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("mcp server started on stdio")
	if err := server.RunStdio(ctx); err != nil && ctx.Err() == nil {
		logger.Error("mcp server failed", slog.Any("error", err))
		stop()
		_ = application.Close()
		os.Exit(1)
	}
}
