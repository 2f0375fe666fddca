package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sqlscribe/sqlscribe/internal/api"
	"github.com/sqlscribe/sqlscribe/internal/api/uistatic"
	"github.com/sqlscribe/sqlscribe/internal/app"
	"github.com/sqlscribe/sqlscribe/internal/auth"
	"github.com/sqlscribe/sqlscribe/internal/config"
	"github.com/sqlscribe/sqlscribe/internal/mcpserver"
	"github.com/sqlscribe/sqlscribe/internal/observability"
)

func main() {
	cfg, err := config.LoadFromEnv("sqlscribe-api")
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
	defer func() {
		if err := application.Close(); err != nil {
			logger.Error("failed to close dependencies", slog.Any("error", err))
		}
	}()

	deps := api.Dependencies{
		Logger:            logger,
		Assistant:         application.Assistant,
		UI:                uistatic.Handler(),
		Readiness:         application.Readiness(),
		DependencyTimeout: 2 * time.Second,
	}
	if cfg.MCP.Enabled {
		mcpServer, err := mcpserver.New(application.Assistant, logger)
		if err != nil {
			logger.Error("failed to initialize mcp server", slog.Any("error", err))
			os.Exit(1)
		}
		deps.MCP = mcpServer.HTTPHandler()
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("target_driver", cfg.Target.Driver),
			slog.String("vector_store", cfg.VectorStore.Backend),
			slog.String("history", cfg.History.Backend),
			slog.Bool("mcp", cfg.MCP.Enabled),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
	}
}
