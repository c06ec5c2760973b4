package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/shotam27/souchiJohoKanri/internal/config"
	"github.com/shotam27/souchiJohoKanri/internal/core"
	"github.com/shotam27/souchiJohoKanri/internal/logging"
	"github.com/shotam27/souchiJohoKanri/internal/storage"
	"github.com/shotam27/souchiJohoKanri/internal/web"

	// Register storage backends
	_ "github.com/shotam27/souchiJohoKanri/internal/storage/mssql"
	_ "github.com/shotam27/souchiJohoKanri/internal/storage/postgres"
	_ "github.com/shotam27/souchiJohoKanri/internal/storage/sqlite"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_kind", cfg.Database.Kind,
		"db_max_conns", cfg.Database.MaxConns,
		"upload_max_concurrent", cfg.Upload.MaxConcurrent,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	// Connect to the configured backend
	ctx := context.Background()
	db, err := storage.Open(ctx, cfg.Database.Storage())
	if err != nil {
		slog.Error("failed to open database", "kind", cfg.Database.Kind, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Verify connection
	if err := db.Ping(ctx); err != nil {
		slog.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to database", "kind", cfg.Database.Kind)

	service := core.NewService(db, cfg)

	// Existing category tables are loaded lazily; log what is already there.
	if tables, err := service.ListCategoryTables(ctx); err != nil {
		slog.Warn("failed to list category tables", "error", err)
	} else {
		slog.Info("category tables found", "count", len(tables))
	}

	// Background history retention, stopped on shutdown
	jobCtx, stopJobs := context.WithCancel(ctx)
	defer stopJobs()
	go service.StartHistoryPruner(jobCtx, cfg.History)

	server := web.NewServer(service, cfg)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		stopJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Wait for in-flight batches to commit or roll back (with timeout)
		uploadStatus := service.UploadLimiterStatus()
		if uploadStatus.Active > 0 {
			slog.Info("waiting for batches to complete", "active", uploadStatus.Active)
			if err := service.WaitForUploads(shutdownCtx); err != nil {
				slog.Warn("batches did not complete in time", "error", err)
			} else {
				slog.Info("all batches completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(); err != nil {
		slog.Info("server stopped", "error", err)
	}
}
