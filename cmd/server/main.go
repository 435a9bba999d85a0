package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"sharebox/internal/server/api"
	"sharebox/internal/server/auth"
	"sharebox/internal/server/config"
	"sharebox/internal/server/database"
	"sharebox/internal/server/events"
	"sharebox/internal/server/service"
	"sharebox/internal/server/storage"

	"github.com/google/uuid"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	storagePath, err := filepath.Abs(cfg.StoragePath)
	if err != nil {
		slog.Error("invalid storage path", "path", cfg.StoragePath, "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"port", cfg.Port,
		"database_driver", cfg.DatabaseDriver,
		"storage_path", storagePath,
		"max_file_size", storage.MaxFileSize,
		"sweep_interval", cfg.SweepInterval,
		"trust_proxy", cfg.TrustProxy,
	)

	// Initialize storage
	store := storage.NewFileSystemStore(storagePath)
	if err := store.EnsureDir(); err != nil {
		slog.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}
	slog.Info("file storage initialized", "path", storagePath)

	// Connect to database and run migrations
	ctx := context.Background()
	if cfg.DatabaseDriver == database.DriverSQLite {
		if err := os.MkdirAll(filepath.Dir(cfg.DatabaseURL), 0755); err != nil {
			slog.Error("failed to create database directory", "error", err)
			os.Exit(1)
		}
	}
	repo, err := database.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	// Admin sessions
	creds, err := auth.NewCredentials(cfg.AdminUsername, cfg.AdminPassword, cfg.AdminPasswordHash)
	if err != nil {
		slog.Error("failed to load admin credentials", "error", err)
		os.Exit(1)
	}
	secret := cfg.SessionSecret
	if secret == "" {
		secret = uuid.NewString() + uuid.NewString()
		slog.Warn("SESSION_SECRET not set, sessions will not survive a restart")
	}
	sessions, err := auth.NewSessions(creds, secret, cfg.SessionTTL)
	if err != nil {
		slog.Error("failed to initialize sessions", "error", err)
		os.Exit(1)
	}

	// Event hub
	hubCtx, hubCancel := context.WithCancel(context.Background())
	hub := events.NewHub(sessions, cfg.EventQueueSize, cfg.AllowedOrigins...)
	hubDone := make(chan struct{})
	go func() {
		hub.Run(hubCtx)
		close(hubDone)
	}()

	svc := service.NewFileService(repo, store, hub)

	// Start orphan sweeper
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	sweeper := storage.NewSweeper(repo, store, cfg.SweepInterval, cfg.SweepGrace)
	sweeper.Start(sweepCtx)

	// Setup HTTP router
	handler := api.NewHandler(svc, sessions, hub)
	e, limiter := api.SetupRouter(handler, sessions, cfg)

	go func() {
		addr := fmt.Sprintf(":%s", cfg.Port)
		slog.Info("starting server", "addr", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server stopped", "error", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutting down", "signal", sig)

	// Stop accepting new requests, finish in-flight with 30s timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	limiter.Stop()

	hubCancel()
	<-hubDone

	sweepCancel()
	sweeper.Wait()

	slog.Info("server exited cleanly")
}
