// cuepoint - interactive video assessment server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/cuepoint/internal/api"
	"github.com/ashureev/cuepoint/internal/config"
	"github.com/ashureev/cuepoint/internal/health"
	"github.com/ashureev/cuepoint/internal/ledger"
	"github.com/ashureev/cuepoint/internal/middleware"
	"github.com/ashureev/cuepoint/internal/player"
	"github.com/ashureev/cuepoint/internal/shared"
	"github.com/ashureev/cuepoint/internal/store"
	"github.com/ashureev/cuepoint/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "grpc_port", cfg.GRPCPort, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath, store.WithRetryPolicy(shared.RetryPolicy{
		MaxRetries: cfg.Storage.MaxRetries,
		BaseDelay:  cfg.Storage.RetryBaseDelay,
	}))
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	// Initialize services.
	led := ledger.New(repo, ledger.WithLogger(logger))
	sm := player.NewSessionManager()

	// Initialize handlers.
	healthHandler := api.NewHealthHandler(repo)
	projectHandler := api.NewProjectHandler(repo)
	sessionHandler := api.NewSessionHandler(led, repo)
	wsHandler := player.NewWebSocketHandler(led, repo, sm, player.Options{
		PollInterval:  cfg.Playback.PollInterval,
		RearmOnSeek:   cfg.Playback.RearmOnSeek,
		AllowedOrigin: cfg.FrontendURL,
		IsDev:         cfg.IsDevelopment(),
	})

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))

	origins := []string{"*"}
	if !cfg.IsDevelopment() {
		origins = []string{cfg.FrontendURL}
	}
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.CORS(origins))
		healthHandler.RegisterHealth(r)
		projectHandler.RegisterRoutes(r)
		sessionHandler.RegisterRoutes(r)
	})

	// WebSocket endpoint.
	wsHandler.RegisterRoutes(r)

	// Serve embedded learner player (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// Create server.
	// Playback websockets are long lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start idle session sweeper.
	player.StartIdleSweeper(ctx, sm, cfg.Playback.IdleSessionTTL, cfg.Playback.SweepInterval)

	// Start gRPC health service.
	grpcLis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		slog.Error("Failed to listen for gRPC", "error", err, "port", cfg.GRPCPort)
		os.Exit(1)
	}
	healthSrv := health.NewServer(repo, cfg.Storage.HealthInterval)
	healthDone := make(chan struct{})
	go func() {
		defer close(healthDone)
		slog.Info("gRPC health listening", "addr", grpcLis.Addr().String())
		if err := healthSrv.Serve(ctx, grpcLis); err != nil {
			slog.Error("gRPC health server failed", "error", err)
		}
	}()

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}
	<-healthDone

	slog.Info("Server stopped successfully")
}
