// replyd - Messaging Auto-Responder Server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/ashureev/replyd/internal/ai"
	"github.com/ashureev/replyd/internal/api"
	"github.com/ashureev/replyd/internal/auth"
	"github.com/ashureev/replyd/internal/bot"
	"github.com/ashureev/replyd/internal/config"
	"github.com/ashureev/replyd/internal/identity"
	"github.com/ashureev/replyd/internal/middleware"
	"github.com/ashureev/replyd/internal/store"
	"github.com/ashureev/replyd/internal/transport"
	"github.com/ashureev/replyd/web"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(),
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "addr", cfg.Addr(), "data_dir", cfg.DataDir, "bridge_url", cfg.BridgeURL)

	// Initialize dependencies.
	st, err := store.NewFileStore(cfg.DataDir)
	if err != nil {
		slog.Error("Failed to initialize store", "error", err)
		os.Exit(1)
	}

	provider := config.NewProvider(cfg.DataDir)

	persona := identity.NewManager(cfg.DataDir)
	if err := persona.MigrateLegacyPrompt(provider); err != nil {
		slog.Error("Failed to migrate legacy persona setting", "error", err)
		os.Exit(1)
	}

	client := transport.NewBridgeClient(cfg.BridgeURL, cfg.DataDir, cfg.CallTimeout)
	coordinator := auth.NewCoordinator(client, cfg.AuthTimeout)
	svc := bot.NewService(client, st, ai.NewOpenAIGenerator(), provider, persona, coordinator)

	// Setup router.
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.Origins()))

	api.NewHandler(st, provider, persona, svc, cfg.APIToken).RegisterRoutes(r)

	// Serve embedded dashboard (catch-all).
	r.Handle("/*", web.Handler())

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store.StartRetentionWorker(ctx, st, 0)

	// The pipeline runs beside the HTTP server. When it cannot start, for
	// example before credentials are configured, the dashboard stays up so
	// the operator can fix the settings.
	pipelineCtx, cancelPipeline := context.WithCancel(context.Background())
	defer cancelPipeline()
	pipelineDone := make(chan struct{})
	go func() {
		defer close(pipelineDone)
		if err := svc.Run(pipelineCtx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("Pipeline stopped", "error", err)
		}
	}()

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
	}

	cancelPipeline()
	select {
	case <-pipelineDone:
	case <-time.After(5 * time.Second):
		slog.Warn("Pipeline did not stop in time")
	}
	if !svc.Registry().Shutdown(5 * time.Second) {
		slog.Warn("Response units did not drain in time")
	}
	if err := client.Close(); err != nil {
		slog.Error("Failed to close bridge client", "error", err)
	}

	slog.Info("Server stopped successfully")
}

// logLevel maps LOG_LEVEL to a slog level, defaulting to info.
func logLevel() slog.Level {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
