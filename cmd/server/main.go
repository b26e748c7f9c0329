// GABE - spiritual companion server
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

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/Ray-Gabe/gabe1-spiritual-app/internal/api"
	"github.com/Ray-Gabe/gabe1-spiritual-app/internal/assistant"
	"github.com/Ray-Gabe/gabe1-spiritual-app/internal/config"
	"github.com/Ray-Gabe/gabe1-spiritual-app/internal/content"
	"github.com/Ray-Gabe/gabe1-spiritual-app/internal/conversation"
	"github.com/Ray-Gabe/gabe1-spiritual-app/internal/identity"
	"github.com/Ray-Gabe/gabe1-spiritual-app/internal/middleware"
	"github.com/Ray-Gabe/gabe1-spiritual-app/internal/session"
	"github.com/Ray-Gabe/gabe1-spiritual-app/internal/store"
	"github.com/Ray-Gabe/gabe1-spiritual-app/internal/transcript"
	"github.com/Ray-Gabe/gabe1-spiritual-app/internal/xp"
	"github.com/Ray-Gabe/gabe1-spiritual-app/web"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
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

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
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

	lib, err := content.Load()
	if err != nil {
		slog.Error("Failed to load content library", "error", err)
		os.Exit(1)
	}
	slog.Info("Content library loaded",
		"stories", len(lib.Stories),
		"encouragements", len(lib.Encouragements),
		"verses", len(lib.Verses),
	)

	var replier assistant.Replier
	if cfg.Assistant.URL != "" {
		replier = assistant.NewHTTPClient(cfg.Assistant.URL, cfg.Assistant.Timeout, logger)
		slog.Info("Assistant backend configured", "url", cfg.Assistant.URL, "timeout", cfg.Assistant.Timeout)
	} else {
		replier = assistant.NewOffline(lib)
		slog.Info("ASSISTANT_URL not set, using offline responder")
	}

	transcripts, err := transcript.NewLogger(transcript.Config{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := transcripts.Close(); closeErr != nil {
			slog.Warn("Failed to close conversation logger", "error", closeErr)
		}
	}()

	hub := api.NewHub(api.HubConfig{
		ReplaySize:        cfg.SSE.ReplayQueueSize,
		KeepaliveInterval: cfg.SSE.KeepaliveInterval,
		RetryDelay:        cfg.SSE.RetryDelay,
		Transcripts:       transcripts,
	})
	defer hub.Close()

	registry := session.NewRegistry(repo, session.Config{
		Replier:  replier,
		Library:  lib,
		IdleTTL:  cfg.SessionIdleTTL,
		Emitters: hub.Emitter,
		OnClose:  func(k session.Key) { hub.Forget(k.UserID, k.SessionID) },
		Logger:   logger,
		Pacing: conversation.Pacing{
			InactivityFirst:  cfg.Pacing.InactivityFirst,
			InactivitySecond: cfg.Pacing.InactivitySecond,
			InactivityFinal:  cfg.Pacing.InactivityFinal,
			TypingPause:      cfg.Pacing.TypingPause,
			EncourageDelay:   cfg.Pacing.EncourageDelay,
			StoryPartGap:     cfg.Pacing.StoryPartGap,
		},
	})

	handler := api.NewHandler(repo, registry, hub, xp.NewBook(repo, nil), lib, api.Options{
		MaxRequestBodySize: cfg.SSE.MaxRequestBodySize,
		AllowedOrigin:      cfg.FrontendURL,
		IsDev:              cfg.IsDevelopment(),
		Transcripts:        transcripts,
	})
	limiter := middleware.NewLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	// API and websocket routes carry an anonymous identity and a per-user budget.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))
		r.Use(middleware.RateLimit(limiter))
		handler.RegisterRoutes(r)
	})

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// Note: SSE connections require long timeouts (no WriteTimeout).
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweepInterval := cfg.SessionIdleTTL / 4
	if sweepInterval < time.Minute {
		sweepInterval = time.Minute
	}
	registry.StartSweeper(ctx, sweepInterval)
	limiter.StartPruner(ctx, 5*time.Minute)

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

	// Close streams first so Shutdown is not held open by SSE handlers.
	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	registry.Close(shutdownCtx)

	slog.Info("Server stopped successfully")
}
