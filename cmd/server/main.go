// ShopChat - conversational shopping assistant server
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
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quangdm/shopchat/internal/api"
	"github.com/quangdm/shopchat/internal/assistant"
	"github.com/quangdm/shopchat/internal/audit"
	"github.com/quangdm/shopchat/internal/config"
	"github.com/quangdm/shopchat/internal/gateway"
	"github.com/quangdm/shopchat/internal/llm"
	"github.com/quangdm/shopchat/internal/middleware"
	"github.com/quangdm/shopchat/internal/store"
	"github.com/quangdm/shopchat/internal/toolbridge"
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

	slog.Info("Starting server", "addr", cfg.ListenAddr, "tools_enabled", cfg.ToolsEnabled, "tls", cfg.TLSEnabled())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close session store", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	// Connect to the tool server and cache the tool catalog.
	var bridge *toolbridge.Client
	if cfg.ToolsEnabled {
		bridge = toolbridge.New(cfg.ToolServerURL)
		if err := waitForToolServer(context.Background(), bridge, cfg.ToolHealthRetries); err != nil {
			slog.Error("Tool server unreachable", "url", cfg.ToolServerURL, "error", err)
			os.Exit(1)
		}
		if err := bridge.FetchTools(context.Background()); err != nil {
			slog.Error("Failed to fetch tool catalog", "error", err)
			os.Exit(1)
		}
		defer bridge.Close()
		slog.Info("Tool server connected", "url", cfg.ToolServerURL, "tools", len(bridge.Tools()))
	} else {
		slog.Info("Tool mode disabled, running context-only")
	}

	model := llm.NewClient(llm.Options{
		APIKey:              cfg.OpenAIAPIKey,
		BaseURL:             cfg.OpenAIBaseURL,
		Model:               cfg.ChatModel,
		Temperature:         cfg.Temperature,
		MaxCompletionTokens: cfg.MaxCompletionTokens,
	})

	auditLog, err := audit.New(audit.Config{
		Enabled:   cfg.AuditLog.Enabled,
		Dir:       cfg.AuditLog.Dir,
		QueueSize: cfg.AuditLog.QueueSize,
	})
	if err != nil {
		slog.Error("Failed to initialize audit logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := auditLog.Close(); closeErr != nil {
			slog.Error("Failed to close audit logger", "error", closeErr)
		}
	}()

	// Initialize services. The bridge is passed through an interface, so
	// the nil check must happen before assignment.
	var svcBridge assistant.ToolBridge
	var apiBridge api.BridgeHealth
	if bridge != nil {
		svcBridge = bridge
		apiBridge = bridge
	}
	svc := assistant.NewService(repo, model, svcBridge, auditLog, cfg.HistoryLimit)

	registry := gateway.NewRegistry()
	wsHandler := gateway.NewHandler(svc, repo, registry, cfg.AllowedOrigin, cfg.HistoryLimit)
	apiHandler := api.NewHandler(repo, apiBridge, registry)

	// Setup router.
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{cfg.AllowedOrigin}))

	apiHandler.RegisterRoutes(r)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", wsHandler.ServeHTTP)

	srv := &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: WebSocket connections are long-lived.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store.StartCleanupWorker(ctx, repo, cfg.SessionTTL, time.Hour)
	slog.Info("Session TTL worker started", "session_ttl", cfg.SessionTTL)

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		var err error
		if cfg.TLSEnabled() {
			err = srv.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
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

	registry.CloseAll()

	slog.Info("Server stopped successfully")
}

// waitForToolServer probes the tool server's health endpoint with a
// fixed backoff until it responds or the retries are exhausted.
func waitForToolServer(ctx context.Context, bridge *toolbridge.Client, retries int) error {
	if retries <= 0 {
		retries = 1
	}

	var lastErr error
	for i := 0; i < retries; i++ {
		if i > 0 {
			time.Sleep(2 * time.Second)
		}
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		lastErr = bridge.Health(probeCtx)
		cancel()
		if lastErr == nil {
			return nil
		}
		slog.Warn("Tool server health check failed, retrying", "attempt", i+1, "retries", retries, "error", lastErr)
	}
	return lastErr
}
