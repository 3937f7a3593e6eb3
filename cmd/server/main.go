// USBA - slot session assistant server
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/usba/internal/api"
	"github.com/ashureev/usba/internal/config"
	"github.com/ashureev/usba/internal/gateway"
	"github.com/ashureev/usba/internal/identity"
	"github.com/ashureev/usba/internal/live"
	"github.com/ashureev/usba/internal/middleware"
	"github.com/ashureev/usba/internal/retention"
	"github.com/ashureev/usba/internal/store"
	"github.com/ashureev/usba/internal/telemetry"
	"github.com/ashureev/usba/internal/wizard"
	"github.com/ashureev/usba/web"
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

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "db_driver", cfg.DB.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	repo, err := openStore(ctx, cfg.DB)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	gw, err := newGateway(ctx, cfg.AI)
	if err != nil {
		slog.Error("Failed to initialize AI gateway", "error", err)
		os.Exit(1)
	}

	telemetry.InitMetrics()

	// Initialize services.
	hub := live.NewHub()
	registry := wizard.NewRegistry(
		telemetry.Instrument(gw),
		func(userID string) wizard.Slot { return store.NewSessionSlot(repo, userID) },
		func(s wizard.Snapshot) { hub.Publish(s.UserID, s.Version, api.NewStateView(s)) },
	)
	limiter := api.NewRateLimiter(cfg.Ops.RateLimitPerMinute, cfg.Ops.RateLimitBurst)
	tracker := identity.NewTracker(repo, cfg.IsDevelopment())

	// Initialize handlers.
	apiHandler := api.NewHandler(registry, repo, limiter, cfg.AIEnabled(), cfg.IsDevelopment())
	healthHandler := api.NewHealthHandler(repo, cfg.AIEnabled())
	wsHandler := live.NewWebSocketHandler(hub, func(ctx context.Context, userID string) (uint64, any) {
		s := registry.Get(ctx, userID).Snapshot()
		return s.Version, api.NewStateView(s)
	}, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(middleware.Origins(cfg.FrontendURL)))

	// Public routes.
	healthHandler.RegisterHealth(r)
	r.Handle("/metrics", telemetry.Handler())

	// Device routes use identity middleware (no auth needed).
	r.Group(func(r chi.Router) {
		r.Use(tracker.Handler)
		apiHandler.RegisterRoutes(r)
		r.Get("/ws/session", wsHandler.ServeHTTP)
	})

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// WebSocket connections require no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Start background workers.
	retention.NewWorker(repo, registry, retention.Pruners{limiter, tracker}, cfg.Ops.SessionRetention, cfg.Ops.MachineIdleTTL).
		Start(ctx, retention.DefaultInterval)

	if cfg.Ops.GRPCHealthAddr != "" {
		hs, err := telemetry.StartHealthServer(ctx, cfg.Ops.GRPCHealthAddr, repo, 15*time.Second)
		if err != nil {
			slog.Error("Failed to start gRPC health server", "error", err)
			os.Exit(1)
		}
		defer hs.Stop()
	}

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

	slog.Info("Server stopped successfully")
}

func openStore(ctx context.Context, db config.DBConfig) (store.Repository, error) {
	switch db.Driver {
	case config.DriverPostgres:
		return store.NewPostgres(ctx, db.DatabaseURL)
	case config.DriverSQLite:
		return store.NewSQLite(db.Path)
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", db.Driver)
	}
}

func newGateway(ctx context.Context, ai config.AIConfig) (gateway.Gateway, error) {
	if ai.Disabled {
		slog.Info("AI features disabled (AI_DISABLED set)")
		return gateway.Disabled{}, nil
	}

	models, err := gateway.LoadModels(ai.ModelsFile)
	if err != nil {
		return nil, err
	}
	client, err := gateway.NewGeminiClient(ctx, ai.APIKey, models, gateway.Timeouts{
		Default: ai.Timeout,
		Plan:    ai.PlanTimeout,
	})
	if err != nil {
		return nil, err
	}
	slog.Info("AI gateway initialized", "fast", models.Fast, "standard", models.Standard, "planner", models.Planner)
	return client, nil
}
