package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	taskhttp "github.com/mapcrew/tasking/internal/adapter/http"
	tasknats "github.com/mapcrew/tasking/internal/adapter/nats"
	taskotel "github.com/mapcrew/tasking/internal/adapter/otel"
	"github.com/mapcrew/tasking/internal/adapter/postgres"
	"github.com/mapcrew/tasking/internal/adapter/ristretto"
	"github.com/mapcrew/tasking/internal/adapter/ws"
	"github.com/mapcrew/tasking/internal/config"
	"github.com/mapcrew/tasking/internal/logger"
	"github.com/mapcrew/tasking/internal/middleware"
	"github.com/mapcrew/tasking/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	slog.SetDefault(logger.New(cfg.Logging))
	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"lock_ttl", cfg.Lock.TTL,
	)

	ctx := context.Background()

	// --- Telemetry ---
	if cfg.Telemetry.Enabled {
		shutdown, err := taskotel.Init(ctx, cfg.Logging.Service, cfg.Telemetry.Endpoint)
		if err != nil {
			return fmt.Errorf("otel: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				slog.Warn("otel shutdown", "error", err)
			}
		}()
	}

	// --- Infrastructure ---

	// PostgreSQL
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	// NATS
	notif, err := tasknats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = notif.Close() }()

	// L1 cache for permission decisions
	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer l1.Close()

	// --- Services ---
	hub := ws.NewHub()
	store := postgres.NewStore(pool)
	historySvc := service.NewHistoryService(store)
	statsSvc := service.NewStatsService(store)
	permSvc := service.NewPermissionService(store, l1, cfg.Permission.CacheTTL)
	lockSvc := service.NewLockService(store, permSvc, historySvc, statsSvc, notif, hub, cfg.Lock.TTL)
	validationSvc := service.NewValidationService(lockSvc, notif)
	revertSvc := service.NewRevertService(store, permSvc, historySvc, statsSvc, hub)

	if cfg.Telemetry.Enabled {
		metrics, err := taskotel.NewMetrics()
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		lockSvc.SetMetrics(metrics)
		validationSvc.SetMetrics(metrics)
	}

	// Stale-lock sweeper
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go func() {
		ticker := time.NewTicker(cfg.Lock.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				if _, err := lockSvc.SweepExpiredLocks(sweepCtx); err != nil {
					slog.Warn("stale lock sweep failed", "error", err)
				}
			}
		}
	}()

	// --- HTTP ---
	handlers := taskhttp.NewHandlers(lockSvc, validationSvc, revertSvc, historySvc)

	r := chi.NewRouter()

	r.Use(taskhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(middleware.RequestID)
	r.Use(taskhttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	if cfg.Telemetry.Enabled {
		r.Use(taskotel.HTTPMiddleware(cfg.Logging.Service))
	}

	r.Get("/health", healthHandler(pool, hub))
	r.Get("/ws", hub.HandleWS)

	taskhttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// pinger is the subset of pgxpool.Pool used by the health endpoint.
type pinger interface {
	Ping(ctx context.Context) error
}

// healthHandler reports service health including database reachability.
func healthHandler(db pinger, hub *ws.Hub) http.HandlerFunc {
	type healthStatus struct {
		Status        string `json:"status"`
		Postgres      string `json:"postgres"`
		WSConnections int    `json:"ws_connections"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		status := healthStatus{
			Status:        "ok",
			Postgres:      "ok",
			WSConnections: hub.ConnectionCount(),
		}
		code := http.StatusOK
		if err := db.Ping(r.Context()); err != nil {
			status.Status = "degraded"
			status.Postgres = err.Error()
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	}
}
