package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/kiranshivaraju/gatekeeper/internal/api"
	"github.com/kiranshivaraju/gatekeeper/internal/api/handler"
	mw "github.com/kiranshivaraju/gatekeeper/internal/api/middleware"
	"github.com/kiranshivaraju/gatekeeper/internal/api/response"
	"github.com/kiranshivaraju/gatekeeper/internal/backend"
	"github.com/kiranshivaraju/gatekeeper/internal/backend/gradio"
	"github.com/kiranshivaraju/gatekeeper/internal/cache"
	"github.com/kiranshivaraju/gatekeeper/internal/config"
	"github.com/kiranshivaraju/gatekeeper/internal/gate"
	"github.com/kiranshivaraju/gatekeeper/internal/jobs"
	"github.com/kiranshivaraju/gatekeeper/internal/registry"
	"github.com/kiranshivaraju/gatekeeper/internal/store"
)

const (
	shutdownTimeout = 30 * time.Second
	healthTimeout   = 3 * time.Second
)

func runServer(ctx context.Context, flags *serverFlags) error {
	// 1. Load config, fail fast on invalid values
	cfg, err := loadConfig(flags)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)
	slog.Info("config loaded", "env", cfg.Server.Env, "gradio", cfg.Gradio.BaseURL)

	deps := map[string]pinger{}
	opts := []jobs.Option{jobs.WithLogger(logger), jobs.WithJobTimeout(cfg.Jobs.Timeout)}

	// 2. Optional run ledger
	if cfg.Database.URL != "" {
		pool, err := store.Connect(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()

		if err := store.RunMigrations(cfg.Database.URL); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		slog.Info("database connected, migrations applied")

		pgStore := store.NewPostgresStore(pool)
		opts = append(opts, jobs.WithStore(pgStore))
		deps["database"] = pgStore
	}

	// 3. Optional admission rate limiting
	var rateLimit *mw.RateLimit
	if cfg.Redis.URL != "" {
		redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("create redis cache: %w", err)
		}
		defer redisCache.Close()

		if err := redisCache.Ping(ctx); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		slog.Info("redis connected")

		rateLimit = mw.NewRateLimit(redisCache, cfg.Auth.RateLimitPerMin)
		deps["cache"] = redisCache
	}

	var auth *mw.Auth
	if cfg.Auth.APIKeyHash != "" {
		auth = mw.NewAuth(cfg.Auth.APIKeyHash)
	}

	// 4. Backend, gate, registry and orchestrator
	be := gradio.NewClient(cfg.Gradio)
	reg := registry.New(logger)
	orch := jobs.NewOrchestrator(gate.New(), backend.NewInvoker(be, logger), reg, opts...)

	router := api.NewRouter(api.Dependencies{
		Auth:           auth,
		RateLimit:      rateLimit,
		HealthHandler:  healthHandler(be, deps, orch, reg),
		ExecuteHandler: handler.NewExecuteHandler(orch),
		NotifyHandler:  handler.NewNotifyHandler(reg, cfg.Server.WSWriteTimeout),
	})

	// 5. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr, "backend", be.Name())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	// Jobs already admitted keep running until the drain deadline.
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.Jobs.DrainTimeout)
	defer cancelDrain()
	if err := orch.Wait(drainCtx); err != nil {
		stats := orch.Stats()
		slog.Warn("jobs still pending at shutdown", "waiting", stats.Waiting, "running", stats.Running)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// loadConfig reads the environment and applies command-line overrides.
func loadConfig(flags *serverFlags) (*config.Config, error) {
	if flags.port != 0 {
		if err := os.Setenv("GATEKEEPER_PORT", fmt.Sprint(flags.port)); err != nil {
			return nil, err
		}
	}
	if flags.logLevel != "" {
		if err := os.Setenv("GATEKEEPER_LOG_LEVEL", strings.ToLower(flags.logLevel)); err != nil {
			return nil, err
		}
	}
	return config.Load()
}

type pinger interface {
	Ping(ctx context.Context) error
}

type readier interface {
	Ready(ctx context.Context) error
}

type statser interface {
	Stats() jobs.Stats
}

type counter interface {
	Len() int
}

// healthHandler checks the backend and every configured dependency and
// reports queue state.
func healthHandler(be readier, deps map[string]pinger, orch statser, reg counter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		checks := map[string]string{"backend": "ok"}
		degraded := false

		if err := be.Ready(ctx); err != nil {
			checks["backend"] = "degraded"
			degraded = true
		}
		for name, p := range deps {
			checks[name] = "ok"
			if err := p.Ping(ctx); err != nil {
				checks[name] = "degraded"
				degraded = true
			}
		}

		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":    "ok",
			"services":  checks,
			"jobs":      orch.Stats(),
			"listeners": reg.Len(),
		})
	}
}
