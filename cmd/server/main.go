package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/Maarifa007/lovable-betstream-sub000/internal/config"
	"github.com/Maarifa007/lovable-betstream-sub000/internal/events"
	"github.com/Maarifa007/lovable-betstream-sub000/internal/exposure"
	"github.com/Maarifa007/lovable-betstream-sub000/internal/grading"
	"github.com/Maarifa007/lovable-betstream-sub000/internal/lock"
	"github.com/Maarifa007/lovable-betstream-sub000/internal/metrics"
	"github.com/Maarifa007/lovable-betstream-sub000/internal/position"
	"github.com/Maarifa007/lovable-betstream-sub000/internal/results"
	"github.com/Maarifa007/lovable-betstream-sub000/internal/retry"
	"github.com/Maarifa007/lovable-betstream-sub000/internal/store"
)

func main() {
	configPath := flag.String("config", os.Getenv("BETSTREAM_CONFIG"), "path to TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)
	slog.Info("configuration loaded", "config", cfg.Redacted())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("betstream exited with error", "err", err)
		os.Exit(1)
	}
	fmt.Println("betstream stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Redis (cache, locks, event stream) ---
	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("invalid redis url: %w", err)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		slog.Info("connected to Redis")
	}

	// --- Initialize store ---
	var st store.Store
	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if rdb != nil {
			st = store.NewCachedStore(st, rdb, cfg.Redis.CacheTTL.Duration)
			slog.Info("Redis cache enabled", "ttl", cfg.Redis.CacheTTL.String())
		}
	} else {
		slog.Warn("database url not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// --- Locks ---
	var locker lock.Locker = lock.NewLocalLocker()
	if rdb != nil {
		locker = lock.NewRedisLocker(rdb, cfg.Redis.LockTTL.Duration)
		slog.Info("distributed position locks enabled", "ttl", cfg.Redis.LockTTL.String())
	}

	// --- Events ---
	wsHub := position.NewWSHub(cfg.Server.CORSOrigins...)
	publishers := events.Multi{wsHub}
	if rdb != nil {
		publishers = append(publishers, events.NewStreamPublisher(rdb, cfg.Redis.Stream, cfg.Redis.StreamLen))
	}

	// --- Position service ---
	limiter := exposure.NewLimiter(cfg.Limits.MaxPerMatch, cfg.Limits.MaxOpen)
	svc := position.NewService(st, limiter,
		position.WithLocker(locker),
		position.WithPublisher(publishers),
		position.WithLockTimeout(cfg.Server.LockTimeout.Duration),
		position.WithRetry(retry.NewPolicy(
			cfg.Retry.MaxAttempts,
			cfg.Retry.InitialDelay.Duration,
			cfg.Retry.MaxDelay.Duration,
		)),
	)

	// --- Results and grading ---
	registry := results.NewRegistry()
	source := results.Chain{registry}
	if cfg.Results.APIURL != "" {
		source = append(source, results.NewHTTPSource(cfg.Results.APIURL, cfg.Results.APIKey, cfg.Results.Timeout.Duration))
	}
	grader := grading.NewGrader(st, svc, source, cfg.Grading.MinAge.Duration, cfg.Grading.Schedule)
	gradingHandler := grading.NewHandler(grader, registry)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Server.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"betstream"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket stream of position events; long-lived, so no timeout.
		r.Get("/ws", wsHub.HandleWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			// Accounts.
			r.Post("/accounts", svc.HandleCreateAccount)
			r.Get("/accounts/{userID}", svc.HandleGetAccount)
			r.Get("/accounts/{userID}/positions", svc.HandleListPositions)
			r.Get("/accounts/{userID}/ledger", svc.HandleLedger)

			// Positions.
			r.Post("/positions", svc.HandleOpen)
			r.Get("/positions/{positionID}", svc.HandleGetPosition)
			r.Get("/positions/{positionID}/value", svc.HandleValue)
			r.Post("/positions/{positionID}/close", svc.HandleClose)
			r.Post("/positions/{positionID}/settle", svc.HandleSettle)
			r.Post("/positions/{positionID}/cancel", svc.HandleCancel)

			// Manual result entry.
			r.Post("/matches/{matchID}/result", gradingHandler.PostResult)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return wsHub.Run(ctx)
	})

	if cfg.Grading.Enabled {
		g.Go(func() error {
			return grader.Run(ctx)
		})
	} else {
		slog.Warn("scheduled grading disabled")
	}

	g.Go(func() error {
		slog.Info("betstream listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown.
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down betstream...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
