package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/papertrade/trading-engine/internal/api"
	"github.com/papertrade/trading-engine/internal/broadcast"
	"github.com/papertrade/trading-engine/internal/config"
	"github.com/papertrade/trading-engine/internal/feed"
	"github.com/papertrade/trading-engine/internal/ledger"
	"github.com/papertrade/trading-engine/internal/metrics"
	"github.com/papertrade/trading-engine/internal/model"
	"github.com/papertrade/trading-engine/internal/pricecache"
	"github.com/papertrade/trading-engine/internal/store"
	"github.com/papertrade/trading-engine/internal/symbolmap"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)

		pg := store.NewPostgresStore(pool)
		if err := pg.EnsureSchema(context.Background()); err != nil {
			slog.Error("schema setup failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Seed asset catalog ---
	seed := make([]model.Asset, 0, len(symbolmap.Catalog()))
	for _, e := range symbolmap.Catalog() {
		seed = append(seed, model.Asset{Symbol: e.Symbol, Name: e.Name, PairID: e.PairID})
	}
	if err := st.SeedAssets(context.Background(), seed); err != nil {
		slog.Error("asset seeding failed", "err", err)
		os.Exit(1)
	}

	// --- Price cache, warmed from persisted prices ---
	cache := pricecache.New()
	if assets, err := st.ListAssets(context.Background()); err == nil {
		for _, a := range assets {
			if a.CurrentPrice.IsPositive() {
				cache.Set(a.Symbol, a.CurrentPrice)
			}
		}
	}

	// --- Broadcast hub ---
	hub := broadcast.NewHub()
	go hub.Run()

	// --- Market feed connector ---
	connector := feed.NewConnector(feed.Config{
		URL:            cfg.FeedURL,
		ReconnectDelay: cfg.FeedReconnectDelay,
	}, feed.WSDialer{}, cache, st, hub)
	connector.Start(context.Background())

	// --- Trading ledger + HTTP surface ---
	ledgerSvc := ledger.NewService(st, cache)
	handler := api.New(ledgerSvc, st, cache, hub)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"trading-engine"}`))
	})
	r.Handle("/metrics", metrics.Handler())
	handler.Register(r)

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("trading-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down trading-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	connector.Stop()
	fmt.Println("trading-engine stopped")
}
