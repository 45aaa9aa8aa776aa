// cmd/tripwire/main.go
package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/coralbay/tripwire/internal/api"
	"github.com/coralbay/tripwire/internal/config"
	"github.com/coralbay/tripwire/internal/database"
	"github.com/coralbay/tripwire/internal/kvstore"
	"github.com/coralbay/tripwire/internal/logger"
	"github.com/coralbay/tripwire/internal/metrics"
	"github.com/coralbay/tripwire/internal/rules"
	"github.com/coralbay/tripwire/internal/tracker"
)

func main() {
	configPath := flag.String("config", config.GetEnvOrDefault("TRIPWIRE_CONFIG", "tripwire.yaml"), "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.Server.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	cache := kvstore.NewMemory()

	// Storage backend: Postgres in production, in-memory for development.
	storageMode := config.GetEnvOrDefault("STORAGE_MODE", "postgres")
	var store rules.Store
	var pinger api.Pinger

	switch storageMode {
	case "postgres":
		pg, err := database.NewPostgres(database.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Database: cfg.Database.Name,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			SSLMode:  cfg.Database.SSLMode,
		})
		if err != nil {
			log.Fatal("failed to connect to postgres", zap.Error(err))
		}
		defer func() { _ = pg.Close() }()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := pg.CreateTables(ctx); err != nil {
			cancel()
			log.Fatal("failed to create tables", zap.Error(err))
		}
		cancel()

		store = database.NewRuleStore(pg)
		pinger = pg
		log.Info("using postgres storage", zap.String("host", cfg.Database.Host))

	case "memory":
		store = rules.NewMemoryStore()
		pinger = cache
		log.Info("using in-memory storage; rules will not survive a restart")

	default:
		log.Fatal("invalid STORAGE_MODE", zap.String("mode", storageMode))
	}

	repo := rules.NewRepository(store, cache, log)
	repo.SetProjectionTTL(cfg.Cache.ProjectionTTL)
	freq := tracker.NewFrequency(cache, log)
	patterns := tracker.NewPattern(cache, log)
	engine := rules.NewEngine(repo, repo, freq, patterns, log)
	collector := metrics.NewCollector()
	repo.SetCacheMetrics(collector)
	engine.SetFailureMetrics(collector)

	// Warm the cache before taking traffic.
	warmCtx, warmCancel := context.WithTimeout(context.Background(), 30*time.Second)
	loaded, err := repo.RefreshCache(warmCtx, true)
	warmCancel()
	if err != nil {
		log.Fatal("initial cache load failed", zap.Error(err))
	}
	collector.RecordCacheRefresh(loaded)
	log.Info("rule cache warmed", zap.Int("rules", loaded))

	server := api.NewServer(cfg, log, repo, engine, freq, patterns, collector, pinger)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Periodic reconciliation repairs cache drift from expired projections
	// or out-of-band store changes.
	go refreshLoop(rootCtx, repo, collector, log, cfg.Cache.RefreshInterval)

	// Config file changes trigger a forced cache refresh, the hot-reload
	// path for rule changes applied alongside config edits.
	if watcher, err := config.NewWatcher(*configPath, log, func(_ *config.Config) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if n, err := repo.RefreshCache(ctx, true); err != nil {
			log.Warn("config-triggered cache refresh failed", zap.Error(err))
		} else {
			collector.RecordCacheRefresh(n)
		}
	}); err != nil {
		log.Warn("config watcher unavailable", zap.Error(err))
	} else {
		go watcher.Run(rootCtx)
	}

	go func() {
		<-rootCtx.Done()
		log.Info("shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Error("shutdown error", zap.Error(err))
		}
	}()

	if err := server.Start(); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}
	log.Info("server stopped")
}

func refreshLoop(ctx context.Context, repo *rules.Repository, collector *metrics.Collector, log *zap.Logger, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refreshCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			n, err := repo.RefreshCache(refreshCtx, false)
			cancel()
			if err != nil {
				log.Warn("periodic cache refresh failed", zap.Error(err))
				continue
			}
			collector.RecordCacheRefresh(n)
		}
	}
}
