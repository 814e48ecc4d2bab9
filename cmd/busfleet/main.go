package main

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"busfleet/internal/cache"
	"busfleet/internal/config"
	"busfleet/internal/handler"
	"busfleet/internal/hub"
	"busfleet/internal/insight"
	"busfleet/internal/metrics"
	"busfleet/internal/middleware"
	"busfleet/internal/publisher"
	"busfleet/internal/query"
	"busfleet/internal/seed"
	"busfleet/internal/sim"
	"busfleet/internal/store"
	"busfleet/pkg/llmapi"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("starting busfleet server",
		"log_level", cfg.LogLevel.String(),
		"http_addr", cfg.HTTPAddr,
		"postgres", cfg.DatabaseURL != "",
		"redis", cfg.RedisEnabled,
		"nats", cfg.NATSURL != "",
		"insights", cfg.InsightAPIURL != "",
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fleetStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer fleetStore.Close()

	collector := metrics.NewCollector(cfg.SimTickInterval)
	wsHub := hub.NewHub(logger)

	var locationPublisher sim.LocationPublisher
	if cfg.NATSURL != "" {
		natsPub, err := publisher.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubjectPrefix, collector, logger)
		if err != nil {
			logger.Warn("nats unavailable, location events disabled", "error", err)
		} else {
			defer natsPub.Close()
			locationPublisher = natsPub
		}
	}

	var cacheBackend cache.Backend
	if cfg.RedisEnabled {
		redisCache, err := cache.NewRedisCache(cache.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, logger)
		if err != nil {
			logger.Warn("redis unavailable, catalog cache disabled", "error", err)
		} else {
			defer redisCache.Close()
			cacheBackend = redisCache
		}
	}
	catalog := cache.NewCatalog(cacheBackend, fleetStore, cfg.CacheTTL, logger)
	warmer := cache.NewCacheWarmer(catalog, logger)

	var generator insight.Generator
	if cfg.InsightAPIURL != "" {
		generator = llmapi.New(cfg.InsightAPIURL, cfg.InsightAPIKey, cfg.InsightModel, cfg.InsightTimeout)
	}

	engine := sim.NewEngine(fleetStore, sim.Options{
		Interval:     cfg.SimTickInterval,
		ErrorBackoff: cfg.SimErrorBackoff,
		Metrics:      collector,
		Publisher:    locationPublisher,
		Broadcaster:  wsHub,
	}, logger)

	reseed := func(ctx context.Context) error {
		f, err := seed.Load(ctx, fleetStore, store.NewID, rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())))
		if err != nil {
			return err
		}
		collector.Reseeds.Inc()
		if err := warmer.WarmAll(ctx); err != nil {
			logger.Warn("cache warm after reseed failed", "error", err)
		}
		logger.Info("fleet reseeded", "stops", len(f.Stops), "routes", len(f.Routes), "buses", len(f.Buses))
		return nil
	}

	if cfg.SeedOnStart {
		if err := reseed(ctx); err != nil {
			logger.Error("initial seed failed", "error", err)
			os.Exit(1)
		}
	} else if err := warmer.WarmAll(ctx); err != nil {
		logger.Warn("initial cache warm failed", "error", err)
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimitPerWindow, cfg.RateLimitWindow, cfg.RateLimitWhitelist, logger)
	stats := handler.NewStats()

	httpHandler := handler.NewHTTPHandler(
		query.NewService(fleetStore, logger),
		catalog,
		engine,
		reseed,
		insight.NewAdapter(generator, logger),
		logger,
	)
	wsHandler := handler.NewWSHandler(wsHub, fleetStore, stats, handler.OriginPatterns(cfg.CORSOrigins), logger)
	healthHandler := handler.NewHealthHandler(fleetStore, engine)
	statsHandler := handler.NewStatsHandler(stats, fleetStore, engine, catalog, limiter, wsHub.ClientCount)

	api := http.NewServeMux()
	httpHandler.Routes(api)
	api.HandleFunc("GET /api/stats", statsHandler.GetStats)
	api.Handle("GET /metrics", collector.Handler())
	api.HandleFunc("GET /healthz", healthHandler.Healthz)
	api.HandleFunc("GET /readyz", healthHandler.Readyz)

	// the websocket upgrade stays outside the gzip writer
	mux := http.NewServeMux()
	mux.Handle("/", handler.GzipMiddleware(api))
	mux.HandleFunc("GET /api/ws", wsHandler.ServeWS)

	var root http.Handler = mux
	root = limiter.Middleware(root)
	root = handler.CORSMiddleware(cfg.CORSOrigins)(root)
	root = handler.CountRequests(stats)(root)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      root,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go wsHub.Run(ctx)
	go limiter.Run(ctx)
	go warmer.ScheduleRefresh(ctx, cfg.CacheTTL/2)

	if cfg.SimAutostart {
		engine.Start()
	}

	go func() {
		logger.Info("starting HTTP server", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := engine.Shutdown(shutdownCtx); err != nil {
		logger.Error("simulation shutdown error", "error", err)
	}

	cancel()
	logger.Info("shutdown complete")
}

// openStore picks Postgres when a database URL is configured and the
// in-memory store otherwise.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		logger.Info("using in-memory fleet store")
		return store.NewMemoryStore(), nil
	}

	if cfg.DBMigrate {
		if err := store.Migrate(cfg.DatabaseURL); err != nil {
			return nil, err
		}
		logger.Info("database migrations applied")
	}

	pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	logger.Info("using postgres fleet store")
	return pg, nil
}
