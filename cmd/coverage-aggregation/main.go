package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	httpapi "github.com/i474232898/coverage-aggregation/internal/api/http"
	"github.com/i474232898/coverage-aggregation/internal/config"
	"github.com/i474232898/coverage-aggregation/internal/correction"
	"github.com/i474232898/coverage-aggregation/internal/coverage"
	"github.com/i474232898/coverage-aggregation/internal/coverage/providers"
	"github.com/i474232898/coverage-aggregation/internal/geocode"
	"github.com/i474232898/coverage-aggregation/internal/infrastructure"
	"github.com/i474232898/coverage-aggregation/internal/scheduler"
	"github.com/i474232898/coverage-aggregation/internal/spatialcache"
	"github.com/i474232898/coverage-aggregation/internal/store"
	"github.com/i474232898/coverage-aggregation/internal/transport"
)

// registryReloadInterval is how often the base-station file is re-read.
const registryReloadInterval = 10 * time.Minute

func main() {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	lg, err := config.InitLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Shared HTTP client for outbound provider calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}
	newClient := func(name string, header http.Header) *transport.Client {
		return transport.New(transport.Config{
			Name:        name,
			HTTP:        httpClient,
			MinInterval: cfg.ProviderMinInterval,
			Header:      header,
		})
	}

	provs := buildProviders(cfg, newClient)
	if len(provs) == 0 {
		lg.Warn("no coverage providers enabled; checks will fail until PROVIDERS is fixed")
	}

	// Optional Postgres persistence for the spatial cache.
	var pg *store.PostgresStore
	cacheOpts := spatialcache.Options{MaxEntries: cfg.CacheMaxEntries}
	if cfg.DatabaseURL != "" && cfg.CachePersist {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			lg.Fatal("failed to connect to database", zap.Error(err))
		}
		defer pool.Close()

		pg = store.NewPostgresStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			lg.Fatal("failed to prepare cache schema", zap.Error(err))
		}
		cacheOpts.Persister = pg
	}
	cache := spatialcache.New[coverage.AggregatedResult](cacheOpts)
	if pg != nil {
		n, err := cache.Restore(ctx, time.Now().Add(-cfg.CacheTTL))
		if err != nil {
			lg.Warn("failed to restore persisted cache", zap.Error(err))
		} else {
			lg.Info("restored persisted cache entries", zap.Int("entries", n))
		}
	}

	deps := coverage.Dependencies{
		Cache:   cache,
		History: store.NewMemoryStore(cfg.HistoryMax, cfg.HistoryMaxAge),
	}

	if cfg.AddressPointsURL != "" {
		lookup := correction.NewArcGISLookup(newClient("address-points", nil), cfg.AddressPointsURL)
		deps.Corrector = correction.NewService(lookup, correction.Config{
			Threshold:    cfg.CorrectionThresholdM,
			SearchRadius: cfg.CorrectionRadiusM,
		})
	}

	var registry *infrastructure.Registry
	if cfg.BaseStationsFile != "" {
		registry = infrastructure.NewRegistry(cfg.BaseStationsFile)
		if err := registry.Reload(ctx); err != nil {
			lg.Warn("failed to load base stations; proximity adjustment inactive until reload", zap.Error(err))
		}
		deps.Proximity = registry
	}

	preference := make([]coverage.ProviderID, 0, len(cfg.ProviderPreference))
	for _, id := range cfg.ProviderPreference {
		preference = append(preference, coverage.ProviderID(id))
	}

	// Core service orchestrating providers, cache and history.
	service := coverage.NewService(coverage.Config{
		CacheTTL:        cfg.CacheTTL,
		CacheRadius:     cfg.CacheRadiusM,
		ProviderTimeout: cfg.ProviderTimeout,
		Weights: coverage.Weights{
			Confidence: cfg.WeightConfidence,
			Signal:     cfg.WeightSignal,
			Speed:      cfg.WeightSpeed,
		},
		Proximity: coverage.ProximityPolicy{
			HighDistance:      cfg.ProximityHighDistanceM,
			HighUtilization:   cfg.ProximityHighUtilization,
			MediumDistance:    cfg.ProximityMediumDistanceM,
			MediumUtilization: cfg.ProximityMediumUtilization,
			LowDistance:       cfg.ProximityLowDistanceM,
			ServiceTypes:      coverage.DefaultProximityPolicy().ServiceTypes,
		},
		Preference: preference,
	}, provs, deps)

	var geocoder geocode.Geocoder
	if cfg.GoogleGeocodingAPIKey != "" {
		geocoder = geocode.NewGoogleGeocoder(cfg.GoogleGeocodingAPIKey)
	}

	// Scheduler for cache sweeps, warm-ups and registry reloads.
	schedCfg := scheduler.Config{
		SweepInterval: cfg.CacheSweepInterval,
		WarmInterval:  cfg.WarmInterval,
		WarmPoints:    cfg.WarmPoints,
	}
	var reloader scheduler.Reloader
	if registry != nil {
		reloader = registry
		schedCfg.ReloadInterval = registryReloadInterval
	}
	var pruner scheduler.Pruner
	if pg != nil {
		pruner = pg
		schedCfg.PruneAge = cfg.CacheTTL
	}
	sched := scheduler.New(schedCfg, service, reloader, pruner)
	if err := sched.Start(); err != nil {
		lg.Fatal("failed to start scheduler", zap.Error(err))
	}
	defer sched.Stop()

	app := fiber.New(fiber.Config{
		AppName:               "coverage-aggregation",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          cfg.ProviderTimeout + 5*time.Second,
		ErrorHandler:          httpapi.ErrorHandler,
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":    "ok",
			"service":   "coverage-aggregation",
			"providers": service.Providers(),
		})
	})

	httpapi.RegisterRoutes(app, service, geocoder)

	go func() {
		lg.Info("listening", zap.String("port", cfg.Port))
		if err := app.Listen(":" + cfg.Port); err != nil {
			lg.Info("fiber server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		lg.Error("error during shutdown", zap.Error(err))
	}
}

// buildProviders returns the enabled providers. MTN WMS always has default
// endpoints; the feasibility and DFA providers need a URL.
func buildProviders(cfg *config.AppConfig, newClient func(string, http.Header) *transport.Client) []coverage.Provider {
	var provs []coverage.Provider

	if cfg.ProviderEnabled(string(coverage.ProviderMTN)) {
		mtnCfg := providers.DefaultMTNConfig()
		if cfg.MTNBusinessURL != "" {
			src := mtnCfg.Sources[providers.SourceBusiness]
			src.URL = cfg.MTNBusinessURL
			mtnCfg.Sources[providers.SourceBusiness] = src
		}
		if cfg.MTNConsumerURL != "" {
			src := mtnCfg.Sources[providers.SourceConsumer]
			src.URL = cfg.MTNConsumerURL
			mtnCfg.Sources[providers.SourceConsumer] = src
		}
		provs = append(provs, providers.NewMTNProvider(newClient("mtn-wms", nil), mtnCfg))
	}

	if cfg.MTNFeasibilityURL != "" && cfg.ProviderEnabled(string(coverage.ProviderMTNFeasibility)) {
		var header http.Header
		if cfg.MTNFeasibilityKey != "" {
			header = http.Header{}
			header.Set("X-API-Key", cfg.MTNFeasibilityKey)
		}
		provs = append(provs, providers.NewFeasibilityProvider(newClient("mtn-feasibility", header), providers.FeasibilityConfig{
			URL: cfg.MTNFeasibilityURL,
		}))
	}

	if cfg.DFAURL != "" && cfg.ProviderEnabled(string(coverage.ProviderDFA)) {
		provs = append(provs, providers.NewDFAProvider(newClient("dfa", nil), providers.DFAConfig{
			BaseURL: cfg.DFAURL,
		}))
	}

	return provs
}
