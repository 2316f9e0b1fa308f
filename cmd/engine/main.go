package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/rawblock/chainintel-engine/internal/alert"
	"github.com/rawblock/chainintel-engine/internal/api"
	"github.com/rawblock/chainintel-engine/internal/cache"
	"github.com/rawblock/chainintel-engine/internal/engine"
	"github.com/rawblock/chainintel-engine/internal/evidence"
	"github.com/rawblock/chainintel-engine/internal/fusion"
	"github.com/rawblock/chainintel-engine/internal/graph"
	"github.com/rawblock/chainintel-engine/internal/metrics"
	"github.com/rawblock/chainintel-engine/internal/orchestrator"
	"github.com/rawblock/chainintel-engine/internal/provider"
	"github.com/rawblock/chainintel-engine/internal/registry"
	"github.com/rawblock/chainintel-engine/internal/scheduler"
	"github.com/rawblock/chainintel-engine/internal/store"
	"github.com/rawblock/chainintel-engine/pkg/models"
)

func main() {
	logger := buildLogger()
	defer logger.Sync()

	logger.Info("starting ChainIntel intelligence orchestration engine")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Configuration ──────────────────────────────────────────────────
	// All credentials come from environment variables. No fallback defaults
	// for security-sensitive values. Use a .env file for local development.
	// ────────────────────────────────────────────────────────────────────

	m := metrics.New()

	// Relational bookkeeping store is optional: without it the engine runs
	// with in-memory history only and the persistence tasks stay off.
	var bookkeeper *store.PostgresStore
	var dbPing func(context.Context) error
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pg, err := store.Connect(ctx, dbURL, logger)
		if err != nil {
			logger.Warn("postgres unavailable, continuing without persistence", zap.Error(err))
		} else {
			defer pg.Close()
			if err := pg.InitSchema(ctx); err != nil {
				logger.Warn("schema init failed", zap.Error(err))
			}
			bookkeeper = pg
			dbPing = func(c context.Context) error { return pg.Pool().Ping(c) }
		}
	}

	// Cache: redis when configured, in-process otherwise.
	var providerCache cache.Cache = cache.NewMemoryCache()
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		redisCache, err := cache.NewRedisCache(ctx, redisAddr, os.Getenv("REDIS_PASSWORD"), 0)
		if err != nil {
			logger.Warn("redis unavailable, falling back to in-memory cache", zap.Error(err))
		} else {
			providerCache = redisCache
			logger.Info("using redis provider cache", zap.String("addr", redisAddr))
		}
	}

	// Protocol registry: YAML seed file when given, built-ins otherwise.
	reg := registry.New(logger)
	seedSource := registrySource(logger)
	entries, err := seedSource()
	if err != nil {
		logger.Fatal("registry seed load failed", zap.Error(err))
	}
	if _, err := reg.Refresh(entries); err != nil {
		logger.Fatal("registry refresh failed", zap.Error(err))
	}
	logger.Info("protocol registry loaded", zap.Int("protocols", reg.Count()))

	// ─── Intelligence sources ───────────────────────────────────────────

	providers := buildProviders(providerCache, logger)
	graphStore := graph.NewMemoryStore()
	engines := []engine.Engine{
		engine.NewMixerDetector(graphStore, reg, engine.DefaultMixerDetectorConfig(), logger),
		engine.NewCrossChainTracer(graphStore, reg, engine.DefaultCrossChainTracerConfig(), logger),
		engine.NewBridgeTracker(graphStore, reg, engine.DefaultBridgeTrackerConfig(), logger),
		engine.NewPatternDetector(graphStore, reg, engine.DefaultPatternDetectorConfig(), logger),
		engine.NewStablecoinFlowEngine(graphStore, reg, engine.DefaultStablecoinFlowConfig(), logger),
		engine.NewMLRiskScorer(graphStore, reg, engine.DefaultMLRiskConfig(), logger),
	}

	// ─── Fusion, evidence, alerts ───────────────────────────────────────

	reliability := make(map[string]float64, len(providers))
	for _, p := range providers {
		reliability[p.ID()] = p.Reliability()
	}
	attributionFuser := fusion.NewAttributionFuser(
		fusion.Strategy(getEnvOrDefault("ATTRIBUTION_STRATEGY", string(fusion.StrategyWeightedAverage))),
		func(sourceID string) float64 { return reliability[sourceID] },
		logger)
	riskFuser := fusion.NewRiskFuser(logger)

	evidenceStore := evidence.NewStore(graphStore, logger)

	wsHub := api.NewHub(logger)
	go wsHub.Run()

	alerts := alert.NewManager(func(a alert.Alert) {
		m.ObserveAlert(string(a.Severity))
		wsHub.BroadcastAlert(a)
	}, logger)
	if webhookURL := os.Getenv("ALERT_WEBHOOK_URL"); webhookURL != "" {
		alerts.RegisterWebhook("primary", webhookURL,
			models.Severity(getEnvOrDefault("ALERT_WEBHOOK_MIN_SEVERITY", string(models.SeverityHigh))), nil)
	}

	// ─── Orchestrator and scheduler ─────────────────────────────────────

	orch := orchestrator.New(orchestrator.DefaultConfig(), providers, engines,
		attributionFuser, riskFuser, evidenceStore, alerts, logger)
	orch.SetMetrics(m)

	sched := scheduler.New(scheduler.Config{}, alerts, logger)
	sched.SetMetrics(m)

	builtins := scheduler.Builtins{
		Orchestrator:   orch,
		Evidence:       evidenceStore,
		Registry:       reg,
		RegistrySource: seedSource,
		Alerts:         alerts,
		Watchlist:      parseWatchlist(os.Getenv("WATCHLIST"), logger),
		Logger:         logger,
	}
	if bookkeeper != nil {
		builtins.Store = bookkeeper
	}
	for _, p := range providers {
		if p.ID() == "sanctions" {
			builtins.Sanctions = p
		}
	}
	if err := builtins.Register(sched); err != nil {
		logger.Fatal("scheduler task registration failed", zap.Error(err))
	}
	sched.Start(ctx)
	defer sched.Stop()

	// ─── HTTP surface ───────────────────────────────────────────────────

	srv := api.NewServer(orch, sched, alerts, reg, m, wsHub, dbPing, logger)
	router := srv.SetupRouter(api.Config{
		AuthToken:      os.Getenv("API_AUTH_TOKEN"),
		AllowedOrigins: os.Getenv("ALLOWED_ORIGINS"),
	})

	port := getEnvOrDefault("PORT", "5340")
	errCh := make(chan error, 1)
	go func() {
		logger.Info("engine listening", zap.String("port", port))
		errCh <- router.Run(":" + port)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		logger.Fatal("http server failed", zap.Error(err))
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
		cancel()
		// Let in-flight scheduled tasks observe cancellation before exit.
		time.Sleep(time.Second)
	}
}

// buildLogger selects the zap profile: LOG_MODE=dev gives the console
// encoder, everything else is production JSON.
func buildLogger() *zap.Logger {
	if os.Getenv("LOG_MODE") == "dev" {
		logger, err := zap.NewDevelopment()
		if err != nil {
			panic(err)
		}
		return logger
	}
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	return logger
}

// registrySource returns the seed loader used at boot and by the daily
// refresh task.
func registrySource(logger *zap.Logger) scheduler.RegistrySource {
	if path := os.Getenv("PROTOCOLS_FILE"); path != "" {
		logger.Info("protocol registry seeded from file", zap.String("path", path))
		return func() ([]models.ProtocolEntry, error) { return registry.LoadFile(path) }
	}
	return func() ([]models.ProtocolEntry, error) { return registry.BuiltinEntries(), nil }
}

// buildProviders wires every adapter that has a base URL configured.
// Reliability weights feed attribution fusion.
func buildProviders(providerCache cache.Cache, logger *zap.Logger) []provider.Provider {
	var providers []provider.Provider

	if url := os.Getenv("SANCTIONS_API_URL"); url != "" {
		providers = append(providers, provider.NewSanctionsAdapter(provider.Config{
			ID:          "sanctions",
			BaseURL:     url,
			APIKey:      os.Getenv("SANCTIONS_API_KEY"),
			Reliability: 0.95,
		}, providerCache, logger))
	}
	if url := os.Getenv("LABELS_API_URL"); url != "" {
		providers = append(providers, provider.NewLabelAdapter(provider.Config{
			ID:          "labels",
			BaseURL:     url,
			APIKey:      os.Getenv("LABELS_API_KEY"),
			Reliability: 0.80,
		}, providerCache, logger))
	}
	if url := os.Getenv("RISKVENDOR_API_URL"); url != "" {
		providers = append(providers, provider.NewRiskVendorAdapter(provider.Config{
			ID:          "riskvendor",
			BaseURL:     url,
			APIKey:      os.Getenv("RISKVENDOR_API_KEY"),
			Reliability: 0.70,
		}, providerCache, logger, nil))
	}

	if len(providers) == 0 {
		logger.Warn("no intelligence providers configured; investigations run on analysis engines only")
	}
	return providers
}

// parseWatchlist reads WATCHLIST as comma-separated chain:address pairs.
func parseWatchlist(raw string, logger *zap.Logger) []models.Address {
	if raw == "" {
		return nil
	}
	var list []models.Address
	for _, item := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(item), ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			logger.Warn("skipping malformed watchlist entry", zap.String("entry", item))
			continue
		}
		list = append(list, models.NewAddress(parts[0], parts[1]))
	}
	return list
}

// getEnvOrDefault returns the env var value or a safe default for
// non-secret settings.
func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
