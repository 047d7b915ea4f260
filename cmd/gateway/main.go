package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aman-churiwal/ioc-gateway/internal/analysis"
	"github.com/aman-churiwal/ioc-gateway/internal/cache"
	"github.com/aman-churiwal/ioc-gateway/internal/config"
	"github.com/aman-churiwal/ioc-gateway/internal/enrichment"
	"github.com/aman-churiwal/ioc-gateway/internal/fusion"
	"github.com/aman-churiwal/ioc-gateway/internal/healthcheck"
	"github.com/aman-churiwal/ioc-gateway/internal/middleware"
	"github.com/aman-churiwal/ioc-gateway/internal/models"
	"github.com/aman-churiwal/ioc-gateway/internal/observability"
	"github.com/aman-churiwal/ioc-gateway/internal/provider"
	"github.com/aman-churiwal/ioc-gateway/internal/quota"
	"github.com/aman-churiwal/ioc-gateway/internal/repository"
	"github.com/aman-churiwal/ioc-gateway/internal/server"
	"github.com/aman-churiwal/ioc-gateway/internal/service"
	"github.com/aman-churiwal/ioc-gateway/internal/storage"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the JSON config file")
	issueToken := flag.String("issue-token", "", "print a bearer token for this tenant id and exit")
	tokenTier := flag.String("tier", "admin", "tier for -issue-token")
	flag.Parse()

	// Load env if it exists
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *issueToken != "" {
		if err := printToken(cfg, *issueToken, *tokenTier); err != nil {
			log.Fatalf("Failed to issue token: %v", err)
		}
		return
	}

	logger, err := observability.NewLogger(cfg.Server.Environment, cfg.Server.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("gateway stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	redis, err := storage.NewRedis(cfg.Redis.GetRedisAddr(), cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		if cfg.IsProduction() {
			return fmt.Errorf("connect to redis: %w", err)
		}
		logger.Warn("redis unavailable, using in-memory quota and cache", zap.Error(err))
		redis = nil
	} else {
		defer redis.Close()
		logger.Info("connected to redis", zap.String("addr", cfg.Redis.GetRedisAddr()))
	}

	var postgres *storage.Postgres
	if cfg.Database.DSN != "" {
		postgres, err = storage.NewPostgres(cfg.Database.DSN, !cfg.IsProduction())
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer postgres.Close()

		if err := postgres.AutoMigrate(); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		logger.Info("connected to postgres")
	} else {
		logger.Warn("no database configured, api keys and usage telemetry are disabled")
	}

	registry := provider.NewRegistryFromConfig(cfg.Providers, logger)
	for _, name := range registry.Names() {
		if !registry.Configured(name) {
			logger.Warn("provider has no api key", zap.String("provider", name))
		}
	}

	var counter quota.Counter = quota.NewMemoryCounter(nil)
	if redis != nil {
		counter = quota.NewRedisCounter(redis)
	}
	guard := quota.NewGuard(counter, quota.Options{Limits: quota.LimitsFromConfig(cfg.Quota.Tiers)})

	var backend cache.Backend
	if cfg.Cache.Backend == "redis" && redis != nil {
		backend = cache.NewRedisBackend(redis)
	} else {
		memory := cache.NewMemoryBackend(time.Minute)
		defer memory.Close()
		backend = memory
	}
	responses := cache.New(backend, cache.Options{DefaultTTL: cfg.Cache.TTL.Duration, Logger: logger})

	engine := fusion.NewEngine(fusion.Config{Logger: logger}).WithWeights(weightsFromConfig(cfg.Providers))

	enrich := enrichment.NewRunner(enrichment.Config{
		Enhanced: []enrichment.Source{enrichment.NewEnhancedPlaceholder()},
		Deep:     []enrichment.Source{enrichment.NewDeepPlaceholder()},
		Logger:   logger,
	})

	analyzer := analysis.NewService(analysis.Options{
		Registry:   registry,
		Guard:      guard,
		Cache:      responses,
		Engine:     engine,
		Enrichment: enrich,
		Timeout:    cfg.Analysis.Timeout.Duration,
		CacheTTL:   cfg.Cache.TTL.Duration,
		Logger:     logger,
	})

	checks := map[string]healthcheck.Pinger{"redis": nil, "database": nil}
	if redis != nil {
		checks["redis"] = redis
	}
	if postgres != nil {
		checks["database"] = postgres
	}
	checker := healthcheck.NewChecker(healthcheck.Config{Checks: checks, Logger: logger})

	deps := server.Dependencies{
		Analyzer: analyzer,
		Registry: registry,
		Guard:    guard,
		Checker:  checker,
		Cache:    responses,
	}

	if cfg.Auth.JWTSecret != "" {
		deps.Tokens = service.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL.Duration)
	}

	if postgres != nil {
		var keyCache service.KeyCache
		if redis != nil {
			keyCache = redis
		}
		deps.Keys = service.NewAPIKeyService(repository.NewAPIKeyRepository(postgres), keyCache, logger)

		usageRepo := repository.NewUsageRepository(postgres)
		deps.Usage = service.NewUsageService(usageRepo)
		deps.Recorder = middleware.NewUsageRecorder(usageRepo, cfg.Database.LogBuffer, logger)
	}

	if deps.Keys == nil && deps.Tokens == nil {
		logger.Warn("neither a database nor a JWT secret is configured, every /api request will be rejected")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checker.Start(ctx)

	srv := server.New(cfg, deps, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run(":" + cfg.Server.Port)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server exited")
	return nil
}

func weightsFromConfig(providers map[string]config.ProviderConfig) map[string]float64 {
	weights := make(map[string]float64)
	for name, p := range providers {
		if p.Weight != nil {
			weights[name] = *p.Weight
		}
	}
	return weights
}

func printToken(cfg *config.Config, tenantID, rawTier string) error {
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is not set")
	}
	tier, err := models.ParseTier(rawTier)
	if err != nil {
		return err
	}

	token, expires, err := service.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL.Duration).Issue(tenantID, tier)
	if err != nil {
		return err
	}

	fmt.Fprintln(os.Stdout, token)
	fmt.Fprintf(os.Stderr, "expires %s\n", expires.UTC().Format(time.RFC3339))
	return nil
}
