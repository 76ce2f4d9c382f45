package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/promgate/llm-gateway/internal/auth"
	gwcache "github.com/promgate/llm-gateway/internal/cache"
	"github.com/promgate/llm-gateway/internal/dlp"
	"github.com/promgate/llm-gateway/internal/keystore/sqlite"
	"github.com/promgate/llm-gateway/internal/logger"
	"github.com/promgate/llm-gateway/internal/metrics"
	"github.com/promgate/llm-gateway/internal/providers"
	"github.com/promgate/llm-gateway/internal/proxy"
	"github.com/promgate/llm-gateway/internal/ratelimit"
	"github.com/promgate/llm-gateway/internal/semantic"
)

// initInfra establishes optional external connections.
// Redis is only required when CACHE_MODE=redis.
func (a *App) initInfra(ctx context.Context) error {
	if a.cfg.Cache.Mode == "redis" {
		a.log.Info("connecting to redis", slog.String("url", redactURL(a.cfg.Redis.URL())))

		rdb, err := connectRedis(ctx, a.cfg.Redis.URL())
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		a.rdb = rdb
		a.log.Info("redis connected")
	}

	return nil
}

// initKeystore opens the SQLite key store and builds the authenticator.
func (a *App) initKeystore(_ context.Context) error {
	store, err := sqlite.New(a.cfg.KeystoreDSN)
	if err != nil {
		return err
	}
	a.store = store
	a.authn = auth.NewAuthenticator(store, a.log)
	a.log.Info("keystore opened", slog.String("dsn", a.cfg.KeystoreDSN))
	return nil
}

// initProviders builds the provider registry from the configured entries.
// Credentials are read lazily at resolve time, so a missing env var only
// fails requests that target that provider.
func (a *App) initProviders(_ context.Context) error {
	a.registry = providers.NewRegistry(a.cfg.Providers, providerFactory(a.baseCtx))

	names := make([]string, 0, len(a.cfg.Providers))
	for _, e := range a.cfg.Providers {
		names = append(names, e.Name)
	}
	a.log.Info("providers loaded", slog.Any("providers", names))

	return nil
}

// initServices creates the cache backends, the PII scrubber, the rate
// limiter, the metrics registry and the async request logger.
func (a *App) initServices(ctx context.Context) error {
	switch a.cfg.Cache.Mode {
	case "redis":
		// ExactCache wraps the already-connected Redis client.
		a.log.Info("cache backend: redis")

	case "memory":
		// MemoryCache — zero external dependencies, not shared across replicas.
		a.memCache = gwcache.NewMemoryCache(ctx)
		a.log.Info("cache backend: memory (in-process)")

	case "none":
		a.log.Info("cache backend: disabled")

	default:
		return fmt.Errorf("unknown cache mode: %s", a.cfg.Cache.Mode)
	}

	a.scrubber = dlp.New(a.log)

	// Semantic cache — needs an embedding credential; degrades to disabled.
	if a.cfg.Semantic.Enabled && a.cfg.Cache.Mode != "none" {
		embedKey := os.Getenv(a.cfg.Semantic.APIKeyEnv)
		if embedKey == "" {
			a.log.Warn("semantic cache disabled: embedding credential not set",
				slog.String("env", a.cfg.Semantic.APIKeyEnv))
		} else {
			embedder := semantic.NewOpenAIEmbedder(embedKey, a.cfg.Semantic.Model, a.cfg.Semantic.Dims)

			var index semantic.Index
			if a.rdb != nil {
				index = semantic.NewRedisIndex(a.rdb)
			} else {
				index = semantic.NewMemoryIndex()
			}

			a.semCache = semantic.NewCache(embedder, index, a.cfg.Semantic.Threshold, a.log)
			a.log.Info("semantic cache enabled",
				slog.Float64("threshold", a.cfg.Semantic.Threshold),
				slog.String("model", a.cfg.Semantic.Model),
			)
		}
	}

	// Rate limiting — Redis sliding window when available, in-process otherwise.
	if a.cfg.RateLimit.RPMLimit > 0 {
		if a.rdb != nil {
			a.limiter = ratelimit.NewRPMLimiter(a.rdb, a.cfg.RateLimit.RPMLimit)
		} else {
			a.memLimiter = ratelimit.NewMemoryLimiter(a.cfg.RateLimit.RPMLimit)
			a.limiter = a.memLimiter
		}
		a.log.Info("rate limiting enabled", slog.Int("rpm_limit", a.cfg.RateLimit.RPMLimit))
	}

	a.prom = metrics.New()
	a.prom.SetBuildInfo(a.version)

	// Async request logger. ClickHouse when configured, slog otherwise.
	var sink logger.Sink
	if a.cfg.ClickHouseURL != "" {
		chSink, err := logger.NewClickHouseSink(ctx, a.cfg.ClickHouseURL, a.log)
		if err != nil {
			a.log.Warn("clickhouse sink unavailable, falling back to slog",
				slog.String("error", err.Error()))
		} else {
			sink = chSink
			a.log.Info("request logging to clickhouse",
				slog.String("url", redactURL(a.cfg.ClickHouseURL)))
		}
	}
	if sink == nil {
		sink = logger.NewSlogSink(a.log)
	}

	reqLogger, err := logger.New(a.baseCtx, sink)
	if err != nil {
		return fmt.Errorf("request logger: %w", err)
	}
	a.reqLogger = reqLogger

	return nil
}

// initGateway wires together the Gateway with all configured subsystems.
func (a *App) initGateway(_ context.Context) error {
	var cacheImpl gwcache.Cache
	switch a.cfg.Cache.Mode {
	case "redis":
		cacheImpl = gwcache.NewExactCacheFromClient(a.rdb)
	case "memory":
		cacheImpl = a.memCache
	case "none":
		// nil cache — gateway handles nil gracefully (no caching)
	}

	gw := proxy.NewGateway(a.baseCtx, a.registry, cacheImpl, proxy.GatewayOptions{
		Logger:        a.log,
		Scrubber:      a.scrubber,
		Semantic:      a.semCache,
		Limiter:       a.limiter,
		Authenticator: a.authn,
		Metrics:       a.prom,
		CacheTTL:      a.cfg.Cache.TTL,
	})

	gw.SetLogger(a.reqLogger)
	gw.SetCORSOrigins(a.cfg.CORSOrigins)

	// Cache exclusions.
	if len(a.cfg.Cache.ExcludeExact) > 0 || len(a.cfg.Cache.ExcludePatterns) > 0 {
		el, err := gwcache.NewExclusionList(a.cfg.Cache.ExcludeExact, a.cfg.Cache.ExcludePatterns)
		if err != nil {
			return fmt.Errorf("cache exclusions: %w", err)
		}
		gw.SetCacheExclusions(el)
		a.log.Info("cache exclusions loaded", slog.Int("rules", el.Len()))
	}

	a.mgmt = &proxy.ManagementRoutes{
		Metrics: a.prom.Handler(),
		Ready:   keystorePinger(a.baseCtx, a.store),
	}

	a.gw = gw

	return nil
}
