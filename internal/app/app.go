// Package app wires up all subsystems and owns the application lifecycle.
//
// Startup order:
//  1. initInfra    — external connections (Redis when needed)
//  2. initKeystore — API key store + authenticator
//  3. initProviders — provider registry
//  4. initServices — caches, scrubber, limiter, metrics, request logger
//  5. initGateway  — proxy + management routes
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/promgate/llm-gateway/internal/auth"
	gwcache "github.com/promgate/llm-gateway/internal/cache"
	"github.com/promgate/llm-gateway/internal/config"
	"github.com/promgate/llm-gateway/internal/dlp"
	"github.com/promgate/llm-gateway/internal/keystore"
	"github.com/promgate/llm-gateway/internal/logger"
	"github.com/promgate/llm-gateway/internal/metrics"
	"github.com/promgate/llm-gateway/internal/providers"
	anthropicprov "github.com/promgate/llm-gateway/internal/providers/anthropic"
	geminiprov "github.com/promgate/llm-gateway/internal/providers/gemini"
	openaiprov "github.com/promgate/llm-gateway/internal/providers/openai"
	openaicompatprov "github.com/promgate/llm-gateway/internal/providers/openaicompat"
	"github.com/promgate/llm-gateway/internal/proxy"
	"github.com/promgate/llm-gateway/internal/ratelimit"
	"github.com/promgate/llm-gateway/internal/semantic"
)

// App owns all long-lived resources and exposes Run / Close.
type App struct {
	version string
	cfg     *config.Config
	baseCtx context.Context
	log     *slog.Logger

	// Optional external connections — nil when not configured.
	rdb *redis.Client

	store      keystore.Store
	authn      *auth.Authenticator
	registry   *providers.Registry
	reqLogger  *logger.Logger
	memCache   *gwcache.MemoryCache
	memLimiter *ratelimit.MemoryLimiter

	scrubber *dlp.Scrubber
	semCache *semantic.Cache
	limiter  ratelimit.Limiter

	prom *metrics.Registry

	mgmt *proxy.ManagementRoutes
	gw   *proxy.Gateway
}

// New initialises all subsystems and returns a ready-to-run App.
// All resources allocated here are released by Close.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, version string) (*App, error) {
	if ctx == nil {
		return nil, fmt.Errorf("app: context must not be nil")
	}

	a := &App{cfg: cfg, version: version, baseCtx: ctx, log: log}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"infra", a.initInfra},
		{"keystore", a.initKeystore},
		{"providers", a.initProviders},
		{"services", a.initServices},
		{"gateway", a.initGateway},
	}

	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("app: init %s: %w", s.name, err)
		}
	}

	return a, nil
}

// Run starts the HTTP server and blocks until ctx is cancelled or an error
// occurs. It closes the app gracefully when returning.
func (a *App) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", a.cfg.Port)

	a.log.Info("starting gateway",
		slog.String("version", a.version),
		slog.String("addr", addr),
		slog.String("cache_mode", a.cfg.Cache.Mode),
		slog.Int("providers", len(a.cfg.Providers)),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.gw.StartWithRoutes(addr, a.mgmt)
	})

	g.Go(func() error {
		<-gctx.Done()
		a.Close()
		return nil
	})

	return g.Wait()
}

// Close releases all resources in reverse-init order. Safe to call multiple
// times and from multiple goroutines.
func (a *App) Close() {
	if a.reqLogger != nil {
		if err := a.reqLogger.Close(); err != nil {
			a.log.Error("logger close error", slog.String("error", err.Error()))
		}
		a.reqLogger = nil
	}
	if a.memLimiter != nil {
		_ = a.memLimiter.Close()
		a.memLimiter = nil
	}
	if a.memCache != nil {
		a.memCache.Close()
		a.memCache = nil
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Error("keystore close error", slog.String("error", err.Error()))
		}
		a.store = nil
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Error("redis close error", slog.String("error", err.Error()))
		}
		a.rdb = nil
	}
}

// ── Private helpers ──────────────────────────────────────────────────────────

// connectRedis parses the URL and verifies connectivity with a PING.
// Returns an error — callers decide whether to fatal or degrade.
func connectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return rdb, nil
}

// keystorePinger returns a zero-argument probe for GET /health.
// Reuses the existing store — no new connections.
func keystorePinger(ctx context.Context, store keystore.Store) func() bool {
	return func() bool {
		pingCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		return store.Ping(pingCtx) == nil
	}
}

// providerFactory instantiates adapters for registry entries. The adapter
// family follows the entry name; anything unrecognised is treated as an
// OpenAI-compatible service and requires an explicit base_url.
func providerFactory(ctx context.Context) providers.Factory {
	return func(entry providers.Entry, credential string) (providers.Provider, error) {
		switch strings.ToLower(entry.Name) {
		case "openai":
			var opts []openaiprov.Option
			if entry.BaseURL != "" {
				opts = append(opts, openaiprov.WithBaseURL(entry.BaseURL))
			}
			return openaiprov.New(credential, opts...), nil

		case "gemini", "google":
			var opts []geminiprov.Option
			if entry.BaseURL != "" {
				opts = append(opts, geminiprov.WithBaseURL(entry.BaseURL))
			}
			return geminiprov.New(ctx, credential, opts...)

		case "anthropic", "claude":
			var opts []anthropicprov.Option
			if entry.BaseURL != "" {
				opts = append(opts, anthropicprov.WithBaseURL(entry.BaseURL))
			}
			return anthropicprov.New(credential, opts...), nil

		default:
			if entry.BaseURL == "" {
				return nil, fmt.Errorf("provider %s: base_url is required for OpenAI-compatible services", entry.Name)
			}
			return openaicompatprov.New(entry.Name, credential, entry.BaseURL), nil
		}
	}
}

// redactURL replaces the userinfo portion of a URL with "***" for safe logging.
// e.g. "redis://:secret@localhost:6379" → "redis://***@localhost:6379"
func redactURL(raw string) string {
	for i, c := range raw {
		if c == '@' {
			// Find the scheme end ("://") and keep only scheme + "***" + @host.
			for j := i - 1; j >= 0; j-- {
				if j+2 < len(raw) && raw[j:j+3] == "://" {
					return raw[:j+3] + "***" + raw[i:]
				}
			}
			return "***" + raw[i:]
		}
	}
	return raw
}
