// Package config loads and validates all runtime configuration for the gateway.
//
// Two sources are combined:
//
//   - Environment variables (with .env support) for runtime tuning: port,
//     log level, Redis location, cache mode and TTL, rate limit, key store
//     DSN, semantic cache settings.
//   - A YAML provider route table (config.yaml by default, overridable via
//     CONFIG_FILE). The file is required — a gateway without routes cannot
//     serve anything, so a missing file is fatal at startup.
//
// Provider credentials are NOT part of this structure: each route entry names
// an api_key_env variable that is resolved from the process environment at
// request time.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/promgate/llm-gateway/internal/providers"
)

// Config is the top-level configuration container.
type Config struct {
	// Port is the TCP port the HTTP server listens on. Default: 8080.
	Port int

	// LogLevel controls the minimum log level. One of: debug, info, warn, error.
	LogLevel string

	// Redis holds the cache / rate-limiter backend location.
	Redis RedisConfig

	// Cache controls response caching behaviour.
	Cache CacheConfig

	// Semantic controls the embedding-based cache layer.
	Semantic SemanticConfig

	// RateLimit controls per-principal request-rate limiting.
	RateLimit RateLimitConfig

	// KeystoreDSN is the SQLite DSN for the API key store. Default: gateway.db.
	KeystoreDSN string

	// ClickHouseURL enables the optional analytics sink when non-empty.
	ClickHouseURL string

	// CORSOrigins is the list of allowed CORS origins. ["*"] allows any.
	CORSOrigins []string

	// Providers is the ordered route table from the YAML file.
	Providers []providers.Entry
}

// RedisConfig holds the Redis host/port pair. The two-variable form matches
// typical container deployments where the hostname is a service name.
type RedisConfig struct {
	Host string
	Port string
}

// URL renders the redis:// connection URL.
func (r RedisConfig) URL() string {
	return "redis://" + r.Host + ":" + r.Port
}

// CacheConfig controls the exact-match response cache.
type CacheConfig struct {
	// Mode selects the backend:
	//   "redis"  — shared Redis cache, recommended for multi-replica deployments.
	//   "memory" — in-process TTL cache, no external deps.
	//   "none"   — caching disabled.
	Mode string

	// TTL is the time-to-live for cached responses. Default: 1h.
	TTL time.Duration

	// ExcludeExact lists model names that must never be cached.
	ExcludeExact []string

	// ExcludePatterns lists Go regexps matched against model names; matching
	// requests bypass the cache entirely.
	ExcludePatterns []string
}

// SemanticConfig controls the embedding-based cache layer.
type SemanticConfig struct {
	// Enabled turns the semantic layer on. It additionally requires the
	// embedding credential (EMBEDDING_API_KEY_ENV) to be resolvable.
	Enabled bool

	// Threshold is the minimum similarity (1 − distance) for a hit.
	Threshold float64

	// Model is the embedding model identifier.
	Model string

	// Dims is the embedding dimension.
	Dims int

	// APIKeyEnv names the env var holding the embedding API credential.
	APIKeyEnv string
}

// RateLimitConfig controls request-rate limiting.
type RateLimitConfig struct {
	// RPMLimit is the maximum requests per minute per principal.
	// 0 disables rate limiting. Default: 10.
	RPMLimit int
}

// Load reads configuration from the environment (plus .env) and the provider
// YAML file.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// ── Defaults ──────────────────────────────────────────────────────────────
	v.SetDefault("PORT", 8080)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("REDIS_HOST", "redis")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("CACHE_MODE", "redis")
	v.SetDefault("CACHE_TTL", "1h")
	v.SetDefault("RPM_LIMIT", 10)
	v.SetDefault("KEYSTORE_DSN", "gateway.db")
	v.SetDefault("SEMANTIC_CACHE_ENABLED", true)
	v.SetDefault("SEMANTIC_THRESHOLD", 0.95)
	v.SetDefault("EMBEDDING_MODEL", "text-embedding-3-small")
	v.SetDefault("EMBEDDING_DIMS", 384)
	v.SetDefault("EMBEDDING_API_KEY_ENV", "OPENAI_API_KEY")
	v.SetDefault("CONFIG_FILE", "config.yaml")
	v.SetDefault("CORS_ORIGINS", []string{"*"})

	cfg := &Config{
		Port:     v.GetInt("PORT"),
		LogLevel: strings.ToLower(v.GetString("LOG_LEVEL")),

		Redis: RedisConfig{
			Host: v.GetString("REDIS_HOST"),
			Port: v.GetString("REDIS_PORT"),
		},

		Cache: CacheConfig{
			Mode:            strings.ToLower(v.GetString("CACHE_MODE")),
			TTL:             v.GetDuration("CACHE_TTL"),
			ExcludeExact:    v.GetStringSlice("CACHE_EXCLUDE_EXACT"),
			ExcludePatterns: v.GetStringSlice("CACHE_EXCLUDE_PATTERNS"),
		},

		Semantic: SemanticConfig{
			Enabled:   v.GetBool("SEMANTIC_CACHE_ENABLED"),
			Threshold: v.GetFloat64("SEMANTIC_THRESHOLD"),
			Model:     v.GetString("EMBEDDING_MODEL"),
			Dims:      v.GetInt("EMBEDDING_DIMS"),
			APIKeyEnv: v.GetString("EMBEDDING_API_KEY_ENV"),
		},

		RateLimit: RateLimitConfig{
			RPMLimit: v.GetInt("RPM_LIMIT"),
		},

		KeystoreDSN:   v.GetString("KEYSTORE_DSN"),
		ClickHouseURL: v.GetString("CLICKHOUSE_URL"),
		CORSOrigins:   v.GetStringSlice("CORS_ORIGINS"),
	}

	entries, err := loadProviders(v.GetString("CONFIG_FILE"))
	if err != nil {
		return nil, err
	}
	cfg.Providers = entries

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadProviders reads the ordered route table from path. The file is required.
func loadProviders(path string) ([]providers.Entry, error) {
	pv := viper.New()
	pv.SetConfigFile(path)
	pv.SetConfigType("yaml")

	if err := pv.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: provider file %s: %w", path, err)
	}

	var doc struct {
		Providers []struct {
			Name      string   `mapstructure:"name"`
			APIKeyEnv string   `mapstructure:"api_key_env"`
			Models    []string `mapstructure:"models"`
			BaseURL   string   `mapstructure:"base_url"`
		} `mapstructure:"providers"`
	}
	if err := pv.Unmarshal(&doc); err != nil {
		return nil, fmt.Errorf("config: parse provider file %s: %w", path, err)
	}

	entries := make([]providers.Entry, 0, len(doc.Providers))
	for i, p := range doc.Providers {
		if p.Name == "" {
			return nil, fmt.Errorf("config: providers[%d]: 'name' is required", i)
		}
		if p.APIKeyEnv == "" {
			return nil, fmt.Errorf("config: providers[%d] (%s): 'api_key_env' is required", i, p.Name)
		}
		if len(p.Models) == 0 {
			return nil, fmt.Errorf("config: providers[%d] (%s): 'models' must not be empty", i, p.Name)
		}
		entries = append(entries, providers.Entry{
			Name:      p.Name,
			APIKeyEnv: p.APIKeyEnv,
			Models:    p.Models,
			BaseURL:   p.BaseURL,
		})
	}
	return entries, nil
}

// validate checks all semantic constraints that cannot be expressed as defaults.
func (c *Config) validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("config: at least one provider entry is required in the provider file")
	}

	switch c.Cache.Mode {
	case "redis", "memory", "none":
	default:
		return fmt.Errorf("config: invalid CACHE_MODE %q; must be one of: redis, memory, none", c.Cache.Mode)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid LOG_LEVEL %q; must be one of: debug, info, warn, error", c.LogLevel)
	}

	if c.RateLimit.RPMLimit < 0 {
		return fmt.Errorf("config: RPM_LIMIT must be ≥ 0, got %d", c.RateLimit.RPMLimit)
	}

	if c.Semantic.Enabled {
		if c.Semantic.Threshold <= 0 || c.Semantic.Threshold > 1 {
			return fmt.Errorf("config: SEMANTIC_THRESHOLD must be in (0, 1], got %v", c.Semantic.Threshold)
		}
		if c.Semantic.Dims <= 0 {
			return fmt.Errorf("config: EMBEDDING_DIMS must be > 0, got %d", c.Semantic.Dims)
		}
	}

	return nil
}

// loadDotEnv populates process env vars from a .env file when present.
func loadDotEnv(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: %s is a directory, expected a file", path)
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	return nil
}
