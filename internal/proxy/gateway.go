// Package proxy is the core LLM request dispatcher.
//
// The Gateway receives an incoming OpenAI-compatible request, authenticates
// the caller, applies rate limiting, redacts PII, consults the exact and
// semantic cache layers, and only then forwards the request to the resolved
// provider.
//
// Key design constraints:
//   - Gateway overhead (excluding embedding calls) stays off the hot path:
//     no blocking I/O beyond the cache and limiter round-trips.
//   - Scrubber, caches, limiter, logger and metrics are optional and nil-safe.
//   - All I/O uses context.Context so timeouts propagate correctly.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/promgate/llm-gateway/internal/auth"
	"github.com/promgate/llm-gateway/internal/cache"
	"github.com/promgate/llm-gateway/internal/dlp"
	"github.com/promgate/llm-gateway/internal/logger"
	"github.com/promgate/llm-gateway/internal/metrics"
	"github.com/promgate/llm-gateway/internal/providers"
	"github.com/promgate/llm-gateway/internal/ratelimit"
	"github.com/promgate/llm-gateway/internal/semantic"
	"github.com/promgate/llm-gateway/pkg/apierr"
	"github.com/valyala/fasthttp"
)

const (
	xCacheHIT      = "HIT"
	xCacheSEMANTIC = "SEMANTIC"
	xCacheMISS     = "MISS"

	// user value keys set during a request's middleware traversal.
	keyOwner     = "owner"
	keyModel     = "model"
	keyPrincipal = "principal"
)

// GatewayOptions holds optional dependencies for a Gateway. All fields are
// nil-safe and can be omitted.
type GatewayOptions struct {
	// Logger is the structured logger for request events. Defaults to
	// slog.Default when nil.
	Logger *slog.Logger

	// Scrubber redacts PII from message content before caching and
	// forwarding. Nil disables redaction.
	Scrubber *dlp.Scrubber

	// Semantic is the similarity cache consulted after an exact miss.
	Semantic *semantic.Cache

	// Limiter enforces the per-principal RPM limit.
	Limiter ratelimit.Limiter

	// Authenticator validates X-API-Key headers. Nil disables auth
	// (useful in tests).
	Authenticator *auth.Authenticator

	// Metrics enables Prometheus metrics collection. Nil disables.
	Metrics *metrics.Registry

	// CacheTTL controls the TTL for exact-cache entries. Default: 1h.
	CacheTTL time.Duration
}

// Gateway is the main dispatcher — all dependencies are injected via the
// constructor so they can be replaced with doubles in unit tests.
type Gateway struct {
	registry *providers.Registry
	exact    cache.Cache
	baseCtx  context.Context
	log      *slog.Logger
	metrics  *metrics.Registry

	scrubber *dlp.Scrubber
	semantic *semantic.Cache
	limiter  ratelimit.Limiter
	authn    *auth.Authenticator
	cacheTTL time.Duration

	// Optional dependencies — nil-safe when not configured.
	reqLogger       *logger.Logger
	cacheExclusions *cache.ExclusionList

	// CORS allowed origins. Empty slice means deny all; ["*"] means allow all.
	corsOrigins []string
}

// SetCORSOrigins configures the allowed CORS origins for the gateway.
func (g *Gateway) SetCORSOrigins(origins []string) {
	g.corsOrigins = origins
}

// NewGateway creates a fully configured Gateway.
func NewGateway(
	baseCtx context.Context,
	registry *providers.Registry,
	exact cache.Cache,
	opts GatewayOptions,
) *Gateway {
	if baseCtx == nil {
		panic("gateway: context must not be nil")
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	cacheTTL := opts.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}

	return &Gateway{
		registry: registry,
		exact:    exact,
		baseCtx:  baseCtx,
		log:      log,
		metrics:  opts.Metrics,
		scrubber: opts.Scrubber,
		semantic: opts.Semantic,
		limiter:  opts.Limiter,
		authn:    opts.Authenticator,
		cacheTTL: cacheTTL,
	}
}

// SetLogger injects the async request logger.
func (g *Gateway) SetLogger(l *logger.Logger) {
	g.reqLogger = l
}

// SetCacheExclusions injects the cache exclusion list.
// Requests whose model name matches any rule skip both cache layers entirely.
func (g *Gateway) SetCacheExclusions(el *cache.ExclusionList) {
	g.cacheExclusions = el
}

// dispatchChat is the core handler for /v1/chat/completions. It runs after
// the auth and rate limit middlewares, so the caller is already identified.
func (g *Gateway) dispatchChat(ctx *fasthttp.RequestCtx) {
	start := time.Now()
	reqID, _ := ctx.UserValue("request_id").(string)
	owner, _ := ctx.UserValue(keyOwner).(string)

	// 1. Parse and validate the request body.
	req, err := providers.ParseChatRequest(ctx.PostBody())
	if err != nil {
		apierr.Write(ctx, fasthttp.StatusBadRequest, err.Error())
		return
	}
	ctx.SetUserValue(keyModel, req.Model)

	// 2. Redact PII before anything downstream (cache keys included) sees
	// the content.
	g.scrubber.ScrubRequest(ctx, req)

	cacheKey := cache.Fingerprint(req)
	cacheEligible := g.exact != nil &&
		(g.cacheExclusions == nil || !g.cacheExclusions.Matches(req.Model))

	g.log.InfoContext(ctx, "request",
		slog.String("request_id", reqID),
		slog.String("owner", owner),
		slog.String("model", req.Model),
		slog.Bool("cache_eligible", cacheEligible),
	)

	// 3. Exact cache lookup.
	if cacheEligible {
		if body, ok := g.exact.Get(ctx, cacheKey); ok {
			g.recordCacheOp("exact", "get", "hit")
			g.serveCached(ctx, reqID, owner, req.Model, body, xCacheHIT, start)
			return
		}
		g.recordCacheOp("exact", "get", "miss")
	}

	// 4. Semantic lookup on the last user message. A semantic match only
	// counts if its exact-cache entry is still alive; an expired entry means
	// the answer must be refreshed upstream.
	if cacheEligible && g.semantic != nil {
		if text, ok := req.LastUserText(); ok {
			if matchedKey, found := g.semantic.Search(ctx, text); found {
				if body, ok := g.exact.Get(ctx, matchedKey); ok {
					g.recordCacheOp("semantic", "search", "hit")
					g.serveCached(ctx, reqID, owner, req.Model, body, xCacheSEMANTIC, start)
					return
				}
			}
			g.recordCacheOp("semantic", "search", "miss")
		}
	}

	// 5. Resolve the provider for the requested model.
	prov, err := g.registry.Resolve(req.Model)
	if err != nil {
		var resolveErr *providers.ResolveError
		if errors.As(err, &resolveErr) {
			apierr.Write(ctx, resolveErr.HTTPStatus(), resolveErr.Message)
			return
		}
		apierr.Write(ctx, fasthttp.StatusBadRequest, err.Error())
		return
	}

	// 6. Invoke the provider.
	provCtx, cancel := context.WithTimeout(ctx, providers.ProviderTimeout)
	defer cancel()

	resp, err := prov.Invoke(provCtx, req)
	if err != nil {
		g.log.ErrorContext(ctx, "provider_error",
			slog.String("request_id", reqID),
			slog.String("provider", prov.Name()),
			slog.String("error", err.Error()),
			slog.Duration("elapsed", time.Since(start)),
		)
		handleProviderError(ctx, err)
		g.logRequest(reqID, owner, prov.Name(), req.Model,
			0, 0, time.Since(start), ctx.Response.StatusCode(), "")
		return
	}

	body, err := json.Marshal(resp)
	if err != nil {
		apierr.Write(ctx, fasthttp.StatusInternalServerError, "failed to serialize response")
		return
	}

	// 7. Populate both cache layers for future requests.
	if cacheEligible {
		if err := g.exact.Set(ctx, cacheKey, body, g.cacheTTL); err != nil {
			g.recordCacheOp("exact", "set", "error")
		} else {
			g.recordCacheOp("exact", "set", "ok")
		}
		if g.semantic != nil {
			if text, ok := req.LastUserText(); ok {
				if g.semantic.Add(ctx, cacheKey, text) {
					g.recordCacheOp("semantic", "add", "ok")
				} else {
					g.recordCacheOp("semantic", "add", "error")
				}
			}
		}
	}

	g.addTokens(owner, req.Model, resp.Usage)
	g.logRequest(reqID, owner, prov.Name(), req.Model,
		resp.Usage.PromptTokens, resp.Usage.CompletionTokens,
		time.Since(start), fasthttp.StatusOK, xCacheMISS)

	g.log.DebugContext(ctx, "response_ok",
		slog.String("request_id", reqID),
		slog.String("provider", prov.Name()),
		slog.String("model", resp.Model),
		slog.Int("prompt_tokens", resp.Usage.PromptTokens),
		slog.Int("completion_tokens", resp.Usage.CompletionTokens),
		slog.Duration("elapsed", time.Since(start)),
	)

	ctx.Response.Header.Set("X-Cache", xCacheMISS)
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

// serveCached writes a cached response body. Cached usage is re-counted in
// the token metrics so dashboards reflect tokens served, not tokens bought.
func (g *Gateway) serveCached(
	ctx *fasthttp.RequestCtx,
	reqID, owner, model string,
	body []byte,
	cacheLabel string,
	start time.Time,
) {
	var cached struct {
		Usage providers.Usage `json:"usage"`
	}
	if err := json.Unmarshal(body, &cached); err == nil {
		g.addTokens(owner, model, cached.Usage)
	}

	g.log.DebugContext(ctx, "cache_hit",
		slog.String("request_id", reqID),
		slog.String("model", model),
		slog.String("cache", cacheLabel),
	)

	g.logRequest(reqID, owner, "cache", model,
		cached.Usage.PromptTokens, cached.Usage.CompletionTokens,
		time.Since(start), fasthttp.StatusOK, cacheLabel)

	ctx.Response.Header.Set("X-Cache", cacheLabel)
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

func (g *Gateway) addTokens(owner, model string, u providers.Usage) {
	if g.metrics == nil {
		return
	}
	if owner == "" {
		owner = "anonymous"
	}
	g.metrics.AddTokens(owner, model, u.PromptTokens, u.CompletionTokens, u.TotalTokens)
}

func (g *Gateway) recordCacheOp(layer, op, result string) {
	if g.metrics != nil {
		g.metrics.RecordCacheOp(layer, op, result)
	}
}

// logRequest enqueues a RequestLog entry to the async logger. Never blocks.
func (g *Gateway) logRequest(
	requestID, owner, provider, model string,
	inputTokens, outputTokens int,
	latency time.Duration,
	status int,
	cacheLabel string,
) {
	if g.reqLogger == nil {
		return
	}

	reqUUID, _ := uuid.Parse(requestID)

	// Clamp to uint16 max so we don't overflow the field.
	latencyMs := uint16(latency.Milliseconds())
	if latency.Milliseconds() > 65535 {
		latencyMs = 65535
	}

	g.reqLogger.Log(logger.RequestLog{
		ID:           reqUUID,
		Owner:        owner,
		Provider:     provider,
		Model:        model,
		InputTokens:  uint32(inputTokens),
		OutputTokens: uint32(outputTokens),
		LatencyMs:    latencyMs,
		Status:       uint16(status),
		Cache:        cacheLabel,
		CreatedAt:    time.Now(),
	})
}

// handleProviderError maps provider errors to the appropriate HTTP response.
//
//	StatusCoder (upstream HTTP codes) → passed through, body forwarded verbatim
//	context.DeadlineExceeded          → 504 Gateway Timeout
//	all other errors                  → 502 Bad Gateway
func handleProviderError(ctx *fasthttp.RequestCtx, err error) {
	var provErr *providers.Error
	if errors.As(err, &provErr) {
		apierr.WriteProvider(ctx, provErr.HTTPStatus(), provErr.Body, provErr.Message)
		return
	}

	var sc providers.StatusCoder
	if errors.As(err, &sc) {
		apierr.WriteProvider(ctx, sc.HTTPStatus(), nil, err.Error())
		return
	}

	if errors.Is(err, context.DeadlineExceeded) {
		apierr.WriteTimeout(ctx)
		return
	}

	apierr.Write(ctx, fasthttp.StatusBadGateway,
		fmt.Sprintf("provider request failed: %s", err.Error()))
}
