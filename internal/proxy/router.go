package proxy

import (
	"encoding/json"
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"
)

// RouteHandler is a fasthttp handler function.
type RouteHandler = fasthttp.RequestHandler

// ManagementRoutes holds optional management API handler functions
// that are registered alongside the proxy routes.
type ManagementRoutes struct {
	Metrics RouteHandler

	// Ready reports backend (keystore) connectivity for GET /health.
	Ready func() bool
}

// Start starts the HTTP server on addr (e.g. ":8080").
// Pass nil for routes to start in proxy-only mode.
func (g *Gateway) Start(addr string) error {
	return g.StartWithRoutes(addr, nil)
}

// StartWithRoutes starts the HTTP server with optional management routes.
func (g *Gateway) StartWithRoutes(addr string, mgmt *ManagementRoutes) error {
	srv := g.buildServer(mgmt)
	return srv.ListenAndServe(addr)
}

// buildServer assembles the router and middleware chain.
func (g *Gateway) buildServer(mgmt *ManagementRoutes) *fasthttp.Server {
	r := router.New()

	completions := applyMiddleware(g.dispatchChat,
		g.observeMiddleware,
		g.authMiddleware,
		g.rateLimitMiddleware,
	)
	r.POST("/v1/chat/completions", completions)

	r.GET("/", handleRoot)
	r.GET("/health", g.makeHealthHandler(mgmt))

	if mgmt != nil && mgmt.Metrics != nil {
		r.GET("/metrics", mgmt.Metrics)
	}

	handler := applyMiddleware(r.Handler,
		recovery,
		requestID,
		timing,
		corsHandler(g.corsOrigins),
		securityHeaders,
	)

	return &fasthttp.Server{
		Handler:      handler,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
}

// Handler returns the fully assembled request handler. Exposed for tests
// that serve over an in-memory listener.
func (g *Gateway) Handler(mgmt *ManagementRoutes) fasthttp.RequestHandler {
	return g.buildServer(mgmt).Handler
}

func handleRoot(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, map[string]string{"message": "promgate is running"})
}

func (g *Gateway) makeHealthHandler(mgmt *ManagementRoutes) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if mgmt == nil || mgmt.Ready == nil || mgmt.Ready() {
			writeJSON(ctx, map[string]string{"status": "ok"})
			return
		}
		ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
		writeJSON(ctx, map[string]string{"status": "unavailable"})
	}
}

func writeJSON(ctx *fasthttp.RequestCtx, v any) {
	ctx.SetContentType("application/json")
	data, _ := json.Marshal(v)
	ctx.SetBody(data)
}
