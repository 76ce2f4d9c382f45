package proxy

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"testing"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

// serveRouter runs the full router, including management routes, on an
// in-memory listener and returns an HTTP client that routes to it.
func serveRouter(t *testing.T, gw *Gateway, mgmt *ManagementRoutes) *http.Client {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()

	go func() {
		_ = fasthttp.Serve(ln, gw.Handler(mgmt))
	}()
	t.Cleanup(func() { _ = ln.Close() })

	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(_ context.Context, _, _ string) (net.Conn, error) {
				return ln.Dial()
			},
		},
	}
}

func doGet(t *testing.T, client *http.Client, path string) *http.Response {
	t.Helper()
	resp, err := client.Get("http://test" + path)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

// --- GET / -------------------------------------------------------------------

func TestRoot_ReturnsRunningMessage(t *testing.T) {
	gw := NewGateway(context.Background(), nil, nil, GatewayOptions{})
	client := serveRouter(t, gw, nil)

	resp := doGet(t, client, "/")
	body := readBody(t, resp)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var out map[string]string
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("failed to parse root response: %v", err)
	}
	if out["message"] != "promgate is running" {
		t.Errorf("unexpected message: %q", out["message"])
	}
}

// --- GET /health -------------------------------------------------------------

func TestHealth_NoProbe(t *testing.T) {
	gw := NewGateway(context.Background(), nil, nil, GatewayOptions{})
	client := serveRouter(t, gw, nil)

	resp := doGet(t, client, "/health")
	body := readBody(t, resp)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out map[string]string
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	if out["status"] != "ok" {
		t.Errorf("expected status=ok, got %q", out["status"])
	}
}

func TestHealth_ProbeHealthy(t *testing.T) {
	gw := NewGateway(context.Background(), nil, nil, GatewayOptions{})
	client := serveRouter(t, gw, &ManagementRoutes{Ready: func() bool { return true }})

	resp := doGet(t, client, "/health")
	readBody(t, resp)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestHealth_ProbeUnavailable(t *testing.T) {
	gw := NewGateway(context.Background(), nil, nil, GatewayOptions{})
	client := serveRouter(t, gw, &ManagementRoutes{Ready: func() bool { return false }})

	resp := doGet(t, client, "/health")
	body := readBody(t, resp)

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
	var out map[string]string
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	if out["status"] != "unavailable" {
		t.Errorf("expected status=unavailable, got %q", out["status"])
	}
}

// --- GET /metrics ------------------------------------------------------------

func TestMetrics_RegisteredWhenConfigured(t *testing.T) {
	gw := NewGateway(context.Background(), nil, nil, GatewayOptions{})
	mgmt := &ManagementRoutes{
		Metrics: func(ctx *fasthttp.RequestCtx) {
			ctx.SetStatusCode(fasthttp.StatusOK)
			ctx.SetBodyString("# metrics")
		},
	}
	client := serveRouter(t, gw, mgmt)

	resp := doGet(t, client, "/metrics")
	body := readBody(t, resp)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if string(body) != "# metrics" {
		t.Errorf("unexpected metrics body: %q", body)
	}
}

func TestMetrics_NotRegisteredWithoutHandler(t *testing.T) {
	gw := NewGateway(context.Background(), nil, nil, GatewayOptions{})
	client := serveRouter(t, gw, nil)

	resp := doGet(t, client, "/metrics")
	readBody(t, resp)

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 without a metrics handler, got %d", resp.StatusCode)
	}
}

// --- cross-cutting response headers ------------------------------------------

func TestRouter_AppliesOuterMiddleware(t *testing.T) {
	gw := NewGateway(context.Background(), nil, nil, GatewayOptions{})
	client := serveRouter(t, gw, nil)

	resp := doGet(t, client, "/")
	readBody(t, resp)

	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
	if resp.Header.Get("X-Response-Time") == "" {
		t.Error("expected X-Response-Time header")
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers on every response")
	}
	if resp.Header.Get("Access-Control-Allow-Origin") == "" {
		t.Error("expected CORS headers on every response")
	}
}

// --- writeJSON ---------------------------------------------------------------

func TestWriteJSON(t *testing.T) {
	ctx := &fasthttp.RequestCtx{}
	writeJSON(ctx, map[string]string{"key": "value"})

	if string(ctx.Response.Header.ContentType()) != "application/json" {
		t.Errorf("expected application/json, got %s", string(ctx.Response.Header.ContentType()))
	}

	var resp map[string]string
	if err := json.Unmarshal(ctx.Response.Body(), &resp); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}
	if resp["key"] != "value" {
		t.Errorf("expected key=value, got %v", resp["key"])
	}
}
