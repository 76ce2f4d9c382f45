// Package metrics provides a Prometheus metrics registry for the gateway.
//
// All metrics are scoped to a private registry (not the global default) so
// they don't interfere with host-level metrics when embedded in other
// applications. The /metrics HTTP handler is exposed via Handler().
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Registry holds all exported metrics.
type Registry struct {
	reg *prometheus.Registry

	// gateway_requests_total{owner,model,status_code}
	requestsTotal *prometheus.CounterVec

	// gateway_request_duration_seconds{owner,model}
	requestDuration *prometheus.HistogramVec

	// gateway_tokens_used_total{owner,model,token_type}
	tokensTotal *prometheus.CounterVec

	// gateway_inflight_requests
	inFlight prometheus.Gauge

	// gateway_cache_operations_total{layer,op,result}
	cacheOps *prometheus.CounterVec

	// gateway_ratelimit_total{result}
	rateLimitTotal *prometheus.CounterVec

	// gateway_build_info{version}
	buildInfo *prometheus.GaugeVec

	metricsHandler fasthttp.RequestHandler
}

func New() *Registry {
	reg := prometheus.NewRegistry()

	// Baseline runtime metrics even with a private registry.
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	r := &Registry{
		reg: reg,

		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_requests_total",
				Help: "Total completion requests by key owner, model and response status",
			},
			[]string{"owner", "model", "status_code"},
		),

		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_request_duration_seconds",
				Help:    "End-to-end completion request duration in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 0.75, 1.0, 2.5, 5.0, 7.5, 10.0, 15.0, 20.0, 30.0},
			},
			[]string{"owner", "model"},
		),

		tokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_tokens_used_total",
				Help: "Token usage totals; cache hits re-count the cached usage",
			},
			[]string{"owner", "model", "token_type"},
		),

		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_inflight_requests",
			Help: "Current number of in-flight completion requests",
		}),

		cacheOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_cache_operations_total",
				Help: "Cache operations by layer, type and result",
			},
			[]string{"layer", "op", "result"},
		),

		rateLimitTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_ratelimit_total",
				Help: "Rate limit decisions",
			},
			[]string{"result"},
		),

		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gateway_build_info",
				Help: "Build information",
			},
			[]string{"version"},
		),
	}

	reg.MustRegister(
		r.requestsTotal,
		r.requestDuration,
		r.tokensTotal,
		r.inFlight,
		r.cacheOps,
		r.rateLimitTotal,
		r.buildInfo,
	)

	h := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	r.metricsHandler = fasthttpadaptor.NewFastHTTPHandler(h)

	return r
}

// ObserveRequest records one completed completion request.
func (r *Registry) ObserveRequest(owner, model string, statusCode int, dur time.Duration) {
	r.requestsTotal.WithLabelValues(owner, model, strconv.Itoa(statusCode)).Inc()
	r.requestDuration.WithLabelValues(owner, model).Observe(dur.Seconds())
}

// AddTokens records token usage. Cache hits call this with the cached usage
// numbers so dashboards reflect tokens served, not tokens bought.
func (r *Registry) AddTokens(owner, model string, prompt, completion, total int) {
	if prompt > 0 {
		r.tokensTotal.WithLabelValues(owner, model, "prompt").Add(float64(prompt))
	}
	if completion > 0 {
		r.tokensTotal.WithLabelValues(owner, model, "completion").Add(float64(completion))
	}
	if total > 0 {
		r.tokensTotal.WithLabelValues(owner, model, "total").Add(float64(total))
	}
}

func (r *Registry) IncInFlight() { r.inFlight.Inc() }
func (r *Registry) DecInFlight() { r.inFlight.Dec() }

// RecordCacheOp records one cache operation. layer is "exact" or "semantic",
// op is "get"/"set"/"search"/"add", result is "hit"/"miss"/"ok"/"error".
func (r *Registry) RecordCacheOp(layer, op, result string) {
	r.cacheOps.WithLabelValues(layer, op, result).Inc()
}

func (r *Registry) RecordRateLimit(result string) {
	r.rateLimitTotal.WithLabelValues(result).Inc()
}

func (r *Registry) SetBuildInfo(version string) {
	// Gauge is used so the time series always exists.
	r.buildInfo.WithLabelValues(version).Set(1)
}

func (r *Registry) Handler() fasthttp.RequestHandler {
	return r.metricsHandler
}

func (r *Registry) PromRegistry() *prometheus.Registry { return r.reg }
