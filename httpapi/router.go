// Package httpapi exposes the guard over HTTP: the webhook endpoints, health
// and Prometheus metrics, with tracing, request logging and rate limiting
// middleware.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arka-hq/go-guard/core"
	"github.com/arka-hq/go-guard/metrics/prom"
	"github.com/arka-hq/go-guard/ratelimit"
	"github.com/arka-hq/go-guard/webhooks"
)

const (
	RouteGitHubWebhook = "/api/webhook/github"
	RouteGatesWebhook  = "/api/gates/webhook"
	RouteHealth        = "/healthz"
	RouteMetrics       = "/metrics"
)

// WebhookProcessor runs one inbound delivery through verification, replay
// tracking and its handler.
type WebhookProcessor interface {
	Process(ctx context.Context, req core.InboundRequest) (core.InboundResult, error)
}

type Options struct {
	GitHub       WebhookProcessor
	Gates        WebhookProcessor
	Limiter      core.WindowStore
	Backoff      *ratelimit.BackoffLimiter
	RateLimit    core.RateLimitConfig
	MaxBodyBytes int64
	Logger       core.Logger
	Metrics      *prom.HTTPMetrics
	Gatherer     prometheus.Gatherer
	NewTraceID   func() string
	// ClientKey identifies the caller for limiting and backoff. When nil it
	// is built from RateLimit.TrustedProxies.
	ClientKey ratelimit.KeyFunc
}

type api struct {
	opts   Options
	logger core.Logger
}

func NewRouter(opts Options) http.Handler {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = core.DefaultMaxBodyBytes
	}
	a := &api{opts: opts, logger: glog.Ensure(opts.Logger)}
	if a.opts.ClientKey == nil {
		a.opts.ClientKey = a.clientKey()
	}

	r := chi.NewRouter()
	r.Use(traceMiddleware(opts.NewTraceID))
	r.Use(a.requestLogMiddleware)

	r.Get(RouteHealth, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	if opts.Gatherer != nil {
		r.Method(http.MethodGet, RouteMetrics, promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	} else {
		r.Method(http.MethodGet, RouteMetrics, promhttp.Handler())
	}

	r.Group(func(guarded chi.Router) {
		if rule, ok := a.rateLimitRule(); ok {
			guarded.Use(ratelimit.Middleware(opts.Limiter, rule, a.logger))
		}
		if opts.Backoff != nil {
			guarded.Use(ratelimit.BackoffMiddleware(opts.Backoff, a.opts.ClientKey, a.logger))
		}
		if opts.GitHub != nil {
			guarded.Post(RouteGitHubWebhook, a.webhookHandler(opts.GitHub, webhooks.ProviderGitHub))
		}
		if opts.Gates != nil {
			guarded.Post(RouteGatesWebhook, a.webhookHandler(opts.Gates, webhooks.ProviderGates))
		}
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": core.WireCodeNotFound})
	})
	return r
}

// rateLimitRule returns the global preset sized from config. Limiting is
// skipped when disabled or when no store is wired.
func (a *api) rateLimitRule() (ratelimit.Rule, bool) {
	if a.opts.RateLimit.Disabled || a.opts.Limiter == nil {
		return ratelimit.Rule{}, false
	}
	rule, _ := ratelimit.Preset(ratelimit.PresetGlobal)
	rule.KeyFunc = a.opts.ClientKey
	if a.opts.RateLimit.Limit > 0 {
		rule.Limit = a.opts.RateLimit.Limit
	}
	if a.opts.RateLimit.Window > 0 {
		rule.Window = a.opts.RateLimit.Window
	}
	return rule, true
}

// clientKey keys on RemoteAddr unless the peer is a configured proxy. A bad
// proxy list is logged and ignored.
func (a *api) clientKey() ratelimit.KeyFunc {
	proxies, err := ratelimit.NewTrustedProxies(a.opts.RateLimit.TrustedProxies)
	if err != nil {
		a.logger.Warn("ignoring trusted proxies", "error", err)
		return ratelimit.ClientIP
	}
	return proxies.KeyFunc()
}

// NewServer wraps handler with the listener timeouts used by guardd.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
