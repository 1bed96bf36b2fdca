package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arka-hq/go-guard/core"
	"github.com/arka-hq/go-guard/githubevents"
	"github.com/arka-hq/go-guard/metrics/prom"
	"github.com/arka-hq/go-guard/ratelimit"
	"github.com/arka-hq/go-guard/webhooks"
)

const testSecret = "gate-secret"

const pullRequestBody = `{
	"action": "opened",
	"repository": {"full_name": "arka/cockpit"},
	"sender": {"login": "octo"},
	"pull_request": {"number": 7, "title": "Wire gates", "state": "open", "labels": []}
}`

type fixture struct {
	handler  http.Handler
	recorder *githubevents.MemoryRecorder
}

func newFixture(t *testing.T, mutate func(*Options)) fixture {
	t.Helper()
	ledger := core.NewMemoryReplayLedger(time.Hour)
	recorder := githubevents.NewMemoryRecorder()
	events := githubevents.NewHandler(recorder, core.WebhookConfig{AllowlistRepos: []string{"arka/cockpit"}}, nil)

	registry := prometheus.NewRegistry()
	metrics, err := prom.NewHTTPMetrics(registry)
	if err != nil {
		t.Fatalf("http metrics: %v", err)
	}
	opts := Options{
		GitHub:       webhooks.NewTemplateProcessor(webhooks.NewGitHubWebhookTemplate(webhooks.StaticSecret(testSecret)), ledger, events),
		Gates:        webhooks.NewTemplateProcessor(webhooks.NewGatesWebhookTemplate(webhooks.StaticSecret(testSecret)), ledger, nil),
		Limiter:      ratelimit.NewMemoryWindowStore(),
		RateLimit:    core.RateLimitConfig{Limit: 60, Window: time.Minute},
		MaxBodyBytes: 1024,
		Metrics:      metrics,
		Gatherer:     registry,
		NewTraceID:   func() string { return "trace-fixed" },
	}
	if mutate != nil {
		mutate(&opts)
	}
	return fixture{handler: NewRouter(opts), recorder: recorder}
}

func gatesRequest(body string, eventID string, signature string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, RouteGatesWebhook, strings.NewReader(body))
	if eventID != "" {
		req.Header.Set(webhooks.HeaderEventID, eventID)
	}
	if signature != "" {
		req.Header.Set(webhooks.HeaderSignature, signature)
	}
	return req
}

func githubRequest(event string, delivery string, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, RouteGitHubWebhook, strings.NewReader(body))
	req.Header.Set(webhooks.HeaderGitHubEvent, event)
	req.Header.Set(webhooks.HeaderGitHubDelivery, delivery)
	req.Header.Set(webhooks.HeaderGitHubSignature, webhooks.Sign([]byte(body), testSecret))
	return req
}

func serve(handler http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	body := map[string]any{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestGatesWebhook_MissingFields(t *testing.T) {
	f := newFixture(t, nil)
	rec := serve(f.handler, gatesRequest(`{}`, "", webhooks.Sign([]byte(`{}`), testSecret)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != core.WireCodeMissingFields {
		t.Fatalf("expected missing_fields, got %#v", body)
	}
}

func TestGatesWebhook_BadSignature(t *testing.T) {
	f := newFixture(t, nil)
	rec := serve(f.handler, gatesRequest(`{"gate":"g1"}`, "evt-1", webhooks.Sign([]byte(`{"gate":"g2"}`), testSecret)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != core.WireCodeBadSignature {
		t.Fatalf("expected bad_signature, got %#v", body)
	}
}

func TestGatesWebhook_FirstSightingThenIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	body := `{"gate":"g1","status":"pass"}`
	signature := webhooks.Sign([]byte(body), testSecret)

	first := serve(f.handler, gatesRequest(body, "evt-1", signature))
	if first.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", first.Code)
	}
	if got := strings.TrimSpace(first.Body.String()); got != `{"ok":true}` {
		t.Fatalf("expected exactly {\"ok\":true}, got %s", got)
	}
	if first.Header().Get(HeaderTraceID) != "trace-fixed" {
		t.Fatalf("expected minted trace id, got %q", first.Header().Get(HeaderTraceID))
	}

	replayReq := gatesRequest(body, "evt-1", signature)
	replayReq.Header.Set(HeaderTraceID, "incoming-trace")
	replay := serve(f.handler, replayReq)
	if replay.Code != http.StatusOK {
		t.Fatalf("expected 200 on replay, got %d", replay.Code)
	}
	if got := decodeBody(t, replay); got["ok"] != true || got["idempotent"] != true {
		t.Fatalf("expected idempotent body, got %#v", got)
	}
	if replay.Header().Get(HeaderTraceID) != "incoming-trace" {
		t.Fatalf("expected incoming trace id to be echoed, got %q", replay.Header().Get(HeaderTraceID))
	}
}

func TestGitHubWebhook_RecordsOnceAndAnswersReplay(t *testing.T) {
	f := newFixture(t, nil)

	rec := serve(f.handler, githubRequest("pull_request", "d-100", pullRequestBody))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["ok"] != true || body["id"] == nil || body["id"] == "" {
		t.Fatalf("expected recorded event id, got %#v", body)
	}
	if f.recorder.QueuedActions() != 1 {
		t.Fatalf("expected run_checks to be queued, got %d", f.recorder.QueuedActions())
	}

	replay := serve(f.handler, githubRequest("pull_request", "d-100", pullRequestBody))
	if got := decodeBody(t, replay); got["idempotent"] != true {
		t.Fatalf("expected idempotent replay, got %#v", got)
	}
	if len(f.recorder.Events()) != 1 {
		t.Fatalf("expected one recorded event, got %d", len(f.recorder.Events()))
	}
}

func TestGitHubWebhook_BareDeliveryRoundTrip(t *testing.T) {
	const secret = "shh"
	body := `{"hello":"world"}`
	events := githubevents.NewHandler(githubevents.NewMemoryRecorder(), core.DefaultConfig().Webhook, nil)
	handler := NewRouter(Options{
		GitHub: webhooks.NewTemplateProcessor(
			webhooks.NewGitHubWebhookTemplate(webhooks.StaticSecret(secret)),
			core.NewMemoryReplayLedger(time.Hour),
			events,
		),
	})
	deliver := func(signature string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, RouteGitHubWebhook, strings.NewReader(body))
		req.Header.Set(webhooks.HeaderGitHubSignature, signature)
		req.Header.Set(webhooks.HeaderGitHubDelivery, "1")
		return serve(handler, req)
	}
	signature := webhooks.Sign([]byte(body), secret)

	first := deliver(signature)
	if first.Code != http.StatusOK || strings.TrimSpace(first.Body.String()) != `{"ok":true}` {
		t.Fatalf("expected 200 {\"ok\":true}, got %d %s", first.Code, first.Body.String())
	}

	replay := deliver(signature)
	if replay.Code != http.StatusOK || strings.TrimSpace(replay.Body.String()) != `{"idempotent":true,"ok":true}` {
		t.Fatalf("expected idempotent replay, got %d %s", replay.Code, replay.Body.String())
	}

	forged := deliver("sha256=bad")
	if forged.Code != http.StatusUnauthorized || strings.TrimSpace(forged.Body.String()) != `{"error":"bad_signature"}` {
		t.Fatalf("expected 401 bad_signature, got %d %s", forged.Code, forged.Body.String())
	}
}

func TestGitHubWebhook_Ping(t *testing.T) {
	f := newFixture(t, nil)
	rec := serve(f.handler, githubRequest("ping", "d-ping", `{"zen":"keep it simple"}`))
	if got := decodeBody(t, rec); rec.Code != http.StatusOK || got["pong"] != true {
		t.Fatalf("expected pong, got %d %#v", rec.Code, got)
	}
}

func TestGitHubWebhook_RepoNotAllowed(t *testing.T) {
	f := newFixture(t, nil)
	body := strings.Replace(pullRequestBody, "arka/cockpit", "evil/fork", 1)
	rec := serve(f.handler, githubRequest("pull_request", "d-evil", body))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if got := decodeBody(t, rec); got["error"] != core.WireCodeRepoNotAllowed {
		t.Fatalf("expected repo_not_allowed, got %#v", got)
	}
}

func TestGitHubWebhook_PayloadTooLarge(t *testing.T) {
	f := newFixture(t, nil)
	body := `{"padding":"` + strings.Repeat("x", 2048) + `"}`
	rec := serve(f.handler, githubRequest("push", "d-big", body))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if got := decodeBody(t, rec); got["error"] != core.WireCodePayloadTooLarge {
		t.Fatalf("expected payload_too_large, got %#v", got)
	}
}

func TestRateLimit_GlobalRuleThrottlesAPI(t *testing.T) {
	f := newFixture(t, func(opts *Options) {
		opts.RateLimit = core.RateLimitConfig{Limit: 2, Window: time.Minute}
	})
	for i := 0; i < 2; i++ {
		rec := serve(f.handler, gatesRequest(`{}`, "evt", "sha256=00"))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("request %d: expected 401 before the limit, got %d", i+1, rec.Code)
		}
		if rec.Header().Get(ratelimit.HeaderLimit) != "2" {
			t.Fatalf("expected limit header, got %q", rec.Header().Get(ratelimit.HeaderLimit))
		}
	}
	rec := serve(f.handler, gatesRequest(`{}`, "evt", "sha256=00"))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get(ratelimit.HeaderRetryAfter) == "" {
		t.Fatalf("expected Retry-After header")
	}
	if got := decodeBody(t, rec); got["error"] != core.WireCodeRateLimited {
		t.Fatalf("expected rate_limited, got %#v", got)
	}

	health := serve(f.handler, httptest.NewRequest(http.MethodGet, RouteHealth, nil))
	if health.Code != http.StatusOK {
		t.Fatalf("expected health check outside the limiter, got %d", health.Code)
	}
}

func TestGatesWebhook_RepeatedBadSignaturesBackOff(t *testing.T) {
	limiter := ratelimit.NewBackoffLimiter()
	limiter.MaxAttempts = 1
	f := newFixture(t, func(opts *Options) { opts.Backoff = limiter })

	forged := webhooks.Sign([]byte(`{"gate":"other"}`), testSecret)
	for i := 0; i < 2; i++ {
		if rec := serve(f.handler, gatesRequest(`{"gate":"g1"}`, "evt-forged", forged)); rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, rec.Code)
		}
	}
	body := `{"gate":"g1"}`
	rec := serve(f.handler, gatesRequest(body, "evt-real", webhooks.Sign([]byte(body), testSecret)))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected the client to be backing off, got %d", rec.Code)
	}
	if rec.Header().Get(HeaderTraceID) != "trace-fixed" {
		t.Fatalf("expected trace header on blocked response")
	}
}

func TestGatesWebhook_ForgedForwardedForCannotLockOutProxiedSender(t *testing.T) {
	limiter := ratelimit.NewBackoffLimiter()
	limiter.MaxAttempts = 1
	f := newFixture(t, func(opts *Options) {
		opts.Backoff = limiter
		opts.RateLimit = core.RateLimitConfig{Limit: 5, Window: time.Minute, TrustedProxies: []string{"10.0.0.0/8"}}
	})

	forged := webhooks.Sign([]byte(`{"gate":"other"}`), testSecret)
	for i := 0; i < 6; i++ {
		req := gatesRequest(`{"gate":"g1"}`, "evt-forged", forged)
		req.RemoteAddr = "203.0.113.9:40000"
		req.Header.Set("X-Forwarded-For", "192.30.252.1")
		serve(f.handler, req)
	}

	body := `{"gate":"g1"}`
	req := gatesRequest(body, "evt-real", webhooks.Sign([]byte(body), testSecret))
	req.RemoteAddr = "10.0.0.2:443"
	req.Header.Set("X-Forwarded-For", "192.30.252.1")
	rec := serve(f.handler, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected the proxied sender to be served, got %d %s", rec.Code, rec.Body.String())
	}

	req = gatesRequest(body, "evt-again", webhooks.Sign([]byte(body), testSecret))
	req.RemoteAddr = "203.0.113.9:40001"
	if rec := serve(f.handler, req); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected the direct caller to stay throttled, got %d", rec.Code)
	}
}

func TestRateLimit_Disabled(t *testing.T) {
	f := newFixture(t, func(opts *Options) {
		opts.RateLimit = core.RateLimitConfig{Disabled: true, Limit: 1, Window: time.Minute}
	})
	for i := 0; i < 3; i++ {
		rec := serve(f.handler, gatesRequest(`{}`, "evt", "sha256=00"))
		if rec.Code == http.StatusTooManyRequests {
			t.Fatalf("request %d throttled with rate limiting disabled", i+1)
		}
	}
}

func TestHealthzAndMetrics(t *testing.T) {
	f := newFixture(t, nil)
	health := serve(f.handler, httptest.NewRequest(http.MethodGet, RouteHealth, nil))
	if got := decodeBody(t, health); got["status"] != "ok" {
		t.Fatalf("unexpected health body %#v", got)
	}

	metrics := serve(f.handler, httptest.NewRequest(http.MethodGet, RouteMetrics, nil))
	if metrics.Code != http.StatusOK {
		t.Fatalf("expected metrics 200, got %d", metrics.Code)
	}
	if !strings.Contains(metrics.Body.String(), `guard_http_requests_total{method="GET",route="/healthz",status="200"} 1`) {
		t.Fatalf("expected healthz request in metrics output, got:\n%s", metrics.Body.String())
	}
}

func TestUnknownRouteIsNotFound(t *testing.T) {
	f := newFixture(t, nil)
	rec := serve(f.handler, httptest.NewRequest(http.MethodGet, "/api/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
