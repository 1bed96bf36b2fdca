package ratelimit

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/arka-hq/go-guard/core"
)

const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"

	resetLayout = "2006-01-02T15:04:05.000Z07:00"
)

const (
	PresetGlobal         = "global"
	PresetAuthAttempts   = "auth_attempts"
	PresetAPIStrict      = "api_strict"
	PresetCreateResource = "create_resource"
)

type KeyFunc func(r *http.Request) string

// Rule configures one limiter. With SkipSuccessful or SkipFailed set, the
// window is checked before the handler and only responses that count are
// recorded afterwards.
type Rule struct {
	Name           string
	Limit          int
	Window         time.Duration
	KeyFunc        KeyFunc
	Message        string
	SkipSuccessful bool
	SkipFailed     bool
}

func Presets() map[string]Rule {
	return map[string]Rule{
		PresetGlobal: {
			Name:    PresetGlobal,
			Limit:   60,
			Window:  time.Minute,
			Message: "too many requests from this address",
		},
		PresetAuthAttempts: {
			Name:           PresetAuthAttempts,
			Limit:          5,
			Window:         15 * time.Minute,
			Message:        "too many login attempts",
			SkipSuccessful: true,
		},
		PresetAPIStrict: {
			Name:    PresetAPIStrict,
			Limit:   10,
			Window:  time.Minute,
			Message: "api limit reached",
		},
		PresetCreateResource: {
			Name:    PresetCreateResource,
			Limit:   5,
			Window:  time.Minute,
			Message: "too many resources created",
		},
	}
}

// Preset returns the named rule and whether it exists.
func Preset(name string) (Rule, bool) {
	rule, ok := Presets()[strings.TrimSpace(name)]
	return rule, ok
}

// Middleware limits requests per rule key. Store failures are logged and the
// request is served.
func Middleware(store WindowStore, rule Rule, logger core.Logger) func(http.Handler) http.Handler {
	logger = glog.Ensure(logger)
	keyFunc := rule.KeyFunc
	if keyFunc == nil {
		keyFunc = ClientIP
	}
	if strings.TrimSpace(rule.Message) == "" {
		rule.Message = "too many requests"
	}
	deferred := rule.SkipSuccessful || rule.SkipFailed

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if store == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			key := rule.Name + ":" + keyFunc(r)

			if !deferred {
				decision, err := store.Hit(ctx, key, rule.Limit, rule.Window)
				if err != nil {
					logger.Error("rate limit hit failed", "rule", rule.Name, "error", err)
					next.ServeHTTP(w, r)
					return
				}
				if decision.Exceeded {
					writeThrottled(w, rule, decision)
					return
				}
				setLimitHeaders(w.Header(), rule.Limit, decision.Remaining, decision.ResetAt)
				next.ServeHTTP(w, r)
				return
			}

			decision, err := store.Peek(ctx, key, rule.Limit, rule.Window)
			if err != nil {
				logger.Error("rate limit peek failed", "rule", rule.Name, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if decision.Count >= rule.Limit {
				writeThrottled(w, rule, decision)
				return
			}
			remaining := rule.Limit - decision.Count - 1
			if remaining < 0 {
				remaining = 0
			}
			setLimitHeaders(w.Header(), rule.Limit, remaining, decision.ResetAt)

			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)

			if skipResponse(rule, recorder.status) {
				return
			}
			if _, err := store.Hit(context.WithoutCancel(ctx), key, rule.Limit, rule.Window); err != nil {
				logger.Error("rate limit hit failed", "rule", rule.Name, "error", err)
			}
		})
	}
}

func skipResponse(rule Rule, status int) bool {
	if rule.SkipSuccessful && status < http.StatusBadRequest {
		return true
	}
	if rule.SkipFailed && status >= http.StatusBadRequest {
		return true
	}
	return false
}

func writeThrottled(w http.ResponseWriter, rule Rule, decision Decision) {
	throttled := ThrottledError{Rule: rule.Name, Key: decision.Key, Limit: rule.Limit, RetryAfter: decision.RetryAfter}
	seconds := throttled.RetryAfterSeconds()

	header := w.Header()
	setLimitHeaders(header, rule.Limit, 0, decision.ResetAt)
	header.Set(HeaderRetryAfter, strconv.Itoa(seconds))
	header.Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":       core.WireCode(throttled.ToServiceError()),
		"message":     rule.Message,
		"retry_after": seconds,
	})
}

func setLimitHeaders(header http.Header, limit int, remaining int, resetAt time.Time) {
	header.Set(HeaderLimit, strconv.Itoa(limit))
	header.Set(HeaderRemaining, strconv.Itoa(remaining))
	if !resetAt.IsZero() {
		header.Set(HeaderReset, resetAt.UTC().Format(resetLayout))
	}
}

// ClientIP returns the host part of RemoteAddr. Forwarding headers are only
// honoured through TrustedProxies.KeyFunc.
func ClientIP(r *http.Request) string {
	remote := strings.TrimSpace(r.RemoteAddr)
	if remote == "" {
		return "unknown"
	}
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return remote
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	if !r.wroteHeader {
		r.wroteHeader = true
	}
	return r.ResponseWriter.Write(p)
}
