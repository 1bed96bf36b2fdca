package ratelimit

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/arka-hq/go-guard/core"
)

const (
	DefaultBackoffMaxAttempts = 5
	DefaultBackoffBase        = time.Second
	DefaultBackoffMax         = time.Minute
	DefaultBackoffIdleReset   = 5 * time.Minute
	DefaultBackoffRetention   = time.Hour
)

type backoffEntry struct {
	count        int
	lastAttempt  time.Time
	backoffUntil time.Time
}

// BackoffLimiter admits MaxAttempts attempts per key, then blocks each
// further attempt for Base*2^(n-MaxAttempts), capped at Max. A key idle for
// IdleReset starts over.
type BackoffLimiter struct {
	MaxAttempts int
	Base        time.Duration
	Max         time.Duration
	IdleReset   time.Duration
	Retention   time.Duration
	Now         func() time.Time

	mu      sync.Mutex
	entries map[string]*backoffEntry
}

func NewBackoffLimiter() *BackoffLimiter {
	return &BackoffLimiter{
		MaxAttempts: DefaultBackoffMaxAttempts,
		Base:        DefaultBackoffBase,
		Max:         DefaultBackoffMax,
		IdleReset:   DefaultBackoffIdleReset,
		Retention:   DefaultBackoffRetention,
		Now:         func() time.Time { return time.Now().UTC() },
		entries:     map[string]*backoffEntry{},
	}
}

// Check records an attempt for key. It returns false with the remaining
// wait while the key is backing off.
func (b *BackoffLimiter) Check(key string) (bool, time.Duration) {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.entries == nil {
		b.entries = map[string]*backoffEntry{}
	}

	entry, ok := b.entries[key]
	if !ok {
		b.entries[key] = &backoffEntry{count: 1, lastAttempt: now}
		return true, 0
	}
	if entry.backoffUntil.After(now) {
		return false, entry.backoffUntil.Sub(now)
	}
	if now.Sub(entry.lastAttempt) > b.idleReset() {
		b.entries[key] = &backoffEntry{count: 1, lastAttempt: now}
		return true, 0
	}

	entry.count++
	entry.lastAttempt = now
	if entry.count > b.maxAttempts() {
		delay := b.delay(entry.count - b.maxAttempts())
		entry.backoffUntil = now.Add(delay)
		return false, delay
	}
	return true, 0
}

// Wait reports how long key is still blocked without recording an attempt.
func (b *BackoffLimiter) Wait(key string) time.Duration {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.entries[key]
	if !ok || !entry.backoffUntil.After(now) {
		return 0
	}
	return entry.backoffUntil.Sub(now)
}

func (b *BackoffLimiter) Reset(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, key)
}

// PurgeExpired drops keys whose last attempt is older than Retention.
func (b *BackoffLimiter) PurgeExpired(context.Context) (int, error) {
	now := b.now()
	retention := b.Retention
	if retention <= 0 {
		retention = DefaultBackoffRetention
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	dropped := 0
	for key, entry := range b.entries {
		if now.Sub(entry.lastAttempt) > retention {
			delete(b.entries, key)
			dropped++
		}
	}
	return dropped, nil
}

func (b *BackoffLimiter) delay(over int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = DefaultBackoffBase
	}
	maximum := b.Max
	if maximum <= 0 {
		maximum = DefaultBackoffMax
	}
	delay := base
	for i := 0; i < over; i++ {
		delay *= 2
		if delay >= maximum {
			return maximum
		}
	}
	return delay
}

func (b *BackoffLimiter) maxAttempts() int {
	if b.MaxAttempts > 0 {
		return b.MaxAttempts
	}
	return DefaultBackoffMaxAttempts
}

func (b *BackoffLimiter) idleReset() time.Duration {
	if b.IdleReset > 0 {
		return b.IdleReset
	}
	return DefaultBackoffIdleReset
}

func (b *BackoffLimiter) now() time.Time {
	if b != nil && b.Now != nil {
		return b.Now().UTC()
	}
	return time.Now().UTC()
}

// BackoffMiddleware blocks a client that keeps failing authentication. Only
// 401 responses count as attempts; any success clears the client's history.
func BackoffMiddleware(limiter *BackoffLimiter, keyFunc KeyFunc, logger core.Logger) func(http.Handler) http.Handler {
	logger = glog.Ensure(logger)
	if keyFunc == nil {
		keyFunc = ClientIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}
			key := PresetAuthAttempts + ":" + keyFunc(r)
			if wait := limiter.Wait(key); wait > 0 {
				writeBackoff(w, key, wait)
				return
			}

			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)

			switch {
			case recorder.status == http.StatusUnauthorized:
				if allowed, wait := limiter.Check(key); !allowed {
					logger.Warn("client backing off after failed signatures", "key", key, "wait_ms", wait.Milliseconds())
				}
			case recorder.status < http.StatusBadRequest:
				limiter.Reset(key)
			}
		})
	}
}

func writeBackoff(w http.ResponseWriter, key string, wait time.Duration) {
	throttled := ThrottledError{Rule: PresetAuthAttempts, Key: key, RetryAfter: wait}
	seconds := throttled.RetryAfterSeconds()
	header := w.Header()
	header.Set(HeaderRetryAfter, strconv.Itoa(seconds))
	header.Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":       core.WireCode(throttled.ToServiceError()),
		"message":     "too many failed attempts",
		"retry_after": seconds,
	})
}
