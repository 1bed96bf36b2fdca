package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type InboundRequest struct {
	ProviderID string
	Surface    string
	Headers    map[string]string
	Body       []byte
	Metadata   map[string]any
}

// InboundResult carries the response for an inbound delivery. Body is
// written to the client as JSON; Metadata is for logs only.
type InboundResult struct {
	Accepted   bool
	StatusCode int
	Body       map[string]any
	Metadata   map[string]any
}

// ReplayLedger remembers (event id, signature) pairs for a bounded time.
// IsReplay reports true when the pair was already recorded and has not
// expired; otherwise it records the pair and reports false.
type ReplayLedger interface {
	IsReplay(ctx context.Context, eventID string, signature string, ttl time.Duration) (bool, error)
	PurgeExpired(ctx context.Context) (int, error)
}

// ReplayForgetter is implemented by ledgers that can release a recorded pair,
// so a delivery whose handler failed can be accepted again on redelivery.
type ReplayForgetter interface {
	Forget(ctx context.Context, eventID string, signature string) error
}

type RateLimitDecision struct {
	Key        string
	Limit      int
	Count      int
	Remaining  int
	Exceeded   bool
	ResetAt    time.Time
	RetryAfter time.Duration
}

// WindowStore keeps per-key request timestamps for sliding window limiting.
// Hit always records the current request, including requests that exceed
// the limit.
type WindowStore interface {
	Hit(ctx context.Context, key string, limit int, window time.Duration) (RateLimitDecision, error)
	Peek(ctx context.Context, key string, limit int, window time.Duration) (RateLimitDecision, error)
	Reset(ctx context.Context, key string) error
	PurgeExpired(ctx context.Context) (int, error)
}

type Purger interface {
	PurgeExpired(ctx context.Context) (int, error)
}

// SecretSource resolves the shared webhook secret. Implementations may read
// it on every call so rotated secrets apply without a restart.
type SecretSource interface {
	Secret(ctx context.Context) (string, error)
}
