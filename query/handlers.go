package query

import (
	"context"
	"strings"
	"time"

	"github.com/arka-hq/go-guard/core"
)

type RateLimitReader interface {
	Peek(ctx context.Context, key string, limit int, window time.Duration) (core.RateLimitDecision, error)
}

type RateLimitStatusQuery struct {
	reader RateLimitReader
}

func NewRateLimitStatusQuery(reader RateLimitReader) *RateLimitStatusQuery {
	return &RateLimitStatusQuery{reader: reader}
}

func (q *RateLimitStatusQuery) Query(ctx context.Context, msg RateLimitStatusMessage) (core.RateLimitDecision, error) {
	if q == nil || q.reader == nil {
		return core.RateLimitDecision{}, core.MissingDependency("query: rate limit reader")
	}
	if err := msg.Validate(); err != nil {
		return core.RateLimitDecision{}, err
	}
	return q.reader.Peek(ctx, strings.TrimSpace(msg.Key), msg.Limit, msg.Window)
}
