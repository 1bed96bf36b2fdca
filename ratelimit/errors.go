package ratelimit

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/arka-hq/go-guard/core"
)

type ThrottledError struct {
	Rule       string
	Key        string
	Limit      int
	RetryAfter time.Duration
}

func (e ThrottledError) Error() string {
	return fmt.Sprintf(
		"ratelimit: rule %q key %q throttled for %s",
		strings.TrimSpace(e.Rule),
		strings.TrimSpace(e.Key),
		e.RetryAfter,
	)
}

func (e ThrottledError) ToServiceError() *goerrors.Error {
	metadata := map[string]any{
		"rule": strings.TrimSpace(e.Rule),
		"key":  strings.TrimSpace(e.Key),
	}
	if e.Limit > 0 {
		metadata["limit"] = e.Limit
	}
	if e.RetryAfter > 0 {
		metadata["retry_after_ms"] = e.RetryAfter.Milliseconds()
	}
	return goerrors.New(e.Error(), goerrors.CategoryRateLimit).
		WithCode(http.StatusTooManyRequests).
		WithTextCode(core.ServiceErrorRateLimited).
		WithMetadata(metadata)
}

// RetryAfterSeconds rounds the wait up to whole seconds, never below one.
func (e ThrottledError) RetryAfterSeconds() int {
	return retryAfterSeconds(e.RetryAfter)
}

func retryAfterSeconds(wait time.Duration) int {
	if wait <= 0 {
		return 1
	}
	seconds := int((wait + time.Second - 1) / time.Second)
	if seconds < 1 {
		return 1
	}
	return seconds
}
