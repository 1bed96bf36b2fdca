package query

import (
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/arka-hq/go-guard/core"
)

const TypeRateLimitStatus = "guard.query.ratelimit.status"

// RateLimitStatusMessage asks for the current window state of a key without
// recording a request.
type RateLimitStatusMessage struct {
	Key    string
	Limit  int
	Window time.Duration
}

func (RateLimitStatusMessage) Type() string { return TypeRateLimitStatus }

// Validate reports every bad field at once.
func (m RateLimitStatusMessage) Validate() error {
	var fields []goerrors.FieldError
	if strings.TrimSpace(m.Key) == "" {
		fields = append(fields, goerrors.FieldError{Field: "key", Message: "rate limit key is required"})
	}
	if m.Limit <= 0 {
		fields = append(fields, goerrors.FieldError{Field: "limit", Message: "limit must be positive"})
	}
	if m.Window <= 0 {
		fields = append(fields, goerrors.FieldError{Field: "window", Message: "window must be positive"})
	}
	return core.InvalidFields("query: invalid rate limit status request", fields...)
}
