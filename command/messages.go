package command

import (
	"strings"

	goerrors "github.com/goliatone/go-errors"

	"github.com/arka-hq/go-guard/core"
)

const (
	TypePurgeExpired   = "guard.command.replay.purge"
	TypeResetRateLimit = "guard.command.ratelimit.reset"
)

// PurgeExpiredMessage sweeps expired replay entries and rate limit
// timestamps in one pass.
type PurgeExpiredMessage struct{}

func (PurgeExpiredMessage) Type() string { return TypePurgeExpired }

func (PurgeExpiredMessage) Validate() error { return nil }

type ResetRateLimitMessage struct {
	Key string
}

func (ResetRateLimitMessage) Type() string { return TypeResetRateLimit }

func (m ResetRateLimitMessage) Validate() error {
	if strings.TrimSpace(m.Key) == "" {
		return core.InvalidFields("command: invalid rate limit reset", goerrors.FieldError{
			Field:   "key",
			Message: "rate limit key is required",
		})
	}
	return nil
}
