package query

import (
	gocmd "github.com/goliatone/go-command"

	"github.com/arka-hq/go-guard/core"
)

var _ gocmd.Querier[RateLimitStatusMessage, core.RateLimitDecision] = (*RateLimitStatusQuery)(nil)
