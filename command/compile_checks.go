package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[PurgeExpiredMessage]   = (*PurgeExpiredCommand)(nil)
	_ gocmd.Commander[ResetRateLimitMessage] = (*ResetRateLimitCommand)(nil)
)
