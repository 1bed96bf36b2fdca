package gocommand

import (
	"context"
	"fmt"

	"github.com/goliatone/go-command"

	guardcommand "github.com/arka-hq/go-guard/command"
	"github.com/arka-hq/go-guard/core"
	guardquery "github.com/arka-hq/go-guard/query"
)

// GuardService is the slice of core.Service served on the command bus.
type GuardService interface {
	guardcommand.MaintenanceService
	guardquery.RateLimitReader
}

// RegisterGuard puts the maintenance commands and the rate limit status query
// on the bus. Whatever was registered before a failure stays tracked by the
// bus and is released by Close.
func RegisterGuard(b *Bus, svc GuardService) error {
	if svc == nil {
		return fmt.Errorf("gocommand: guard service is required")
	}
	if err := Handle[guardcommand.PurgeExpiredMessage](b, guardcommand.NewPurgeExpiredCommand(svc)); err != nil {
		return err
	}
	if err := Handle[guardcommand.ResetRateLimitMessage](b, guardcommand.NewResetRateLimitCommand(svc)); err != nil {
		return err
	}
	return Serve[guardquery.RateLimitStatusMessage, core.RateLimitDecision](b, guardquery.NewRateLimitStatusQuery(svc))
}

// DispatchPurger runs a purge through the command bus, so sweeps and
// operator-triggered purges share one handler.
type DispatchPurger struct{}

func (DispatchPurger) PurgeExpired(ctx context.Context) (int, error) {
	collector := command.NewResult[core.PurgeResult]()
	ctx = command.ContextWithResult(ctx, collector)
	if err := Send(ctx, guardcommand.PurgeExpiredMessage{}); err != nil {
		return 0, err
	}
	result, _ := collector.Load()
	return result.Total(), nil
}

var _ core.Purger = DispatchPurger{}
