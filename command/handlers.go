package command

import (
	"context"
	"strings"

	gocmd "github.com/goliatone/go-command"

	"github.com/arka-hq/go-guard/core"
)

type MaintenanceService interface {
	Purge(ctx context.Context) (core.PurgeResult, error)
	Reset(ctx context.Context, key string) error
}

type PurgeExpiredCommand struct {
	service MaintenanceService
}

func NewPurgeExpiredCommand(service MaintenanceService) *PurgeExpiredCommand {
	return &PurgeExpiredCommand{service: service}
}

func (c *PurgeExpiredCommand) Execute(ctx context.Context, _ PurgeExpiredMessage) error {
	if c == nil || c.service == nil {
		return core.MissingDependency("command: purge service")
	}
	out, err := c.service.Purge(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ResetRateLimitCommand struct {
	service MaintenanceService
}

func NewResetRateLimitCommand(service MaintenanceService) *ResetRateLimitCommand {
	return &ResetRateLimitCommand{service: service}
}

func (c *ResetRateLimitCommand) Execute(ctx context.Context, msg ResetRateLimitMessage) error {
	if c == nil || c.service == nil {
		return core.MissingDependency("command: rate limit service")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	return c.service.Reset(ctx, strings.TrimSpace(msg.Key))
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
