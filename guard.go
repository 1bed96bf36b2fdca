// Package guard exposes the request-guard service and its embedded SQL
// migrations. The building blocks live in core, webhooks and ratelimit.
package guard

import "github.com/arka-hq/go-guard/core"

type Config = core.Config

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies

type ReplayLedger = core.ReplayLedger

type WindowStore = core.WindowStore

type RateLimitDecision = core.RateLimitDecision

type PurgeResult = core.PurgeResult

var (
	WithLogger          = core.WithLogger
	WithLoggerProvider  = core.WithLoggerProvider
	WithMetricsRecorder = core.WithMetricsRecorder
	WithErrorFactory    = core.WithErrorFactory
	WithErrorMapper     = core.WithErrorMapper
	WithConfigProvider  = core.WithConfigProvider
	WithOptionsResolver = core.WithOptionsResolver
	WithReplayLedger    = core.WithReplayLedger
	WithWindowStore     = core.WithWindowStore
	WithClock           = core.WithClock
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}
