package core

import (
	"context"
	"errors"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

var (
	ErrReplayLedgerNotConfigured = errors.New("core: replay ledger is not configured")
	ErrWindowStoreNotConfigured  = errors.New("core: window store is not configured")
)

// Service is the guard facade. It wraps a ReplayLedger and a WindowStore
// with logging, metrics and error mapping, and satisfies both interfaces.
type Service struct {
	config          Config
	logger          Logger
	loggerProvider  LoggerProvider
	metricsRecorder MetricsRecorder
	errorFactory    ErrorFactory
	errorMapper     ErrorMapper
	configProvider  ConfigProvider
	optionsResolver OptionsResolver
	replayLedger    ReplayLedger
	windowStore     WindowStore
	now             func() time.Time
}

type ServiceDependencies struct {
	Logger          Logger
	LoggerProvider  LoggerProvider
	MetricsRecorder MetricsRecorder
	ErrorFactory    ErrorFactory
	ErrorMapper     ErrorMapper
	ConfigProvider  ConfigProvider
	OptionsResolver OptionsResolver
	ReplayLedger    ReplayLedger
	WindowStore     WindowStore
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("guard", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("guard"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.now == nil {
		builder.now = func() time.Time { return time.Now().UTC() }
	}

	finalConfig, err := ResolveConfig(context.Background(), builder.configProvider, builder.optionsResolver, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if builder.replayLedger == nil {
		builder.replayLedger = NewMemoryReplayLedgerWithLimits(
			finalConfig.Webhook.ReplayTTL,
			finalConfig.Store.MaxEntries,
		)
	}

	return &Service{
		config:          finalConfig,
		logger:          logger,
		loggerProvider:  provider,
		metricsRecorder: builder.metricsRecorder,
		errorFactory:    builder.errorFactory,
		errorMapper:     builder.errorMapper,
		configProvider:  builder.configProvider,
		optionsResolver: builder.optionsResolver,
		replayLedger:    builder.replayLedger,
		windowStore:     builder.windowStore,
		now:             builder.now,
	}, nil
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return NewService(cfg, opts...)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Logger() Logger {
	if s == nil || s.logger == nil {
		return glog.Nop()
	}
	return s.logger
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:          s.logger,
		LoggerProvider:  s.loggerProvider,
		MetricsRecorder: s.metricsRecorder,
		ErrorFactory:    s.errorFactory,
		ErrorMapper:     s.errorMapper,
		ConfigProvider:  s.configProvider,
		OptionsResolver: s.optionsResolver,
		ReplayLedger:    s.replayLedger,
		WindowStore:     s.windowStore,
	}
}

// IsReplay checks the (event id, signature) pair against the replay ledger.
// A non-positive ttl falls back to the configured replay ttl.
func (s *Service) IsReplay(ctx context.Context, eventID string, signature string, ttl time.Duration) (replay bool, err error) {
	sp := s.startSpan("is_replay", map[string]any{"event_id": eventID})
	defer func() {
		if err == nil {
			sp.result(replayOutcome(replay))
		}
		sp.end(ctx, err)
	}()

	if s == nil || s.replayLedger == nil {
		return false, s.mapError(ErrReplayLedgerNotConfigured)
	}
	if strings.TrimSpace(eventID) == "" {
		return false, s.mapError(NewServiceError(
			"core: event id is required",
			goerrors.CategoryBadInput,
			ServiceErrorBadInput,
			nil,
		))
	}
	if ttl <= 0 {
		ttl = s.config.Webhook.ReplayTTL
	}
	replay, err = s.replayLedger.IsReplay(ctx, eventID, signature, ttl)
	if err != nil {
		return false, s.storeError(err, "core: replay lookup failed")
	}
	return replay, nil
}

// Forget releases a recorded pair when the underlying ledger supports it.
// Ledgers without ReplayForgetter keep the pair until it expires.
func (s *Service) Forget(ctx context.Context, eventID string, signature string) (err error) {
	sp := s.startSpan("replay_forget", map[string]any{"event_id": eventID})
	defer func() { sp.end(ctx, err) }()

	if s == nil || s.replayLedger == nil {
		return s.mapError(ErrReplayLedgerNotConfigured)
	}
	forgetter, ok := s.replayLedger.(ReplayForgetter)
	if !ok {
		sp.result("unsupported")
		return nil
	}
	if err = forgetter.Forget(ctx, eventID, signature); err != nil {
		return s.storeError(err, "core: replay forget failed")
	}
	return nil
}

func (s *Service) Hit(ctx context.Context, key string, limit int, window time.Duration) (decision RateLimitDecision, err error) {
	sp := s.startSpan("rate_limit_hit", windowFields(key, limit, window))
	defer func() {
		if err == nil {
			sp.set("count", decision.Count)
			sp.result(limitOutcome(decision))
		}
		sp.end(ctx, err)
	}()

	if err = s.validateWindow(key, limit, window); err != nil {
		return RateLimitDecision{}, err
	}
	decision, err = s.windowStore.Hit(ctx, key, limit, window)
	if err != nil {
		return RateLimitDecision{}, s.storeError(err, "core: rate limit hit failed")
	}
	return decision, nil
}

func (s *Service) Peek(ctx context.Context, key string, limit int, window time.Duration) (decision RateLimitDecision, err error) {
	sp := s.startSpan("rate_limit_peek", windowFields(key, limit, window))
	defer func() {
		if err == nil {
			sp.set("count", decision.Count)
		}
		sp.end(ctx, err)
	}()

	if err = s.validateWindow(key, limit, window); err != nil {
		return RateLimitDecision{}, err
	}
	decision, err = s.windowStore.Peek(ctx, key, limit, window)
	if err != nil {
		return RateLimitDecision{}, s.storeError(err, "core: rate limit peek failed")
	}
	return decision, nil
}

func (s *Service) Reset(ctx context.Context, key string) (err error) {
	sp := s.startSpan("rate_limit_reset", map[string]any{"key": key})
	defer func() { sp.end(ctx, err) }()

	if s == nil || s.windowStore == nil {
		return s.mapError(ErrWindowStoreNotConfigured)
	}
	if strings.TrimSpace(key) == "" {
		return s.mapError(NewServiceError("core: rate limit key is required", goerrors.CategoryBadInput, ServiceErrorBadInput, nil))
	}
	if err = s.windowStore.Reset(ctx, key); err != nil {
		return s.storeError(err, "core: rate limit reset failed")
	}
	return nil
}

// PurgeExpired sweeps both stores and returns the total number of pruned
// entries. A missing window store is skipped.
func (s *Service) PurgeExpired(ctx context.Context) (pruned int, err error) {
	result, err := s.Purge(ctx)
	return result.Total(), err
}

type PurgeResult struct {
	Replay    int
	RateLimit int
}

func (r PurgeResult) Total() int {
	return r.Replay + r.RateLimit
}

func (s *Service) Purge(ctx context.Context) (result PurgeResult, err error) {
	sp := s.startSpan("purge_expired", nil)
	defer func() {
		sp.set("replay_pruned", result.Replay)
		sp.set("rate_limit_pruned", result.RateLimit)
		sp.end(ctx, err)
	}()

	if s == nil || s.replayLedger == nil {
		return PurgeResult{}, s.mapError(ErrReplayLedgerNotConfigured)
	}
	result.Replay, err = s.replayLedger.PurgeExpired(ctx)
	if err != nil {
		return result, s.storeError(err, "core: replay purge failed")
	}
	if s.windowStore != nil {
		result.RateLimit, err = s.windowStore.PurgeExpired(ctx)
		if err != nil {
			return result, s.storeError(err, "core: rate limit purge failed")
		}
	}
	return result, nil
}

func (s *Service) validateWindow(key string, limit int, window time.Duration) error {
	if s == nil || s.windowStore == nil {
		return s.mapError(ErrWindowStoreNotConfigured)
	}
	if strings.TrimSpace(key) == "" {
		return s.mapError(NewServiceError("core: rate limit key is required", goerrors.CategoryBadInput, ServiceErrorBadInput, nil))
	}
	if limit <= 0 || window <= 0 {
		return s.mapError(NewServiceError(
			"core: rate limit and window must be positive",
			goerrors.CategoryBadInput,
			ServiceErrorBadInput,
			map[string]any{"limit": limit, "window_ms": window.Milliseconds()},
		))
	}
	return nil
}

func (s *Service) storeError(err error, message string) error {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return s.mapError(richErr)
	}
	return s.mapError(WrapServiceError(err, goerrors.CategoryOperation, message, ServiceErrorStoreFailed, nil))
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) clock() time.Time {
	if s != nil && s.now != nil {
		return s.now().UTC()
	}
	return time.Now().UTC()
}

func windowFields(key string, limit int, window time.Duration) map[string]any {
	return map[string]any{"key": key, "limit": limit, "window_ms": window.Milliseconds()}
}

func replayOutcome(replay bool) string {
	if replay {
		return "replay"
	}
	return "first_seen"
}

func limitOutcome(decision RateLimitDecision) string {
	if decision.Exceeded {
		return "exceeded"
	}
	return "allowed"
}
