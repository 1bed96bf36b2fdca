package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ErrorFactory func(message string, category ...goerrors.Category) *goerrors.Error

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type serviceBuilder struct {
	runtimeConfig   Config
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

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorFactory(factory ErrorFactory) Option {
	return func(b *serviceBuilder) {
		b.errorFactory = factory
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithReplayLedger(ledger ReplayLedger) Option {
	return func(b *serviceBuilder) {
		b.replayLedger = ledger
	}
}

func WithWindowStore(store WindowStore) Option {
	return func(b *serviceBuilder) {
		b.windowStore = store
	}
}

// WithClock overrides the wall clock used for operation timing.
func WithClock(now func() time.Time) Option {
	return func(b *serviceBuilder) {
		b.now = now
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("guard", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorFactory:    goerrors.New,
		errorMapper:     defaultErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
	}
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return serviceErrorMapper(err)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ResolveConfig loads the provider layer and merges defaults, loaded and
// runtime values in that order. Nil arguments fall back to the env-free
// provider and GoOptionsResolver.
func ResolveConfig(ctx context.Context, provider ConfigProvider, resolver OptionsResolver, runtime Config) (Config, error) {
	if provider == nil {
		provider = NewCfgxConfigProvider(nil)
	}
	if resolver == nil {
		resolver = GoOptionsResolver{}
	}
	defaults := DefaultConfig()
	loaded, err := provider.Load(ctx, defaults)
	if err != nil {
		return Config{}, err
	}
	return resolver.Resolve(defaults, loaded, runtime)
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

// configToLayerMap flattens cfg into an options layer. Zero values are
// skipped unless includeZero is set so that higher layers only override what
// they actually configure.
func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	setString(layer, "service_name", cfg.ServiceName, includeZero)
	setString(layer, "http_addr", cfg.HTTPAddr, includeZero)
	if includeZero || cfg.SweepInterval > 0 {
		layer["sweep_interval"] = cfg.SweepInterval
	}

	webhook := map[string]any{}
	setString(webhook, "secret_env", cfg.Webhook.SecretEnv, includeZero)
	setString(webhook, "gates_secret_env", cfg.Webhook.GatesSecretEnv, includeZero)
	if includeZero || cfg.Webhook.ReplayTTL > 0 {
		webhook["replay_ttl"] = cfg.Webhook.ReplayTTL
	}
	if includeZero || cfg.Webhook.MaxBodyBytes > 0 {
		webhook["max_body_bytes"] = cfg.Webhook.MaxBodyBytes
	}
	if includeZero || len(cfg.Webhook.AllowlistRepos) > 0 {
		webhook["allowlist_repos"] = append([]string(nil), cfg.Webhook.AllowlistRepos...)
	}
	if includeZero || cfg.Webhook.AllowAllRepos {
		webhook["allow_all_repos"] = cfg.Webhook.AllowAllRepos
	}
	if len(webhook) > 0 {
		layer["webhook"] = webhook
	}

	rateLimit := map[string]any{}
	if includeZero || cfg.RateLimit.Disabled {
		rateLimit["disabled"] = cfg.RateLimit.Disabled
	}
	if includeZero || cfg.RateLimit.Limit > 0 {
		rateLimit["limit"] = cfg.RateLimit.Limit
	}
	if includeZero || cfg.RateLimit.Window > 0 {
		rateLimit["window"] = cfg.RateLimit.Window
	}
	if includeZero || len(cfg.RateLimit.TrustedProxies) > 0 {
		rateLimit["trusted_proxies"] = append([]string(nil), cfg.RateLimit.TrustedProxies...)
	}
	if len(rateLimit) > 0 {
		layer["rate_limit"] = rateLimit
	}

	store := map[string]any{}
	setString(store, "driver", strings.ToLower(cfg.Store.Driver), includeZero)
	setString(store, "database_driver", cfg.Store.DatabaseDriver, includeZero)
	setString(store, "database_dsn", cfg.Store.DatabaseDSN, includeZero)
	setString(store, "redis_addr", cfg.Store.RedisAddr, includeZero)
	setString(store, "redis_password", cfg.Store.RedisPassword, includeZero)
	setString(store, "key_prefix", cfg.Store.KeyPrefix, includeZero)
	if includeZero || cfg.Store.RedisDB > 0 {
		store["redis_db"] = cfg.Store.RedisDB
	}
	if includeZero || cfg.Store.CacheTTL > 0 {
		store["cache_ttl"] = cfg.Store.CacheTTL
	}
	if includeZero || cfg.Store.MaxEntries > 0 {
		store["max_entries"] = cfg.Store.MaxEntries
	}
	if len(store) > 0 {
		layer["store"] = store
	}

	logging := map[string]any{}
	setString(logging, "level", strings.ToLower(cfg.Logging.Level), includeZero)
	setString(logging, "format", strings.ToLower(cfg.Logging.Format), includeZero)
	if len(logging) > 0 {
		layer["logging"] = logging
	}
	return layer
}

func setString(layer map[string]any, key string, value string, includeZero bool) {
	value = strings.TrimSpace(value)
	if includeZero || value != "" {
		layer[key] = value
	}
}
