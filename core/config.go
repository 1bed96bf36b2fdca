package core

import (
	"fmt"
	"net/netip"
	"strings"
	"time"
)

const (
	StoreDriverMemory = "memory"
	StoreDriverSQL    = "sql"
	StoreDriverRedis  = "redis"
)

const (
	DefaultReplayTTL        = 24 * time.Hour
	DefaultSecretEnv        = "WEBHOOK_SECRET"
	DefaultMaxBodyBytes     = int64(1_000_000)
	DefaultSweepInterval    = time.Minute
	DefaultMemoryMaxEntries = 65536
)

type WebhookConfig struct {
	SecretEnv      string        `koanf:"secret_env" mapstructure:"secret_env"`
	GatesSecretEnv string        `koanf:"gates_secret_env" mapstructure:"gates_secret_env"`
	ReplayTTL      time.Duration `koanf:"replay_ttl" mapstructure:"replay_ttl"`
	MaxBodyBytes   int64         `koanf:"max_body_bytes" mapstructure:"max_body_bytes"`
	AllowlistRepos []string      `koanf:"allowlist_repos" mapstructure:"allowlist_repos"`
	AllowAllRepos  bool          `koanf:"allow_all_repos" mapstructure:"allow_all_repos"`
}

// RateLimitConfig sizes the global limiter. Forwarding headers are only
// honoured for requests arriving from one of TrustedProxies (IPs or CIDRs).
type RateLimitConfig struct {
	Disabled       bool          `koanf:"disabled" mapstructure:"disabled"`
	Limit          int           `koanf:"limit" mapstructure:"limit"`
	Window         time.Duration `koanf:"window" mapstructure:"window"`
	TrustedProxies []string      `koanf:"trusted_proxies" mapstructure:"trusted_proxies"`
}

type StoreConfig struct {
	Driver         string        `koanf:"driver" mapstructure:"driver"`
	DatabaseDriver string        `koanf:"database_driver" mapstructure:"database_driver"`
	DatabaseDSN    string        `koanf:"database_dsn" mapstructure:"database_dsn"`
	RedisAddr      string        `koanf:"redis_addr" mapstructure:"redis_addr"`
	RedisPassword  string        `koanf:"redis_password" mapstructure:"redis_password"`
	RedisDB        int           `koanf:"redis_db" mapstructure:"redis_db"`
	KeyPrefix      string        `koanf:"key_prefix" mapstructure:"key_prefix"`
	CacheTTL       time.Duration `koanf:"cache_ttl" mapstructure:"cache_ttl"`
	MaxEntries     int           `koanf:"max_entries" mapstructure:"max_entries"`
}

type LoggingConfig struct {
	Level  string `koanf:"level" mapstructure:"level"`
	Format string `koanf:"format" mapstructure:"format"`
}

type Config struct {
	ServiceName   string          `koanf:"service_name" mapstructure:"service_name"`
	HTTPAddr      string          `koanf:"http_addr" mapstructure:"http_addr"`
	SweepInterval time.Duration   `koanf:"sweep_interval" mapstructure:"sweep_interval"`
	Webhook       WebhookConfig   `koanf:"webhook" mapstructure:"webhook"`
	RateLimit     RateLimitConfig `koanf:"rate_limit" mapstructure:"rate_limit"`
	Store         StoreConfig     `koanf:"store" mapstructure:"store"`
	Logging       LoggingConfig   `koanf:"logging" mapstructure:"logging"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName:   "guard",
		HTTPAddr:      ":8080",
		SweepInterval: DefaultSweepInterval,
		Webhook: WebhookConfig{
			SecretEnv:    DefaultSecretEnv,
			ReplayTTL:    DefaultReplayTTL,
			MaxBodyBytes: DefaultMaxBodyBytes,
		},
		RateLimit: RateLimitConfig{
			Limit:  60,
			Window: time.Minute,
		},
		Store: StoreConfig{
			Driver:         StoreDriverMemory,
			DatabaseDriver: "sqlite3",
			KeyPrefix:      "guard",
			CacheTTL:       time.Minute,
			MaxEntries:     DefaultMemoryMaxEntries,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if strings.TrimSpace(c.Webhook.SecretEnv) == "" {
		return fmt.Errorf("core: webhook.secret_env is required")
	}
	if c.Webhook.ReplayTTL <= 0 {
		return fmt.Errorf("core: webhook.replay_ttl must be positive")
	}
	if c.Webhook.MaxBodyBytes <= 0 {
		return fmt.Errorf("core: webhook.max_body_bytes must be positive")
	}
	for _, proxy := range c.RateLimit.TrustedProxies {
		if !validProxy(proxy) {
			return fmt.Errorf("core: rate_limit.trusted_proxies entry %q is not an IP or CIDR", proxy)
		}
	}
	if !c.RateLimit.Disabled {
		if c.RateLimit.Limit <= 0 {
			return fmt.Errorf("core: rate_limit.limit must be positive")
		}
		if c.RateLimit.Window <= 0 {
			return fmt.Errorf("core: rate_limit.window must be positive")
		}
	}
	switch strings.ToLower(strings.TrimSpace(c.Store.Driver)) {
	case StoreDriverMemory:
	case StoreDriverSQL:
		if strings.TrimSpace(c.Store.DatabaseDSN) == "" {
			return fmt.Errorf("core: store.database_dsn is required for the sql store")
		}
	case StoreDriverRedis:
		if strings.TrimSpace(c.Store.RedisAddr) == "" {
			return fmt.Errorf("core: store.redis_addr is required for the redis store")
		}
	default:
		return fmt.Errorf("core: store.driver %q is invalid", c.Store.Driver)
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "json", "console":
	default:
		return fmt.Errorf("core: logging.format %q is invalid", c.Logging.Format)
	}
	return nil
}

// GatesSecret names the variable holding the gates callback secret. It falls
// back to SecretEnv when unset.
func (c WebhookConfig) GatesSecret() string {
	if name := strings.TrimSpace(c.GatesSecretEnv); name != "" {
		return name
	}
	return c.SecretEnv
}

func validProxy(value string) bool {
	value = strings.TrimSpace(value)
	if _, err := netip.ParsePrefix(value); err == nil {
		return true
	}
	_, err := netip.ParseAddr(value)
	return err == nil
}

// RepoAllowed reports whether webhook events for repo may be recorded.
func (c WebhookConfig) RepoAllowed(repo string) bool {
	if c.AllowAllRepos {
		return true
	}
	repo = strings.TrimSpace(repo)
	if repo == "" {
		return false
	}
	for _, allowed := range c.AllowlistRepos {
		if strings.EqualFold(strings.TrimSpace(allowed), repo) {
			return true
		}
	}
	return false
}
