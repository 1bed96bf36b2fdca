package core

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("expected default config to validate: %v", err)
	}
}

func TestDefaultConfig_BodyCapMatchesWebhookRoute(t *testing.T) {
	if got := DefaultConfig().Webhook.MaxBodyBytes; got != 1_000_000 {
		t.Fatalf("expected a 1,000,000 byte body cap, got %d", got)
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"service name", func(c *Config) { c.ServiceName = " " }, "service_name"},
		{"replay ttl", func(c *Config) { c.Webhook.ReplayTTL = 0 }, "replay_ttl"},
		{"max body", func(c *Config) { c.Webhook.MaxBodyBytes = -1 }, "max_body_bytes"},
		{"limit", func(c *Config) { c.RateLimit.Limit = 0 }, "rate_limit.limit"},
		{"window", func(c *Config) { c.RateLimit.Window = 0 }, "rate_limit.window"},
		{"sql dsn", func(c *Config) { c.Store.Driver = StoreDriverSQL }, "database_dsn"},
		{"redis addr", func(c *Config) { c.Store.Driver = StoreDriverRedis }, "redis_addr"},
		{"driver", func(c *Config) { c.Store.Driver = "etcd" }, "store.driver"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"trusted proxy", func(c *Config) { c.RateLimit.TrustedProxies = []string{"10.0.0.0/8", "proxy.local"} }, "trusted_proxies"},
	}
	for _, tc := range cases {
		cfg := DefaultConfig()
		tc.mutate(&cfg)
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: expected error mentioning %q, got %v", tc.name, tc.want, err)
		}
	}
}

func TestConfigValidate_DisabledRateLimitSkipsWindowChecks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit = RateLimitConfig{Disabled: true, Window: 0}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected disabled rate limit to skip checks: %v", err)
	}
	cfg.RateLimit.Window = time.Second
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestConfigValidate_AcceptsProxyAddressesAndPrefixes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit.TrustedProxies = []string{"10.0.0.0/8", "192.168.1.4", "2001:db8::/32"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected proxies to validate: %v", err)
	}
}

func TestWebhookConfig_GatesSecretFallsBackToShared(t *testing.T) {
	cfg := DefaultConfig().Webhook
	if cfg.GatesSecret() != DefaultSecretEnv {
		t.Fatalf("expected fallback to %s, got %s", DefaultSecretEnv, cfg.GatesSecret())
	}
	cfg.GatesSecretEnv = "GATES_WEBHOOK_SECRET"
	if cfg.GatesSecret() != "GATES_WEBHOOK_SECRET" {
		t.Fatalf("expected dedicated gates secret, got %s", cfg.GatesSecret())
	}
}

func TestWebhookConfig_RepoAllowed(t *testing.T) {
	cfg := WebhookConfig{AllowlistRepos: []string{"arka/app"}}
	if !cfg.RepoAllowed("Arka/App") {
		t.Fatalf("expected case-insensitive match")
	}
	if cfg.RepoAllowed("arka/other") {
		t.Fatalf("expected unlisted repo to be denied")
	}
	if cfg.RepoAllowed("") {
		t.Fatalf("expected empty repo to be denied")
	}
	if (WebhookConfig{}).RepoAllowed("arka/app") {
		t.Fatalf("expected empty allowlist to deny")
	}
	if !(WebhookConfig{AllowAllRepos: true}).RepoAllowed("any/repo") {
		t.Fatalf("expected allow-all to admit any repo")
	}
}
