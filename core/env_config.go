package core

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvConfigLoader reads GUARD_* environment variables into a raw config map.
// Unset variables are omitted so that defaults apply.
type EnvConfigLoader struct {
	Lookup func(key string) (string, bool)
}

func NewEnvConfigLoader() EnvConfigLoader {
	return EnvConfigLoader{Lookup: os.LookupEnv}
}

func (l EnvConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	lookup := l.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(key string) (string, bool) {
		value, ok := lookup(key)
		value = strings.TrimSpace(value)
		return value, ok && value != ""
	}

	raw := map[string]any{}
	webhook := map[string]any{}
	rateLimit := map[string]any{}
	store := map[string]any{}
	logging := map[string]any{}

	if value, ok := get("GUARD_SERVICE_NAME"); ok {
		raw["service_name"] = value
	}
	if value, ok := get("GUARD_ADDR"); ok {
		raw["http_addr"] = value
	}
	if value, ok := get("GUARD_SWEEP_INTERVAL"); ok {
		parsed, err := parseEnvDuration("GUARD_SWEEP_INTERVAL", value)
		if err != nil {
			return nil, err
		}
		raw["sweep_interval"] = parsed
	}

	if value, ok := get("GUARD_WEBHOOK_SECRET_ENV"); ok {
		webhook["secret_env"] = value
	}
	if value, ok := get("GUARD_GATES_SECRET_ENV"); ok {
		webhook["gates_secret_env"] = value
	}
	if value, ok := get("GUARD_REPLAY_TTL"); ok {
		parsed, err := parseEnvDuration("GUARD_REPLAY_TTL", value)
		if err != nil {
			return nil, err
		}
		webhook["replay_ttl"] = parsed
	}
	if value, ok := get("GUARD_MAX_BODY_BYTES"); ok {
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("core: GUARD_MAX_BODY_BYTES is invalid: %w", err)
		}
		webhook["max_body_bytes"] = parsed
	}
	if value, ok := get("ALLOWLIST_REPOS"); ok {
		webhook["allowlist_repos"] = ParseAllowlist(value)
	}
	if value, ok := get("GUARD_ALLOW_ALL_REPOS"); ok {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("core: GUARD_ALLOW_ALL_REPOS is invalid: %w", err)
		}
		webhook["allow_all_repos"] = parsed
	}

	if value, ok := get("GUARD_RATE_LIMIT_DISABLED"); ok {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("core: GUARD_RATE_LIMIT_DISABLED is invalid: %w", err)
		}
		rateLimit["disabled"] = parsed
	}
	if value, ok := get("GUARD_RATE_LIMIT"); ok {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("core: GUARD_RATE_LIMIT is invalid: %w", err)
		}
		rateLimit["limit"] = parsed
	}
	if value, ok := get("GUARD_RATE_WINDOW"); ok {
		parsed, err := parseEnvDuration("GUARD_RATE_WINDOW", value)
		if err != nil {
			return nil, err
		}
		rateLimit["window"] = parsed
	}

	if value, ok := get("GUARD_TRUSTED_PROXIES"); ok {
		rateLimit["trusted_proxies"] = ParseAllowlist(value)
	}

	if value, ok := get("GUARD_STORE"); ok {
		store["driver"] = strings.ToLower(value)
	}
	if value, ok := get("GUARD_DATABASE_DRIVER"); ok {
		store["database_driver"] = value
	}
	if value, ok := get("GUARD_DATABASE_DSN"); ok {
		store["database_dsn"] = value
	}
	if value, ok := get("GUARD_REDIS_ADDR"); ok {
		store["redis_addr"] = value
	}
	if value, ok := get("GUARD_REDIS_PASSWORD"); ok {
		store["redis_password"] = value
	}
	if value, ok := get("GUARD_REDIS_DB"); ok {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("core: GUARD_REDIS_DB is invalid: %w", err)
		}
		store["redis_db"] = parsed
	}
	if value, ok := get("GUARD_KEY_PREFIX"); ok {
		store["key_prefix"] = value
	}
	if value, ok := get("GUARD_CACHE_TTL"); ok {
		parsed, err := parseEnvDuration("GUARD_CACHE_TTL", value)
		if err != nil {
			return nil, err
		}
		store["cache_ttl"] = parsed
	}
	if value, ok := get("GUARD_MAX_ENTRIES"); ok {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("core: GUARD_MAX_ENTRIES is invalid: %w", err)
		}
		store["max_entries"] = parsed
	}

	if value, ok := get("GUARD_LOG_LEVEL"); ok {
		logging["level"] = strings.ToLower(value)
	}
	if value, ok := get("GUARD_LOG_FORMAT"); ok {
		logging["format"] = strings.ToLower(value)
	}

	if len(webhook) > 0 {
		raw["webhook"] = webhook
	}
	if len(rateLimit) > 0 {
		raw["rate_limit"] = rateLimit
	}
	if len(store) > 0 {
		raw["store"] = store
	}
	if len(logging) > 0 {
		raw["logging"] = logging
	}
	return raw, nil
}

// ParseAllowlist splits a comma separated list (repositories, proxy
// addresses), dropping blanks.
func ParseAllowlist(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func parseEnvDuration(key string, value string) (time.Duration, error) {
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("core: %s is invalid: %w", key, err)
	}
	return parsed, nil
}
