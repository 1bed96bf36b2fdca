package webhooks

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/arka-hq/go-guard/core"
)

type SecretSource = core.SecretSource

// ErrSecretNotConfigured is returned when a secret source resolves to an
// empty value. Verifiers treat it as a failed verification.
var ErrSecretNotConfigured = fmt.Errorf("webhooks: signature secret is not configured")

// EnvSecret reads the secret from an environment variable on every call.
type EnvSecret struct {
	Key    string
	Lookup func(key string) (string, bool)
}

func (s EnvSecret) Secret(context.Context) (string, error) {
	key := strings.TrimSpace(s.Key)
	if key == "" {
		return "", ErrSecretNotConfigured
	}
	lookup := s.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	value, ok := lookup(key)
	if !ok || value == "" {
		return "", fmt.Errorf("%w: %s is empty", ErrSecretNotConfigured, key)
	}
	return value, nil
}

type StaticSecret string

func (s StaticSecret) Secret(context.Context) (string, error) {
	if s == "" {
		return "", ErrSecretNotConfigured
	}
	return string(s), nil
}

var (
	_ SecretSource = EnvSecret{}
	_ SecretSource = StaticSecret("")
)
