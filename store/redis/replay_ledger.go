package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/arka-hq/go-guard/core"
)

// ReplayLedger records each pair with SET NX PX, so Redis expires keys on
// its own and a failed SET means the pair is still live.
type ReplayLedger struct {
	rdb        goredis.UniversalClient
	prefix     string
	defaultTTL time.Duration
	Now        func() time.Time
}

func NewReplayLedger(rdb goredis.UniversalClient, prefix string, defaultTTL time.Duration) (*ReplayLedger, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redisstore: redis client is required")
	}
	if defaultTTL <= 0 {
		defaultTTL = core.DefaultReplayTTL
	}
	return &ReplayLedger{
		rdb:        rdb,
		prefix:     prefix,
		defaultTTL: defaultTTL,
		Now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

func (l *ReplayLedger) IsReplay(ctx context.Context, eventID string, signature string, ttl time.Duration) (bool, error) {
	if l == nil || l.rdb == nil {
		return false, fmt.Errorf("redisstore: replay ledger is not configured")
	}
	if strings.TrimSpace(eventID) == "" {
		return false, fmt.Errorf("redisstore: replay event id is required")
	}
	if ttl <= 0 {
		ttl = l.defaultTTL
	}
	receivedAt := strconv.FormatInt(l.now().UnixMilli(), 10)
	ok, err := l.rdb.SetNX(ctx, l.key(eventID, signature), receivedAt, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redisstore: record replay key: %w", err)
	}
	return !ok, nil
}

// Lookup returns when the pair was recorded, if Redis still holds it.
func (l *ReplayLedger) Lookup(ctx context.Context, eventID string, signature string) (time.Time, bool, error) {
	if l == nil || l.rdb == nil {
		return time.Time{}, false, fmt.Errorf("redisstore: replay ledger is not configured")
	}
	raw, err := l.rdb.Get(ctx, l.key(eventID, signature)).Result()
	if err != nil {
		if isRedisNil(err) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	millis, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redisstore: malformed replay value %q: %w", raw, err)
	}
	return time.UnixMilli(millis).UTC(), true, nil
}

func (l *ReplayLedger) Forget(ctx context.Context, eventID string, signature string) error {
	if l == nil || l.rdb == nil {
		return fmt.Errorf("redisstore: replay ledger is not configured")
	}
	return l.rdb.Del(ctx, l.key(eventID, signature)).Err()
}

// PurgeExpired reports zero: Redis expires replay keys itself.
func (l *ReplayLedger) PurgeExpired(context.Context) (int, error) {
	return 0, nil
}

func (l *ReplayLedger) key(eventID string, signature string) string {
	return keyFor(l.prefix, segmentReplay, core.ReplayKey(eventID, signature))
}

func (l *ReplayLedger) now() time.Time {
	if l != nil && l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

var (
	_ core.ReplayLedger    = (*ReplayLedger)(nil)
	_ core.ReplayForgetter = (*ReplayLedger)(nil)
)
