package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/arka-hq/go-guard/core"
	"github.com/arka-hq/go-guard/ratelimit"
)

// WindowStore keeps one sorted set per key with a member per hit scored by
// its timestamp. A hit trims, adds, reads and refreshes the ttl in a single
// MULTI/EXEC.
type WindowStore struct {
	rdb    goredis.UniversalClient
	prefix string
	Now    func() time.Time
}

func NewWindowStore(rdb goredis.UniversalClient, prefix string) (*WindowStore, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redisstore: redis client is required")
	}
	return &WindowStore{
		rdb:    rdb,
		prefix: prefix,
		Now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *WindowStore) Hit(ctx context.Context, key string, limit int, window time.Duration) (core.RateLimitDecision, error) {
	if err := ratelimit.ValidateHit(key, limit, window); err != nil {
		return core.RateLimitDecision{}, err
	}
	now := s.now()
	redisKey := keyFor(s.prefix, segmentWindow, key)
	member := strconv.FormatInt(now.UnixNano(), 10) + "-" + uuid.NewString()

	var hits *goredis.ZSliceCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, redisKey, "-inf", cutoffScore(now, window))
		pipe.ZAdd(ctx, redisKey, goredis.Z{Score: scoreFromTime(now), Member: member})
		hits = pipe.ZRangeWithScores(ctx, redisKey, 0, -1)
		pipe.PExpire(ctx, redisKey, window)
		return nil
	})
	if err != nil {
		return core.RateLimitDecision{}, fmt.Errorf("redisstore: record hit: %w", err)
	}
	return ratelimit.Decide(key, toTimes(hits.Val()), limit, window, now), nil
}

func (s *WindowStore) Peek(ctx context.Context, key string, limit int, window time.Duration) (core.RateLimitDecision, error) {
	if err := ratelimit.ValidateHit(key, limit, window); err != nil {
		return core.RateLimitDecision{}, err
	}
	now := s.now()
	redisKey := keyFor(s.prefix, segmentWindow, key)
	members, err := s.rdb.ZRangeByScoreWithScores(ctx, redisKey, &goredis.ZRangeBy{
		Min: "(" + cutoffScore(now, window),
		Max: "+inf",
	}).Result()
	if err != nil {
		return core.RateLimitDecision{}, fmt.Errorf("redisstore: read window: %w", err)
	}
	return ratelimit.Decide(key, toTimes(members), limit, window, now), nil
}

func (s *WindowStore) Reset(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, keyFor(s.prefix, segmentWindow, key)).Err()
}

// PurgeExpired reports zero: every window key carries a PEXPIRE of its
// window length.
func (s *WindowStore) PurgeExpired(context.Context) (int, error) {
	return 0, nil
}

func (s *WindowStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func cutoffScore(now time.Time, window time.Duration) string {
	return strconv.FormatFloat(scoreFromTime(now.Add(-window)), 'f', -1, 64)
}

func toTimes(members []goredis.Z) []time.Time {
	out := make([]time.Time, 0, len(members))
	for _, member := range members {
		out = append(out, timeFromScore(member.Score))
	}
	return out
}

var _ core.WindowStore = (*WindowStore)(nil)
