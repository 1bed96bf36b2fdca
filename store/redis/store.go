// Package redisstore backs the replay ledger and the sliding window with
// Redis so several guard instances share one view.
package redisstore

import (
	"errors"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "guard"

// Key segments under the configured prefix.
const (
	segmentReplay = "replay"
	segmentWindow = "rl"
)

type Options struct {
	Addr     string
	Password string
	DB       int
}

// NewClient opens a go-redis client for the store options.
func NewClient(opts Options) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
}

func keyFor(prefix string, segment string, key string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return prefix + ":" + segment + ":" + key
}

func isRedisNil(err error) bool {
	return errors.Is(err, goredis.Nil)
}

// scoreFromTime converts t to a sorted set score in unix microseconds, which
// a float64 holds exactly.
func scoreFromTime(t time.Time) float64 {
	return float64(t.UnixMicro())
}

func timeFromScore(score float64) time.Time {
	return time.UnixMicro(int64(score)).UTC()
}
