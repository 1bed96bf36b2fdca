package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/arka-hq/go-guard/core"
)

const replayCacheKeyPrefix = "go-guard::replay::v1"

// ReplayLookup is the read side of a stored ledger.
type ReplayLookup interface {
	core.ReplayLedger
	Lookup(ctx context.Context, eventID string, signature string) (time.Time, bool, error)
}

type replaySighting struct {
	ReceivedAt time.Time
	Found      bool
}

// CachedReplayLedger answers repeat deliveries from cache. A cached sighting
// is only trusted while it is younger than the ttl of the current call;
// everything else falls through to the base ledger and drops the cache entry.
type CachedReplayLedger struct {
	base  ReplayLookup
	cache repositorycache.CacheService
	Now   func() time.Time
}

func NewCachedReplayLedger(base ReplayLookup, cacheService repositorycache.CacheService) (*CachedReplayLedger, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base replay ledger is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: replay cache service is required")
	}
	return &CachedReplayLedger{
		base:  base,
		cache: cacheService,
		Now:   func() time.Time { return time.Now().UTC() },
	}, nil
}

// ReplayCacheKey returns go-guard::replay::v1::<event id>::<signature> with
// each segment URL-path escaped.
func ReplayCacheKey(eventID string, signature string) string {
	return strings.Join([]string{
		replayCacheKeyPrefix,
		url.PathEscape(eventID),
		url.PathEscape(signature),
	}, "::")
}

func (l *CachedReplayLedger) IsReplay(ctx context.Context, eventID string, signature string, ttl time.Duration) (bool, error) {
	if l == nil || l.base == nil || l.cache == nil {
		return false, fmt.Errorf("sqlstore: cached replay ledger is not configured")
	}
	if ttl <= 0 {
		ttl = core.DefaultReplayTTL
	}
	cacheKey := ReplayCacheKey(eventID, signature)

	sighting, err := repositorycache.GetOrFetch(ctx, l.cache, cacheKey, func(ctx context.Context) (replaySighting, error) {
		receivedAt, found, lookupErr := l.base.Lookup(ctx, eventID, signature)
		if lookupErr != nil {
			return replaySighting{}, lookupErr
		}
		return replaySighting{ReceivedAt: receivedAt, Found: found}, nil
	})
	if err != nil {
		return false, err
	}
	if sighting.Found && l.now().Sub(sighting.ReceivedAt) <= ttl {
		return true, nil
	}

	replay, err := l.base.IsReplay(ctx, eventID, signature, ttl)
	if err != nil {
		return false, err
	}
	if err := l.cache.Delete(ctx, cacheKey); err != nil {
		return false, err
	}
	return replay, nil
}

func (l *CachedReplayLedger) Forget(ctx context.Context, eventID string, signature string) error {
	if l == nil || l.base == nil || l.cache == nil {
		return fmt.Errorf("sqlstore: cached replay ledger is not configured")
	}
	if forgetter, ok := l.base.(core.ReplayForgetter); ok {
		if err := forgetter.Forget(ctx, eventID, signature); err != nil {
			return err
		}
	}
	return l.cache.Delete(ctx, ReplayCacheKey(eventID, signature))
}

func (l *CachedReplayLedger) PurgeExpired(ctx context.Context) (int, error) {
	if l == nil || l.base == nil {
		return 0, fmt.Errorf("sqlstore: cached replay ledger is not configured")
	}
	return l.base.PurgeExpired(ctx)
}

func (l *CachedReplayLedger) now() time.Time {
	if l != nil && l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

var (
	_ core.ReplayLedger    = (*CachedReplayLedger)(nil)
	_ core.ReplayForgetter = (*CachedReplayLedger)(nil)
	_ ReplayLookup         = (*ReplayLedgerStore)(nil)
)
