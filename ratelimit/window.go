package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/arka-hq/go-guard/core"
)

type Decision = core.RateLimitDecision

type WindowStore = core.WindowStore

const DefaultMaxKeys = core.DefaultMemoryMaxEntries

type keyWindow struct {
	hits   []time.Time
	window time.Duration
}

// MemoryWindowStore keeps per-key hit timestamps in process memory. Each key
// holds its timestamps oldest first; a hit prunes everything at or before
// now-window from the front, appends now and compares the length to limit.
type MemoryWindowStore struct {
	mu      sync.Mutex
	windows map[string]*keyWindow
	maxKeys int
	Now     func() time.Time
}

func NewMemoryWindowStore() *MemoryWindowStore {
	return NewMemoryWindowStoreWithLimit(DefaultMaxKeys)
}

func NewMemoryWindowStoreWithLimit(maxKeys int) *MemoryWindowStore {
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	return &MemoryWindowStore{
		windows: map[string]*keyWindow{},
		maxKeys: maxKeys,
		Now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryWindowStore) Hit(_ context.Context, key string, limit int, window time.Duration) (Decision, error) {
	if err := ValidateHit(key, limit, window); err != nil {
		return Decision{}, err
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok {
		s.makeRoomLocked(now)
		w = &keyWindow{}
		s.windows[key] = w
	}
	w.window = window
	w.hits = pruneBefore(w.hits, now.Add(-window))
	w.hits = append(w.hits, now)
	return Decide(key, w.hits, limit, window, now), nil
}

// Peek reports the window for key as of now without recording a hit.
func (s *MemoryWindowStore) Peek(_ context.Context, key string, limit int, window time.Duration) (Decision, error) {
	if err := ValidateHit(key, limit, window); err != nil {
		return Decision{}, err
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok {
		return Decide(key, nil, limit, window, now), nil
	}
	w.hits = pruneBefore(w.hits, now.Add(-window))
	return Decide(key, w.hits, limit, window, now), nil
}

func (s *MemoryWindowStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, key)
	return nil
}

// PurgeExpired drops keys whose every timestamp has left its window and
// returns how many keys were dropped.
func (s *MemoryWindowStore) PurgeExpired(context.Context) (int, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.purgeLocked(now), nil
}

func (s *MemoryWindowStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

func (s *MemoryWindowStore) purgeLocked(now time.Time) int {
	dropped := 0
	for key, w := range s.windows {
		w.hits = pruneBefore(w.hits, now.Add(-w.window))
		if len(w.hits) == 0 {
			delete(s.windows, key)
			dropped++
		}
	}
	return dropped
}

func (s *MemoryWindowStore) makeRoomLocked(now time.Time) {
	if s.windows == nil {
		s.windows = map[string]*keyWindow{}
	}
	if s.maxKeys <= 0 || len(s.windows) < s.maxKeys {
		return
	}
	s.purgeLocked(now)
	for len(s.windows) >= s.maxKeys {
		var (
			idleKey  string
			idleLast time.Time
			found    bool
		)
		for key, w := range s.windows {
			last := time.Time{}
			if n := len(w.hits); n > 0 {
				last = w.hits[n-1]
			}
			if !found || last.Before(idleLast) {
				idleKey, idleLast, found = key, last, true
			}
		}
		if !found {
			return
		}
		delete(s.windows, idleKey)
	}
}

func (s *MemoryWindowStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// pruneBefore drops timestamps at or before cutoff. hits is sorted oldest
// first so pruning stops at the first survivor.
func pruneBefore(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return hits
	}
	return hits[i:]
}

// Decide builds the decision for hits, which must be sorted oldest first and
// already pruned to the window ending at now.
func Decide(key string, hits []time.Time, limit int, window time.Duration, now time.Time) Decision {
	count := len(hits)
	decision := Decision{
		Key:       key,
		Limit:     limit,
		Count:     count,
		Remaining: limit - count,
		Exceeded:  count > limit,
		ResetAt:   now.Add(window),
	}
	if decision.Remaining < 0 {
		decision.Remaining = 0
	}
	if count > 0 {
		decision.ResetAt = hits[0].Add(window)
	}
	if count >= limit && count > 0 {
		// next admission: the oldest surplus hit leaves the window
		decision.RetryAfter = hits[count-limit].Add(window).Sub(now)
	}
	return decision
}

// ValidateHit rejects empty keys and non-positive limits or windows.
func ValidateHit(key string, limit int, window time.Duration) error {
	if strings.TrimSpace(key) == "" {
		return core.NewServiceError("ratelimit: key is required", goerrors.CategoryBadInput, core.ServiceErrorBadInput, nil)
	}
	if limit <= 0 || window <= 0 {
		return core.NewServiceError(
			"ratelimit: limit and window must be positive",
			goerrors.CategoryBadInput,
			core.ServiceErrorBadInput,
			map[string]any{"limit": limit, "window_ms": window.Milliseconds()},
		)
	}
	return nil
}

// SlidingWindow is the boolean form of the limiter over a memory store.
// Invalid limits or windows report exceeded.
type SlidingWindow struct {
	Store *MemoryWindowStore
}

func NewSlidingWindow() *SlidingWindow {
	return &SlidingWindow{Store: NewMemoryWindowStore()}
}

// Hit records a request for key and reports whether the key is now over limit
// within window.
func (w *SlidingWindow) Hit(key string, limit int, window time.Duration) bool {
	if w == nil || w.Store == nil {
		return true
	}
	decision, err := w.Store.Hit(context.Background(), key, limit, window)
	if err != nil {
		return true
	}
	return decision.Exceeded
}

var _ WindowStore = (*MemoryWindowStore)(nil)
