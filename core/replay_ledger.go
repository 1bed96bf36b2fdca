package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const defaultReplayLedgerTTL = DefaultReplayTTL
const defaultReplayLedgerMaxEntries = DefaultMemoryMaxEntries

// ReplayKey joins an event id and its signature into the ledger key.
func ReplayKey(eventID string, signature string) string {
	return eventID + ":" + signature
}

// MemoryReplayLedger is a process-local ReplayLedger. Every call sweeps keys
// older than the ttl before the lookup, and the number of live keys is capped
// at maxEntries by evicting the oldest first.
type MemoryReplayLedger struct {
	mu         sync.Mutex
	defaultTTL time.Duration
	maxEntries int
	entries    map[string]time.Time
	Now        func() time.Time
}

func NewMemoryReplayLedger(defaultTTL time.Duration) *MemoryReplayLedger {
	return NewMemoryReplayLedgerWithLimits(defaultTTL, defaultReplayLedgerMaxEntries)
}

func NewMemoryReplayLedgerWithLimits(defaultTTL time.Duration, maxEntries int) *MemoryReplayLedger {
	if defaultTTL <= 0 {
		defaultTTL = defaultReplayLedgerTTL
	}
	if maxEntries <= 0 {
		maxEntries = defaultReplayLedgerMaxEntries
	}
	return &MemoryReplayLedger{
		defaultTTL: defaultTTL,
		maxEntries: maxEntries,
		entries:    map[string]time.Time{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (l *MemoryReplayLedger) IsReplay(_ context.Context, eventID string, signature string, ttl time.Duration) (bool, error) {
	if l == nil {
		return false, fmt.Errorf("core: replay ledger is not configured")
	}
	if strings.TrimSpace(eventID) == "" {
		return false, fmt.Errorf("core: replay event id is required")
	}
	if ttl <= 0 {
		ttl = l.defaultTTL
	}
	key := ReplayKey(eventID, signature)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.pruneLocked(now, ttl)
	if _, ok := l.entries[key]; ok {
		return true, nil
	}
	l.enforceCapacityLocked(1)
	l.entries[key] = now
	return false, nil
}

func (l *MemoryReplayLedger) PurgeExpired(_ context.Context) (int, error) {
	if l == nil {
		return 0, fmt.Errorf("core: replay ledger is not configured")
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pruneLocked(now, l.defaultTTL), nil
}

func (l *MemoryReplayLedger) Forget(_ context.Context, eventID string, signature string) error {
	if l == nil {
		return fmt.Errorf("core: replay ledger is not configured")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, ReplayKey(eventID, signature))
	return nil
}

// Len returns the number of keys currently held.
func (l *MemoryReplayLedger) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *MemoryReplayLedger) now() time.Time {
	if l != nil && l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

func (l *MemoryReplayLedger) pruneLocked(now time.Time, ttl time.Duration) int {
	pruned := 0
	for key, receivedAt := range l.entries {
		if now.Sub(receivedAt) > ttl {
			delete(l.entries, key)
			pruned++
		}
	}
	return pruned
}

func (l *MemoryReplayLedger) enforceCapacityLocked(incoming int) {
	if l.maxEntries <= 0 {
		return
	}
	target := l.maxEntries - incoming
	if target < 0 {
		target = 0
	}
	for len(l.entries) > target {
		l.evictOldestLocked()
	}
}

func (l *MemoryReplayLedger) evictOldestLocked() {
	var oldestKey string
	var oldestSeen time.Time
	found := false
	for key, receivedAt := range l.entries {
		if !found || receivedAt.Before(oldestSeen) {
			oldestKey = key
			oldestSeen = receivedAt
			found = true
		}
	}
	if found {
		delete(l.entries, oldestKey)
	}
}

var (
	_ ReplayLedger    = (*MemoryReplayLedger)(nil)
	_ ReplayForgetter = (*MemoryReplayLedger)(nil)
)
