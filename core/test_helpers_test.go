package core

import (
	"context"
	"sync"
	"time"
)

type stubLogger struct{}

func (stubLogger) Trace(string, ...any) {}
func (stubLogger) Debug(string, ...any) {}
func (stubLogger) Info(string, ...any)  {}
func (stubLogger) Warn(string, ...any)  {}
func (stubLogger) Error(string, ...any) {}
func (stubLogger) Fatal(string, ...any) {}
func (s stubLogger) WithContext(context.Context) Logger {
	return s
}

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}

type mapRawLoader struct {
	values map[string]any
}

func (l mapRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.values) == 0 {
		return map[string]any{}, nil
	}
	return l.values, nil
}

type stubWindowStore struct {
	mu        sync.Mutex
	hits      map[string]int
	hitErr    error
	purged    int
	resetKeys []string
}

func newStubWindowStore() *stubWindowStore {
	return &stubWindowStore{hits: map[string]int{}}
}

func (s *stubWindowStore) Hit(_ context.Context, key string, limit int, window time.Duration) (RateLimitDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hitErr != nil {
		return RateLimitDecision{}, s.hitErr
	}
	s.hits[key]++
	return s.decisionLocked(key, limit, window), nil
}

func (s *stubWindowStore) Peek(_ context.Context, key string, limit int, window time.Duration) (RateLimitDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decisionLocked(key, limit, window), nil
}

func (s *stubWindowStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.hits, key)
	s.resetKeys = append(s.resetKeys, key)
	return nil
}

func (s *stubWindowStore) PurgeExpired(context.Context) (int, error) {
	return s.purged, nil
}

func (s *stubWindowStore) decisionLocked(key string, limit int, window time.Duration) RateLimitDecision {
	count := s.hits[key]
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return RateLimitDecision{
		Key:       key,
		Limit:     limit,
		Count:     count,
		Remaining: remaining,
		Exceeded:  count > limit,
		ResetAt:   time.Unix(0, 0).Add(window),
	}
}

type countingPurger struct {
	mu    sync.Mutex
	calls int
	value int
	err   error
}

func (p *countingPurger) PurgeExpired(context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.value, p.err
}

func (p *countingPurger) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}
