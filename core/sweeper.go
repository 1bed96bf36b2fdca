package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// Sweeper periodically calls PurgeExpired on every registered Purger so idle
// keys are dropped even when no new traffic arrives.
type Sweeper struct {
	Interval time.Duration
	Logger   Logger

	mu      sync.Mutex
	purgers map[string]Purger
	order   []string
}

func NewSweeper(interval time.Duration, logger Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		Interval: interval,
		Logger:   glog.Ensure(logger),
		purgers:  map[string]Purger{},
	}
}

func (s *Sweeper) Register(name string, purger Purger) error {
	if s == nil {
		return fmt.Errorf("core: sweeper is nil")
	}
	if purger == nil {
		return fmt.Errorf("core: purger %q is required", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.purgers == nil {
		s.purgers = map[string]Purger{}
	}
	if _, exists := s.purgers[name]; !exists {
		s.order = append(s.order, name)
	}
	s.purgers[name] = purger
	return nil
}

// SweepOnce runs every purger once and returns the pruned count per name.
// Failures are logged and do not stop the remaining purgers.
func (s *Sweeper) SweepOnce(ctx context.Context) map[string]int {
	results := map[string]int{}
	if s == nil {
		return results
	}
	s.mu.Lock()
	names := append([]string(nil), s.order...)
	purgers := make(map[string]Purger, len(s.purgers))
	for name, purger := range s.purgers {
		purgers[name] = purger
	}
	s.mu.Unlock()

	logger := glog.Ensure(s.Logger)
	for _, name := range names {
		pruned, err := purgers[name].PurgeExpired(ctx)
		if err != nil {
			logger.Error("sweep failed", "purger", name, "error", err)
			continue
		}
		results[name] = pruned
		if pruned > 0 {
			logger.Debug("sweep pruned entries", "purger", name, "pruned", pruned)
		}
	}
	return results
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	if s == nil {
		return
	}
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}
