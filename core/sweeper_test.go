package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSweeper_SweepOnceRunsEveryPurger(t *testing.T) {
	sweeper := NewSweeper(time.Second, nil)
	replay := &countingPurger{value: 2}
	window := &countingPurger{value: 5}
	if err := sweeper.Register("replay", replay); err != nil {
		t.Fatalf("register replay: %v", err)
	}
	if err := sweeper.Register("rate_limit", window); err != nil {
		t.Fatalf("register rate limit: %v", err)
	}

	results := sweeper.SweepOnce(context.Background())
	if results["replay"] != 2 || results["rate_limit"] != 5 {
		t.Fatalf("unexpected sweep results %#v", results)
	}
}

func TestSweeper_FailureDoesNotStopOtherPurgers(t *testing.T) {
	sweeper := NewSweeper(time.Second, stubLogger{})
	failing := &countingPurger{err: errors.New("store offline")}
	healthy := &countingPurger{value: 1}
	_ = sweeper.Register("failing", failing)
	_ = sweeper.Register("healthy", healthy)

	results := sweeper.SweepOnce(context.Background())
	if _, ok := results["failing"]; ok {
		t.Fatalf("expected failing purger to be omitted from results")
	}
	if results["healthy"] != 1 {
		t.Fatalf("expected healthy purger result, got %#v", results)
	}
}

func TestSweeper_RegisterRejectsNilPurger(t *testing.T) {
	sweeper := NewSweeper(0, nil)
	if sweeper.Interval != DefaultSweepInterval {
		t.Fatalf("expected default interval, got %s", sweeper.Interval)
	}
	if err := sweeper.Register("nil", nil); err == nil {
		t.Fatalf("expected nil purger to be rejected")
	}
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	sweeper := NewSweeper(5*time.Millisecond, nil)
	purger := &countingPurger{}
	_ = sweeper.Register("replay", purger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for purger.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected run loop to exit after cancel")
	}
	if purger.callCount() == 0 {
		t.Fatalf("expected at least one sweep tick")
	}
}
