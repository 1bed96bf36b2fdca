package gojob

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/arka-hq/go-guard/core"
)

// SweepOutcome describes one processed sweep delivery.
type SweepOutcome struct {
	JobID   string
	Pruned  int
	Attempt int
	Acked   bool
	Err     error
}

// SweepWorker runs queued sweep jobs against the purger registered for each
// job id. A failed sweep is nacked for retry until the policy gives up.
// Hook receives go-job worker events for every attempt.
type SweepWorker struct {
	Queue      queue.Dequeuer
	Policy     RetryPolicy
	RetryDelay time.Duration
	Hook       worker.Hook
	Logger     core.Logger
	Now        func() time.Time

	mu       sync.Mutex
	purgers  map[string]core.Purger
	attempts map[string]int
}

func NewSweepWorker(q queue.Dequeuer, policy RetryPolicy, logger core.Logger) *SweepWorker {
	return &SweepWorker{
		Queue:      q,
		Policy:     policy,
		RetryDelay: 5 * time.Second,
		Logger:     glog.Ensure(logger),
		Now:        func() time.Time { return time.Now().UTC() },
		purgers:    map[string]core.Purger{},
		attempts:   map[string]int{},
	}
}

func (w *SweepWorker) Register(jobID string, purger core.Purger) error {
	if w == nil {
		return fmt.Errorf("gojob: sweep worker is nil")
	}
	if _, err := NewSweepJob(jobID, time.Time{}); err != nil {
		return err
	}
	if purger == nil {
		return fmt.Errorf("gojob: purger for %q is required", jobID)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.purgers == nil {
		w.purgers = map[string]core.Purger{}
	}
	w.purgers[strings.TrimSpace(jobID)] = purger
	return nil
}

// RunOnce dequeues a single delivery and runs it.
func (w *SweepWorker) RunOnce(ctx context.Context) (SweepOutcome, error) {
	if w == nil || w.Queue == nil {
		return SweepOutcome{}, fmt.Errorf("gojob: sweep worker has no queue")
	}
	delivery, err := w.Queue.Dequeue(ctx)
	if err != nil {
		return SweepOutcome{}, err
	}
	if delivery == nil {
		return SweepOutcome{}, fmt.Errorf("gojob: dequeuer returned no delivery")
	}

	sweep, err := ParseSweepJob(delivery.Message())
	outcome := SweepOutcome{JobID: sweep.JobID}
	if err != nil {
		outcome.Err = err
		return outcome, delivery.Nack(ctx, deadLetter(err.Error()))
	}
	purger := w.purger(sweep.JobID)
	if purger == nil {
		outcome.Err = fmt.Errorf("gojob: no purger registered for %q", sweep.JobID)
		w.logger().Warn("sweep job dropped", "job_id", sweep.JobID)
		return outcome, delivery.Nack(ctx, deadLetter("unknown sweep job"))
	}

	key := sweep.Key()
	outcome.Attempt = w.nextAttempt(key)
	event := worker.Event{
		Message:   delivery.Message(),
		Delivery:  delivery,
		Attempt:   outcome.Attempt,
		StartedAt: w.now(),
	}
	w.hook().OnStart(ctx, event)

	pruned, err := purger.PurgeExpired(ctx)
	event.Duration = w.now().Sub(event.StartedAt)
	if err != nil {
		outcome.Err = err
		event.Err = err
		nack := w.Policy.Nack(err.Error(), outcome.Attempt, w.RetryDelay)
		event.Delay = nack.Delay
		if Retries(nack) {
			w.hook().OnRetry(ctx, event)
		} else {
			w.clearAttempts(key)
			w.hook().OnFailure(ctx, event)
		}
		w.logger().Error("sweep job failed",
			"job_id", sweep.JobID,
			"attempt", outcome.Attempt,
			"disposition", string(nack.Disposition),
			"error", err,
		)
		return outcome, delivery.Nack(ctx, nack)
	}

	w.clearAttempts(key)
	outcome.Pruned = pruned
	if err := delivery.Ack(ctx); err != nil {
		return outcome, err
	}
	outcome.Acked = true
	w.hook().OnSuccess(ctx, event)
	w.logger().Debug("sweep job completed", "job_id", sweep.JobID, "pruned", pruned)
	return outcome, nil
}

// Run processes deliveries until ctx is cancelled. Dequeue errors back off
// for idle before the next attempt.
func (w *SweepWorker) Run(ctx context.Context, idle time.Duration) {
	if idle <= 0 {
		idle = time.Second
	}
	for {
		if ctx.Err() != nil {
			return
		}
		if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(idle):
			}
		}
	}
}

func (w *SweepWorker) purger(jobID string) core.Purger {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.purgers[jobID]
}

func (w *SweepWorker) nextAttempt(key string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.attempts == nil {
		w.attempts = map[string]int{}
	}
	w.attempts[key]++
	return w.attempts[key]
}

func (w *SweepWorker) clearAttempts(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.attempts, key)
}

func (w *SweepWorker) hook() worker.Hook {
	if w.Hook != nil {
		return w.Hook
	}
	return nopHook{}
}

func (w *SweepWorker) logger() core.Logger {
	return glog.Ensure(w.Logger)
}

func (w *SweepWorker) now() time.Time {
	if w.Now != nil {
		return w.Now().UTC()
	}
	return time.Now().UTC()
}

func deadLetter(reason string) queue.NackOptions {
	return queue.NackOptions{Disposition: queue.NackDispositionDeadLetter, Reason: reason}
}

type nopHook struct{}

func (nopHook) OnStart(context.Context, worker.Event)   {}
func (nopHook) OnSuccess(context.Context, worker.Event) {}
func (nopHook) OnFailure(context.Context, worker.Event) {}
func (nopHook) OnRetry(context.Context, worker.Event)   {}

var _ worker.Hook = nopHook{}
