// Package gojob runs the guard's expiry sweeps as go-job queue messages: a
// ticker enqueues them, SweepWorker dequeues them and calls the purger
// registered for the job id.
package gojob

import (
	"context"
	"fmt"
	"strings"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
)

const (
	JobIDSweepReplay    = "guard.sweep.replay"
	JobIDSweepRateLimit = "guard.sweep.ratelimit"

	// DedupPolicyDrop drops a sweep request while an identical one is queued.
	DedupPolicyDrop = "drop"

	paramRequestedAt = "requested_at"
)

// SweepJob is one requested sweep. Requests in the same minute share a slot
// and therefore an idempotency key.
type SweepJob struct {
	JobID       string
	RequestedAt time.Time
}

func NewSweepJob(jobID string, now time.Time) (SweepJob, error) {
	jobID = strings.TrimSpace(jobID)
	switch jobID {
	case JobIDSweepReplay, JobIDSweepRateLimit:
	default:
		return SweepJob{}, fmt.Errorf("gojob: unknown sweep job %q", jobID)
	}
	return SweepJob{JobID: jobID, RequestedAt: now.UTC()}, nil
}

func (j SweepJob) Slot() time.Time {
	return j.RequestedAt.Truncate(time.Minute)
}

func (j SweepJob) Key() string {
	return j.JobID + ":" + j.Slot().Format(time.RFC3339)
}

// Message encodes the job for a go-job queue.
func (j SweepJob) Message() *job.ExecutionMessage {
	return &job.ExecutionMessage{
		JobID:          j.JobID,
		ScriptPath:     j.JobID,
		Parameters:     map[string]any{paramRequestedAt: j.RequestedAt.Format(time.RFC3339)},
		IdempotencyKey: j.Key(),
		DedupPolicy:    job.DeduplicationPolicy(DedupPolicyDrop),
	}
}

// ParseSweepJob decodes a queued message. A missing or malformed
// requested_at falls back to the zero time.
func ParseSweepJob(msg *job.ExecutionMessage) (SweepJob, error) {
	if msg == nil {
		return SweepJob{}, fmt.Errorf("gojob: empty message")
	}
	var requestedAt time.Time
	if raw, ok := msg.Parameters[paramRequestedAt].(string); ok {
		requestedAt, _ = time.Parse(time.RFC3339, raw)
	}
	return NewSweepJob(msg.JobID, requestedAt)
}

// EnqueueSweep asks the queue to run one sweep job.
func EnqueueSweep(ctx context.Context, q queue.Enqueuer, jobID string, now time.Time) (queue.EnqueueReceipt, error) {
	if q == nil {
		return queue.EnqueueReceipt{}, fmt.Errorf("gojob: enqueuer is not configured")
	}
	sweep, err := NewSweepJob(jobID, now)
	if err != nil {
		return queue.EnqueueReceipt{}, err
	}
	return q.Enqueue(ctx, sweep.Message())
}

// RetryPolicy bounds how often a failed sweep is retried.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		MaxDelay:        time.Minute,
		DeadLetterOnMax: true,
	}
}

// Nack builds the nack for a failed attempt: retry after delay, clamped to
// MaxDelay, until attempt reaches MaxAttempts. After that the sweep is dead
// lettered, or marked failed when DeadLetterOnMax is unset and the next tick
// schedules a fresh one.
func (p RetryPolicy) Nack(reason string, attempt int, delay time.Duration) queue.NackOptions {
	reason = strings.TrimSpace(reason)
	if p.Exhausted(attempt) {
		disposition := queue.NackDispositionFailed
		if p.DeadLetterOnMax {
			disposition = queue.NackDispositionDeadLetter
		}
		return queue.NackOptions{Disposition: disposition, Reason: reason}
	}
	if delay < 0 {
		delay = 0
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return queue.NackOptions{Disposition: queue.NackDispositionRetry, Delay: delay, Reason: reason}
}

// Exhausted reports whether attempt is the last one the policy allows.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt >= p.MaxAttempts
}

// Retries reports whether opts puts the message back on the queue.
func Retries(opts queue.NackOptions) bool {
	return opts.Disposition == queue.NackDispositionRetry
}
