package gojob

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/google/uuid"

	"github.com/arka-hq/go-guard/core"
)

// MemoryQueue is a bounded in-process go-job queue for sweep jobs. Messages
// with the drop dedup policy are folded into the waiting message with the
// same key, and the caller gets that message's receipt back.
type MemoryQueue struct {
	ready chan queuedMessage
	Now   func() time.Time

	mu          sync.Mutex
	waiting     map[string]queue.EnqueueReceipt
	deadLetters []*job.ExecutionMessage
	failed      []*job.ExecutionMessage
}

type queuedMessage struct {
	receipt queue.EnqueueReceipt
	msg     *job.ExecutionMessage
}

func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 16
	}
	return &MemoryQueue{
		ready:   make(chan queuedMessage, capacity),
		waiting: map[string]queue.EnqueueReceipt{},
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, msg *job.ExecutionMessage) (queue.EnqueueReceipt, error) {
	if msg == nil {
		return queue.EnqueueReceipt{}, fmt.Errorf("gojob: execution message is required")
	}
	key := strings.TrimSpace(msg.IdempotencyKey)
	dedupe := key != "" && strings.EqualFold(string(msg.DedupPolicy), DedupPolicyDrop)

	q.mu.Lock()
	defer q.mu.Unlock()
	if dedupe {
		if receipt, exists := q.waiting[key]; exists {
			return receipt, nil
		}
	}
	receipt := queue.EnqueueReceipt{DispatchID: uuid.NewString(), EnqueuedAt: q.now()}
	select {
	case q.ready <- queuedMessage{receipt: receipt, msg: msg}:
		if dedupe {
			q.waiting[key] = receipt
		}
		return receipt, nil
	default:
		return queue.EnqueueReceipt{}, fmt.Errorf("gojob: queue is full")
	}
}

// Dequeue blocks until a message is ready or ctx is done.
func (q *MemoryQueue) Dequeue(ctx context.Context) (queue.Delivery, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case item := <-q.ready:
		q.mu.Lock()
		key := strings.TrimSpace(item.msg.IdempotencyKey)
		if waiting, ok := q.waiting[key]; ok && waiting.DispatchID == item.receipt.DispatchID {
			delete(q.waiting, key)
		}
		q.mu.Unlock()
		return &memoryDelivery{queue: q, item: item}, nil
	}
}

func (q *MemoryQueue) Len() int {
	return len(q.ready)
}

func (q *MemoryQueue) DeadLetters() []*job.ExecutionMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*job.ExecutionMessage(nil), q.deadLetters...)
}

// Failed lists messages nacked as failed or canceled.
func (q *MemoryQueue) Failed() []*job.ExecutionMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*job.ExecutionMessage(nil), q.failed...)
}

func (q *MemoryQueue) requeue(item queuedMessage) {
	select {
	case q.ready <- item:
	default:
		q.mu.Lock()
		q.deadLetters = append(q.deadLetters, item.msg)
		q.mu.Unlock()
	}
}

func (q *MemoryQueue) now() time.Time {
	if q.Now != nil {
		return q.Now().UTC()
	}
	return time.Now().UTC()
}

type memoryDelivery struct {
	queue *MemoryQueue
	item  queuedMessage

	mu   sync.Mutex
	done bool
}

func (d *memoryDelivery) Message() *job.ExecutionMessage {
	return d.item.msg
}

func (d *memoryDelivery) Ack(context.Context) error {
	return d.settle()
}

func (d *memoryDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	if err := d.settle(); err != nil {
		return err
	}
	switch opts.Disposition {
	case queue.NackDispositionRetry:
		if opts.Delay > 0 {
			item := d.item
			time.AfterFunc(opts.Delay, func() { d.queue.requeue(item) })
			return nil
		}
		d.queue.requeue(d.item)
	case queue.NackDispositionDeadLetter:
		d.queue.mu.Lock()
		d.queue.deadLetters = append(d.queue.deadLetters, d.item.msg)
		d.queue.mu.Unlock()
	case queue.NackDispositionFailed, queue.NackDispositionCanceled:
		d.queue.mu.Lock()
		d.queue.failed = append(d.queue.failed, d.item.msg)
		d.queue.mu.Unlock()
	default:
		return fmt.Errorf("gojob: unknown nack disposition %q", opts.Disposition)
	}
	return nil
}

func (d *memoryDelivery) settle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done {
		return fmt.Errorf("gojob: delivery already settled")
	}
	d.done = true
	return nil
}

// SweepTrigger is a core.Purger that schedules a sweep job instead of
// purging inline, so a ticker can drive the queued worker.
type SweepTrigger struct {
	Queue queue.Enqueuer
	JobID string
	Now   func() time.Time
}

func (t SweepTrigger) PurgeExpired(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	if t.Now != nil {
		now = t.Now().UTC()
	}
	_, err := EnqueueSweep(ctx, t.Queue, t.JobID, now)
	return 0, err
}

var (
	_ queue.Enqueuer = (*MemoryQueue)(nil)
	_ queue.Dequeuer = (*MemoryQueue)(nil)
	_ queue.Delivery = (*memoryDelivery)(nil)
	_ core.Purger    = SweepTrigger{}
)
