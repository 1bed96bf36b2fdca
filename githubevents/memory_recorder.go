package githubevents

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemoryRecorder keeps recordings in process memory. It backs the memory and
// redis store drivers, where there is no SQL database for agent events.
type MemoryRecorder struct {
	mu      sync.Mutex
	events  map[string]AgentEvent
	byHash  map[string]string
	lots    map[string]LotUpdate
	actions map[string]FollowUpAction
	order   []string
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{
		events:  map[string]AgentEvent{},
		byHash:  map[string]string{},
		lots:    map[string]LotUpdate{},
		actions: map[string]FollowUpAction{},
	}
}

func (r *MemoryRecorder) Record(_ context.Context, recording Recording) (RecordResult, error) {
	if r == nil {
		return RecordResult{}, fmt.Errorf("githubevents: recorder is not configured")
	}
	hash := strings.TrimSpace(recording.Event.Hash)
	if hash == "" {
		return RecordResult{}, fmt.Errorf("githubevents: event hash is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byHash[hash]; ok {
		return RecordResult{EventID: existing, Duplicate: true}, nil
	}
	event := recording.Event
	event.ID = uuid.NewString()
	r.events[event.ID] = event
	r.byHash[hash] = event.ID
	r.order = append(r.order, event.ID)

	if lot := recording.Lot; lot != nil {
		r.lots[lot.LotKey] = *lot
	}
	if action := recording.Action; action != nil {
		if _, queued := r.actions[action.DedupeKey]; !queued {
			r.actions[action.DedupeKey] = *action
		}
	}
	return RecordResult{EventID: event.ID}, nil
}

// Events returns recorded events oldest first.
func (r *MemoryRecorder) Events() []AgentEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]AgentEvent, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.events[id])
	}
	return out
}

func (r *MemoryRecorder) Lot(key string) (LotUpdate, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lot, ok := r.lots[key]
	return lot, ok
}

func (r *MemoryRecorder) QueuedActions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.actions)
}

var _ Recorder = (*MemoryRecorder)(nil)
