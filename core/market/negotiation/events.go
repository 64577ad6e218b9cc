package negotiation

import (
	"sync"
	"time"

	"nhbchain/core/market/model"
	"nhbchain/observability/metrics"
)

// EventQueue holds the per-subscription market events of spec.md §4.6 in
// memory: events are appended in arrival order and deleted on read, and
// pending events do not survive a process restart.
// The notifier is purely advisory; this queue is the canonical state a
// waiter re-reads after waking, per spec.md §9.
type EventQueue struct {
	mu      sync.Mutex
	nextID  int64
	queues  map[model.SubscriptionID][]model.MarketEvent
}

// NewEventQueue constructs an empty queue.
func NewEventQueue() *EventQueue {
	return &EventQueue{queues: make(map[model.SubscriptionID][]model.MarketEvent)}
}

// Push appends a new event to subID's queue and returns it.
func (q *EventQueue) Push(subID model.SubscriptionID, eventType model.EventType, artifactID string, reason *string, now time.Time) model.MarketEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	ev := model.MarketEvent{
		ID:             q.nextID,
		SubscriptionID: subID,
		Timestamp:      now,
		Type:           eventType,
		ArtifactID:     artifactID,
		Reason:         reason,
	}
	q.queues[subID] = append(q.queues[subID], ev)
	metrics.Market().SetQueueDepth(string(subID), float64(len(q.queues[subID])))
	return ev
}

// Drain returns up to max pending events for subID in arrival order and
// removes them from the queue, per spec.md §4.6's query_events.
func (q *EventQueue) Drain(subID model.SubscriptionID, max int) []model.MarketEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	pending := q.queues[subID]
	if len(pending) == 0 {
		return nil
	}
	if max <= 0 || max > len(pending) {
		max = len(pending)
	}
	out := append([]model.MarketEvent(nil), pending[:max]...)
	remaining := pending[max:]
	if len(remaining) == 0 {
		delete(q.queues, subID)
	} else {
		q.queues[subID] = append([]model.MarketEvent(nil), remaining...)
	}
	metrics.Market().SetQueueDepth(string(subID), float64(len(remaining)))
	return out
}

// Peek reports whether subID currently has any pending events, without
// consuming them.
func (q *EventQueue) Peek(subID model.SubscriptionID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[subID]) > 0
}
