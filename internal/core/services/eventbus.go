package services

import (
	"log/slog"
	"sync"
)

type EventType string

const (
	EventTypeStatus   EventType = "status"
	EventTypeRequeued EventType = "requeued"
	EventTypeFailed   EventType = "failed"
)

// BroadcastChannel subscribers receive every event regardless of job ID.
const BroadcastChannel = "*"

type Event struct {
	JobID     string
	Type      EventType
	Data      string // JSON payload
	Timestamp int64
}

// EventBus is an in-process pub/sub of job lifecycle events, keyed by job
// ID. The SSE endpoint is its main consumer.
type EventBus struct {
	logger *slog.Logger
	mu     sync.RWMutex
	subs   map[string][]chan Event
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		logger: logger,
		subs:   make(map[string][]chan Event),
	}
}

// Subscribe returns a channel receiving events for one job (or everything,
// via BroadcastChannel) and a function that unsubscribes and closes it.
func (b *EventBus) Subscribe(jobID string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 64) // buffered so a slow reader never blocks the dispatcher
	b.subs[jobID] = append(b.subs[jobID], ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subscribers := b.subs[jobID]
		for i, sub := range subscribers {
			if sub == ch {
				close(ch)
				b.subs[jobID] = append(subscribers[:i], subscribers[i+1:]...)
				break
			}
		}
		if len(b.subs[jobID]) == 0 {
			delete(b.subs, jobID)
		}
	}

	return ch, unsub
}

// Publish delivers an event to the job's subscribers and to broadcast
// subscribers. Events to full channels are dropped.
func (b *EventBus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[e.JobID] {
		select {
		case ch <- e:
		default:
			b.logger.Warn("event dropped, subscriber buffer full", "job_id", e.JobID)
		}
	}
	if e.JobID == BroadcastChannel {
		return
	}
	for _, ch := range b.subs[BroadcastChannel] {
		select {
		case ch <- e:
		default:
		}
	}
}
