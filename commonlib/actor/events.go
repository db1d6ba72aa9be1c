package actor

import (
	"sync"
	"time"
)

// =============================================================================
// Lifecycle Events
// =============================================================================

// EventType discriminates lifecycle events.
type EventType string

const (
	EventActorStarted     EventType = "ActorStarted"
	EventActorStopped     EventType = "ActorStopped"
	EventActorFailed      EventType = "ActorFailed"
	EventActorRestarted   EventType = "ActorRestarted"
	EventServiceDown      EventType = "ServiceDown"
	EventServiceRecovered EventType = "ServiceRecovered"
)

// Event is one lifecycle occurrence, publishable to observers.
type Event struct {
	Type      EventType `json:"type"`
	ActorID   string    `json:"actorId,omitempty"`
	ServiceID string    `json:"serviceId,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEvent builds an event stamped with the current time.
func NewEvent(t EventType) Event {
	return Event{Type: t, Timestamp: time.Now().UTC()}
}

// WithActor tags the event with an actor id.
func (e Event) WithActor(id string) Event {
	e.ActorID = id
	return e
}

// WithService tags the event with a service id.
func (e Event) WithService(id string) Event {
	e.ServiceID = id
	return e
}

// WithReason tags the event with a free-form reason.
func (e Event) WithReason(reason string) Event {
	e.Reason = reason
	return e
}

// =============================================================================
// Event Bus
// =============================================================================

// EventBus fans lifecycle events out to subscribers. Publishing never
// blocks: a subscriber whose channel is full misses the event.
type EventBus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan Event
}

// NewEventBus creates an empty event bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber with the given buffer size and returns
// the channel plus a cancel function.
func (b *EventBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber that has room.
func (b *EventBus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Slow subscriber, drop.
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
