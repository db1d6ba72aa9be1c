package actor

import (
	"sync"
	"sync/atomic"

	"ruche-go/commonlib/actor"
)

// =============================================================================
// Mailbox Implementation - 具体实现
// =============================================================================

// queueMailbox is a FIFO buffer of deliveries for one actor. Unbounded by
// default; a positive capacity makes enqueue fail once full.
type queueMailbox struct {
	mu       sync.Mutex
	items    []*actor.Delivery
	head     int
	capacity int

	enqueued atomic.Int64
	dequeued atomic.Int64
}

// NewMailbox creates a mailbox. capacity <= 0 means unbounded.
func NewMailbox(capacity int) actor.Mailbox {
	return &queueMailbox{capacity: capacity}
}

// Enqueue appends a delivery to the tail.
func (m *queueMailbox) Enqueue(d *actor.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.capacity > 0 && len(m.items)-m.head >= m.capacity {
		return actor.ErrMailboxFull
	}
	m.items = append(m.items, d)
	m.enqueued.Add(1)
	return nil
}

// Dequeue removes and returns the head delivery.
func (m *queueMailbox) Dequeue() (*actor.Delivery, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.head >= len(m.items) {
		return nil, false
	}
	d := m.items[m.head]
	m.items[m.head] = nil
	m.head++

	// Compact once more than half the backing slice is consumed.
	if m.head > len(m.items)/2 && m.head > 32 {
		m.items = append([]*actor.Delivery(nil), m.items[m.head:]...)
		m.head = 0
	}

	m.dequeued.Add(1)
	return d, true
}

// Size returns the number of pending deliveries.
func (m *queueMailbox) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items) - m.head
}

// IsEmpty returns true when no deliveries are pending.
func (m *queueMailbox) IsEmpty() bool {
	return m.Size() == 0
}

// Clear discards all pending deliveries and returns them in order.
func (m *queueMailbox) Clear() []*actor.Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*actor.Delivery, 0, len(m.items)-m.head)
	for i := m.head; i < len(m.items); i++ {
		out = append(out, m.items[i])
	}
	m.items = nil
	m.head = 0
	return out
}

// Counters returns the lifetime enqueue/dequeue totals.
func (m *queueMailbox) Counters() (enqueued, dequeued int64) {
	return m.enqueued.Load(), m.dequeued.Load()
}
