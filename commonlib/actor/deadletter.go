package actor

import (
	"sync"
	"time"
)

// =============================================================================
// Dead Letters
// =============================================================================

// Dead-letter reasons.
const (
	DeadLetterStopped  = "stopped"
	DeadLetterOverflow = "overflow"
	DeadLetterDrained  = "drained"
)

// DeadLetter records one undeliverable envelope with its diagnostics.
type DeadLetter struct {
	ActorID       string    `json:"actorId"`
	Reason        string    `json:"reason"`
	CorrelationID string    `json:"correlationId,omitempty"`
	MessageID     string    `json:"messageId,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// DeadLetterSink is the process-local sink for undeliverable envelopes.
// It keeps a bounded ring of recent letters for diagnostics and exposes
// totals through metrics.
type DeadLetterSink struct {
	mu      sync.Mutex
	recent  []DeadLetter
	head    int
	total   int64
	byReasn map[string]int64
	cap     int
}

// NewDeadLetterSink creates a sink retaining up to capacity recent letters.
func NewDeadLetterSink(capacity int) *DeadLetterSink {
	if capacity <= 0 {
		capacity = 1024
	}
	return &DeadLetterSink{
		recent:  make([]DeadLetter, 0, capacity),
		byReasn: make(map[string]int64),
		cap:     capacity,
	}
}

// Receive records one dead letter.
func (s *DeadLetterSink) Receive(actorID, reason string, env *Envelope) {
	dl := DeadLetter{
		ActorID:   actorID,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}
	if env != nil {
		dl.MessageID = env.MessageID
		dl.CorrelationID = env.CorrelationID
	}

	s.mu.Lock()
	if len(s.recent) < s.cap {
		s.recent = append(s.recent, dl)
	} else {
		s.recent[s.head] = dl
		s.head = (s.head + 1) % s.cap
	}
	s.total++
	s.byReasn[reason]++
	s.mu.Unlock()

	deadLettersTotal.WithLabelValues(reason).Inc()
}

// Count returns the total number of letters received.
func (s *DeadLetterSink) Count() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// CountByReason returns the total for one reason.
func (s *DeadLetterSink) CountByReason(reason string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byReasn[reason]
}

// Recent returns up to n of the most recently received letters.
func (s *DeadLetterSink) Recent(n int) []DeadLetter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n <= 0 || n > len(s.recent) {
		n = len(s.recent)
	}
	out := make([]DeadLetter, 0, n)
	// Walk backwards from the newest slot.
	size := len(s.recent)
	for i := 0; i < n; i++ {
		idx := (s.head - 1 - i + 2*size) % size
		out = append(out, s.recent[idx])
	}
	return out
}
