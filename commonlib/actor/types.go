package actor

import (
	"time"
)

// =============================================================================
// Lifecycle States - 生命周期状态
// =============================================================================

// State is the lifecycle state of a local actor.
// Transitions are monotonic within a run:
// CREATED → STARTING → RUNNING → (RESTARTING → RUNNING)* → STOPPING → STOPPED.
// FAILED is entered from RUNNING on an uncaught error and resolved by
// supervision.
type State string

const (
	StateCreated    State = "CREATED"
	StateStarting   State = "STARTING"
	StateRunning    State = "RUNNING"
	StateRestarting State = "RESTARTING"
	StateStopping   State = "STOPPING"
	StateStopped    State = "STOPPED"
	StateFailed     State = "FAILED"
)

// IsTerminal returns true once the actor can no longer process messages.
func (s State) IsTerminal() bool {
	return s == StateStopping || s == StateStopped
}

// Status is the availability status of an actor record in the central
// registry. It is coarser than State: the registry does not track the
// dispatch-level lifecycle.
type Status string

const (
	StatusCreated     Status = "CREATED"
	StatusActive      Status = "ACTIVE"
	StatusUnavailable Status = "UNAVAILABLE"
	StatusStopped     Status = "STOPPED"
)

// =============================================================================
// Registry Records
// =============================================================================

// ActorRecord is the authoritative registry entry for one actor.
type ActorRecord struct {
	ActorID    string         `json:"actorId"`
	ActorType  string         `json:"actorType"`
	ServiceID  string         `json:"serviceId"`
	ServiceURL string         `json:"serviceUrl"`
	Status     Status         `json:"status"`
	CreatedAt  time.Time      `json:"createdAt"`
	Properties map[string]any `json:"properties,omitempty"`
}

// ServiceRecord is the registry entry for one hosting service.
type ServiceRecord struct {
	ServiceID           string    `json:"serviceId"`
	ServiceURL          string    `json:"serviceUrl"`
	LastHeartbeat       time.Time `json:"lastHeartbeat"`
	Healthy             bool      `json:"healthy"`
	SupportedActorTypes []string  `json:"supportedActorTypes,omitempty"`
}

// =============================================================================
// Health
// =============================================================================

// HealthSnapshot is a point-in-time view of one local actor.
type HealthSnapshot struct {
	ActorID       string    `json:"actorId"`
	State         State     `json:"state"`
	LastMessageAt time.Time `json:"lastMessageAt"`
	QueueSize     int       `json:"queueSize"`
	Error         string    `json:"error,omitempty"`
}
