package actor

import (
	"context"
	"time"

	"ruche-go/commonlib/log"
)

// =============================================================================
// Core Interfaces - 范式定义
// =============================================================================

// Actor is the user-supplied behavior. The runtime guarantees that at most
// one goroutine executes any of these methods at a time for a given actor.
type Actor interface {
	// PreStart is called exactly once before the first Receive.
	PreStart(ctx Context) error

	// Receive processes one envelope. Returning an error (or panicking)
	// drives the supervision strategy; the failing envelope is not
	// redelivered.
	Receive(ctx Context, env *Envelope) error

	// PostStop is called exactly once after the last Receive, or after
	// supervision decides STOP.
	PostStop(ctx Context) error
}

// Restartable is implemented by actors that want restart hooks. When absent,
// PreRestart defaults to PostStop and PostRestart defaults to PreStart.
type Restartable interface {
	PreRestart(ctx Context, cause error, env *Envelope) error
	PostRestart(ctx Context, cause error) error
}

// Context is passed to every actor callback. It embeds the cancellation
// context of the owning system.
type Context interface {
	context.Context

	// Self returns the ref of the actor being invoked.
	Self() ActorRef

	// Sender returns the ref of the message sender, when known.
	Sender() (ActorRef, bool)

	// CorrelationID returns the correlation id of the envelope in flight.
	CorrelationID() string

	// SetCorrelationID overrides the correlation id for subsequent sends.
	SetCorrelationID(id string)

	// Logger returns a logger pre-tagged with the actor's identity.
	Logger() log.Logger

	// PublishEvent emits a lifecycle or domain event on the system bus.
	PublishEvent(ev Event)

	// ActorFor looks up a local actor by id.
	ActorFor(id string) (ActorRef, bool)

	// PushSender resolves the outbound push channel registered for an
	// external observer of the given actor id, when one exists.
	PushSender(actorID string) (PushSender, bool)
}

// PushSender is an outbound sink that delivers envelopes to an interested
// external observer, e.g. a websocket session.
type PushSender interface {
	Push(env *Envelope) error
}

// ActorRef is an opaque handle for sending messages to an actor without
// exposing its internals or location.
type ActorRef interface {
	// ID returns the globally unique actor id.
	ID() string

	// Path returns a display path, e.g. "local://system/abc" or
	// "http://host:8086/abc".
	Path() string

	// Tell enqueues an envelope (fire-and-forget). sender may be nil.
	Tell(env *Envelope, sender ActorRef) error

	// Ask sends an envelope and waits for a reply within the timeout.
	// Transports without request-reply return ErrAskUnsupported.
	Ask(ctx context.Context, env *Envelope, timeout time.Duration) (*Envelope, error)

	// IsActive reports whether the actor can currently accept messages.
	IsActive() bool

	// State returns the current lifecycle state.
	State() State

	// Stop requests a cooperative stop.
	Stop() error

	// Watch registers a local DeathWatch observer, notified during
	// PostStop. Remote refs do not support watching.
	Watch(w Watcher)

	// Unwatch removes a previously registered observer.
	Unwatch(w Watcher)
}

// Watcher observes actor termination.
type Watcher interface {
	Terminated(actorID string)
}

// Delivery is one mailbox slot: the envelope plus its sender.
type Delivery struct {
	Envelope *Envelope
	Sender   ActorRef
}

// Mailbox is the ordered, thread-safe buffer of deliveries for one actor.
type Mailbox interface {
	// Enqueue appends to the tail. Concurrent enqueues interleave
	// arbitrarily but each enqueue is atomic.
	Enqueue(d *Delivery) error

	// Dequeue removes the head, or returns false when empty.
	Dequeue() (*Delivery, bool)

	Size() int
	IsEmpty() bool

	// Clear discards all pending deliveries and returns them.
	Clear() []*Delivery
}

// Factory instantiates actors from a type string. Each hosting service
// provides one, built as an explicit registration table.
type Factory interface {
	Supports(actorType string) bool
	Create(actorType string, params map[string]any) (Actor, error)
}

// System owns the set of actors in one process.
type System interface {
	// Spawn instantiates an actor of the given type via the factory.
	// An empty id means the system allocates one.
	Spawn(actorType, id string, params map[string]any) (ActorRef, error)

	// Get returns the ref for a local actor.
	Get(id string) (ActorRef, bool)

	// Has reports whether the actor exists locally.
	Has(id string) bool

	// ActorIDs lists all local actor ids.
	ActorIDs() []string

	// Stop drains and stops one actor.
	Stop(id string) error

	// Restart performs a dispatcher-serialized restart.
	Restart(id string, cause error) error

	// Health returns a snapshot of one actor.
	Health(id string) (*HealthSnapshot, error)

	// Shutdown stops all actors concurrently, bounded by the timeout.
	Shutdown(timeout time.Duration) error
}
