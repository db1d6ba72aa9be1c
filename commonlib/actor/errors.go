package actor

import "errors"

// =============================================================================
// Sentinel Errors
// =============================================================================

var (
	// ErrActorNotFound is returned when no actor with the given id exists.
	ErrActorNotFound = errors.New("actor not found")

	// ErrActorExists is returned when spawning an actor whose id is taken.
	ErrActorExists = errors.New("actor already exists")

	// ErrActorStopped is returned when enqueueing into a stopped actor.
	// The envelope is diverted to the dead-letter sink.
	ErrActorStopped = errors.New("actor is stopped")

	// ErrMailboxFull is returned by a bounded mailbox at capacity.
	ErrMailboxFull = errors.New("mailbox is full")

	// ErrSystemStopped is returned by operations on a shut-down system.
	ErrSystemStopped = errors.New("actor system is stopped")

	// ErrUnknownActorType is returned by a factory for an unsupported type.
	ErrUnknownActorType = errors.New("unknown actor type")

	// ErrAskUnsupported is returned by transports without request-reply.
	ErrAskUnsupported = errors.New("ask is not supported by this transport")

	// ErrServiceUnavailable is returned when the target actor's hosting
	// service is currently flagged down.
	ErrServiceUnavailable = errors.New("hosting service unavailable")

	// ErrServiceNotFound is returned when no service with the given id is
	// registered.
	ErrServiceNotFound = errors.New("service not found")

	// ErrAskTimeout is returned when an ask exceeds its deadline.
	ErrAskTimeout = errors.New("ask timed out")
)
