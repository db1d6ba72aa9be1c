package actor

import (
	"context"
	"sync"

	"ruche-go/commonlib/actor"
	"ruche-go/commonlib/log"
)

// =============================================================================
// Actor Context
// =============================================================================

// actorContext implements actor.Context. One instance lives per actor;
// delivery-scoped fields (sender, correlation id) are set by the run loop
// before Receive and cleared after, which is safe because execution is
// serialized per actor.
type actorContext struct {
	context.Context

	entry  *actorEntry
	system *LocalSystem
	logger log.Logger

	mu            sync.Mutex
	sender        actor.ActorRef
	correlationID string
}

var _ actor.Context = (*actorContext)(nil)

func newActorContext(root context.Context, e *actorEntry, s *LocalSystem) *actorContext {
	return &actorContext{
		Context: root,
		entry:   e,
		system:  s,
		logger: s.logger.With(
			log.String("actor_id", e.id),
			log.String("actor_type", e.actorType),
		),
	}
}

// beginDelivery installs the delivery-scoped fields before Receive.
func (c *actorContext) beginDelivery(d *actor.Delivery) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sender = d.Sender
	c.correlationID = d.Envelope.CorrelationID
}

// endDelivery clears the delivery-scoped fields.
func (c *actorContext) endDelivery() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sender = nil
	c.correlationID = ""
}

// Self returns the ref of the actor being invoked.
func (c *actorContext) Self() actor.ActorRef {
	return c.entry.ref
}

// Sender returns the sender ref of the envelope in flight, when known.
func (c *actorContext) Sender() (actor.ActorRef, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sender, c.sender != nil
}

// CorrelationID returns the correlation id of the envelope in flight.
func (c *actorContext) CorrelationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.correlationID
}

// SetCorrelationID overrides the correlation id for subsequent sends.
func (c *actorContext) SetCorrelationID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.correlationID = id
}

// Logger returns a logger pre-tagged with the actor's identity.
func (c *actorContext) Logger() log.Logger {
	return c.logger
}

// PublishEvent emits an event on the system bus.
func (c *actorContext) PublishEvent(ev actor.Event) {
	c.system.events.Publish(ev)
}

// ActorFor looks up a local actor by id.
func (c *actorContext) ActorFor(id string) (actor.ActorRef, bool) {
	return c.system.Get(id)
}

// PushSender resolves the outbound push channel registered for the actor id.
func (c *actorContext) PushSender(actorID string) (actor.PushSender, bool) {
	return c.system.PushSenderFor(actorID)
}
