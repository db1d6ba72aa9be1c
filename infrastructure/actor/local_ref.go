package actor

import (
	"context"
	"fmt"
	"time"

	"ruche-go/commonlib/actor"
)

// =============================================================================
// Local ActorRef
// =============================================================================

// LocalRef is a direct handle to an actor owned by this process. Tell
// enqueues into the mailbox and signals the dispatcher.
type LocalRef struct {
	entry  *actorEntry
	system *LocalSystem
}

var _ actor.ActorRef = (*LocalRef)(nil)

// ID returns the actor id.
func (r *LocalRef) ID() string {
	return r.entry.id
}

// Path returns a display path for the actor.
func (r *LocalRef) Path() string {
	return fmt.Sprintf("local://%s/%s", r.system.name, r.entry.id)
}

// Tell enqueues the envelope. Envelopes sent to a stopped actor are
// diverted to the dead-letter sink.
func (r *LocalRef) Tell(env *actor.Envelope, sender actor.ActorRef) error {
	state := r.entry.getState()
	if state.IsTerminal() {
		r.system.deadLetters.Receive(r.entry.id, actor.DeadLetterStopped, env)
		return actor.ErrActorStopped
	}

	if err := r.entry.mailbox.Enqueue(&actor.Delivery{Envelope: env, Sender: sender}); err != nil {
		r.system.deadLetters.Receive(r.entry.id, actor.DeadLetterOverflow, env)
		return err
	}
	actor.MailboxEnqueuedTotal.Inc()

	r.system.signal(r.entry)
	return nil
}

// Ask delivers the envelope and waits for the actor to reply to its sender.
func (r *LocalRef) Ask(ctx context.Context, env *actor.Envelope, timeout time.Duration) (*actor.Envelope, error) {
	return r.system.Ask(ctx, r.entry.id, env, timeout)
}

// IsActive reports whether the actor can still accept messages.
func (r *LocalRef) IsActive() bool {
	return !r.entry.getState().IsTerminal()
}

// State returns the current lifecycle state.
func (r *LocalRef) State() actor.State {
	return r.entry.getState()
}

// Stop requests a cooperative stop via the owning system.
func (r *LocalRef) Stop() error {
	return r.system.Stop(r.entry.id)
}

// Watch registers a DeathWatch observer notified during PostStop.
func (r *LocalRef) Watch(w actor.Watcher) {
	r.entry.addWatcher(w)
}

// Unwatch removes a previously registered observer.
func (r *LocalRef) Unwatch(w actor.Watcher) {
	r.entry.removeWatcher(w)
}
