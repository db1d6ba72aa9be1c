package transport

import (
	"context"
	"time"

	"ruche-go/commonlib/actor"
	"ruche-go/commonlib/log"
)

// =============================================================================
// Remote ActorRef
// =============================================================================

// RemoteRef is a location-transparent handle to an actor hosted by another
// service. Calls go through the configured transport; Tell on a bus
// transport is fire-and-forget with per-actor ordering, Ask requires a
// request-reply capable transport.
type RemoteRef struct {
	target    Address
	transport RemoteTransport
	logger    log.Logger
}

var _ actor.ActorRef = (*RemoteRef)(nil)

// NewRemoteRef wraps a remote address behind the ActorRef contract.
func NewRemoteRef(target Address, tr RemoteTransport, logger log.Logger) *RemoteRef {
	return &RemoteRef{target: target, transport: tr, logger: logger}
}

// ID returns the remote actor id.
func (r *RemoteRef) ID() string {
	return r.target.ActorID
}

// Path returns a display path for the remote actor.
func (r *RemoteRef) Path() string {
	return "remote://" + r.target.ServiceURL + "/" + r.target.ActorID
}

// Tell sends the envelope to the remote actor. The sender's identity
// travels as an id only; remote actors cannot reply through a Tell.
func (r *RemoteRef) Tell(env *actor.Envelope, sender actor.ActorRef) error {
	cmd := &actor.TellCommand{
		TargetActorID: r.target.ActorID,
		Message:       env,
	}
	if sender != nil {
		cmd.SenderActorID = sender.ID()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return r.transport.Send(ctx, r.target, cmd)
}

// Ask sends the envelope and waits for the remote reply.
func (r *RemoteRef) Ask(ctx context.Context, env *actor.Envelope, timeout time.Duration) (*actor.Envelope, error) {
	return r.transport.Ask(ctx, r.target, env, timeout)
}

// IsActive probes the remote host for the actor. Probe failures are reported
// as inactive; senders fall back to the dead-letter path.
func (r *RemoteRef) IsActive() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ok, err := r.transport.Exists(ctx, r.target)
	if err != nil {
		r.logger.Warn("remote existence probe failed",
			log.String("actor_id", r.target.ActorID),
			log.String("service_url", r.target.ServiceURL),
			log.Err(err))
		return false
	}
	return ok
}

// State fetches the remote lifecycle state. Unreachable hosts report FAILED.
func (r *RemoteRef) State() actor.State {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	snap, err := r.transport.State(ctx, r.target)
	if err != nil {
		return actor.StateFailed
	}
	return snap.State
}

// Stop requests a remote stop.
func (r *RemoteRef) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return r.transport.Stop(ctx, r.target)
}

// Watch is local-only; cross-service death notification is not provided.
func (r *RemoteRef) Watch(actor.Watcher) {}

// Unwatch is local-only.
func (r *RemoteRef) Unwatch(actor.Watcher) {}
