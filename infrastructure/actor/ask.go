package actor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ruche-go/commonlib/actor"
)

// =============================================================================
// Ask - request/reply over a local actor
// =============================================================================

// askRef is the sender handle installed for an ask. The target actor replies
// by telling its sender; the reply resolves the pending ask.
type askRef struct {
	id string
	ch chan *actor.Envelope
}

var _ actor.ActorRef = (*askRef)(nil)

func (r *askRef) ID() string   { return r.id }
func (r *askRef) Path() string { return "ask://" + r.id }

func (r *askRef) Tell(env *actor.Envelope, _ actor.ActorRef) error {
	select {
	case r.ch <- env:
		return nil
	default:
		// Reply already delivered or the asker gave up.
		return nil
	}
}

func (r *askRef) Ask(context.Context, *actor.Envelope, time.Duration) (*actor.Envelope, error) {
	return nil, actor.ErrAskUnsupported
}

func (r *askRef) IsActive() bool        { return true }
func (r *askRef) State() actor.State    { return actor.StateRunning }
func (r *askRef) Stop() error           { return nil }
func (r *askRef) Watch(actor.Watcher)   {}
func (r *askRef) Unwatch(actor.Watcher) {}

// Ask delivers the envelope to a local actor and waits for its reply to the
// installed sender ref, bounded by the timeout.
func (s *LocalSystem) Ask(ctx context.Context, id string, env *actor.Envelope, timeout time.Duration) (*actor.Envelope, error) {
	ref, ok := s.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", actor.ErrActorNotFound, id)
	}

	sender := &askRef{
		id: "ask-" + uuid.New().String(),
		ch: make(chan *actor.Envelope, 1),
	}
	if err := ref.Tell(env, sender); err != nil {
		return nil, err
	}

	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case reply := <-sender.ch:
		return reply, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: no reply from %s within %s", actor.ErrAskTimeout, id, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
