package biz

import (
	"sync"

	"ruche-go/commonlib/actor"
	"ruche-go/commonlib/log"
)

// =============================================================================
// Echo Actor
// =============================================================================

// EchoMessage is the payload understood by the echo actor.
type EchoMessage struct {
	Text string `json:"text"`
	Seq  int    `json:"seq"`
}

// EchoActor counts and records every message it receives and, when the
// sender is known, replies with the same payload. A freshly booted topology
// can be exercised end-to-end with nothing but echo actors.
type EchoActor struct {
	mu       sync.Mutex
	received int
	seqs     []int
}

// NewEchoActor builds an echo actor. Params are accepted and ignored.
func NewEchoActor(_ map[string]any) (actor.Actor, error) {
	return &EchoActor{}, nil
}

func (a *EchoActor) PreStart(ctx actor.Context) error {
	ctx.Logger().Info("echo actor started")
	return nil
}

func (a *EchoActor) Receive(ctx actor.Context, env *actor.Envelope) error {
	var msg EchoMessage
	if err := env.DecodeInto(&msg); err != nil {
		return err
	}

	a.mu.Lock()
	a.received++
	a.seqs = append(a.seqs, msg.Seq)
	a.mu.Unlock()

	if sender, ok := ctx.Sender(); ok {
		reply, err := actor.NewEnvelope("echo.reply", msg)
		if err != nil {
			return err
		}
		if cid := ctx.CorrelationID(); cid != "" {
			reply = reply.WithCorrelation(cid)
		}
		return sender.Tell(reply, ctx.Self())
	}
	return nil
}

func (a *EchoActor) PostStop(ctx actor.Context) error {
	ctx.Logger().Info("echo actor stopped", log.Int("received", a.Received()))
	return nil
}

// Received returns how many messages were processed.
func (a *EchoActor) Received() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.received
}

// Sequence returns the order in which seq values arrived.
func (a *EchoActor) Sequence() []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]int, len(a.seqs))
	copy(out, a.seqs)
	return out
}
