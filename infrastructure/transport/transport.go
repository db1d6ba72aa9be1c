package transport

import (
	"context"
	"errors"
	"time"

	"ruche-go/commonlib/actor"
)

// =============================================================================
// Remote Transport Contract
// =============================================================================

// HeaderAPIKey is the shared-secret header carried on internal calls.
const HeaderAPIKey = "X-API-KEY"

// ErrUnsupportedOperation is returned for operations a transport cannot
// express, e.g. Exists over the streaming bus.
var ErrUnsupportedOperation = errors.New("operation not supported by this transport")

// Address is the logical location of a remote actor. The HTTP transport
// needs the hosting service URL; bus transports resolve the target from the
// actor id alone.
type Address struct {
	ServiceURL string
	ActorID    string
}

// RemoteTransport moves control-plane operations and envelopes between
// processes.
type RemoteTransport interface {
	// Send delivers a tell command to the target (fire-and-forget).
	Send(ctx context.Context, target Address, cmd *actor.TellCommand) error

	// Ask sends an envelope and waits for the reply. Transports without
	// request-reply return actor.ErrAskUnsupported.
	Ask(ctx context.Context, target Address, env *actor.Envelope, timeout time.Duration) (*actor.Envelope, error)

	// Exists reports whether the target actor is known to its host.
	Exists(ctx context.Context, target Address) (bool, error)

	// Stop requests a remote stop.
	Stop(ctx context.Context, target Address) error

	// State fetches the target's health snapshot.
	State(ctx context.Context, target Address) (*actor.HealthSnapshot, error)

	// Close releases transport resources.
	Close() error
}

// TellHandler consumes one delivered tell command on the receiving side.
type TellHandler func(ctx context.Context, cmd *actor.TellCommand)

// BusTransport is a streaming-bus transport: tell-only, with a consumer
// side that hosting services use to re-enqueue delivered commands.
type BusTransport interface {
	RemoteTransport

	// Subscribe consumes the topic of one actor. With the shared topic
	// strategy, actorID is ignored and a single subscription drains the
	// shared topic. The returned cancel stops the subscription.
	Subscribe(ctx context.Context, actorID string, h TellHandler) (cancel func(), err error)

	// Strategy returns the transport's topic strategy.
	Strategy() TopicStrategy
}

// =============================================================================
// Topic Naming
// =============================================================================

// TopicStrategy selects how actor ids map to bus topics. Producers and
// consumers must agree.
type TopicStrategy string

const (
	// TopicPerActor uses one topic per actor: "actor-<actor_id>".
	// Required when per-actor ordering matters.
	TopicPerActor TopicStrategy = "per-actor"

	// TopicShared uses a single topic keyed by target actor id; ordering
	// holds per partition key only.
	TopicShared TopicStrategy = "shared"
)

// DefaultSharedTopic is the shared-topic name used when none is configured.
const DefaultSharedTopic = "actor-messages"

// TopicFor resolves the topic name for a target actor.
func TopicFor(strategy TopicStrategy, sharedTopic, actorID string) string {
	if strategy == TopicShared {
		if sharedTopic == "" {
			return DefaultSharedTopic
		}
		return sharedTopic
	}
	return "actor-" + actorID
}
