package biz

import (
	"context"
	"sync"

	"ruche-go/commonlib/actor"
	"ruche-go/commonlib/log"
	infraactor "ruche-go/infrastructure/actor"
	"ruche-go/infrastructure/transport"
)

// =============================================================================
// Bus Consumer
// =============================================================================

// BusConsumer wires the streaming bus into the local actor system. Under the
// per-actor topic strategy it follows the system's lifecycle events,
// subscribing to each hosted actor's topic on start and cancelling on stop.
// Under the shared strategy one subscription drains the shared topic and
// deliveries for actors not hosted here are dropped.
type BusConsumer struct {
	bus    transport.BusTransport
	system *infraactor.LocalSystem
	logger log.Logger

	mu      sync.Mutex
	subs    map[string]func()
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// NewBusConsumer builds a stopped consumer.
func NewBusConsumer(bus transport.BusTransport, system *infraactor.LocalSystem, logger log.Logger) *BusConsumer {
	return &BusConsumer{
		bus:    bus,
		system: system,
		logger: logger,
		subs:   make(map[string]func()),
	}
}

// Start begins consuming. Existing actors get subscriptions immediately;
// later spawns and stops are tracked through the lifecycle event bus.
func (c *BusConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	if c.bus.Strategy() == transport.TopicShared {
		cancelSub, err := c.bus.Subscribe(loopCtx, "", c.deliver)
		if err != nil {
			cancel()
			return err
		}
		c.subs[""] = cancelSub
	} else {
		for _, id := range c.system.ActorIDs() {
			c.subscribeLocked(loopCtx, id)
		}
	}

	events, cancelEvents := c.system.Events().Subscribe(256)
	go c.follow(loopCtx, events, cancelEvents)

	c.started = true
	return nil
}

// Stop cancels every subscription.
func (c *BusConsumer) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	cancel, done := c.cancel, c.done
	subs := c.subs
	c.subs = make(map[string]func())
	c.mu.Unlock()

	cancel()
	for _, cancelSub := range subs {
		cancelSub()
	}
	<-done
}

// follow tracks actor lifecycle events and adjusts per-actor subscriptions.
func (c *BusConsumer) follow(ctx context.Context, events <-chan actor.Event, cancelEvents func()) {
	defer close(c.done)
	defer cancelEvents()

	perActor := c.bus.Strategy() == transport.TopicPerActor
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !perActor || ev.ActorID == "" {
				continue
			}
			switch ev.Type {
			case actor.EventActorStarted:
				c.mu.Lock()
				c.subscribeLocked(ctx, ev.ActorID)
				c.mu.Unlock()
			case actor.EventActorStopped:
				c.mu.Lock()
				if cancelSub, ok := c.subs[ev.ActorID]; ok {
					delete(c.subs, ev.ActorID)
					cancelSub()
				}
				c.mu.Unlock()
			}
		}
	}
}

func (c *BusConsumer) subscribeLocked(ctx context.Context, actorID string) {
	if _, ok := c.subs[actorID]; ok {
		return
	}
	cancelSub, err := c.bus.Subscribe(ctx, actorID, c.deliver)
	if err != nil {
		c.logger.Error("bus subscription failed",
			log.String("actor_id", actorID),
			log.Err(err))
		return
	}
	c.subs[actorID] = cancelSub
}

// deliver enqueues one bus delivery into the local mailbox. Delivery is
// fire-and-forget: a stopped or missing target only logs, the envelope is
// already accounted for by the dead-letter sink where applicable.
func (c *BusConsumer) deliver(_ context.Context, cmd *actor.TellCommand) {
	if cmd.Message == nil {
		return
	}
	ref, ok := c.system.Get(cmd.TargetActorID)
	if !ok {
		c.logger.Debug("bus delivery for unknown actor",
			log.String("actor_id", cmd.TargetActorID))
		return
	}
	if err := ref.Tell(cmd.Message, nil); err != nil {
		c.logger.Debug("bus delivery rejected",
			log.String("actor_id", cmd.TargetActorID),
			log.Err(err))
	}
}
