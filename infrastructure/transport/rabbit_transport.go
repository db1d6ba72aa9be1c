package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"ruche-go/commonlib/actor"
	"ruche-go/commonlib/log"
)

// =============================================================================
// RabbitMQ Transport
// =============================================================================

// RabbitConfig configures the RabbitMQ bus transport.
type RabbitConfig struct {
	URL           string
	TopicStrategy TopicStrategy
	// SharedTopic names the shared queue. Default "actor-messages".
	SharedTopic string
}

// RabbitTransport delivers tell commands through RabbitMQ queues, one queue
// per actor topic. Like Kafka, it is tell-only.
type RabbitTransport struct {
	cfg    RabbitConfig
	logger log.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	// declared tracks queues already declared on this channel.
	declared map[string]bool
	closed   bool
}

var _ BusTransport = (*RabbitTransport)(nil)

// NewRabbitTransport dials the broker and opens the publishing channel.
func NewRabbitTransport(cfg RabbitConfig, logger log.Logger) (*RabbitTransport, error) {
	if cfg.TopicStrategy == "" {
		cfg.TopicStrategy = TopicPerActor
	}
	if cfg.SharedTopic == "" {
		cfg.SharedTopic = DefaultSharedTopic
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq connect failed: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq channel failed: %w", err)
	}

	return &RabbitTransport{
		cfg:      cfg,
		logger:   logger,
		conn:     conn,
		channel:  ch,
		declared: make(map[string]bool),
	}, nil
}

// Strategy returns the configured topic strategy.
func (t *RabbitTransport) Strategy() TopicStrategy {
	return t.cfg.TopicStrategy
}

// declareQueue declares the queue once per transport lifetime. Queues are
// durable so envelopes survive broker restarts while the target actor is
// being rescheduled.
func (t *RabbitTransport) declareQueue(queue string) error {
	if t.declared[queue] {
		return nil
	}
	_, err := t.channel.QueueDeclare(
		queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("queue declare %s failed: %w", queue, err)
	}
	t.declared[queue] = true
	return nil
}

// Send publishes the tell command to the target's queue via the default
// exchange.
func (t *RabbitTransport) Send(ctx context.Context, target Address, cmd *actor.TellCommand) error {
	raw, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal tell command: %w", err)
	}
	queue := TopicFor(t.cfg.TopicStrategy, t.cfg.SharedTopic, target.ActorID)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("rabbitmq transport is closed")
	}
	if err := t.declareQueue(queue); err != nil {
		return err
	}
	err = t.channel.PublishWithContext(ctx,
		"",    // default exchange routes by queue name
		queue, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    messageID(cmd),
			Body:         raw,
		})
	if err != nil {
		return fmt.Errorf("rabbitmq publish to %s failed: %w", queue, err)
	}
	return nil
}

// messageID extracts the envelope's id for the broker's message-id property.
// Commands decoded from a peer may arrive without an envelope.
func messageID(cmd *actor.TellCommand) string {
	if cmd.Message == nil {
		return ""
	}
	return cmd.Message.MessageID
}

// Ask is not expressible over the bus.
func (t *RabbitTransport) Ask(context.Context, Address, *actor.Envelope, time.Duration) (*actor.Envelope, error) {
	return nil, actor.ErrAskUnsupported
}

// Exists is not expressible over the bus.
func (t *RabbitTransport) Exists(context.Context, Address) (bool, error) {
	return false, ErrUnsupportedOperation
}

// Stop is not expressible over the bus.
func (t *RabbitTransport) Stop(context.Context, Address) error {
	return ErrUnsupportedOperation
}

// State is not expressible over the bus.
func (t *RabbitTransport) State(context.Context, Address) (*actor.HealthSnapshot, error) {
	return nil, ErrUnsupportedOperation
}

// Subscribe consumes the target actor's queue on a dedicated channel and
// feeds decoded tell commands to the handler. Deliveries are acked after the
// handler returns.
func (t *RabbitTransport) Subscribe(ctx context.Context, actorID string, h TellHandler) (func(), error) {
	queue := TopicFor(t.cfg.TopicStrategy, t.cfg.SharedTopic, actorID)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, fmt.Errorf("rabbitmq transport is closed")
	}
	if err := t.declareQueue(queue); err != nil {
		t.mu.Unlock()
		return nil, err
	}
	conn := t.conn
	t.mu.Unlock()

	// Consumers get their own channel so a consumer error cannot poison the
	// shared publishing channel.
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq consumer channel failed: %w", err)
	}

	deliveries, err := ch.Consume(
		queue,
		"",    // generated consumer tag
		false, // manual ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("rabbitmq consume %s failed: %w", queue, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	go func() {
		for {
			select {
			case <-subCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				var cmd actor.TellCommand
				if err := json.Unmarshal(d.Body, &cmd); err != nil {
					t.logger.Warn("dropping undecodable bus message",
						log.String("queue", queue),
						log.Err(err))
					d.Nack(false, false)
					continue
				}
				h(subCtx, &cmd)
				d.Ack(false)
			}
		}
	}()

	return func() {
		cancel()
		ch.Close()
	}, nil
}

// Close shuts the publishing channel and the connection.
func (t *RabbitTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if err := t.channel.Close(); err != nil {
		t.logger.Warn("rabbitmq channel close failed", log.Err(err))
	}
	return t.conn.Close()
}
