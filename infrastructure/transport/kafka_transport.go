package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"ruche-go/commonlib/actor"
	"ruche-go/commonlib/log"
)

// =============================================================================
// Kafka Transport - 流式总线传输
// =============================================================================

// KafkaConfig configures the Kafka bus transport.
type KafkaConfig struct {
	Brokers       []string
	TopicStrategy TopicStrategy
	// SharedTopic is used with the shared strategy. Default "actor-messages".
	SharedTopic string
	// ConsumerGroup scopes offsets per hosting service.
	ConsumerGroup string
}

// KafkaTransport delivers tell commands over Kafka. Asks, existence probes
// and remote stops are control-plane concerns and are not expressible on the
// bus; callers needing them pair this transport with the HTTP one.
type KafkaTransport struct {
	cfg    KafkaConfig
	writer *kafka.Writer
	logger log.Logger

	mu      sync.Mutex
	readers []*kafka.Reader
	closed  bool
}

var _ BusTransport = (*KafkaTransport)(nil)

// NewKafkaTransport builds a transport with a single shared writer. Topic is
// resolved per message so one writer serves both strategies.
func NewKafkaTransport(cfg KafkaConfig, logger log.Logger) *KafkaTransport {
	if cfg.TopicStrategy == "" {
		cfg.TopicStrategy = TopicPerActor
	}
	if cfg.SharedTopic == "" {
		cfg.SharedTopic = DefaultSharedTopic
	}
	return &KafkaTransport{
		cfg: cfg,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			// Topics are created on demand while actors come and go.
			AllowAutoTopicCreation: true,
		},
		logger: logger,
	}
}

// Strategy returns the configured topic strategy.
func (t *KafkaTransport) Strategy() TopicStrategy {
	return t.cfg.TopicStrategy
}

// Send publishes the tell command to the target's topic. The message key is
// the target actor id so the shared strategy keeps per-actor partition
// ordering.
func (t *KafkaTransport) Send(ctx context.Context, target Address, cmd *actor.TellCommand) error {
	raw, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal tell command: %w", err)
	}
	msg := kafka.Message{
		Topic: TopicFor(t.cfg.TopicStrategy, t.cfg.SharedTopic, target.ActorID),
		Key:   []byte(target.ActorID),
		Value: raw,
	}
	if err := t.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka publish to %s failed: %w", msg.Topic, err)
	}
	return nil
}

// Ask is not expressible over the bus.
func (t *KafkaTransport) Ask(context.Context, Address, *actor.Envelope, time.Duration) (*actor.Envelope, error) {
	return nil, actor.ErrAskUnsupported
}

// Exists is not expressible over the bus.
func (t *KafkaTransport) Exists(context.Context, Address) (bool, error) {
	return false, ErrUnsupportedOperation
}

// Stop is not expressible over the bus.
func (t *KafkaTransport) Stop(context.Context, Address) error {
	return ErrUnsupportedOperation
}

// State is not expressible over the bus.
func (t *KafkaTransport) State(context.Context, Address) (*actor.HealthSnapshot, error) {
	return nil, ErrUnsupportedOperation
}

// Subscribe consumes the topic for one hosted actor (or the shared topic
// when actorID is empty under the shared strategy) and feeds decoded tell
// commands to the handler. The consumer group makes delivery at-least-once;
// duplicate suppression is up to the receiving actor.
func (t *KafkaTransport) Subscribe(ctx context.Context, actorID string, h TellHandler) (func(), error) {
	topic := TopicFor(t.cfg.TopicStrategy, t.cfg.SharedTopic, actorID)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: t.cfg.Brokers,
		Topic:   topic,
		GroupID: t.cfg.ConsumerGroup,
	})

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		reader.Close()
		return nil, fmt.Errorf("kafka transport is closed")
	}
	t.readers = append(t.readers, reader)
	t.mu.Unlock()

	subCtx, cancel := context.WithCancel(ctx)
	go t.consume(subCtx, reader, topic, h)

	return func() {
		cancel()
		reader.Close()
	}, nil
}

func (t *KafkaTransport) consume(ctx context.Context, reader *kafka.Reader, topic string, h TellHandler) {
	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.logger.Warn("kafka read failed",
				log.String("topic", topic),
				log.Err(err))
			continue
		}

		var cmd actor.TellCommand
		if err := json.Unmarshal(m.Value, &cmd); err != nil {
			t.logger.Warn("dropping undecodable bus message",
				log.String("topic", topic),
				log.Err(err))
			continue
		}
		h(ctx, &cmd)
	}
}

// Close shuts the writer and all live readers.
func (t *KafkaTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	readers := t.readers
	t.readers = nil
	t.mu.Unlock()

	for _, r := range readers {
		if err := r.Close(); err != nil {
			t.logger.Warn("kafka reader close failed", log.Err(err))
		}
	}
	return t.writer.Close()
}
