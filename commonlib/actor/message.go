package actor

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Message Envelope - 消息信封
// =============================================================================

// Envelope carries one message payload plus its identity on the wire.
// The Type discriminator lets receivers reconstruct the payload through the
// codec's decoder registry.
type Envelope struct {
	Type          string          `json:"type"`
	MessageID     string          `json:"messageId"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope builds an envelope with a fresh message id and the current
// timestamp. The payload is marshalled immediately so producer-side mutation
// after the call cannot leak into the wire form.
func NewEnvelope(msgType string, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload for %s: %w", msgType, err)
	}
	return &Envelope{
		Type:      msgType,
		MessageID: uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Payload:   raw,
	}, nil
}

// WithCorrelation returns a copy of the envelope carrying the correlation id.
func (e *Envelope) WithCorrelation(correlationID string) *Envelope {
	clone := *e
	clone.CorrelationID = correlationID
	return &clone
}

// DecodeInto unmarshals the raw payload into out.
func (e *Envelope) DecodeInto(out any) error {
	if err := json.Unmarshal(e.Payload, out); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Type, err)
	}
	return nil
}

// =============================================================================
// Wire Commands
// =============================================================================

// TellCommand is the wire form of a cross-service message delivery.
type TellCommand struct {
	TargetActorID string    `json:"targetActorId"`
	SenderActorID string    `json:"senderActorId,omitempty"`
	Message       *Envelope `json:"message"`
}

// CreateCommand is the wire form of an actor creation request.
type CreateCommand struct {
	ActorType   string         `json:"actorType"`
	ActorID     string         `json:"actorId,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
	RequesterID string         `json:"requesterId,omitempty"`
}

// =============================================================================
// Codec - tag → decoder registry
// =============================================================================

// Decoder reifies a raw payload into its registered Go type.
type Decoder func(raw json.RawMessage) (any, error)

// Codec maps type discriminators to payload decoders. Receivers that only
// forward envelopes never need one; receivers that interpret payloads
// register the message families they understand.
type Codec struct {
	mu       sync.RWMutex
	decoders map[string]Decoder
}

// NewCodec creates an empty codec.
func NewCodec() *Codec {
	return &Codec{decoders: make(map[string]Decoder)}
}

// Register registers a decoder for a type discriminator. Later registrations
// replace earlier ones.
func (c *Codec) Register(msgType string, dec Decoder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decoders[msgType] = dec
}

// RegisterType registers a JSON decoder producing *T for the discriminator.
func RegisterType[T any](c *Codec, msgType string) {
	c.Register(msgType, func(raw json.RawMessage) (any, error) {
		out := new(T)
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", msgType, err)
		}
		return out, nil
	})
}

// Supports returns true if a decoder is registered for the discriminator.
func (c *Codec) Supports(msgType string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.decoders[msgType]
	return ok
}

// Decode reifies the envelope's payload via the registered decoder.
func (c *Codec) Decode(env *Envelope) (any, error) {
	c.mu.RLock()
	dec, ok := c.decoders[env.Type]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no decoder registered for type %q", env.Type)
	}
	return dec(env.Payload)
}

// Marshal serializes an envelope to its JSON wire form.
func (c *Codec) Marshal(env *Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// Unmarshal parses an envelope from its JSON wire form.
func (c *Codec) Unmarshal(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	return &env, nil
}

// =============================================================================
// Default Codec
// =============================================================================

var defaultCodec = NewCodec()

// DefaultCodec returns the process-wide codec.
func DefaultCodec() *Codec {
	return defaultCodec
}
