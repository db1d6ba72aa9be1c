package actor

import (
	"testing"
	"time"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	type payload struct {
		Name  string `json:"name"`
		Value int    `json:"value"`
	}

	env, err := NewEnvelope("sensor.reading", payload{Name: "temp", Value: 21})
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}
	if env.MessageID == "" {
		t.Fatal("message id not allocated")
	}
	if env.Timestamp.IsZero() || env.Timestamp.After(time.Now().Add(time.Second)) {
		t.Fatalf("bad timestamp %v", env.Timestamp)
	}
	env = env.WithCorrelation("corr-1")

	codec := NewCodec()
	data, err := codec.Marshal(env)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	decoded, err := codec.Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if decoded.Type != "sensor.reading" {
		t.Fatalf("type = %q", decoded.Type)
	}
	if decoded.MessageID != env.MessageID {
		t.Fatalf("message id changed: %q != %q", decoded.MessageID, env.MessageID)
	}
	if decoded.CorrelationID != "corr-1" {
		t.Fatalf("correlation id = %q", decoded.CorrelationID)
	}
	if !decoded.Timestamp.Equal(env.Timestamp) {
		t.Fatalf("timestamp changed: %v != %v", decoded.Timestamp, env.Timestamp)
	}

	var out payload
	if err := decoded.DecodeInto(&out); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if out.Name != "temp" || out.Value != 21 {
		t.Fatalf("payload = %+v", out)
	}
}

func TestWithCorrelationDoesNotMutate(t *testing.T) {
	env, _ := NewEnvelope("x", nil)
	tagged := env.WithCorrelation("c1")

	if env.CorrelationID != "" {
		t.Fatal("WithCorrelation mutated the original envelope")
	}
	if tagged.CorrelationID != "c1" {
		t.Fatalf("correlation id = %q", tagged.CorrelationID)
	}
}

func TestCodecRegistry(t *testing.T) {
	type ping struct {
		N int `json:"n"`
	}

	codec := NewCodec()
	if codec.Supports("ping") {
		t.Fatal("empty codec claims support")
	}
	RegisterType[ping](codec, "ping")
	if !codec.Supports("ping") {
		t.Fatal("registered type not supported")
	}

	env, _ := NewEnvelope("ping", ping{N: 7})
	decoded, err := codec.Decode(env)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	p, ok := decoded.(*ping)
	if !ok || p.N != 7 {
		t.Fatalf("decoded = %#v", decoded)
	}

	env2, _ := NewEnvelope("pong", ping{N: 1})
	if _, err := codec.Decode(env2); err == nil {
		t.Fatal("decoding an unregistered type must fail")
	}
}
