package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ruche-go/commonlib/actor"
	"ruche-go/commonlib/log"
)

// fakeRuntime mimics the /runtime HTTP surface of a hosting service.
func fakeRuntime(t *testing.T, hosted string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/runtime/tell", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(HeaderAPIKey) != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var cmd actor.TellCommand
		json.NewDecoder(r.Body).Decode(&cmd)
		if cmd.TargetActorID != hosted {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]bool{"delivered": true})
	})
	mux.HandleFunc("/runtime/create-actor", func(w http.ResponseWriter, r *http.Request) {
		var cmd actor.CreateCommand
		json.NewDecoder(r.Body).Decode(&cmd)
		if cmd.ActorType != "EchoActor" {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"code": "UNKNOWN_ACTOR_TYPE"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"actorId": cmd.ActorID})
	})
	mux.HandleFunc("/runtime/ask", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("actorId") != hosted {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.URL.Query().Get("timeoutMs") == "1" {
			w.WriteHeader(http.StatusRequestTimeout)
			return
		}
		var env actor.Envelope
		json.NewDecoder(r.Body).Decode(&env)
		reply, _ := actor.NewEnvelope("reply", map[string]any{"echo": env.Type})
		json.NewEncoder(w).Encode(reply)
	})
	mux.HandleFunc("/runtime/actors/", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/runtime/actors/"+hosted+"/health":
			json.NewEncoder(w).Encode(actor.HealthSnapshot{ActorID: hosted, State: actor.StateRunning})
		case r.Method == http.MethodDelete && r.URL.Path == "/runtime/actors/"+hosted:
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPTransportSendCarriesAPIKey(t *testing.T) {
	srv := fakeRuntime(t, "a1")
	tr := NewHTTPTransport(HTTPTransportConfig{APIKey: "secret"})
	defer tr.Close()

	env, _ := actor.NewEnvelope("ping", nil)
	cmd := &actor.TellCommand{TargetActorID: "a1", Message: env}
	if err := tr.Send(context.Background(), Address{ServiceURL: srv.URL, ActorID: "a1"}, cmd); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	// Without the key the runtime rejects the call.
	bare := NewHTTPTransport(HTTPTransportConfig{})
	defer bare.Close()
	if err := bare.Send(context.Background(), Address{ServiceURL: srv.URL, ActorID: "a1"}, cmd); err == nil {
		t.Fatal("send without api key must fail")
	}
}

func TestHTTPTransportSendNotFound(t *testing.T) {
	srv := fakeRuntime(t, "a1")
	tr := NewHTTPTransport(HTTPTransportConfig{APIKey: "secret"})
	defer tr.Close()

	env, _ := actor.NewEnvelope("ping", nil)
	cmd := &actor.TellCommand{TargetActorID: "gone", Message: env}
	err := tr.Send(context.Background(), Address{ServiceURL: srv.URL, ActorID: "gone"}, cmd)
	if !errors.Is(err, actor.ErrActorNotFound) {
		t.Fatalf("send to lost actor = %v, want ErrActorNotFound", err)
	}
}

func TestHTTPTransportCreateActor(t *testing.T) {
	srv := fakeRuntime(t, "a1")
	tr := NewHTTPTransport(HTTPTransportConfig{APIKey: "secret"})
	defer tr.Close()

	id, err := tr.CreateActor(context.Background(), srv.URL, &actor.CreateCommand{
		ActorType: "EchoActor",
		ActorID:   "e1",
	})
	if err != nil || id != "e1" {
		t.Fatalf("create = %q, %v", id, err)
	}

	// The runtime's own type rejection surfaces as the unknown-type sentinel,
	// not as a generic upstream failure.
	_, err = tr.CreateActor(context.Background(), srv.URL, &actor.CreateCommand{
		ActorType: "GhostActor",
	})
	if !errors.Is(err, actor.ErrUnknownActorType) {
		t.Fatalf("rejected create = %v, want ErrUnknownActorType", err)
	}
}

func TestHTTPTransportAsk(t *testing.T) {
	srv := fakeRuntime(t, "a1")
	tr := NewHTTPTransport(HTTPTransportConfig{APIKey: "secret"})
	defer tr.Close()

	env, _ := actor.NewEnvelope("question", nil)
	reply, err := tr.Ask(context.Background(), Address{ServiceURL: srv.URL, ActorID: "a1"}, env, 2*time.Second)
	if err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	if reply.Type != "reply" {
		t.Fatalf("reply type = %q", reply.Type)
	}

	// A remote 408 maps onto the ask-timeout sentinel.
	_, err = tr.Ask(context.Background(), Address{ServiceURL: srv.URL, ActorID: "a1"}, env, time.Millisecond)
	if !errors.Is(err, actor.ErrAskTimeout) {
		t.Fatalf("remote 408 = %v, want ErrAskTimeout", err)
	}
}

func TestHTTPTransportExistsAndState(t *testing.T) {
	srv := fakeRuntime(t, "a1")
	tr := NewHTTPTransport(HTTPTransportConfig{APIKey: "secret"})
	defer tr.Close()

	ok, err := tr.Exists(context.Background(), Address{ServiceURL: srv.URL, ActorID: "a1"})
	if err != nil || !ok {
		t.Fatalf("exists = %v, %v", ok, err)
	}
	ok, err = tr.Exists(context.Background(), Address{ServiceURL: srv.URL, ActorID: "ghost"})
	if err != nil || ok {
		t.Fatalf("exists(ghost) = %v, %v, want false without error", ok, err)
	}

	snap, err := tr.State(context.Background(), Address{ServiceURL: srv.URL, ActorID: "a1"})
	if err != nil {
		t.Fatalf("state failed: %v", err)
	}
	if snap.State != actor.StateRunning {
		t.Fatalf("state = %s", snap.State)
	}
	if _, err := tr.State(context.Background(), Address{ServiceURL: srv.URL, ActorID: "ghost"}); !errors.Is(err, actor.ErrActorNotFound) {
		t.Fatalf("state(ghost) = %v, want ErrActorNotFound", err)
	}
}

func TestHTTPTransportStop(t *testing.T) {
	srv := fakeRuntime(t, "a1")
	tr := NewHTTPTransport(HTTPTransportConfig{APIKey: "secret"})
	defer tr.Close()

	if err := tr.Stop(context.Background(), Address{ServiceURL: srv.URL, ActorID: "a1"}); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if err := tr.Stop(context.Background(), Address{ServiceURL: srv.URL, ActorID: "ghost"}); !errors.Is(err, actor.ErrActorNotFound) {
		t.Fatalf("stop(ghost) = %v, want ErrActorNotFound", err)
	}
}

func TestRemoteRefOverHTTP(t *testing.T) {
	srv := fakeRuntime(t, "a1")
	tr := NewHTTPTransport(HTTPTransportConfig{APIKey: "secret"})
	defer tr.Close()

	logger, err := log.NewLogger(log.LogConfig{Level: "error", Format: "console"})
	if err != nil {
		t.Fatalf("logger init failed: %v", err)
	}

	ref := NewRemoteRef(Address{ServiceURL: srv.URL, ActorID: "a1"}, tr, logger)
	if ref.ID() != "a1" {
		t.Fatalf("id = %q", ref.ID())
	}
	if !ref.IsActive() {
		t.Fatal("hosted actor must be active")
	}
	if got := ref.State(); got != actor.StateRunning {
		t.Fatalf("state = %s", got)
	}

	env, _ := actor.NewEnvelope("ping", nil)
	if err := ref.Tell(env, nil); err != nil {
		t.Fatalf("tell failed: %v", err)
	}
	reply, err := ref.Ask(context.Background(), env, 2*time.Second)
	if err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	if reply.Type != "reply" {
		t.Fatalf("reply type = %q", reply.Type)
	}

	ghost := NewRemoteRef(Address{ServiceURL: srv.URL, ActorID: "ghost"}, tr, logger)
	if ghost.IsActive() {
		t.Fatal("unknown actor must be inactive")
	}
}

func TestTopicFor(t *testing.T) {
	if got := TopicFor(TopicPerActor, "", "a1"); got != "actor-a1" {
		t.Fatalf("per-actor topic = %q", got)
	}
	if got := TopicFor(TopicShared, "", "a1"); got != DefaultSharedTopic {
		t.Fatalf("shared topic = %q", got)
	}
	if got := TopicFor(TopicShared, "custom", "a1"); got != "custom" {
		t.Fatalf("custom shared topic = %q", got)
	}
}
