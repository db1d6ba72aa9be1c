package biz

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"ruche-go/commonlib/log"
	"ruche-go/infrastructure/transport"
)

type fakeGateway struct {
	mu         sync.Mutex
	registers  int
	heartbeats int
	lastBody   map[string]any
	failBeats  bool

	srv *httptest.Server
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()
	g := &fakeGateway{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/services/register", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		g.registers++
		json.NewDecoder(r.Body).Decode(&g.lastBody)
		g.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/v1/services/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		g.heartbeats++
		fail := g.failBeats
		g.mu.Unlock()
		if fail {
			// A restarted gateway no longer knows the service.
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	g.srv = httptest.NewServer(mux)
	t.Cleanup(g.srv.Close)
	return g
}

func (g *fakeGateway) counts() (int, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.registers, g.heartbeats
}

func (g *fakeGateway) setFailBeats(v bool) {
	g.mu.Lock()
	g.failBeats = v
	g.mu.Unlock()
}

func testLogger(t *testing.T) log.Logger {
	t.Helper()
	logger, err := log.NewLogger(log.LogConfig{Level: "error", Format: "console"})
	if err != nil {
		t.Fatalf("logger init failed: %v", err)
	}
	return logger
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRegistrationAndHeartbeats(t *testing.T) {
	gw := newFakeGateway(t)
	logger := testLogger(t)

	client := NewRegistrationClient(RegistrationConfig{
		GatewayURL:          gw.srv.URL,
		ServiceID:           "capteur-service",
		ServiceURL:          "http://127.0.0.1:9999",
		SupportedActorTypes: []string{"EchoActor"},
		HeartbeatInterval:   20 * time.Millisecond,
	}, logger)

	client.Start(context.Background())
	defer client.Stop()

	waitFor(t, 2*time.Second, func() bool {
		regs, beats := gw.counts()
		return regs == 1 && beats >= 2
	})

	gw.mu.Lock()
	body := gw.lastBody
	gw.mu.Unlock()
	if body["serviceId"] != "capteur-service" {
		t.Fatalf("registered serviceId = %v", body["serviceId"])
	}
	if body["supportedActorTypes"] == nil {
		t.Fatal("supported actor types not sent")
	}
}

func TestHeartbeatFailureTriggersReregistration(t *testing.T) {
	gw := newFakeGateway(t)
	logger := testLogger(t)

	client := NewRegistrationClient(RegistrationConfig{
		GatewayURL:        gw.srv.URL,
		ServiceID:         "capteur-service",
		ServiceURL:        "http://127.0.0.1:9999",
		HeartbeatInterval: 20 * time.Millisecond,
	}, logger)

	client.Start(context.Background())
	defer client.Stop()

	waitFor(t, 2*time.Second, func() bool {
		regs, _ := gw.counts()
		return regs == 1
	})

	// Simulate a gateway restart: heartbeats start bouncing, the client must
	// register again.
	gw.setFailBeats(true)
	waitFor(t, 2*time.Second, func() bool {
		_, beats := gw.counts()
		return beats >= 1
	})
	gw.setFailBeats(false)

	waitFor(t, 2*time.Second, func() bool {
		regs, _ := gw.counts()
		return regs >= 2
	})
}

func TestRegistrationSendsAPIKey(t *testing.T) {
	var gotKey string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotKey = r.Header.Get(transport.HeaderAPIKey)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewRegistrationClient(RegistrationConfig{
		GatewayURL:        srv.URL,
		ServiceID:         "s1",
		ServiceURL:        "http://127.0.0.1:9999",
		APIKey:            "secret",
		HeartbeatInterval: time.Hour,
	}, testLogger(t))

	client.Start(context.Background())
	defer client.Stop()

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gotKey != ""
	})
	if gotKey != "secret" {
		t.Fatalf("api key header = %q", gotKey)
	}
}

func TestStopHaltsLoop(t *testing.T) {
	gw := newFakeGateway(t)

	client := NewRegistrationClient(RegistrationConfig{
		GatewayURL:        gw.srv.URL,
		ServiceID:         "s1",
		ServiceURL:        "http://127.0.0.1:9999",
		HeartbeatInterval: 20 * time.Millisecond,
	}, testLogger(t))

	client.Start(context.Background())
	waitFor(t, 2*time.Second, func() bool {
		regs, _ := gw.counts()
		return regs == 1
	})
	client.Stop()

	_, beats := gw.counts()
	time.Sleep(100 * time.Millisecond)
	_, after := gw.counts()
	if after != beats {
		t.Fatalf("heartbeats continued after Stop: %d -> %d", beats, after)
	}

	// Stop twice is safe.
	client.Stop()
}
