package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"ruche-go/commonlib/actor"
	"ruche-go/commonlib/log"
	infraactor "ruche-go/infrastructure/actor"
	"ruche-go/services/runtime/biz"
	"ruche-go/services/runtime/middleware"
)

func newTestRuntime(t *testing.T, apiKey string) (*gin.Engine, *infraactor.LocalSystem) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger, err := log.NewLogger(log.LogConfig{Level: "error", Format: "console"})
	if err != nil {
		t.Fatalf("logger init failed: %v", err)
	}

	factory := actor.NewFactoryTable()
	factory.Register("EchoActor", biz.NewEchoActor)

	system := infraactor.NewLocalSystem(infraactor.SystemConfig{
		Name:      "runtime-test",
		ServiceID: "runtime-test",
		Factory:   factory,
		Logger:    logger,
	})
	t.Cleanup(func() { system.Shutdown(2 * time.Second) })

	h := NewHandler(system, logger)

	router := gin.New()
	router.GET("/health", h.Health)
	rt := router.Group("/runtime", middleware.APIKeyAuth(apiKey))
	{
		rt.POST("/create-actor", h.CreateActor)
		rt.POST("/tell", h.Tell)
		rt.POST("/ask", h.Ask)
		actors := rt.Group("/actors")
		actors.GET("", h.ListActors)
		actors.GET("/:id/health", h.ActorHealth)
		actors.POST("/:id/restart", h.RestartActor)
		actors.DELETE("/:id", h.StopActor)
	}
	return router, system
}

func doJSON(t *testing.T, router *gin.Engine, method, path, apiKey string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body failed: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set(middleware.HeaderAPIKey, apiKey)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCreateActorEndpoint(t *testing.T) {
	router, system := newTestRuntime(t, "")

	w := doJSON(t, router, http.MethodPost, "/runtime/create-actor", "", actor.CreateCommand{
		ActorType: "EchoActor",
		ActorID:   "echo-1",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("create = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		ActorID string      `json:"actorId"`
		State   actor.State `json:"state"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ActorID != "echo-1" {
		t.Fatalf("actorId = %q", resp.ActorID)
	}
	if !system.Has("echo-1") {
		t.Fatal("actor not hosted after create")
	}

	// A second create with the same id conflicts.
	w = doJSON(t, router, http.MethodPost, "/runtime/create-actor", "", actor.CreateCommand{
		ActorType: "EchoActor",
		ActorID:   "echo-1",
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate create = %d, want 409", w.Code)
	}

	// Unknown type is the caller's mistake.
	w = doJSON(t, router, http.MethodPost, "/runtime/create-actor", "", actor.CreateCommand{
		ActorType: "GhostActor",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unknown type = %d, want 400", w.Code)
	}
}

func TestTellEndpoint(t *testing.T) {
	router, system := newTestRuntime(t, "")

	if _, err := system.Spawn("EchoActor", "echo-tell", nil); err != nil {
		t.Fatalf("spawn failed: %v", err)
	}

	env, _ := actor.NewEnvelope("echo", biz.EchoMessage{Text: "hi", Seq: 1})
	w := doJSON(t, router, http.MethodPost, "/runtime/tell", "", actor.TellCommand{
		TargetActorID: "echo-tell",
		Message:       env,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("tell = %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodPost, "/runtime/tell", "", actor.TellCommand{
		TargetActorID: "ghost",
		Message:       env,
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("tell ghost = %d, want 404", w.Code)
	}

	w = doJSON(t, router, http.MethodPost, "/runtime/tell", "", actor.TellCommand{
		TargetActorID: "echo-tell",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("tell without message = %d, want 400", w.Code)
	}
}

func TestAskEndpoint(t *testing.T) {
	router, system := newTestRuntime(t, "")

	if _, err := system.Spawn("EchoActor", "echo-ask", nil); err != nil {
		t.Fatalf("spawn failed: %v", err)
	}

	env, _ := actor.NewEnvelope("echo", biz.EchoMessage{Text: "ping", Seq: 7})
	w := doJSON(t, router, http.MethodPost, "/runtime/ask?actorId=echo-ask&timeoutMs=2000", "", env)
	if w.Code != http.StatusOK {
		t.Fatalf("ask = %d: %s", w.Code, w.Body.String())
	}
	var reply actor.Envelope
	if err := json.Unmarshal(w.Body.Bytes(), &reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply.Type != "echo.reply" {
		t.Fatalf("reply type = %q", reply.Type)
	}
	var msg biz.EchoMessage
	if err := reply.DecodeInto(&msg); err != nil {
		t.Fatalf("decode reply payload: %v", err)
	}
	if msg.Seq != 7 {
		t.Fatalf("reply seq = %d, want 7", msg.Seq)
	}

	w = doJSON(t, router, http.MethodPost, "/runtime/ask?timeoutMs=100", "", env)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("ask without actorId = %d, want 400", w.Code)
	}

	w = doJSON(t, router, http.MethodPost, "/runtime/ask?actorId=ghost&timeoutMs=100", "", env)
	if w.Code != http.StatusNotFound {
		t.Fatalf("ask ghost = %d, want 404", w.Code)
	}
}

func TestActorLifecycleEndpoints(t *testing.T) {
	router, system := newTestRuntime(t, "")

	for i := 0; i < 3; i++ {
		if _, err := system.Spawn("EchoActor", fmt.Sprintf("echo-%d", i), nil); err != nil {
			t.Fatalf("spawn failed: %v", err)
		}
	}

	w := doJSON(t, router, http.MethodGet, "/runtime/actors", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d", w.Code)
	}
	var snaps []actor.HealthSnapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snaps); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(snaps) != 3 {
		t.Fatalf("listed %d actors, want 3", len(snaps))
	}

	w = doJSON(t, router, http.MethodGet, "/runtime/actors/echo-0/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("health = %d", w.Code)
	}
	var snap actor.HealthSnapshot
	json.Unmarshal(w.Body.Bytes(), &snap)
	if snap.ActorID != "echo-0" {
		t.Fatalf("snapshot = %+v", snap)
	}

	w = doJSON(t, router, http.MethodPost, "/runtime/actors/echo-1/restart", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("restart = %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodDelete, "/runtime/actors/echo-2", "", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete = %d, want 204", w.Code)
	}
	deadline := time.Now().Add(2 * time.Second)
	for system.Has("echo-2") {
		if time.Now().After(deadline) {
			t.Fatal("actor still hosted after delete")
		}
		time.Sleep(5 * time.Millisecond)
	}

	w = doJSON(t, router, http.MethodGet, "/runtime/actors/ghost/health", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("health ghost = %d, want 404", w.Code)
	}
}

func TestRuntimeAPIKeyFilter(t *testing.T) {
	router, _ := newTestRuntime(t, "secret")

	if w := doJSON(t, router, http.MethodGet, "/health", "", nil); w.Code != http.StatusOK {
		t.Fatalf("/health = %d, want 200", w.Code)
	}
	if w := doJSON(t, router, http.MethodGet, "/runtime/actors", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("no key = %d, want 401", w.Code)
	}
	if w := doJSON(t, router, http.MethodGet, "/runtime/actors", "secret", nil); w.Code != http.StatusOK {
		t.Fatalf("right key = %d, want 200", w.Code)
	}
}
