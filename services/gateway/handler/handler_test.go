package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"ruche-go/commonlib/actor"
	"ruche-go/commonlib/log"
	"ruche-go/infrastructure/transport"
	"ruche-go/services/gateway/biz"
	"ruche-go/services/gateway/middleware"
)

func newTestRouter(t *testing.T, apiKey string) (*gin.Engine, *biz.GatewayService, *biz.MemoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger, err := log.NewLogger(log.LogConfig{Level: "error", Format: "console"})
	if err != nil {
		t.Fatalf("logger init failed: %v", err)
	}

	store := biz.NewMemoryStore()
	events := actor.NewEventBus()
	monitor := biz.NewHealthMonitor(store, events, logger, biz.HealthMonitorConfig{
		ProbeInterval: time.Second,
		ProbeTimeout:  100 * time.Millisecond,
		DeadThreshold: time.Minute,
	})
	forwarder := transport.NewHTTPTransport(transport.HTTPTransportConfig{})
	svc := biz.NewGatewayService(store, monitor, events, forwarder, logger)
	h := NewHandler(svc, logger)

	router := gin.New()
	router.GET("/health", h.Health)
	v1 := router.Group("/api/v1", middleware.APIKeyAuth(apiKey))
	{
		actors := v1.Group("/actors")
		actors.POST("", h.CreateActor)
		actors.GET("", h.ListActors)
		actors.GET("/by-service/:serviceId", h.ListActorsByService)
		actors.GET("/:id", h.GetActor)
		actors.DELETE("/:id", h.DeleteActor)
		actors.POST("/:id/tell", h.Tell)
	}
	{
		services := v1.Group("/services")
		services.GET("", h.ListServices)
		services.POST("/register", h.RegisterService)
		services.POST("/heartbeat", h.Heartbeat)
	}
	return router, svc, store
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

// fakeRuntime answers the forwarded create/tell calls.
func fakeRuntime(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/runtime/create-actor", func(w http.ResponseWriter, r *http.Request) {
		var cmd actor.CreateCommand
		json.NewDecoder(r.Body).Decode(&cmd)
		json.NewEncoder(w).Encode(map[string]string{"actorId": cmd.ActorID})
	})
	mux.HandleFunc("/runtime/tell", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]bool{"delivered": true})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestAPIKeyFilter(t *testing.T) {
	router, _, _ := newTestRouter(t, "secret")

	// Health is public.
	if w := doJSON(t, router, http.MethodGet, "/health", "", nil); w.Code != http.StatusOK {
		t.Fatalf("/health = %d, want 200", w.Code)
	}

	// Protected endpoints reject a missing or wrong key.
	if w := doJSON(t, router, http.MethodGet, "/api/v1/actors", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("no key = %d, want 401", w.Code)
	}
	if w := doJSON(t, router, http.MethodGet, "/api/v1/actors", "wrong", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong key = %d, want 401", w.Code)
	}
	if w := doJSON(t, router, http.MethodGet, "/api/v1/actors", "secret", nil); w.Code != http.StatusOK {
		t.Fatalf("right key = %d, want 200", w.Code)
	}
}

func TestAPIKeyFilterDevMode(t *testing.T) {
	router, _, _ := newTestRouter(t, "")
	// Empty configured secret disables the check.
	if w := doJSON(t, router, http.MethodGet, "/api/v1/actors", "", nil); w.Code != http.StatusOK {
		t.Fatalf("dev mode = %d, want 200", w.Code)
	}
}

func TestCreateAndListFlow(t *testing.T) {
	router, _, _ := newTestRouter(t, "")
	runtime := fakeRuntime(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/services/register", "", map[string]any{
		"serviceId":  "capteur-service",
		"serviceUrl": runtime.URL,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("register = %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodPost, "/api/v1/actors", "", map[string]any{
		"serviceId": "capteur-service",
		"actorType": "CapteurActor",
		"params":    map[string]any{"sensorType": "TEMPERATURE"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("create = %d: %s", w.Code, w.Body.String())
	}
	var created struct {
		ActorID   string `json:"actorId"`
		ActorType string `json:"actorType"`
		State     string `json:"state"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.ActorID == "" || created.ActorType != "CapteurActor" {
		t.Fatalf("created = %+v", created)
	}
	if created.State != "CREATED" && created.State != "ACTIVE" {
		t.Fatalf("state = %q", created.State)
	}

	w = doJSON(t, router, http.MethodGet, "/api/v1/actors/by-service/capteur-service", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("by-service = %d", w.Code)
	}
	var recs []actor.ActorRecord
	json.Unmarshal(w.Body.Bytes(), &recs)
	if len(recs) != 1 || recs[0].ActorID != created.ActorID {
		t.Fatalf("by-service records = %+v", recs)
	}
}

func TestTellErrors(t *testing.T) {
	router, svc, store := newTestRouter(t, "")

	env, _ := actor.NewEnvelope("probe", map[string]any{"seq": 1})
	body := map[string]any{"targetActorId": "ghost", "message": env}

	w := doJSON(t, router, http.MethodPost, "/api/v1/actors/ghost/tell", "", body)
	if w.Code != http.StatusNotFound {
		t.Fatalf("tell missing = %d, want 404", w.Code)
	}

	// Seed an unavailable actor and expect 503 with a retry hint.
	seedUnavailable(t, svc, store)
	w = doJSON(t, router, http.MethodPost, "/api/v1/actors/a-unavail/tell", "",
		map[string]any{"targetActorId": "a-unavail", "message": env})
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("tell unavailable = %d, want 503", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatal("503 must carry Retry-After")
	}
}

// strictRuntime rejects unknown types on create and lost actors on tell,
// like the real façade does.
func strictRuntime(t *testing.T, hostedType string, lostActors map[string]bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/runtime/create-actor", func(w http.ResponseWriter, r *http.Request) {
		var cmd actor.CreateCommand
		json.NewDecoder(r.Body).Decode(&cmd)
		if cmd.ActorType != hostedType {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"code": "UNKNOWN_ACTOR_TYPE"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"actorId": cmd.ActorID})
	})
	mux.HandleFunc("/runtime/tell", func(w http.ResponseWriter, r *http.Request) {
		var cmd actor.TellCommand
		json.NewDecoder(r.Body).Decode(&cmd)
		if lostActors[cmd.TargetActorID] {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"code": "ACTOR_NOT_FOUND"})
			return
		}
		json.NewEncoder(w).Encode(map[string]bool{"delivered": true})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestCreateRuntimeTypeRejection(t *testing.T) {
	router, _, _ := newTestRouter(t, "")
	runtime := strictRuntime(t, "EchoActor", nil)

	// The service registers without declaring its types, so the gateway
	// cannot pre-validate and must surface the runtime's rejection.
	w := doJSON(t, router, http.MethodPost, "/api/v1/services/register", "", map[string]any{
		"serviceId":  "s-strict",
		"serviceUrl": runtime.URL,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("register = %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodPost, "/api/v1/actors", "", map[string]any{
		"serviceId": "s-strict",
		"actorType": "GhostActor",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("rejected create = %d, want 400: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodPost, "/api/v1/actors", "", map[string]any{
		"serviceId": "s-strict",
		"actorType": "EchoActor",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("valid create = %d: %s", w.Code, w.Body.String())
	}
}

func TestTellRuntimeLostActor(t *testing.T) {
	router, _, _ := newTestRouter(t, "")
	runtime := strictRuntime(t, "EchoActor", map[string]bool{"a-lost": true})

	w := doJSON(t, router, http.MethodPost, "/api/v1/services/register", "", map[string]any{
		"serviceId":  "s-strict",
		"serviceUrl": runtime.URL,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("register = %d: %s", w.Code, w.Body.String())
	}
	w = doJSON(t, router, http.MethodPost, "/api/v1/actors", "", map[string]any{
		"serviceId": "s-strict",
		"actorType": "EchoActor",
		"actorId":   "a-lost",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("create = %d: %s", w.Code, w.Body.String())
	}

	// The registry still records the actor ACTIVE, but the runtime has lost
	// it. The caller sees not-found, not a gateway failure.
	env, _ := actor.NewEnvelope("probe", map[string]any{"seq": 1})
	w = doJSON(t, router, http.MethodPost, "/api/v1/actors/a-lost/tell", "",
		map[string]any{"targetActorId": "a-lost", "message": env})
	if w.Code != http.StatusNotFound {
		t.Fatalf("tell lost actor = %d, want 404: %s", w.Code, w.Body.String())
	}
}

func TestUnknownServiceCreate(t *testing.T) {
	router, _, _ := newTestRouter(t, "")

	w := doJSON(t, router, http.MethodPost, "/api/v1/actors", "", map[string]any{
		"serviceId": "ghost",
		"actorType": "X",
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("create on unknown service = %d, want 404", w.Code)
	}
}

func seedUnavailable(t *testing.T, svc *biz.GatewayService, store *biz.MemoryStore) {
	t.Helper()
	runtime := fakeRuntime(t)
	ctx := context.Background()
	if err := svc.RegisterService(ctx, &biz.RegisterRequest{ServiceID: "s-unavail", ServiceURL: runtime.URL}); err != nil {
		t.Fatalf("seed register failed: %v", err)
	}
	if _, err := svc.CreateActor(ctx, &biz.CreateActorRequest{
		ServiceID: "s-unavail",
		ActorType: "EchoActor",
		ActorID:   "a-unavail",
	}); err != nil {
		t.Fatalf("seed create failed: %v", err)
	}
	if err := store.UpdateActorStatus(ctx, "a-unavail", actor.StatusUnavailable); err != nil {
		t.Fatalf("seed status flip failed: %v", err)
	}
}
