package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"ruche-go/commonlib/actor"
)

// =============================================================================
// HTTP Transport - 控制面传输
// =============================================================================

// HTTPTransportConfig tunes the control-plane HTTP client.
type HTTPTransportConfig struct {
	// APIKey is attached as X-API-KEY on every call. Empty disables auth.
	APIKey string
	// ConnectTimeout bounds dialing. Default 2s.
	ConnectTimeout time.Duration
	// ReadTimeout bounds the full request/response cycle. Default 5s.
	ReadTimeout time.Duration
	// MaxIdleConnsPerHost keeps warm connections to each runtime. Default 10.
	MaxIdleConnsPerHost int
}

// HTTPTransport talks to runtime services over their /runtime HTTP surface.
// It supports the full contract: tell, ask, existence and health probes,
// and remote stop.
type HTTPTransport struct {
	client *http.Client
	apiKey string
}

var _ RemoteTransport = (*HTTPTransport)(nil)

// NewHTTPTransport builds a transport with a pooled client. Timeouts are
// deliberately short: a slow runtime must not stall the caller.
func NewHTTPTransport(cfg HTTPTransportConfig) *HTTPTransport {
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout == 0 {
		connectTimeout = 2 * time.Second
	}
	readTimeout := cfg.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 5 * time.Second
	}
	maxIdlePerHost := cfg.MaxIdleConnsPerHost
	if maxIdlePerHost == 0 {
		maxIdlePerHost = 10
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: connectTimeout,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: maxIdlePerHost,
		IdleConnTimeout:     90 * time.Second,
	}

	return &HTTPTransport{
		client: &http.Client{
			Timeout:   readTimeout,
			Transport: transport,
		},
		apiKey: cfg.APIKey,
	}
}

// Send posts the tell command to the hosting runtime. A 404 means the
// runtime no longer hosts the actor, e.g. after a crash that outlived the
// registry record.
func (t *HTTPTransport) Send(ctx context.Context, target Address, cmd *actor.TellCommand) error {
	status, err := t.do(ctx, http.MethodPost, target.ServiceURL, "/runtime/tell", cmd, nil)
	if status == http.StatusNotFound {
		return fmt.Errorf("%w: %s", actor.ErrActorNotFound, target.ActorID)
	}
	return err
}

// Ask posts the envelope and decodes the runtime's reply envelope. The ask
// timeout is carried as a query parameter so the remote runtime bounds its
// own wait.
func (t *HTTPTransport) Ask(ctx context.Context, target Address, env *actor.Envelope, timeout time.Duration) (*actor.Envelope, error) {
	path := fmt.Sprintf("/runtime/ask?actorId=%s", target.ActorID)
	if timeout > 0 {
		path += fmt.Sprintf("&timeoutMs=%d", timeout.Milliseconds())
		// The HTTP round trip must outlive the remote ask wait.
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout+2*time.Second)
		defer cancel()
	}

	var reply actor.Envelope
	status, err := t.do(ctx, http.MethodPost, target.ServiceURL, path, env, &reply)
	if err != nil {
		if status == http.StatusRequestTimeout {
			return nil, fmt.Errorf("%w: remote actor %s", actor.ErrAskTimeout, target.ActorID)
		}
		return nil, err
	}
	return &reply, nil
}

// Exists probes the remote actor's health endpoint. A 404 means the actor is
// unknown to its host; any other failure propagates as an error.
func (t *HTTPTransport) Exists(ctx context.Context, target Address) (bool, error) {
	status, err := t.do(ctx, http.MethodGet, target.ServiceURL, "/runtime/actors/"+target.ActorID+"/health", nil, nil)
	if status == http.StatusNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Stop requests a remote stop of the target actor.
func (t *HTTPTransport) Stop(ctx context.Context, target Address) error {
	status, err := t.do(ctx, http.MethodDelete, target.ServiceURL, "/runtime/actors/"+target.ActorID, nil, nil)
	if status == http.StatusNotFound {
		return fmt.Errorf("%w: %s", actor.ErrActorNotFound, target.ActorID)
	}
	return err
}

// State fetches the remote actor's health snapshot.
func (t *HTTPTransport) State(ctx context.Context, target Address) (*actor.HealthSnapshot, error) {
	var snap actor.HealthSnapshot
	status, err := t.do(ctx, http.MethodGet, target.ServiceURL, "/runtime/actors/"+target.ActorID+"/health", nil, &snap)
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", actor.ErrActorNotFound, target.ActorID)
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// CreateActor forwards a creation command to the hosting runtime and returns
// the created actor's id. Used by the gateway when placing new actors. The
// runtime's own type rejection (a service may register without declaring its
// types) maps back onto the unknown-type sentinel.
func (t *HTTPTransport) CreateActor(ctx context.Context, serviceURL string, cmd *actor.CreateCommand) (string, error) {
	var resp struct {
		ActorID string `json:"actorId"`
	}
	status, err := t.do(ctx, http.MethodPost, serviceURL, "/runtime/create-actor", cmd, &resp)
	if err != nil {
		switch status {
		case http.StatusBadRequest:
			return "", fmt.Errorf("%w: %s rejected by runtime", actor.ErrUnknownActorType, cmd.ActorType)
		case http.StatusNotFound:
			return "", fmt.Errorf("%w: %s", actor.ErrActorNotFound, cmd.ActorID)
		}
		return "", err
	}
	return resp.ActorID, nil
}

// Close releases idle connections.
func (t *HTTPTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

// do issues one JSON round trip. A non-2xx response becomes an error carrying
// the remote body; the status code is returned either way so callers can map
// 404 and 408 onto domain errors.
func (t *HTTPTransport) do(ctx context.Context, method, baseURL, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	url := strings.TrimRight(baseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		req.Header.Set(HeaderAPIKey, t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request to %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return resp.StatusCode, fmt.Errorf("remote returned %d for %s %s: %s",
			resp.StatusCode, method, url, strings.TrimSpace(string(raw)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response from %s: %w", url, err)
		}
	}
	return resp.StatusCode, nil
}
