package biz

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"ruche-go/commonlib/log"
	"ruche-go/infrastructure/transport"
)

// =============================================================================
// Registration Client - 服务注册与心跳
// =============================================================================

// RegistrationConfig configures gateway registration.
type RegistrationConfig struct {
	GatewayURL          string
	ServiceID           string
	ServiceURL          string
	SupportedActorTypes []string
	APIKey              string
	// HeartbeatInterval must stay well below the gateway's dead threshold.
	// Default 30s.
	HeartbeatInterval time.Duration
	ConnectTimeout    time.Duration
	ReadTimeout       time.Duration
}

// RegistrationClient registers the hosting service with the gateway on
// startup and keeps it alive with heartbeats. Any heartbeat failure is
// treated as a gateway restart: the client re-registers from scratch, since
// a memory-backed gateway registry comes back empty.
type RegistrationClient struct {
	cfg    RegistrationConfig
	client *http.Client
	logger log.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// NewRegistrationClient builds a stopped client.
func NewRegistrationClient(cfg RegistrationConfig, logger log.Logger) *RegistrationClient {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 5 * time.Second
	}
	return &RegistrationClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.ReadTimeout},
		logger: logger,
	}
}

// Start registers (retrying with exponential backoff until the gateway is
// reachable) and then runs the heartbeat loop until Stop.
func (c *RegistrationClient) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.loop(loopCtx)
}

// Stop halts the heartbeat loop.
func (c *RegistrationClient) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	cancel()
	<-done
}

func (c *RegistrationClient) loop(ctx context.Context) {
	defer close(c.done)

	if err := c.registerWithBackoff(ctx); err != nil {
		// Only context cancellation gets us here; the backoff otherwise
		// retries forever.
		return
	}

	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.heartbeat(ctx); err != nil {
				c.logger.Warn("heartbeat failed, re-registering",
					log.String("service_id", c.cfg.ServiceID),
					log.Err(err))
				if err := c.registerWithBackoff(ctx); err != nil {
					return
				}
			}
		}
	}
}

// registerWithBackoff retries registration with exponential backoff until it
// succeeds or the context is cancelled.
func (c *RegistrationClient) registerWithBackoff(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 30 * time.Second
	policy.MaxElapsedTime = 0 // retry until cancelled

	return backoff.Retry(func() error {
		if err := c.register(ctx); err != nil {
			c.logger.Warn("registration attempt failed",
				log.String("gateway_url", c.cfg.GatewayURL),
				log.Err(err))
			return err
		}
		c.logger.Info("registered with gateway",
			log.String("service_id", c.cfg.ServiceID),
			log.String("service_url", c.cfg.ServiceURL))
		return nil
	}, backoff.WithContext(policy, ctx))
}

func (c *RegistrationClient) register(ctx context.Context) error {
	body := map[string]any{
		"serviceId":  c.cfg.ServiceID,
		"serviceUrl": c.cfg.ServiceURL,
	}
	if len(c.cfg.SupportedActorTypes) > 0 {
		body["supportedActorTypes"] = c.cfg.SupportedActorTypes
	}
	return c.post(ctx, "/api/v1/services/register", body)
}

func (c *RegistrationClient) heartbeat(ctx context.Context) error {
	return c.post(ctx, "/api/v1/services/heartbeat", map[string]any{
		"serviceId": c.cfg.ServiceID,
	})
}

func (c *RegistrationClient) post(ctx context.Context, path string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimRight(c.cfg.GatewayURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set(transport.HeaderAPIKey, c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", url, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gateway returned %d for %s", resp.StatusCode, path)
	}
	return nil
}
