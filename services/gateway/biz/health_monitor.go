package biz

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"ruche-go/commonlib/actor"
	"ruche-go/commonlib/log"
)

// =============================================================================
// Health Monitor - 服务健康监测
// =============================================================================

// HealthMonitorConfig tunes liveness probing.
type HealthMonitorConfig struct {
	// ProbeInterval is the period between probe sweeps. Default 10s.
	ProbeInterval time.Duration
	// ProbeTimeout bounds one probe request. Default 5s.
	ProbeTimeout time.Duration
	// DeadThreshold is the maximum heartbeat age before a service is
	// considered dead regardless of probe outcome. Default 60s.
	DeadThreshold time.Duration
}

// HealthMonitor sweeps registered services, probing their /health endpoint
// and watching heartbeat freshness. Availability flips propagate to the
// service's actors in bulk: ACTIVE → UNAVAILABLE on down, back on recovery.
// Explicitly STOPPED actors never resurrect.
type HealthMonitor struct {
	store  Store
	events *actor.EventBus
	logger log.Logger
	cfg    HealthMonitorConfig
	client *http.Client

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// NewHealthMonitor creates a stopped monitor.
func NewHealthMonitor(store Store, events *actor.EventBus, logger log.Logger, cfg HealthMonitorConfig) *HealthMonitor {
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 10 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.DeadThreshold <= 0 {
		cfg.DeadThreshold = 60 * time.Second
	}
	return &HealthMonitor{
		store:  store,
		events: events,
		logger: logger,
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.ProbeTimeout},
	}
}

// Start launches the sweep loop.
func (m *HealthMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.loop(loopCtx)
}

// Stop halts the sweep loop and waits for it to exit.
func (m *HealthMonitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	cancel()
	<-done
}

func (m *HealthMonitor) loop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep probes every registered service once. Exported so tests can drive
// the monitor without waiting on the ticker.
func (m *HealthMonitor) Sweep(ctx context.Context) {
	services, err := m.store.ListServices(ctx)
	if err != nil {
		m.logger.Error("health sweep failed to list services", log.Err(err))
		return
	}

	now := time.Now()
	for _, svc := range services {
		alive := m.probe(ctx, svc.ServiceURL)

		// A stale heartbeat marks the service dead even when a probe
		// accidentally succeeds, e.g. a stranded load balancer answering
		// for a gone backend.
		if now.Sub(svc.LastHeartbeat) > m.cfg.DeadThreshold {
			alive = false
		}

		switch {
		case alive && !svc.Healthy:
			m.MarkRecovered(ctx, svc.ServiceID)
		case !alive && svc.Healthy:
			m.markDown(ctx, svc.ServiceID)
		}
	}
}

// probe calls the service's /health endpoint; any non-2xx or transport error
// counts as down.
func (m *HealthMonitor) probe(ctx context.Context, serviceURL string) bool {
	url := strings.TrimRight(serviceURL, "/") + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// MarkRecovered flips the service healthy and restores its UNAVAILABLE
// actors to ACTIVE. Also invoked directly when an unhealthy service
// re-registers.
func (m *HealthMonitor) MarkRecovered(ctx context.Context, serviceID string) {
	if err := m.store.SetServiceHealthy(ctx, serviceID, true); err != nil {
		m.logger.Error("failed to mark service healthy",
			log.String("service_id", serviceID), log.Err(err))
		return
	}
	restored, err := m.store.TransitionServiceActors(ctx, serviceID,
		actor.StatusUnavailable, actor.StatusActive)
	if err != nil {
		m.logger.Error("failed to restore service actors",
			log.String("service_id", serviceID), log.Err(err))
	}

	actor.ServiceTransitionsTotal.WithLabelValues("up").Inc()
	m.logger.Info("service recovered",
		log.String("service_id", serviceID),
		log.Int("actors_restored", restored))
	m.events.Publish(actor.NewEvent(actor.EventServiceRecovered).
		WithService(serviceID).
		WithReason(fmt.Sprintf("%d actors restored", restored)))
}

func (m *HealthMonitor) markDown(ctx context.Context, serviceID string) {
	if err := m.store.SetServiceHealthy(ctx, serviceID, false); err != nil {
		m.logger.Error("failed to mark service unhealthy",
			log.String("service_id", serviceID), log.Err(err))
		return
	}
	suspended, err := m.store.TransitionServiceActors(ctx, serviceID,
		actor.StatusActive, actor.StatusUnavailable)
	if err != nil {
		m.logger.Error("failed to suspend service actors",
			log.String("service_id", serviceID), log.Err(err))
	}

	actor.ServiceTransitionsTotal.WithLabelValues("down").Inc()
	m.logger.Warn("service down",
		log.String("service_id", serviceID),
		log.Int("actors_suspended", suspended))
	m.events.Publish(actor.NewEvent(actor.EventServiceDown).
		WithService(serviceID).
		WithReason(fmt.Sprintf("%d actors suspended", suspended)))
}
