package biz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ruche-go/commonlib/actor"
	"ruche-go/commonlib/log"
	"ruche-go/infrastructure/transport"
)

// =============================================================================
// Gateway Service - 控制面业务逻辑
// =============================================================================

// RegisterRequest is the body of a service registration.
type RegisterRequest struct {
	ServiceID           string   `json:"serviceId" binding:"required"`
	ServiceURL          string   `json:"serviceUrl" binding:"required"`
	SupportedActorTypes []string `json:"supportedActorTypes,omitempty"`
}

// CreateActorRequest is the body of an actor creation.
type CreateActorRequest struct {
	ServiceID string         `json:"serviceId" binding:"required"`
	ActorType string         `json:"actorType" binding:"required"`
	ActorID   string         `json:"actorId,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
}

// GatewayService orchestrates the central registry: placement of new actors
// on hosting services, deletion, tell routing, and service registration with
// heartbeats. Availability transitions are owned by the HealthMonitor.
type GatewayService struct {
	store     Store
	monitor   *HealthMonitor
	events    *actor.EventBus
	forwarder *transport.HTTPTransport
	logger    log.Logger
}

// NewGatewayService wires the gateway's business layer.
func NewGatewayService(store Store, monitor *HealthMonitor, events *actor.EventBus, forwarder *transport.HTTPTransport, logger log.Logger) *GatewayService {
	return &GatewayService{
		store:     store,
		monitor:   monitor,
		events:    events,
		forwarder: forwarder,
		logger:    logger,
	}
}

// Events exposes the lifecycle event bus for the websocket feed.
func (s *GatewayService) Events() *actor.EventBus {
	return s.events
}

// =============================================================================
// Service registration
// =============================================================================

// RegisterService upserts a hosting service record. Re-registration of a
// service currently flagged unhealthy counts as an immediate recovery; a
// restarted service should not wait a probe sweep to take traffic.
func (s *GatewayService) RegisterService(ctx context.Context, req *RegisterRequest) error {
	prev, err := s.store.GetService(ctx, req.ServiceID)
	if err != nil && !errors.Is(err, actor.ErrServiceNotFound) {
		return err
	}

	rec := &actor.ServiceRecord{
		ServiceID:           req.ServiceID,
		ServiceURL:          req.ServiceURL,
		LastHeartbeat:       time.Now(),
		Healthy:             true,
		SupportedActorTypes: req.SupportedActorTypes,
	}
	if err := s.store.PutService(ctx, rec); err != nil {
		return err
	}

	if prev != nil && !prev.Healthy {
		s.monitor.MarkRecovered(ctx, req.ServiceID)
	}

	s.logger.Info("service registered",
		log.String("service_id", req.ServiceID),
		log.String("service_url", req.ServiceURL),
		log.Strings("actor_types", req.SupportedActorTypes))
	return nil
}

// Heartbeat advances the service's liveness timestamp.
func (s *GatewayService) Heartbeat(ctx context.Context, serviceID string) error {
	return s.store.TouchHeartbeat(ctx, serviceID, time.Now())
}

// ListServices returns all registered services.
func (s *GatewayService) ListServices(ctx context.Context) ([]*actor.ServiceRecord, error) {
	return s.store.ListServices(ctx)
}

// =============================================================================
// Actor placement
// =============================================================================

// CreateActor places a new actor on the requested hosting service. The
// service must be registered and healthy, and must support the requested
// type when it declared its types at registration.
func (s *GatewayService) CreateActor(ctx context.Context, req *CreateActorRequest) (*actor.ActorRecord, error) {
	svc, err := s.store.GetService(ctx, req.ServiceID)
	if err != nil {
		return nil, err
	}
	if !svc.Healthy {
		return nil, fmt.Errorf("%w: %s", actor.ErrServiceUnavailable, req.ServiceID)
	}
	if len(svc.SupportedActorTypes) > 0 && !contains(svc.SupportedActorTypes, req.ActorType) {
		return nil, fmt.Errorf("%w: %s not supported by %s", actor.ErrUnknownActorType, req.ActorType, req.ServiceID)
	}

	actorID := req.ActorID
	if actorID == "" {
		actorID = uuid.New().String()
	}

	cmd := &actor.CreateCommand{
		ActorType:   req.ActorType,
		ActorID:     actorID,
		Params:      req.Params,
		RequesterID: "gateway",
	}
	createdID, err := s.forwarder.CreateActor(ctx, svc.ServiceURL, cmd)
	if err != nil {
		return nil, fmt.Errorf("creation on %s failed: %w", req.ServiceID, err)
	}
	if createdID != "" {
		actorID = createdID
	}

	rec := &actor.ActorRecord{
		ActorID:    actorID,
		ActorType:  req.ActorType,
		ServiceID:  req.ServiceID,
		ServiceURL: svc.ServiceURL,
		Status:     actor.StatusActive,
		CreatedAt:  time.Now(),
		Properties: req.Params,
	}
	if err := s.store.PutActor(ctx, rec); err != nil {
		return nil, err
	}

	s.logger.Info("actor created",
		log.String("actor_id", actorID),
		log.String("actor_type", req.ActorType),
		log.String("service_id", req.ServiceID))
	return rec, nil
}

// DeleteActor stops a remote actor and removes its record. The record is
// removed even when the hosting service no longer knows the actor, so a
// crashed runtime cannot leave records behind forever.
func (s *GatewayService) DeleteActor(ctx context.Context, actorID string) error {
	rec, err := s.store.GetActor(ctx, actorID)
	if err != nil {
		return err
	}

	target := transport.Address{ServiceURL: rec.ServiceURL, ActorID: actorID}
	if err := s.forwarder.Stop(ctx, target); err != nil && !isNotFound(err) {
		return fmt.Errorf("remote stop of %s failed: %w", actorID, err)
	}

	if err := s.store.DeleteActor(ctx, actorID); err != nil {
		return err
	}
	s.logger.Info("actor deleted", log.String("actor_id", actorID))
	return nil
}

// GetActor returns one actor record.
func (s *GatewayService) GetActor(ctx context.Context, actorID string) (*actor.ActorRecord, error) {
	return s.store.GetActor(ctx, actorID)
}

// ListActors returns all actor records.
func (s *GatewayService) ListActors(ctx context.Context) ([]*actor.ActorRecord, error) {
	return s.store.ListActors(ctx)
}

// ListActorsByService returns the actors owned by one service. The service
// itself must exist.
func (s *GatewayService) ListActorsByService(ctx context.Context, serviceID string) ([]*actor.ActorRecord, error) {
	if _, err := s.store.GetService(ctx, serviceID); err != nil {
		return nil, err
	}
	return s.store.ListActorsByService(ctx, serviceID)
}

// =============================================================================
// Tell routing
// =============================================================================

// Tell routes a tell command to the actor's hosting service. The gateway
// holds no routing state beyond the registry record; delivery to the actor's
// mailbox is the runtime's concern.
func (s *GatewayService) Tell(ctx context.Context, actorID string, cmd *actor.TellCommand) error {
	rec, err := s.store.GetActor(ctx, actorID)
	if err != nil {
		return err
	}
	if rec.Status == actor.StatusUnavailable {
		return fmt.Errorf("%w: hosting service %s is down", actor.ErrServiceUnavailable, rec.ServiceID)
	}
	if rec.Status == actor.StatusStopped {
		return fmt.Errorf("%w: %s", actor.ErrActorStopped, actorID)
	}

	cmd.TargetActorID = actorID
	target := transport.Address{ServiceURL: rec.ServiceURL, ActorID: actorID}
	if err := s.forwarder.Send(ctx, target, cmd); err != nil {
		return fmt.Errorf("delivery to %s failed: %w", rec.ServiceID, err)
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func isNotFound(err error) bool {
	return errors.Is(err, actor.ErrActorNotFound)
}
