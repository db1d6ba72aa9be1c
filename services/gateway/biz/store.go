package biz

import (
	"context"
	"sort"
	"sync"
	"time"

	"ruche-go/commonlib/actor"
)

// =============================================================================
// Registry Store Interface
// =============================================================================

// Store persists the central registry: actor records plus hosting service
// records, with a per-service secondary index over actors. The gateway and
// the health monitor are the only writers.
type Store interface {
	// PutActor upserts an actor record and its service index entry.
	PutActor(ctx context.Context, rec *actor.ActorRecord) error
	// GetActor returns one record or actor.ErrActorNotFound.
	GetActor(ctx context.Context, actorID string) (*actor.ActorRecord, error)
	// DeleteActor removes a record and its index entry.
	DeleteActor(ctx context.Context, actorID string) error
	// ListActors returns all actor records.
	ListActors(ctx context.Context) ([]*actor.ActorRecord, error)
	// ListActorsByService returns the records owned by one service.
	ListActorsByService(ctx context.Context, serviceID string) ([]*actor.ActorRecord, error)
	// UpdateActorStatus sets one actor's availability status.
	UpdateActorStatus(ctx context.Context, actorID string, status actor.Status) error
	// TransitionServiceActors flips every actor of the service whose status
	// is from to to, returning how many flipped. Used by the health monitor
	// for bulk availability propagation.
	TransitionServiceActors(ctx context.Context, serviceID string, from, to actor.Status) (int, error)

	// PutService upserts a service record.
	PutService(ctx context.Context, rec *actor.ServiceRecord) error
	// GetService returns one record or actor.ErrServiceNotFound.
	GetService(ctx context.Context, serviceID string) (*actor.ServiceRecord, error)
	// ListServices returns all service records.
	ListServices(ctx context.Context) ([]*actor.ServiceRecord, error)
	// TouchHeartbeat advances the service's last-heartbeat timestamp.
	TouchHeartbeat(ctx context.Context, serviceID string, at time.Time) error
	// SetServiceHealthy flips the service health flag.
	SetServiceHealthy(ctx context.Context, serviceID string, healthy bool) error

	// Close releases store resources.
	Close() error
}

// =============================================================================
// In-Memory Store
// =============================================================================

// MemoryStore keeps the registry in process memory. It is the default store;
// records are lost on gateway restart and repopulated by service
// re-registration.
type MemoryStore struct {
	mu       sync.RWMutex
	actors   map[string]*actor.ActorRecord
	services map[string]*actor.ServiceRecord
	// byService indexes actor ids per owning service.
	byService map[string]map[string]bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		actors:    make(map[string]*actor.ActorRecord),
		services:  make(map[string]*actor.ServiceRecord),
		byService: make(map[string]map[string]bool),
	}
}

func (s *MemoryStore) PutActor(_ context.Context, rec *actor.ActorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *rec
	s.actors[rec.ActorID] = &clone
	idx := s.byService[rec.ServiceID]
	if idx == nil {
		idx = make(map[string]bool)
		s.byService[rec.ServiceID] = idx
	}
	idx[rec.ActorID] = true
	return nil
}

func (s *MemoryStore) GetActor(_ context.Context, actorID string) (*actor.ActorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.actors[actorID]
	if !ok {
		return nil, actor.ErrActorNotFound
	}
	clone := *rec
	return &clone, nil
}

func (s *MemoryStore) DeleteActor(_ context.Context, actorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.actors[actorID]
	if !ok {
		return nil
	}
	delete(s.actors, actorID)
	if idx := s.byService[rec.ServiceID]; idx != nil {
		delete(idx, actorID)
	}
	return nil
}

func (s *MemoryStore) ListActors(_ context.Context) ([]*actor.ActorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*actor.ActorRecord, 0, len(s.actors))
	for _, rec := range s.actors {
		clone := *rec
		out = append(out, &clone)
	}
	sortActorRecords(out)
	return out, nil
}

func (s *MemoryStore) ListActorsByService(_ context.Context, serviceID string) ([]*actor.ActorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.byService[serviceID]
	out := make([]*actor.ActorRecord, 0, len(idx))
	for id := range idx {
		if rec, ok := s.actors[id]; ok {
			clone := *rec
			out = append(out, &clone)
		}
	}
	sortActorRecords(out)
	return out, nil
}

func (s *MemoryStore) UpdateActorStatus(_ context.Context, actorID string, status actor.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.actors[actorID]
	if !ok {
		return actor.ErrActorNotFound
	}
	rec.Status = status
	return nil
}

func (s *MemoryStore) TransitionServiceActors(_ context.Context, serviceID string, from, to actor.Status) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	flipped := 0
	for id := range s.byService[serviceID] {
		rec, ok := s.actors[id]
		if ok && rec.Status == from {
			rec.Status = to
			flipped++
		}
	}
	return flipped, nil
}

func (s *MemoryStore) PutService(_ context.Context, rec *actor.ServiceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *rec
	s.services[rec.ServiceID] = &clone
	return nil
}

func (s *MemoryStore) GetService(_ context.Context, serviceID string) (*actor.ServiceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.services[serviceID]
	if !ok {
		return nil, actor.ErrServiceNotFound
	}
	clone := *rec
	return &clone, nil
}

func (s *MemoryStore) ListServices(_ context.Context) ([]*actor.ServiceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*actor.ServiceRecord, 0, len(s.services))
	for _, rec := range s.services {
		clone := *rec
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServiceID < out[j].ServiceID })
	return out, nil
}

func (s *MemoryStore) TouchHeartbeat(_ context.Context, serviceID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.services[serviceID]
	if !ok {
		return actor.ErrServiceNotFound
	}
	rec.LastHeartbeat = at
	return nil
}

func (s *MemoryStore) SetServiceHealthy(_ context.Context, serviceID string, healthy bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.services[serviceID]
	if !ok {
		return actor.ErrServiceNotFound
	}
	rec.Healthy = healthy
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func sortActorRecords(recs []*actor.ActorRecord) {
	sort.Slice(recs, func(i, j int) bool { return recs[i].ActorID < recs[j].ActorID })
}
