package biz

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ruche-go/commonlib/actor"
	"ruche-go/commonlib/log"
)

// =============================================================================
// Redis Store - 共享注册表存储
// =============================================================================

// Key layout:
//
//	actor:record:<actor_id>      JSON actor record
//	actors                       set of actor ids
//	service:actors:<service_id>  set of actor ids owned by the service
//	service:record:<service_id>  JSON service record
//	services                     set of service ids
//
// A gateway restarted against the same Redis resumes with the full registry
// instead of waiting for every service to re-register.
type RedisStore struct {
	redis  *redis.Client
	logger log.Logger
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client *redis.Client, logger log.Logger) *RedisStore {
	return &RedisStore{redis: client, logger: logger}
}

func actorRecordKey(actorID string) string     { return "actor:record:" + actorID }
func serviceActorsKey(serviceID string) string { return "service:actors:" + serviceID }
func serviceRecordKey(serviceID string) string { return "service:record:" + serviceID }

func (s *RedisStore) PutActor(ctx context.Context, rec *actor.ActorRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal actor record: %w", err)
	}

	pipe := s.redis.Pipeline()
	pipe.Set(ctx, actorRecordKey(rec.ActorID), data, 0)
	pipe.SAdd(ctx, "actors", rec.ActorID)
	pipe.SAdd(ctx, serviceActorsKey(rec.ServiceID), rec.ActorID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store actor record: %w", err)
	}
	return nil
}

func (s *RedisStore) GetActor(ctx context.Context, actorID string) (*actor.ActorRecord, error) {
	data, err := s.redis.Get(ctx, actorRecordKey(actorID)).Bytes()
	if err == redis.Nil {
		return nil, actor.ErrActorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load actor record: %w", err)
	}
	var rec actor.ActorRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal actor record: %w", err)
	}
	return &rec, nil
}

func (s *RedisStore) DeleteActor(ctx context.Context, actorID string) error {
	rec, err := s.GetActor(ctx, actorID)
	if err == actor.ErrActorNotFound {
		return nil
	}
	if err != nil {
		return err
	}

	pipe := s.redis.Pipeline()
	pipe.Del(ctx, actorRecordKey(actorID))
	pipe.SRem(ctx, "actors", actorID)
	pipe.SRem(ctx, serviceActorsKey(rec.ServiceID), actorID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete actor record: %w", err)
	}
	return nil
}

func (s *RedisStore) ListActors(ctx context.Context) ([]*actor.ActorRecord, error) {
	ids, err := s.redis.SMembers(ctx, "actors").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list actor ids: %w", err)
	}
	return s.loadActors(ctx, ids)
}

func (s *RedisStore) ListActorsByService(ctx context.Context, serviceID string) ([]*actor.ActorRecord, error) {
	ids, err := s.redis.SMembers(ctx, serviceActorsKey(serviceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list service actors: %w", err)
	}
	return s.loadActors(ctx, ids)
}

// loadActors resolves record bodies for a set of ids, skipping ids whose
// record was deleted between the index read and the fetch.
func (s *RedisStore) loadActors(ctx context.Context, ids []string) ([]*actor.ActorRecord, error) {
	out := make([]*actor.ActorRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.GetActor(ctx, id)
		if err == actor.ErrActorNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	sortActorRecords(out)
	return out, nil
}

func (s *RedisStore) UpdateActorStatus(ctx context.Context, actorID string, status actor.Status) error {
	rec, err := s.GetActor(ctx, actorID)
	if err != nil {
		return err
	}
	rec.Status = status
	return s.PutActor(ctx, rec)
}

func (s *RedisStore) TransitionServiceActors(ctx context.Context, serviceID string, from, to actor.Status) (int, error) {
	recs, err := s.ListActorsByService(ctx, serviceID)
	if err != nil {
		return 0, err
	}
	flipped := 0
	for _, rec := range recs {
		if rec.Status != from {
			continue
		}
		rec.Status = to
		if err := s.PutActor(ctx, rec); err != nil {
			return flipped, err
		}
		flipped++
	}
	return flipped, nil
}

func (s *RedisStore) PutService(ctx context.Context, rec *actor.ServiceRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal service record: %w", err)
	}

	pipe := s.redis.Pipeline()
	pipe.Set(ctx, serviceRecordKey(rec.ServiceID), data, 0)
	pipe.SAdd(ctx, "services", rec.ServiceID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store service record: %w", err)
	}
	return nil
}

func (s *RedisStore) GetService(ctx context.Context, serviceID string) (*actor.ServiceRecord, error) {
	data, err := s.redis.Get(ctx, serviceRecordKey(serviceID)).Bytes()
	if err == redis.Nil {
		return nil, actor.ErrServiceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load service record: %w", err)
	}
	var rec actor.ServiceRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal service record: %w", err)
	}
	return &rec, nil
}

func (s *RedisStore) ListServices(ctx context.Context) ([]*actor.ServiceRecord, error) {
	ids, err := s.redis.SMembers(ctx, "services").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list service ids: %w", err)
	}
	out := make([]*actor.ServiceRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.GetService(ctx, id)
		if err == actor.ErrServiceNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *RedisStore) TouchHeartbeat(ctx context.Context, serviceID string, at time.Time) error {
	rec, err := s.GetService(ctx, serviceID)
	if err != nil {
		return err
	}
	rec.LastHeartbeat = at
	return s.PutService(ctx, rec)
}

func (s *RedisStore) SetServiceHealthy(ctx context.Context, serviceID string, healthy bool) error {
	rec, err := s.GetService(ctx, serviceID)
	if err != nil {
		return err
	}
	rec.Healthy = healthy
	return s.PutService(ctx, rec)
}

func (s *RedisStore) Close() error {
	return s.redis.Close()
}
