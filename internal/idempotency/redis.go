package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	pkgredis "github.com/angelmondragon/bazari-settlement/pkg/redis"
)

// RedisStore shares records across API instances.
type RedisStore struct {
	client pkgredis.IdempotencyStore
}

func NewRedisStore(client pkgredis.IdempotencyStore) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Key(scope, id string) string {
	return s.client.IdempotencyKey(scope, id)
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Record, error) {
	raw, err := s.client.Get(ctx, key)
	switch {
	case errors.Is(err, pkgredis.ErrNil):
		return nil, nil
	case err != nil:
		return nil, err
	case raw == "":
		return nil, nil
	}
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *RedisStore) Reserve(ctx context.Context, key, requestHash string, lease time.Duration) (bool, error) {
	payload, err := json.Marshal(pendingRecord(requestHash))
	if err != nil {
		return false, err
	}
	return s.client.SetNX(ctx, key, string(payload), orDefault(lease, DefaultLease))
}

// Extend only touches the key while it still holds this request's
// reservation, so a completed record keeps its own TTL.
func (s *RedisStore) Extend(ctx context.Context, key, requestHash string, lease time.Duration) (bool, error) {
	payload, err := json.Marshal(pendingRecord(requestHash))
	if err != nil {
		return false, err
	}
	return s.client.ExpireIfValue(ctx, key, string(payload), orDefault(lease, DefaultLease))
}

// Complete overwrites the reservation with the final response.
func (s *RedisStore) Complete(ctx context.Context, key string, rec Record, ttl time.Duration) error {
	rec.Pending = false
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, string(payload), orDefault(ttl, DefaultTTL))
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, key)
}
