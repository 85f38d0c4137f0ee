package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// defaultLockTTL outlives a normal cycle so a crashed holder frees the lock
// within a few ticks.
const defaultLockTTL = 5 * time.Minute

// ErrLockLost means the lock expired or was taken over mid-cycle.
var ErrLockLost = errors.New("cron lock lost")

// Lock coordinates exclusive cron runs. Refresh extends a held lock between
// jobs so a slow cycle keeps it.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Refresh(ctx context.Context) error
	Release(ctx context.Context) error
}

type redisStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	ExpireIfValue(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	DelIfValue(ctx context.Context, key, value string) (bool, error)
}

// RedisLock is a SETNX lease keyed by a random owner token. Refresh and
// Release only act while the key still holds that token, so an instance whose
// lease expired cannot extend or drop a newer holder's lock.
type RedisLock struct {
	client redisStore
	key    string
	ttl    time.Duration
	owner  string
}

func NewRedisLock(client redisStore, key string, ttl time.Duration) (*RedisLock, error) {
	if client == nil {
		return nil, errors.New("redis client required for lock")
	}
	if key == "" {
		return nil, errors.New("lock key is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{client: client, key: key, ttl: ttl}, nil
}

func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	owner := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, owner, l.ttl)
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", l.key, err)
	}
	if ok {
		l.owner = owner
	}
	return ok, nil
}

// Refresh resets the lease to the full TTL. It returns ErrLockLost once the
// key no longer carries this instance's token.
func (l *RedisLock) Refresh(ctx context.Context) error {
	if l.owner == "" {
		return ErrLockLost
	}
	ok, err := l.client.ExpireIfValue(ctx, l.key, l.owner, l.ttl)
	if err != nil {
		return fmt.Errorf("extend %s: %w", l.key, err)
	}
	if !ok {
		l.owner = ""
		return ErrLockLost
	}
	return nil
}

// Release drops the lease if still held. A failed call keeps the token so the
// caller may retry.
func (l *RedisLock) Release(ctx context.Context) error {
	if l.owner == "" {
		return nil
	}
	if _, err := l.client.DelIfValue(ctx, l.key, l.owner); err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	l.owner = ""
	return nil
}
