package cron

import (
	"context"
	"errors"
	"testing"
	"time"
)

type memRedis struct {
	values map[string]string
	ttls   map[string]time.Duration
}

func newMemRedis() *memRedis {
	return &memRedis{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memRedis) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	m.ttls[key] = ttl
	return true, nil
}

func (m *memRedis) ExpireIfValue(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	if m.values[key] != value {
		return false, nil
	}
	m.ttls[key] = ttl
	return true, nil
}

func (m *memRedis) DelIfValue(_ context.Context, key, value string) (bool, error) {
	if m.values[key] != value {
		return false, nil
	}
	delete(m.values, key)
	return true, nil
}

func TestRedisLockExclusiveAndOwnerChecked(t *testing.T) {
	store := newMemRedis()
	first, err := NewRedisLock(store, "bz:cron:lock:test", 0)
	if err != nil {
		t.Fatalf("NewRedisLock: %v", err)
	}
	second, _ := NewRedisLock(store, "bz:cron:lock:test", 0)

	ok, err := first.Acquire(context.Background())
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	if store.ttls["bz:cron:lock:test"] != defaultLockTTL {
		t.Fatalf("expected default ttl, got %s", store.ttls["bz:cron:lock:test"])
	}
	ok, _ = second.Acquire(context.Background())
	if ok {
		t.Fatal("second acquire should fail while held")
	}

	// An expired holder must not drop a lock someone else now owns.
	store.values["bz:cron:lock:test"] = "someone-else"
	if err := first.Release(context.Background()); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, held := store.values["bz:cron:lock:test"]; !held {
		t.Fatal("release removed a lock owned by another instance")
	}

	delete(store.values, "bz:cron:lock:test")
	if err := second.Release(context.Background()); err != nil {
		t.Fatalf("release without ownership: %v", err)
	}
}

func TestRedisLockRefreshExtendsOnlyOwnedLock(t *testing.T) {
	store := newMemRedis()
	lock, err := NewRedisLock(store, "bz:cron:lock:refresh", time.Minute)
	if err != nil {
		t.Fatalf("NewRedisLock: %v", err)
	}
	if err := lock.Refresh(context.Background()); !errors.Is(err, ErrLockLost) {
		t.Fatalf("refresh before acquire: expected ErrLockLost, got %v", err)
	}

	if ok, err := lock.Acquire(context.Background()); err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}
	store.ttls["bz:cron:lock:refresh"] = time.Second
	if err := lock.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if store.ttls["bz:cron:lock:refresh"] != time.Minute {
		t.Fatalf("expected ttl reset to 1m, got %s", store.ttls["bz:cron:lock:refresh"])
	}

	store.values["bz:cron:lock:refresh"] = "someone-else"
	if err := lock.Refresh(context.Background()); !errors.Is(err, ErrLockLost) {
		t.Fatalf("expected ErrLockLost after takeover, got %v", err)
	}
	if store.values["bz:cron:lock:refresh"] != "someone-else" {
		t.Fatal("refresh must not touch a lock owned by another instance")
	}
}

func TestRedisLockReleaseKeepsTokenOnError(t *testing.T) {
	store := &failingRedis{memRedis: newMemRedis()}
	lock, _ := NewRedisLock(store, "bz:cron:lock:flaky", time.Minute)
	if ok, err := lock.Acquire(context.Background()); err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}

	store.fail = true
	if err := lock.Release(context.Background()); err == nil {
		t.Fatal("expected release error")
	}
	store.fail = false
	if err := lock.Release(context.Background()); err != nil {
		t.Fatalf("retry release: %v", err)
	}
	if _, held := store.values["bz:cron:lock:flaky"]; held {
		t.Fatal("retried release should drop the lock")
	}
}

type failingRedis struct {
	*memRedis
	fail bool
}

func (f *failingRedis) DelIfValue(ctx context.Context, key, value string) (bool, error) {
	if f.fail {
		return false, errors.New("connection reset")
	}
	return f.memRedis.DelIfValue(ctx, key, value)
}
