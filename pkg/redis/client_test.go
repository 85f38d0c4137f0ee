package redis

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/bazari-settlement/pkg/config"
)

type memCmdable struct {
	values map[string]string
	ttls   map[string]time.Duration
	evals  int
}

func newMemCmdable() *memCmdable {
	return &memCmdable{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memCmdable) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *memCmdable) Set(_ context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd {
	m.values[key], m.ttls[key] = fmt.Sprint(value), ttl
	return redis.NewStatusResult("OK", nil)
}

func (m *memCmdable) Get(_ context.Context, key string) *redis.StringCmd {
	if v, ok := m.values[key]; ok {
		return redis.NewStringResult(v, nil)
	}
	return redis.NewStringResult("", redis.Nil)
}

func (m *memCmdable) SetNX(ctx context.Context, key string, value any, ttl time.Duration) *redis.BoolCmd {
	if _, taken := m.values[key]; taken {
		return redis.NewBoolResult(false, nil)
	}
	m.Set(ctx, key, value, ttl)
	return redis.NewBoolResult(true, nil)
}

func (m *memCmdable) Del(_ context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, key := range keys {
		if _, ok := m.values[key]; ok {
			n++
		}
		delete(m.values, key)
		delete(m.ttls, key)
	}
	return redis.NewIntResult(n, nil)
}

// Eval emulates the three scripts the client ships.
func (m *memCmdable) Eval(_ context.Context, script string, keys []string, args ...any) *redis.Cmd {
	m.evals++
	key := keys[0]
	switch script {
	case incrWindowScript:
		var n int64
		fmt.Sscan(m.values[key], &n)
		n++
		m.values[key] = fmt.Sprint(n)
		if ms := args[0].(int64); n == 1 && ms > 0 {
			m.ttls[key] = time.Duration(ms) * time.Millisecond
		}
		return redis.NewCmdResult(n, nil)
	case delIfValueScript, expireIfValueScript:
		if m.values[key] != fmt.Sprint(args[0]) {
			return redis.NewCmdResult(int64(0), nil)
		}
		if script == delIfValueScript {
			delete(m.values, key)
		} else {
			m.ttls[key] = time.Duration(args[1].(int64)) * time.Millisecond
		}
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(nil, errors.New("unknown script"))
}

func TestSetNXFirstWriterWins(t *testing.T) {
	ctx := context.Background()
	mem := newMemCmdable()
	client := &Client{store: mem}
	key := client.LockKey("cron")

	if ok, err := client.SetNX(ctx, key, "owner-a", time.Minute); err != nil || !ok {
		t.Fatalf("first claim: ok=%v err=%v", ok, err)
	}
	if ok, err := client.SetNX(ctx, key, "owner-b", time.Minute); err != nil || ok {
		t.Fatalf("second claim must lose: ok=%v err=%v", ok, err)
	}
	if got, _ := client.Get(ctx, key); got != "owner-a" {
		t.Fatalf("holder = %q, want owner-a", got)
	}
	if mem.ttls[key] != time.Minute {
		t.Fatalf("ttl = %s, want 1m", mem.ttls[key])
	}
}

func TestGetMissingKeyIsErrNil(t *testing.T) {
	ctx := context.Background()
	client := &Client{store: newMemCmdable()}

	if err := client.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := client.Del(ctx, "k"); err != nil {
		t.Fatalf("del: %v", err)
	}
	if _, err := client.Get(ctx, "k"); !errors.Is(err, ErrNil) {
		t.Fatalf("get after del = %v, want ErrNil", err)
	}
}

func TestZeroClient(t *testing.T) {
	var nilClient *Client
	for name, client := range map[string]*Client{"zero": {}, "nil": nilClient} {
		if err := client.Ping(context.Background()); !errors.Is(err, errNotInitialized) {
			t.Fatalf("%s ping = %v", name, err)
		}
		if _, err := client.IncrWithTTL(context.Background(), "k", time.Second); !errors.Is(err, errNotInitialized) {
			t.Fatalf("%s incr = %v", name, err)
		}
		if err := client.Close(); err != nil {
			t.Fatalf("%s close = %v", name, err)
		}
	}
}

func TestKeyLayout(t *testing.T) {
	var keys Keys
	cases := map[string]string{
		keys.IdempotencyKey("orders.create", "abc"): "bz:idempotency:orders.create:abc",
		keys.LockKey("cron-worker"):                 "bz:lock:cron-worker",
		keys.EventKey("hooks", "evt-1"):             "bz:event:hooks:evt-1",
		keys.RateLimitKey("chain", " u1 "):          "bz:rl:chain:u1",
		keys.IdempotencyKey("scope", ""):            "bz:idempotency:scope",
		keys.RateLimitKey():                         "bz:rl",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("key = %q, want %q", got, want)
		}
	}
}

func TestIncrWithTTLArmsWindowOnFirstHit(t *testing.T) {
	ctx := context.Background()
	mem := newMemCmdable()
	client := &Client{store: mem}
	key := client.RateLimitKey("chain", "u1")

	if n, err := client.IncrWithTTL(ctx, key, time.Minute); err != nil || n != 1 {
		t.Fatalf("first hit = %d, %v", n, err)
	}
	if mem.ttls[key] != time.Minute {
		t.Fatalf("window = %s, want 1m", mem.ttls[key])
	}
	mem.ttls[key] = 30 * time.Second
	if n, err := client.IncrWithTTL(ctx, key, time.Minute); err != nil || n != 2 {
		t.Fatalf("second hit = %d, %v", n, err)
	}
	if mem.ttls[key] != 30*time.Second {
		t.Fatalf("later hits must not extend the window, got %s", mem.ttls[key])
	}
	if mem.evals != 2 {
		t.Fatalf("expected one round trip per hit, got %d", mem.evals)
	}
}

func TestOwnerCheckedMutations(t *testing.T) {
	ctx := context.Background()
	mem := newMemCmdable()
	client := &Client{store: mem}
	key := client.LockKey("cron-worker")
	mem.values[key] = "owner-a"

	if ok, err := client.ExpireIfValue(ctx, key, "owner-b", time.Minute); err != nil || ok {
		t.Fatalf("foreign extend: ok=%v err=%v", ok, err)
	}
	if ok, err := client.ExpireIfValue(ctx, key, "owner-a", time.Minute); err != nil || !ok || mem.ttls[key] != time.Minute {
		t.Fatalf("owner extend: ok=%v err=%v ttl=%s", ok, err, mem.ttls[key])
	}
	if ok, err := client.DelIfValue(ctx, key, "owner-b"); err != nil || ok {
		t.Fatalf("foreign delete: ok=%v err=%v", ok, err)
	}
	if ok, err := client.DelIfValue(ctx, key, "owner-a"); err != nil || !ok {
		t.Fatalf("owner delete: ok=%v err=%v", ok, err)
	}
	if _, held := mem.values[key]; held {
		t.Fatalf("lock key should be gone")
	}
}

func TestOptionsFromConfig(t *testing.T) {
	if _, err := optionsFromConfig(config.RedisConfig{}); err == nil {
		t.Fatalf("expected error without url or address")
	}

	opts, err := optionsFromConfig(config.RedisConfig{Address: "localhost:6379", DB: 3, PoolSize: 7, DialTimeout: time.Second})
	if err != nil {
		t.Fatalf("address config: %v", err)
	}
	if opts.Addr != "localhost:6379" || opts.DB != 3 || opts.PoolSize != 7 || opts.DialTimeout != time.Second {
		t.Fatalf("unexpected options %+v", opts)
	}

	opts, err = optionsFromConfig(config.RedisConfig{URL: "redis://:secret@cache:6380/5", DB: 2, PoolSize: 4})
	if err != nil {
		t.Fatalf("url config: %v", err)
	}
	if opts.Addr != "cache:6380" || opts.Password != "secret" || opts.DB != 5 || opts.PoolSize != 4 {
		t.Fatalf("url settings should win, got %+v", opts)
	}

	if _, err := optionsFromConfig(config.RedisConfig{URL: "http://nope"}); err == nil {
		t.Fatalf("expected error for a non-redis url")
	}
}
