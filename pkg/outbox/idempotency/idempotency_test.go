package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type entry struct {
	value string
	ttl   time.Duration
}

type fakeStore struct {
	data       map[string]entry
	setNXError error
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: map[string]entry{}}
}

func (f *fakeStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if f.setNXError != nil {
		return false, f.setNXError
	}
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	f.data[key] = entry{value: value.(string), ttl: ttl}
	return true, nil
}

func (f *fakeStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	f.data[key] = entry{value: value.(string), ttl: ttl}
	return nil
}

func (f *fakeStore) Get(_ context.Context, key string) (string, error) {
	e, ok := f.data[key]
	if !ok {
		return "", goredis.Nil
	}
	return e.value, nil
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.data, key)
	}
	return nil
}

func (f *fakeStore) EventKey(consumer, eventID string) string {
	return "bz:event:" + consumer + ":" + eventID
}

const consumer = "settlement-hooks"

func TestClaimLeaseThenComplete(t *testing.T) {
	store := newFakeStore()
	manager, err := NewManager(store, 24*time.Hour, time.Minute)
	require.NoError(t, err)

	ctx := context.Background()
	eventID := uuid.New()
	key := "bz:event:settlement-hooks:" + eventID.String()

	state, err := manager.Claim(ctx, consumer, eventID)
	require.NoError(t, err)
	require.Equal(t, Claimed, state)
	require.Equal(t, entry{value: markerPending, ttl: time.Minute}, store.data[key])

	state, err = manager.Claim(ctx, consumer, eventID)
	require.NoError(t, err)
	require.Equal(t, InFlight, state)

	require.NoError(t, manager.Complete(ctx, consumer, eventID))
	require.Equal(t, entry{value: markerDone, ttl: 24 * time.Hour}, store.data[key])

	state, err = manager.Claim(ctx, consumer, eventID)
	require.NoError(t, err)
	require.Equal(t, Done, state)
}

func TestReleaseAllowsReprocessing(t *testing.T) {
	store := newFakeStore()
	manager, err := NewManager(store, time.Hour, 0)
	require.NoError(t, err)
	require.Equal(t, DefaultLease, manager.lease)

	ctx := context.Background()
	eventID := uuid.New()
	_, err = manager.Claim(ctx, consumer, eventID)
	require.NoError(t, err)
	require.NoError(t, manager.Release(ctx, consumer, eventID))
	require.Empty(t, store.data)

	state, err := manager.Claim(ctx, consumer, eventID)
	require.NoError(t, err)
	require.Equal(t, Claimed, state)
}

func TestClaimValidation(t *testing.T) {
	manager, err := NewManager(newFakeStore(), time.Hour, time.Minute)
	require.NoError(t, err)

	_, err = manager.Claim(context.Background(), "", uuid.New())
	require.Error(t, err)
	_, err = manager.Claim(context.Background(), consumer, uuid.Nil)
	require.Error(t, err)
	require.Error(t, manager.Complete(context.Background(), consumer, uuid.Nil))
}

func TestClaimStoreError(t *testing.T) {
	store := newFakeStore()
	store.setNXError = errors.New("redis down")
	manager, err := NewManager(store, time.Hour, time.Minute)
	require.NoError(t, err)

	state, err := manager.Claim(context.Background(), consumer, uuid.New())
	require.ErrorIs(t, err, store.setNXError)
	require.Equal(t, InFlight, state)
}

func TestNewManagerValidation(t *testing.T) {
	_, err := NewManager(nil, time.Hour, time.Minute)
	require.Error(t, err)
	_, err = NewManager(newFakeStore(), -time.Second, time.Minute)
	require.Error(t, err)
}

func TestStateString(t *testing.T) {
	require.Equal(t, "claimed", Claimed.String())
	require.Equal(t, "in_flight", InFlight.String())
	require.Equal(t, "done", Done.String())
	require.Equal(t, "state(7)", State(7).String())
}
