package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const (
	markerPending = "pending"
	markerDone    = "done"

	// DefaultLease bounds how long a claim survives a consumer that died
	// before finishing its hooks.
	DefaultLease = 5 * time.Minute
)

// State is the outcome of a claim attempt.
type State int

const (
	// Claimed means the caller owns the event and must Complete or Release it.
	Claimed State = iota
	// InFlight means another delivery holds the lease.
	InFlight
	// Done means the hooks already ran for this event.
	Done
)

func (s State) String() string {
	switch s {
	case Claimed:
		return "claimed"
	case InFlight:
		return "in_flight"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Store is the subset of the redis wrapper the processed-event guard needs.
type Store interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	EventKey(consumer, eventID string) string
}

// Manager dedupes Pub/Sub redeliveries per consumer. A claim is a short
// lease; only Complete stores the long-lived marker.
// Keys follow `bz:event:<consumer>:<event_id>`.
type Manager struct {
	store Store
	ttl   time.Duration
	lease time.Duration
}

// NewManager builds a guard that remembers completed events for ttl. A
// non-positive lease falls back to DefaultLease.
func NewManager(store Store, ttl, lease time.Duration) (*Manager, error) {
	switch {
	case store == nil:
		return nil, errors.New("idempotency store is required")
	case ttl < 0:
		return nil, errors.New("ttl must be non-negative")
	}
	if lease <= 0 {
		lease = DefaultLease
	}
	return &Manager{store: store, ttl: ttl, lease: lease}, nil
}

// Claim takes the lease for eventID unless it is held or already done.
func (m *Manager) Claim(ctx context.Context, consumer string, eventID uuid.UUID) (State, error) {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return InFlight, err
	}
	ok, err := m.store.SetNX(ctx, key, markerPending, m.lease)
	if err != nil {
		return InFlight, fmt.Errorf("claim %s: %w", key, err)
	}
	if ok {
		return Claimed, nil
	}
	marker, err := m.store.Get(ctx, key)
	switch {
	case errors.Is(err, goredis.Nil):
		// lease expired between the two calls; let the redelivery retry
		return InFlight, nil
	case err != nil:
		return InFlight, fmt.Errorf("read %s: %w", key, err)
	case marker == markerDone:
		return Done, nil
	default:
		return InFlight, nil
	}
}

// Complete replaces the lease with the processed marker.
func (m *Manager) Complete(ctx context.Context, consumer string, eventID uuid.UUID) error {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return err
	}
	return m.store.Set(ctx, key, markerDone, m.ttl)
}

// Release drops the lease so a failed handler can be redelivered.
func (m *Manager) Release(ctx context.Context, consumer string, eventID uuid.UUID) error {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

func (m *Manager) key(consumer string, eventID uuid.UUID) (string, error) {
	switch {
	case consumer == "":
		return "", errors.New("consumer name is required")
	case eventID == uuid.Nil:
		return "", errors.New("event id is required")
	}
	return m.store.EventKey(consumer, eventID.String()), nil
}
