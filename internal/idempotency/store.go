// Package idempotency stores the first response produced for an
// Idempotency-Key so retried requests replay it instead of re-executing.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/bazari-settlement/pkg/config"
	pkgredis "github.com/angelmondragon/bazari-settlement/pkg/redis"
)

const (
	// DefaultTTL applies when a caller passes no TTL.
	DefaultTTL = 24 * time.Hour
	// DefaultLease bounds a reservation whose request never finished.
	DefaultLease = 2 * time.Minute
)

// Record is a stored response, or a reservation while Pending.
type Record struct {
	Status      int    `json:"status"`
	Body        []byte `json:"body"`
	ContentType string `json:"content_type,omitempty"`
	RequestHash string `json:"request_hash"`
	Pending     bool   `json:"pending,omitempty"`
}

// Matches reports whether hash identifies the same request body as the
// one that produced the record.
func (r *Record) Matches(hash string) bool {
	return r != nil && r.RequestHash == hash
}

// Store persists records. Get returns nil, nil when the key is unknown or
// expired.
//
// A request first Reserves its key: only one caller wins, and it holds a
// pending record for lease. Extend pushes the lease out while the request is
// still running; it reports false once the reservation is gone. The winner
// then either Completes the key with the response, kept for ttl, or
// Releases it so the key can be retried.
type Store interface {
	Key(scope, id string) string
	Get(ctx context.Context, key string) (*Record, error)
	Reserve(ctx context.Context, key, requestHash string, lease time.Duration) (bool, error)
	Extend(ctx context.Context, key, requestHash string, lease time.Duration) (bool, error)
	Complete(ctx context.Context, key string, rec Record, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

func pendingRecord(requestHash string) Record {
	return Record{RequestHash: requestHash, Pending: true}
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

// HashBody fingerprints a request body.
func HashBody(body []byte) string {
	sum := sha256.Sum256(body)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// NewStore picks the backend named in cfg. The redis backend needs client.
func NewStore(cfg config.IdempotencyConfig, client pkgredis.IdempotencyStore) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", config.IdempotencyBackendRedis:
		if client == nil {
			return nil, errors.New("idempotency: redis backend requires a redis client")
		}
		return NewRedisStore(client), nil
	case config.IdempotencyBackendMemory:
		return NewMemoryStore(nil), nil
	default:
		return nil, fmt.Errorf("idempotency: unknown backend %q", cfg.Backend)
	}
}
