package idempotency

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	rec       Record
	expiresAt time.Time
}

// MemoryStore keeps records in process. Replays only work against the same
// instance; use it for single-node deployments and tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryStore(clock func() time.Time) *MemoryStore {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryStore{entries: map[string]memoryEntry{}, now: clock}
}

func (s *MemoryStore) Key(scope, id string) string {
	return strings.Join([]string{"idempotency", scope, id}, ":")
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.live(key, s.now())
	if !ok {
		return nil, nil
	}
	rec := entry.rec
	rec.Body = append([]byte(nil), entry.rec.Body...)
	return &rec, nil
}

func (s *MemoryStore) Reserve(_ context.Context, key, requestHash string, lease time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if _, taken := s.live(key, now); taken {
		return false, nil
	}
	s.sweep(now)
	s.entries[key] = memoryEntry{rec: pendingRecord(requestHash), expiresAt: now.Add(orDefault(lease, DefaultLease))}
	return true, nil
}

func (s *MemoryStore) Extend(_ context.Context, key, requestHash string, lease time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	entry, ok := s.live(key, now)
	if !ok || !entry.rec.Pending || entry.rec.RequestHash != requestHash {
		return false, nil
	}
	entry.expiresAt = now.Add(orDefault(lease, DefaultLease))
	s.entries[key] = entry
	return true, nil
}

func (s *MemoryStore) Complete(_ context.Context, key string, rec Record, ttl time.Duration) error {
	rec.Pending = false
	rec.Body = append([]byte(nil), rec.Body...)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{rec: rec, expiresAt: s.now().Add(orDefault(ttl, DefaultTTL))}
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// live returns the unexpired entry for key; called with mu held.
func (s *MemoryStore) live(key string, now time.Time) (memoryEntry, bool) {
	entry, ok := s.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !now.Before(entry.expiresAt) {
		delete(s.entries, key)
		return memoryEntry{}, false
	}
	return entry, true
}

// sweep drops expired entries; called with mu held.
func (s *MemoryStore) sweep(now time.Time) {
	for k, entry := range s.entries {
		if !now.Before(entry.expiresAt) {
			delete(s.entries, k)
		}
	}
}
