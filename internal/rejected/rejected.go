// Package rejected persists the set of ride ids a driver has declined. The
// set is per identity and survives restarts; any later offer for a contained
// id is filtered before it reaches a handler.
package rejected

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Store is the minimal interface the offer state machine needs.
type Store interface {
	Add(ctx context.Context, rideID string) error
	Contains(ctx context.Context, rideID string) (bool, error)
}

// RedisStore keeps the rejected set in a redis SET keyed by identity.
type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(addr, password, identity string) *RedisStore {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisStore{client: c, key: setKey(identity)}
}

// Ping verifies connectivity so callers can fall back to the memory store
// before wiring this one in.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Add(ctx context.Context, rideID string) error {
	return r.client.SAdd(ctx, r.key, rideID).Err()
}

func (r *RedisStore) Contains(ctx context.Context, rideID string) (bool, error) {
	return r.client.SIsMember(ctx, r.key, rideID).Result()
}

func (r *RedisStore) Close() error { return r.client.Close() }

func setKey(identity string) string { return "rejected_rides:" + identity }

// MemoryStore is the session-scoped fallback used when the durable store is
// unavailable; losing it on restart degrades filtering, never correctness.
type MemoryStore struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ids: make(map[string]struct{})}
}

func (m *MemoryStore) Add(_ context.Context, rideID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids[rideID] = struct{}{}
	return nil
}

func (m *MemoryStore) Contains(_ context.Context, rideID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.ids[rideID]
	return ok, nil
}
