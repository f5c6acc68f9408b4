// Package dedup implements the deduplication cache collaborator
// (spec.md §5 "Dedup integration point" Design Note): a TTL-keyed cache
// over sha256(language, code, stdin, limits) letting a caller skip
// re-executing an identical submission. Backed by go-redis/redis/v8
// when a Redis URL is configured, falling back to an in-memory
// mutex-guarded map otherwise — grounded on spencerandtheteagues-apex-build-platform's
// Redis-backed cache wrapper, generalized to a two-backend Store
// interface so the in-memory path needs no live Redis in tests.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/IMMZEK/codeexec/internal/limits"
)

// Key builds the cache key for one submission, per §5: sha256 over the
// language, code, stdin, and the JSON-encoded limits, each prefixed with
// its 8-byte big-endian length so no field's length ambiguity lets two
// distinct submissions collide.
func Key(language string, code, stdin []byte, lim limits.Limits) (string, error) {
	encodedLimits, err := json.Marshal(lim)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	for _, field := range [][]byte{[]byte(language), code, stdin, encodedLimits} {
		var size [8]byte
		binary.BigEndian.PutUint64(size[:], uint64(len(field)))
		h.Write(size[:])
		h.Write(field)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Store caches a submission's serialized result under its dedup key
// for a bounded TTL.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Cache wraps a Store with the TTL it applies on every Set.
type Cache struct {
	backend Store
	ttl     time.Duration
}

// New builds a Cache. When backend is nil, dedup is effectively
// disabled: every Get misses and every Set is a no-op, so callers can
// wire Cache unconditionally and let config decide whether a backing
// Store exists.
func New(backend Store, ttl time.Duration) *Cache {
	return &Cache{backend: backend, ttl: ttl}
}

// Lookup reports whether a cached result exists for key.
func (c *Cache) Lookup(ctx context.Context, key string) ([]byte, bool, error) {
	if c.backend == nil {
		return nil, false, nil
	}
	return c.backend.Get(ctx, key)
}

// Store records result under key for the cache's configured TTL.
func (c *Cache) Store(ctx context.Context, key string, result []byte) error {
	if c.backend == nil {
		return nil
	}
	return c.backend.Set(ctx, key, result, c.ttl)
}

// MemoryStore is the mutex-guarded in-memory Store that cmd/server
// uses when DEDUP_ENABLED is true and no Redis URL is configured.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value    []byte
	deadline time.Time
}

// NewMemoryStore builds an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

// Get implements Store.
func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(entry.deadline) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return entry.value, true, nil
}

// Set implements Store.
func (m *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = memoryEntry{value: value, deadline: time.Now().Add(ttl)}
	return nil
}

// RedisStore is the production Store backed by a single Redis
// connection, used whenever REDIS_URL is configured.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore builds a Store against an already-constructed client
// (built from redis.ParseURL + redis.NewClient by the caller, or
// pointed at a miniredis instance in tests).
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Set implements Store.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}
