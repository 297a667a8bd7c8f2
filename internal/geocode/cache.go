// Package geocode wraps the external geocoding and routing
// collaborators. Both are best-effort: callers fall back to placeholder
// addresses and haversine distances when a lookup fails or times out.
package geocode

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// KV is the response cache used by the clients. Entries carry explicit
// TTLs and the cache is never authoritative.
type KV interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string, ttl time.Duration)
}

type memEntry struct {
	v  string
	ts time.Time
	// ttl overrides the cache default when non-zero
	ttl time.Duration
}

// TTLCache is a small in-memory KV with per-entry expiry.
type TTLCache struct {
	mu         sync.RWMutex
	store      map[string]memEntry
	defaultTTL time.Duration
	now        func() time.Time
}

func NewTTLCache(defaultTTL time.Duration) *TTLCache {
	return &TTLCache{store: make(map[string]memEntry), defaultTTL: defaultTTL, now: time.Now}
}

func (c *TTLCache) Get(ctx context.Context, key string) (string, bool) {
	c.mu.RLock()
	e, ok := c.store[key]
	c.mu.RUnlock()
	if !ok {
		return "", false
	}
	ttl := e.ttl
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	if c.now().Sub(e.ts) > ttl {
		c.mu.Lock()
		delete(c.store, key)
		c.mu.Unlock()
		return "", false
	}
	return e.v, true
}

func (c *TTLCache) Set(ctx context.Context, key, value string, ttl time.Duration) {
	c.mu.Lock()
	c.store[key] = memEntry{v: value, ts: c.now(), ttl: ttl}
	c.mu.Unlock()
}

// RedisKV backs the cache with Redis so lookups are shared between
// processes.
type RedisKV struct {
	client *redis.Client
	prefix string
}

func NewRedisKV(client *redis.Client, prefix string) *RedisKV {
	return &RedisKV{client: client, prefix: prefix}
}

func (r *RedisKV) Get(ctx context.Context, key string) (string, bool) {
	v, err := r.client.Get(ctx, r.prefix+key).Result()
	if err != nil {
		return "", false
	}
	return v, true
}

func (r *RedisKV) Set(ctx context.Context, key, value string, ttl time.Duration) {
	_ = r.client.Set(ctx, r.prefix+key, value, ttl).Err()
}
