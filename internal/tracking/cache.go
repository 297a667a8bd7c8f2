package tracking

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-hailing/internal/models"
)

// MemoryCache is an in-process TTL cache for single-node deployments
// and tests.
type MemoryCache struct {
	mu  sync.RWMutex
	ttl time.Duration
	now func() time.Time

	entries map[string]memoryEntry
}

type memoryEntry struct {
	point   models.TrackingPoint
	expires time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = CacheTTL
	}
	return &MemoryCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
	}
}

func (c *MemoryCache) Get(ctx context.Context, rideID string) (models.TrackingPoint, bool) {
	c.mu.RLock()
	e, ok := c.entries[rideID]
	c.mu.RUnlock()
	if !ok || c.now().After(e.expires) {
		return models.TrackingPoint{}, false
	}
	return e.point, true
}

func (c *MemoryCache) Set(ctx context.Context, rideID string, p models.TrackingPoint) {
	c.mu.Lock()
	c.entries[rideID] = memoryEntry{point: p, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

func (c *MemoryCache) Delete(ctx context.Context, rideID string) {
	c.mu.Lock()
	delete(c.entries, rideID)
	c.mu.Unlock()
}

// RedisCache shares the fast path across server instances. Failures
// degrade to a cache miss; the read path falls through to storage.
type RedisCache struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = CacheTTL
	}
	return &RedisCache{Client: client, TTL: ttl}
}

func (c *RedisCache) key(rideID string) string { return "tracking:current:" + rideID }

func (c *RedisCache) Get(ctx context.Context, rideID string) (models.TrackingPoint, bool) {
	raw, err := c.Client.Get(ctx, c.key(rideID)).Bytes()
	if err != nil {
		return models.TrackingPoint{}, false
	}
	var p models.TrackingPoint
	if err := json.Unmarshal(raw, &p); err != nil {
		return models.TrackingPoint{}, false
	}
	return p, true
}

func (c *RedisCache) Set(ctx context.Context, rideID string, p models.TrackingPoint) {
	raw, err := json.Marshal(p)
	if err != nil {
		return
	}
	c.Client.Set(ctx, c.key(rideID), raw, c.TTL)
}

func (c *RedisCache) Delete(ctx context.Context, rideID string) {
	c.Client.Del(ctx, c.key(rideID))
}
