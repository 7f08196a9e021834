// Package intel queries the public vulnerability feeds (NVD, FIRST EPSS,
// CISA KEV) behind circuit breakers and a shared cache, and merges their
// answers into normalized CVE records for the shield CVE module.
package intel

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is the minimal key/value surface the feed clients need. The
// memory cache serves single-node deployments; Redis lets a fleet of
// servers share one feed quota.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
}

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// MemoryCache is a TTL map with lazy expiry.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry)}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expires) {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) > 1024 {
		c.sweepLocked()
	}
	c.entries[key] = memoryEntry{value: value, expires: time.Now().Add(ttl)}
}

func (c *MemoryCache) sweepLocked() {
	now := time.Now()
	for k, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, k)
		}
	}
}

// RedisCache wraps go-redis v9. Feed lookups treat every cache problem
// as a miss, so errors are logged and swallowed here.
type RedisCache struct {
	rdb    *redis.Client
	logger *log.Logger
}

// NewRedisCache connects and pings; the caller decides whether to fall
// back to the memory cache on error.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", addr, err)
	}

	return &RedisCache{
		rdb:    rdb,
		logger: log.New(log.Writer(), "[INTEL] ", log.LstdFlags),
	}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.Printf("⚠️ Redis get %s: %v", key, err)
		return nil, false
	}
	return val, true
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		c.logger.Printf("⚠️ Redis set %s: %v", key, err)
	}
}

func (c *RedisCache) Close() error {
	return c.rdb.Close()
}
