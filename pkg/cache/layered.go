package cache

import (
	"context"
	"time"
)

// LayeredCache fronts Redis with a short-lived in-process copy. Reads may lag
// writes from other processes by at most l1TTL; writes and claims always go
// to Redis first.
type LayeredCache struct {
	l1    *MemoryCache
	l2    *RedisCache
	l1TTL time.Duration
}

// NewLayeredCache wraps l2. A non-positive l1TTL means two seconds.
func NewLayeredCache(l2 *RedisCache, l1TTL time.Duration) *LayeredCache {
	if l1TTL <= 0 {
		l1TTL = 2 * time.Second
	}
	return &LayeredCache{l1: NewMemoryCache(1000), l2: l2, l1TTL: l1TTL}
}

func (c *LayeredCache) shadowTTL(ttl time.Duration) time.Duration {
	if ttl > 0 && ttl < c.l1TTL {
		return ttl
	}
	return c.l1TTL
}

func (c *LayeredCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if err := c.l2.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	_ = c.l1.Set(ctx, key, value, c.shadowTTL(ttl))
	return nil
}

func (c *LayeredCache) Get(ctx context.Context, key string, dest interface{}) error {
	if err := c.l1.Get(ctx, key, dest); err == nil {
		return nil
	}
	data, err := c.l2.raw(ctx, key)
	if err != nil {
		return err
	}
	_ = c.l1.Set(ctx, key, data, c.l1TTL)
	return decode(data, dest)
}

func (c *LayeredCache) Delete(ctx context.Context, keys ...string) error {
	_ = c.l1.Delete(ctx, keys...)
	return c.l2.Delete(ctx, keys...)
}

func (c *LayeredCache) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	_ = c.l1.Delete(ctx, key)
	return c.l2.Claim(ctx, key, ttl)
}

func (c *LayeredCache) Ping(ctx context.Context) error { return c.l2.Ping(ctx) }

func (c *LayeredCache) Close() error { return c.l2.Close() }
