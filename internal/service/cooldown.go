package service

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Cooldown rate-limits manual checks per domain. Acquire returns ok=false and the
// remaining wait when the key was used less than ttl ago.
type Cooldown interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (ok bool, retryAfter time.Duration, err error)
}

// MemoryCooldown is the single-process fallback.
type MemoryCooldown struct {
	mu    sync.Mutex
	until map[string]time.Time
	now   func() time.Time
}

func NewMemoryCooldown() *MemoryCooldown {
	return &MemoryCooldown{until: make(map[string]time.Time), now: time.Now}
}

func (c *MemoryCooldown) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, time.Duration, error) {
	if ttl <= 0 {
		return true, 0, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if until, ok := c.until[key]; ok && now.Before(until) {
		return false, until.Sub(now), nil
	}

	c.until[key] = now.Add(ttl)

	// drop expired keys now and then
	if len(c.until) > 1024 {
		for k, u := range c.until {
			if !now.Before(u) {
				delete(c.until, k)
			}
		}
	}
	return true, 0, nil
}

// RedisCooldown shares the cooldown between replicas with SET NX PX.
type RedisCooldown struct {
	client *redis.Client
	prefix string
}

func NewRedisCooldown(client *redis.Client) *RedisCooldown {
	return &RedisCooldown{client: client, prefix: "sslmon:cooldown:"}
}

func (c *RedisCooldown) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, time.Duration, error) {
	if ttl <= 0 {
		return true, 0, nil
	}

	k := c.prefix + key
	ok, err := c.client.SetNX(ctx, k, 1, ttl).Result()
	if err != nil {
		return false, 0, err
	}
	if ok {
		return true, 0, nil
	}

	left, err := c.client.PTTL(ctx, k).Result()
	if err != nil {
		return false, 0, err
	}
	if left < 0 {
		// key vanished between the two calls
		left = 0
	}
	return false, left, nil
}
