package security

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const blocklistKeyPrefix = "jwtauth:blocklist:"

// RedisBlocklist stores invalidated token ids in Redis with a TTL, so entries
// disappear when the token would have expired anyway. Safe to share across
// server instances.
type RedisBlocklist struct {
	client *redis.Client
}

// NewRedisBlocklist returns a Blocklist backed by the given Redis client.
func NewRedisBlocklist(client *redis.Client) *RedisBlocklist {
	return &RedisBlocklist{client: client}
}

// Add records jti for ttl. A non-positive ttl is a no-op.
func (b *RedisBlocklist) Add(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return b.client.Set(ctx, blocklistKeyPrefix+jti, "1", ttl).Err()
}

// Contains reports whether jti has been invalidated.
func (b *RedisBlocklist) Contains(ctx context.Context, jti string) (bool, error) {
	n, err := b.client.Exists(ctx, blocklistKeyPrefix+jti).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MemoryBlocklist is an in-process Blocklist for single-instance deployments
// and tests. Expired entries are purged lazily on access.
type MemoryBlocklist struct {
	mu      sync.Mutex
	expires map[string]time.Time
}

// NewMemoryBlocklist returns an empty in-process blocklist.
func NewMemoryBlocklist() *MemoryBlocklist {
	return &MemoryBlocklist{expires: make(map[string]time.Time)}
}

// Add records jti for ttl. A non-positive ttl is a no-op.
func (b *MemoryBlocklist) Add(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expires[jti] = time.Now().Add(ttl)
	return nil
}

// Contains reports whether jti has been invalidated and is not yet expired.
func (b *MemoryBlocklist) Contains(ctx context.Context, jti string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	exp, ok := b.expires[jti]
	if !ok {
		return false, nil
	}
	if time.Now().After(exp) {
		delete(b.expires, jti)
		return false, nil
	}
	return true, nil
}
