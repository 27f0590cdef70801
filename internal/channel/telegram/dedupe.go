package telegram

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper suppresses duplicate webhook deliveries by update id. This is a
// best-effort shield in front of the store's compare-and-set: a missed
// duplicate still resolves to Conflict, a cache outage never blocks a
// legitimate update.
type Deduper interface {
	// Seen records the update id and reports whether it was already present.
	Seen(ctx context.Context, updateID int64) (bool, error)
}

// RedisDeduper tracks update ids in Redis with a TTL, so multiple gateway
// replicas share one dedupe window.
type RedisDeduper struct {
	client redis.Cmdable
	ttl    time.Duration
}

var _ Deduper = (*RedisDeduper)(nil)

func NewRedisDeduper(client redis.Cmdable, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisDeduper{client: client, ttl: ttl}
}

func (d *RedisDeduper) Seen(ctx context.Context, updateID int64) (bool, error) {
	key := fmt.Sprintf("tg:update:%d", updateID)
	set, err := d.client.SetNX(ctx, key, 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe setnx: %w", err)
	}
	return !set, nil
}

// MemoryDeduper is the single-process fallback when Redis is not configured.
type MemoryDeduper struct {
	mu   sync.Mutex
	seen map[int64]time.Time
	ttl  time.Duration
}

var _ Deduper = (*MemoryDeduper)(nil)

func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryDeduper{seen: make(map[int64]time.Time), ttl: ttl}
}

func (d *MemoryDeduper) Seen(ctx context.Context, updateID int64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now()
	for id, at := range d.seen {
		if now.Sub(at) > d.ttl {
			delete(d.seen, id)
		}
	}
	if _, ok := d.seen[updateID]; ok {
		return true, nil
	}
	d.seen[updateID] = now
	return false, nil
}
