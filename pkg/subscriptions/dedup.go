package subscriptions

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultDedupTTL covers the provider's redelivery window
const DefaultDedupTTL = 72 * time.Hour

// EventDeduper remembers processed webhook event ids
type EventDeduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID string) error
}

// RedisDeduper shares processed event ids across instances
type RedisDeduper struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisDeduper creates a RedisDeduper
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &RedisDeduper{client: client, prefix: "shiftbill:webhook:", ttl: ttl}
}

// Seen reports whether the event was already processed
func (d *RedisDeduper) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := d.client.Exists(ctx, d.prefix+eventID).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists failed: %w", err)
	}
	return n > 0, nil
}

// MarkProcessed records the event id until the TTL expires
func (d *RedisDeduper) MarkProcessed(ctx context.Context, eventID string) error {
	if err := d.client.SetNX(ctx, d.prefix+eventID, time.Now().UTC().Format(time.RFC3339), d.ttl).Err(); err != nil {
		return fmt.Errorf("redis setnx failed: %w", err)
	}
	return nil
}

// LRUDeduper keeps processed event ids in process memory
type LRUDeduper struct {
	cache *lru.LRU[string, struct{}]
}

// NewLRUDeduper creates an LRUDeduper holding up to size ids
func NewLRUDeduper(size int, ttl time.Duration) *LRUDeduper {
	if size <= 0 {
		size = 10000
	}
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &LRUDeduper{cache: lru.NewLRU[string, struct{}](size, nil, ttl)}
}

// Seen reports whether the event was already processed
func (d *LRUDeduper) Seen(_ context.Context, eventID string) (bool, error) {
	return d.cache.Contains(eventID), nil
}

// MarkProcessed records the event id
func (d *LRUDeduper) MarkProcessed(_ context.Context, eventID string) error {
	d.cache.Add(eventID, struct{}{})
	return nil
}

var (
	_ EventDeduper = (*RedisDeduper)(nil)
	_ EventDeduper = (*LRUDeduper)(nil)
)
