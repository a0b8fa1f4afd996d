// Package cache holds the ephemeral context window and single-flight
// locks. Both are backed by Redis in production and plain maps in tests.
// The durable message log remains the source of truth; anything here may
// vanish at any time.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/haasonsaas/concierge/internal/observability"
	"github.com/haasonsaas/concierge/pkg/models"
)

// ContextCache stores the rolling message list for a session. The cached
// list always has the system prompt as element zero. A miss is not an
// error: callers rebuild from the message log and re-populate.
type ContextCache interface {
	Get(ctx context.Context, sessionID string) ([]*models.Message, bool)
	Set(ctx context.Context, sessionID string, messages []*models.Message)
	Merge(ctx context.Context, sessionID string, delta []*models.Message)
	Clear(ctx context.Context, sessionID string)
}

const contextKeyPrefix = "concierge:ctx:"

// RedisContextCache is the Redis-backed context cache. Every failure
// degrades to a miss so an unavailable cache never blocks a turn.
type RedisContextCache struct {
	client  redis.UniversalClient
	ttl     time.Duration
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewRedisContextCache creates a context cache with the given TTL.
func NewRedisContextCache(client redis.UniversalClient, ttl time.Duration, logger *observability.Logger, metrics *observability.Metrics) *RedisContextCache {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisContextCache{client: client, ttl: ttl, logger: logger, metrics: metrics}
}

func (c *RedisContextCache) Get(ctx context.Context, sessionID string) ([]*models.Message, bool) {
	raw, err := c.client.Get(ctx, contextKeyPrefix+sessionID).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn(ctx, "context cache get failed", "session_id", sessionID, "error", err)
			c.record("error")
			return nil, false
		}
		c.record("miss")
		return nil, false
	}

	var messages []*models.Message
	if err := json.Unmarshal(raw, &messages); err != nil {
		c.logger.Warn(ctx, "context cache payload corrupt", "session_id", sessionID, "error", err)
		c.record("error")
		return nil, false
	}
	c.record("hit")
	return messages, true
}

func (c *RedisContextCache) Set(ctx context.Context, sessionID string, messages []*models.Message) {
	raw, err := json.Marshal(messages)
	if err != nil {
		c.logger.Warn(ctx, "context cache marshal failed", "session_id", sessionID, "error", err)
		return
	}
	if err := c.client.Set(ctx, contextKeyPrefix+sessionID, raw, c.ttl).Err(); err != nil {
		c.logger.Warn(ctx, "context cache set failed", "session_id", sessionID, "error", err)
		c.record("error")
	}
}

// Merge appends delta to the cached list. On miss the delta alone is not
// authoritative, so Merge is a no-op and the caller's next Set wins.
func (c *RedisContextCache) Merge(ctx context.Context, sessionID string, delta []*models.Message) {
	existing, ok := c.Get(ctx, sessionID)
	if !ok {
		return
	}
	c.Set(ctx, sessionID, append(existing, delta...))
}

func (c *RedisContextCache) Clear(ctx context.Context, sessionID string) {
	if err := c.client.Del(ctx, contextKeyPrefix+sessionID).Err(); err != nil {
		c.logger.Warn(ctx, "context cache clear failed", "session_id", sessionID, "error", err)
	}
}

func (c *RedisContextCache) record(outcome string) {
	if c.metrics != nil {
		c.metrics.RecordCacheLookup(outcome)
	}
}

// MemoryContextCache is a map-backed cache for tests and single-node runs.
type MemoryContextCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

type memoryEntry struct {
	messages  []*models.Message
	expiresAt time.Time
}

func NewMemoryContextCache(ttl time.Duration) *MemoryContextCache {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &MemoryContextCache{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *MemoryContextCache) Get(_ context.Context, sessionID string) ([]*models.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[sessionID]
	if !ok || c.now().After(entry.expiresAt) {
		delete(c.entries, sessionID)
		return nil, false
	}
	out := make([]*models.Message, len(entry.messages))
	copy(out, entry.messages)
	return out, true
}

func (c *MemoryContextCache) Set(_ context.Context, sessionID string, messages []*models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	copied := make([]*models.Message, len(messages))
	copy(copied, messages)
	c.entries[sessionID] = memoryEntry{messages: copied, expiresAt: c.now().Add(c.ttl)}
}

func (c *MemoryContextCache) Merge(ctx context.Context, sessionID string, delta []*models.Message) {
	existing, ok := c.Get(ctx, sessionID)
	if !ok {
		return
	}
	c.Set(ctx, sessionID, append(existing, delta...))
}

func (c *MemoryContextCache) Clear(_ context.Context, sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, sessionID)
}

// NewRedisClient builds a Redis client and verifies connectivity.
func NewRedisClient(ctx context.Context, url string) (redis.UniversalClient, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
