// Package snapcache mirrors the latest session snapshot and score to Redis so
// dashboards can read them without touching the bus.
package snapcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/loqalabs/loqa-coach/internal/config"
	"github.com/loqalabs/loqa-coach/internal/session"
)

// Store is the subset of the Redis client the cache needs.
type Store interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type Cache struct {
	store  Store
	prefix string
	ttl    time.Duration
}

// NewClient builds a Redis client from cfg.
func NewClient(cfg config.CacheConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func New(store Store, prefix string, ttl time.Duration) *Cache {
	if prefix == "" {
		prefix = "coach"
	}
	return &Cache{store: store, prefix: prefix, ttl: ttl}
}

func (c *Cache) feedbackKey(sessionID string) string {
	return fmt.Sprintf("%s:session:%s:feedback", c.prefix, sessionID)
}

func (c *Cache) scoreKey(sessionID string) string {
	return fmt.Sprintf("%s:session:%s:score", c.prefix, sessionID)
}

func (c *Cache) PutFeedback(ctx context.Context, fb session.Feedback) error {
	return c.set(ctx, c.feedbackKey(fb.SessionID), fb)
}

func (c *Cache) PutCompletion(ctx context.Context, cmp session.Completion) error {
	return c.set(ctx, c.scoreKey(cmp.SessionID), cmp)
}

// Feedback returns the cached snapshot. ok is false on a miss.
func (c *Cache) Feedback(ctx context.Context, sessionID string) (fb session.Feedback, ok bool, err error) {
	ok, err = c.get(ctx, c.feedbackKey(sessionID), &fb)
	return fb, ok, err
}

// Completion returns the cached final result. ok is false on a miss.
func (c *Cache) Completion(ctx context.Context, sessionID string) (cmp session.Completion, ok bool, err error) {
	ok, err = c.get(ctx, c.scoreKey(sessionID), &cmp)
	return cmp, ok, err
}

func (c *Cache) Delete(ctx context.Context, sessionID string) error {
	return c.store.Del(ctx, c.feedbackKey(sessionID), c.scoreKey(sessionID)).Err()
}

func (c *Cache) set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value: %w", err)
	}
	if err := c.store.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

func (c *Cache) get(ctx context.Context, key string, dest any) (bool, error) {
	val, err := c.store.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}
