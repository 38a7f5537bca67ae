package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trunov/thumbhub/internal/entities"
)

// ErrMiss is returned when no status is cached for an object.
var ErrMiss = errors.New("cache miss")

// Cache keeps the latest RunRecord per source object so status lookups do
// not have to hit Postgres.
type Cache struct {
	Redis     redis.UniversalClient
	Namespace string
	TTL       time.Duration
}

// Create Redis connection
func NewCache(namespace string, redisCl redis.UniversalClient, ttl time.Duration) *Cache {
	return &Cache{
		Namespace: namespace,
		Redis:     redisCl,
		TTL:       ttl,
	}
}

func statusKey(bucket, key string) string {
	return bucket + "/" + key
}

// Get raw value from Redis
func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	val, err := c.Redis.Get(ctx, c.Namespace+":"+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	return val, err
}

// Store data to Redis
func (c *Cache) Store(ctx context.Context, key string, ttl time.Duration, value any) error {
	return c.Redis.Set(ctx, c.Namespace+":"+key, value, ttl).Err()
}

// Observe caches the record under its source bucket and key, replacing any
// earlier run of the same object.
func (c *Cache) Observe(ctx context.Context, rec entities.RunRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := c.Store(ctx, statusKey(rec.SourceBucket, rec.SourceKey), c.TTL, raw); err != nil {
		return fmt.Errorf("cache status %s/%s: %w", rec.SourceBucket, rec.SourceKey, err)
	}
	return nil
}

// Status returns the cached record for a decoded source key, or ErrMiss.
func (c *Cache) Status(ctx context.Context, bucket, key string) (entities.RunRecord, error) {
	var rec entities.RunRecord
	raw, err := c.Get(ctx, statusKey(bucket, key))
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return rec, fmt.Errorf("decode cached status: %w", err)
	}
	return rec, nil
}
