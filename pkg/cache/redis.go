package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	layerRedis = "redis"

	// scanBatch is the COUNT hint used when walking a namespace.
	scanBatch = 100
)

// RedisStore is a Store backed by Redis. Every key is written under the
// store's namespace, without TTL, so Purge can discard the whole session.
type RedisStore struct {
	redis     *redis.Client
	namespace string
}

// NewRedisStore creates a Redis-backed store scoped to namespace.
func NewRedisStore(redisClient *redis.Client, namespace string) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{
		redis:     redisClient,
		namespace: namespace,
	}
}

// Namespace returns the namespace all keys are written under.
func (s *RedisStore) Namespace() string {
	return s.namespace
}

// scoped forces the key into the store's namespace.
func (s *RedisStore) scoped(key CacheKey) string {
	key.Namespace = s.namespace
	return key.String()
}

// Get retrieves a cache entry by key.
// Returns ErrCacheMiss if the key doesn't exist.
func (s *RedisStore) Get(ctx context.Context, key CacheKey) (*Entry, error) {
	data, err := s.redis.Get(ctx, s.scoped(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			CacheMisses.WithLabelValues(layerRedis).Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	CacheHits.WithLabelValues(layerRedis).Inc()
	return &entry, nil
}

// Set stores a cache entry without TTL.
func (s *RedisStore) Set(ctx context.Context, key CacheKey, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := s.redis.Set(ctx, s.scoped(key), data, 0).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Len counts the keys of the namespace.
func (s *RedisStore) Len(ctx context.Context) (int, error) {
	n := 0
	err := s.scan(ctx, func(keys []string) error {
		n += len(keys)
		return nil
	})
	if err != nil {
		CacheErrors.WithLabelValues("len").Inc()
		return 0, err
	}
	return n, nil
}

// Purge deletes every key of the namespace.
func (s *RedisStore) Purge(ctx context.Context) error {
	err := s.scan(ctx, func(keys []string) error {
		if err := s.redis.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
		return nil
	})
	if err != nil {
		CacheErrors.WithLabelValues("purge").Inc()
		return err
	}
	return nil
}

// scan walks the namespace in batches.
func (s *RedisStore) scan(ctx context.Context, fn func(keys []string) error) error {
	pattern := namespacePattern(s.namespace)
	var cursor uint64
	for {
		keys, next, err := s.redis.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
