package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// RedisStore is the Redis-backed cache, used when CACHE_URL is configured so
// that multiple replicas share one cache. Any Redis failure degrades to a
// cache miss — errors are logged, never returned.
type RedisStore struct {
	client *redis.Client
	group  singleflight.Group
}

// NewRedisStore connects to Redis using a redis:// URL. The connection is
// verified with a short ping so a bad CACHE_URL fails at startup rather than
// silently degrading every request.
func NewRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// Get returns the cached value, treating every Redis error as a miss.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool) {
	v, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("cache get failed", "key", key, "error", err)
		}
		return nil, false
	}
	return v, true
}

// Set stores a value with the given TTL, best-effort.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		slog.Warn("cache set failed", "key", key, "error", err)
	}
}

// Delete removes a key, best-effort.
func (s *RedisStore) Delete(ctx context.Context, key string) {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		slog.Warn("cache delete failed", "key", key, "error", err)
	}
}

// GetOrFetch implements the memoized fetch. The singleflight group bounds
// concurrent fetches within this process; cross-replica duplication is
// accepted (writes are idempotent, last-writer-wins).
func (s *RedisStore) GetOrFetch(ctx context.Context, key string, cat Category, fetch FetchFunc) ([]byte, error) {
	if v, ok := s.Get(ctx, key); ok {
		return v, nil
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		if v, ok := s.Get(ctx, key); ok {
			return v, nil
		}
		value, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		if value != nil {
			s.Set(ctx, key, value, TTL(cat))
		}
		return value, nil
	})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.([]byte), nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error { return s.client.Close() }

var _ Store = (*RedisStore)(nil)
