package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces keys when none is configured.
const DefaultKeyPrefix = "default"

// RedisKey returns the Redis key for a stored value.
// Pattern: beacon:{prefix}:{key}
func RedisKey(prefix, key string) string {
	return fmt.Sprintf("beacon:%s:%s", prefix, key)
}

// RedisStore keeps values as plain Redis strings under a namespaced key.
// It is safe for concurrent use.
type RedisStore struct {
	rdb           *redis.Client
	prefix        string
	maxValueBytes int
}

// NewRedisStore wraps a client built from redisOpts.
func NewRedisStore(redisOpts *redis.Options, prefix string, maxValueBytes int) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{
		rdb:           redis.NewClient(redisOpts),
		prefix:        prefix,
		maxValueBytes: maxValueBytes,
	}
}

// NewRedisStoreFromURL parses a redis:// URL.
func NewRedisStoreFromURL(url, prefix string, maxValueBytes int) (*RedisStore, error) {
	if url == "" {
		return nil, fmt.Errorf("redis url cannot be empty")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return NewRedisStore(opts, prefix, maxValueBytes), nil
}

// Ping verifies Redis connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.rdb.Get(ctx, RedisKey(s.prefix, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s from Redis: %w", key, err)
	}
	return v, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := checkSize(value, s.maxValueBytes); err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, RedisKey(s.prefix, key), value, 0).Err(); err != nil {
		// maxmemory reached on the server side
		if strings.HasPrefix(err.Error(), "OOM") {
			return fmt.Errorf("%w: %v", ErrCapacityExceeded, err)
		}
		return fmt.Errorf("failed to write %s to Redis: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, RedisKey(s.prefix, key)).Err(); err != nil {
		return fmt.Errorf("failed to delete %s from Redis: %w", key, err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
