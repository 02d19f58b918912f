package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "querygenie:"

// RedisStore keeps slots as plain string keys without expiry.
type RedisStore struct {
	rdb *redis.Client
}

// OpenRedisStore connects to the server in rawURL and pings it.
func OpenRedisStore(ctx context.Context, rawURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", opts.Addr, err)
	}
	return NewRedisStore(rdb), nil
}

// NewRedisStore wraps an existing client. Close closes the client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Get(ctx context.Context, slot string) (string, error) {
	v, err := s.rdb.Get(ctx, redisKeyPrefix+slot).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", slot, err)
	}
	return v, nil
}

func (s *RedisStore) Set(ctx context.Context, slot, value string) error {
	return s.rdb.Set(ctx, redisKeyPrefix+slot, value, 0).Err()
}

func (s *RedisStore) Remove(ctx context.Context, slot string) error {
	return s.rdb.Del(ctx, redisKeyPrefix+slot).Err()
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
