package challenge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps challenges in redis with PX expiry.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore constructs a RedisStore.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: strings.TrimSpace(prefix)}
}

func (s *RedisStore) key(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}

// Put stores value under key for ttl.
func (s *RedisStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("challenge: non-positive ttl %s", ttl)
	}
	if errSet := s.client.Set(ctx, s.key(key), value, ttl).Err(); errSet != nil {
		return fmt.Errorf("%w: %v", ErrBackend, errSet)
	}
	return nil
}

// Get reads key without consuming it.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, errGet := s.client.Get(ctx, s.key(key)).Bytes()
	if errGet != nil {
		if errors.Is(errGet, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrBackend, errGet)
	}
	return data, nil
}

// Take reads and deletes key with GETDEL.
func (s *RedisStore) Take(ctx context.Context, key string) ([]byte, error) {
	data, errGet := s.client.GetDel(ctx, s.key(key)).Bytes()
	if errGet != nil {
		if errors.Is(errGet, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrBackend, errGet)
	}
	return data, nil
}

// Delete removes key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if errDel := s.client.Del(ctx, s.key(key)).Err(); errDel != nil {
		return fmt.Errorf("%w: %v", ErrBackend, errDel)
	}
	return nil
}
