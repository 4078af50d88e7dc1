package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// The window starts on the first hit. A key left without expiry is repaired
// so a counter can never live forever.
var redisIncrScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RedisLimiter implements a fixed-window counter store backed by Redis.
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisLimiter constructs a RedisLimiter.
func NewRedisLimiter(client redis.UniversalClient, prefix string) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		prefix: strings.TrimSpace(prefix),
	}
}

// Increment runs the INCR script and returns the count and remaining TTL.
func (l *RedisLimiter) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if l == nil || l.client == nil {
		return 0, 0, errors.New("rate limit redis: nil client")
	}
	if window <= 0 {
		window = time.Second
	}
	res, errEval := redisIncrScript.Run(ctx, l.client, []string{l.buildKey(key)}, window.Milliseconds()).Result()
	if errEval != nil {
		return 0, 0, errEval
	}
	values, ok := res.([]interface{})
	if !ok || len(values) != 2 {
		return 0, 0, fmt.Errorf("rate limit redis: unexpected response %T", res)
	}
	count, okCount := toInt64(values[0])
	ttlMS, okTTL := toInt64(values[1])
	if !okCount || !okTTL {
		return 0, 0, errors.New("rate limit redis: unexpected response type")
	}
	return count, time.Duration(ttlMS) * time.Millisecond, nil
}

// Get returns the current count for key.
func (l *RedisLimiter) Get(ctx context.Context, key string) (int64, error) {
	if l == nil || l.client == nil {
		return 0, errors.New("rate limit redis: nil client")
	}
	count, errGet := l.client.Get(ctx, l.buildKey(key)).Int64()
	if errors.Is(errGet, redis.Nil) {
		return 0, nil
	}
	if errGet != nil {
		return 0, errGet
	}
	return count, nil
}

// Delete removes key.
func (l *RedisLimiter) Delete(ctx context.Context, key string) error {
	if l == nil || l.client == nil {
		return errors.New("rate limit redis: nil client")
	}
	return l.client.Del(ctx, l.buildKey(key)).Err()
}

func (l *RedisLimiter) buildKey(key string) string {
	if l.prefix == "" {
		return key
	}
	return l.prefix + ":" + key
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case uint64:
		return int64(n), true
	default:
		return 0, false
	}
}
