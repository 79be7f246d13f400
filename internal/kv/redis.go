package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Returns {1, value} when stored, {0, current} when the key already exists.
var setIfAbsentScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current then
    return {0, current}
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return {1, ARGV[1]}
`)

var deleteIfEqualsScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisStore is a Store shared by every process pointing at the same Redis.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, string, error) {
	ms := ttl.Milliseconds()
	if ms < 1 {
		ms = 1
	}

	res, err := setIfAbsentScript.Run(ctx, s.client, []string{key}, value, ms).Slice()
	if err != nil {
		return false, "", fmt.Errorf("set-if-absent %s: %w", key, err)
	}
	if len(res) != 2 {
		return false, "", fmt.Errorf("set-if-absent %s: unexpected reply %v", key, res)
	}

	stored, _ := res[0].(int64)
	current, _ := res[1].(string)
	return stored == 1, current, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("getting %s: %w", key, err)
	}
	return v, true, nil
}

func (s *RedisStore) DeleteIfEquals(ctx context.Context, key, value string) error {
	if err := deleteIfEqualsScript.Run(ctx, s.client, []string{key}, value).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
