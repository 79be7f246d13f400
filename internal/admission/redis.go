package admission

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Increments the window counter, starting the window on the first hit, and
// returns {count, remaining window in ms}.
var fixedWindowScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
    ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisCounter shares windows between every process using the same Redis.
type RedisCounter struct {
	client *redis.Client
}

func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

func rlKey(key string) string {
	return fmt.Sprintf("rl:%s", key)
}

func (r *RedisCounter) Take(ctx context.Context, key string, limit int) (Decision, error) {
	res, err := fixedWindowScript.Run(ctx, r.client, []string{rlKey(key)}, Window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("running rate limit script: %w", err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("rate limit script: unexpected reply %v", res)
	}

	count, ttl := int(res[0]), time.Duration(res[1])*time.Millisecond
	if count > limit {
		return Decision{Allowed: false, Limit: limit, RetryAfter: ttl}, nil
	}
	return Decision{Allowed: true, Limit: limit, Remaining: limit - count}, nil
}
