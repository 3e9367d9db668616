package ratelimit

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// hitScript increments the counter, arms its expiry on the first hit and
// returns the count with the remaining window in milliseconds.
var hitScript = goredis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {n, redis.call("PTTL", KEYS[1])}
`)

// RedisLimiter shares attempt counters between instances.
type RedisLimiter struct {
	client goredis.UniversalClient
	prefix string
}

func NewRedisLimiter(client goredis.UniversalClient, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "tenancy:"
	}
	return &RedisLimiter{client: client, prefix: prefix}
}

func (l *RedisLimiter) Hit(ctx context.Context, key string, decay time.Duration) (int, time.Duration, error) {
	ms := decay.Milliseconds()
	if ms <= 0 {
		ms = 1
	}
	vals, err := hitScript.Run(ctx, l.client, []string{l.prefix + key}, ms).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("hit %s: %w", key, err)
	}
	if len(vals) != 2 {
		return 0, 0, fmt.Errorf("hit %s: unexpected reply %v", key, vals)
	}
	retryAfter := time.Duration(vals[1]) * time.Millisecond
	if retryAfter <= 0 {
		retryAfter = decay
	}
	return int(vals[0]), retryAfter, nil
}

func (l *RedisLimiter) Clear(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, l.prefix+key).Err(); err != nil {
		return fmt.Errorf("clear %s: %w", key, err)
	}
	return nil
}
