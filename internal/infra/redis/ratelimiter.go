package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/batch-engine/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLimitPerSec = 100
	rateLimitKeyPrefix = "ratelimit:operation:"
	windowMillis       = 1000
	minWait            = 5 * time.Millisecond
)

// Fixed one-second window counter. Returns {allowed, remaining window ms}.
var windowScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
local ttl = redis.call("PTTL", KEYS[1])
if current > tonumber(ARGV[1]) then
  return {0, ttl}
end
return {1, ttl}
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter caps calls per second into each operation type across every
// process sharing the Redis instance. Operation types may carry their own budget.
type RedisRateLimiter struct {
	client *goredis.Client
	limits ratelimit.Limits
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewRedisRateLimiter(client *goredis.Client, limits ratelimit.Limits) (*RedisRateLimiter, error) {
	return newRedisRateLimiter(client, limits, time.Now, sleepWithContext)
}

func newRedisRateLimiter(
	client *goredis.Client,
	limits ratelimit.Limits,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limits.Default <= 0 {
		limits.Default = defaultLimitPerSec
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &RedisRateLimiter{
		client: client,
		limits: limits,
		now:    nowFn,
		sleep:  sleepFn,
	}, nil
}

func (r *RedisRateLimiter) Allow(ctx context.Context, operationType string) (bool, error) {
	allowed, _, err := r.take(ctx, operationType)
	return allowed, err
}

// Wait blocks until a call for operationType is allowed or ctx is done. A
// rejected call sleeps until the current window expires.
func (r *RedisRateLimiter) Wait(ctx context.Context, operationType string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		allowed, retryIn, err := r.take(ctx, operationType)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}
		if err := r.sleep(ctx, retryIn); err != nil {
			return err
		}
	}
}

func (r *RedisRateLimiter) take(ctx context.Context, operationType string) (bool, time.Duration, error) {
	if r == nil || r.client == nil {
		return false, 0, fmt.Errorf("rate limiter is not initialized")
	}

	key := ratelimit.NormalizeKey(operationType)
	if key == "" {
		return false, 0, fmt.Errorf("operation type is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	window := r.now().UTC().Unix()
	redisKey := fmt.Sprintf("%s%s:%d", rateLimitKeyPrefix, key, window)
	reply, err := windowScript.Run(ctx, r.client, []string{redisKey}, r.limits.For(key), windowMillis).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("failed to evaluate rate limit: %w", err)
	}
	if len(reply) != 2 {
		return false, 0, fmt.Errorf("unexpected rate limit reply %v", reply)
	}

	retryIn := max(time.Duration(reply[1])*time.Millisecond, minWait)
	return reply[0] == 1, retryIn, nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
