package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// RunLimiter throttles run creation per tenant so a misbehaving client
// cannot flood the queue. Allow errs on the side of admission: limiter
// backend failures admit the request.
type RunLimiter interface {
	Allow(ctx context.Context, tenantID string) (bool, error)
}

// redisTokenBucketScript handles the token bucket atomically in Redis.
// KEYS[1] = bucket key (e.g. "run_limit:tenant-a")
// ARGV[1] = refill rate (tokens per second)
// ARGV[2] = capacity (max tokens)
// ARGV[3] = current unix timestamp (seconds, floating point)
var redisTokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = tokens + elapsed * rate
    if tokens > capacity then
        tokens = capacity
    end
    last_refill = now
end

local allowed = 0
if tokens >= 1 then
    tokens = tokens - 1
    allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 120)

return allowed
`)

// RedisRunLimiter implements RunLimiter on a shared Redis, so the limit holds
// across API replicas.
type RedisRunLimiter struct {
	client    *redis.Client
	perMinute int
}

// NewRedisRunLimiter connects to addr and allows perMinute run creations per
// tenant.
func NewRedisRunLimiter(addr string, perMinute int) *RedisRunLimiter {
	return &RedisRunLimiter{
		client:    redis.NewClient(&redis.Options{Addr: addr}),
		perMinute: perMinute,
	}
}

// Allow executes the token-bucket script for the tenant.
func (l *RedisRunLimiter) Allow(ctx context.Context, tenantID string) (bool, error) {
	key := fmt.Sprintf("run_limit:%s", tenantID)
	refill := float64(l.perMinute) / 60.0
	if refill <= 0 {
		refill = 1.0
	}
	now := float64(time.Now().UnixMicro()) / 1e6
	result, err := redisTokenBucketScript.Run(ctx, l.client, []string{key},
		refill, l.perMinute, now).Int64()
	if err != nil {
		return true, fmt.Errorf("redis limiter error: %w", err)
	}
	return result == 1, nil
}

// LocalRunLimiter is the single-process fallback when no Redis is configured.
type LocalRunLimiter struct {
	mu        sync.Mutex
	perMinute int
	limiters  map[string]*rate.Limiter
}

// NewLocalRunLimiter allows perMinute run creations per tenant in-process.
func NewLocalRunLimiter(perMinute int) *LocalRunLimiter {
	return &LocalRunLimiter{
		perMinute: perMinute,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Allow implements RunLimiter.
func (l *LocalRunLimiter) Allow(_ context.Context, tenantID string) (bool, error) {
	l.mu.Lock()
	limiter, ok := l.limiters[tenantID]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(float64(l.perMinute)/60.0), l.perMinute)
		l.limiters[tenantID] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow(), nil
}
