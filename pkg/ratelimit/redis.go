package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript runs the token bucket atomically in Redis.
// KEYS[1] = bucket key
// ARGV[1] = refill rate (tokens per second)
// ARGV[2] = capacity (max tokens)
// ARGV[3] = current unix timestamp (seconds, fractional)
// Returns {allowed, wait_ms}: wait_ms is how long until one token is
// available when denied.
var tokenBucketScript = redis.NewScript(`
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
local wait_ms = 0
if tokens >= 1 then
    tokens = tokens - 1
    allowed = 1
else
    wait_ms = math.ceil((1 - tokens) / rate * 1000)
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, math.max(60, math.ceil(capacity / rate)))

return {allowed, wait_ms}
`)

// RedisStore is a Redis-backed keyed token bucket for multi-instance
// deployments. Scope namespaces the keys so independent limiters do
// not collide on the same Redis database.
type RedisStore struct {
	client *redis.Client
	scope  string
	rate   float64 // tokens per second
	burst  int
}

// NewRedisStore builds a Redis-backed limiter for the quota.
func NewRedisStore(client *redis.Client, scope string, q Quota) (*RedisStore, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return &RedisStore{
		client: client,
		scope:  scope,
		rate:   float64(q.Times) / q.window().Seconds(),
		burst:  int(q.Times),
	}, nil
}

// Allow executes the Lua script to check and update the bucket.
func (s *RedisStore) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	bucketKey := fmt.Sprintf("ratelimit:%s:%s", s.scope, key)
	now := float64(time.Now().UnixMicro()) / 1e6

	res, err := tokenBucketScript.Run(ctx, s.client, []string{bucketKey}, s.rate, s.burst, now).Result()
	if err != nil {
		return false, 0, fmt.Errorf("redis limiter: %w", err)
	}

	results, ok := res.([]interface{})
	if !ok || len(results) != 2 {
		return false, 0, fmt.Errorf("redis limiter: unexpected script result %v", res)
	}
	allowed, _ := results[0].(int64)
	waitMs, _ := results[1].(int64)

	return allowed == 1, time.Duration(waitMs) * time.Millisecond, nil
}
