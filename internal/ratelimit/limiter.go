// Package ratelimit limits requests per client, in Redis when configured and
// in process otherwise.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// LimitResult is the outcome of a rate limit check.
type LimitResult struct {
	Allowed    bool
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Limiter performs sliding-window rate limiting backed by Redis sorted sets,
// falling back to in-process token buckets.
type Limiter struct {
	rdb   redis.Scripter
	local *localLimiter
	now   func() time.Time
}

// NewLimiter creates a new rate limiter. If rdb is nil, limits are kept in
// process.
func NewLimiter(rdb redis.Scripter) *Limiter {
	return &Limiter{rdb: rdb, local: newLocalLimiter(), now: time.Now}
}

// slidingWindowScript atomically: removes expired entries, adds current, counts.
// KEYS[1] = sorted set key
// ARGV[1] = window start (unix micro)
// ARGV[2] = now (unix micro), used as both score and member uniqueness
// ARGV[3] = limit
// ARGV[4] = TTL seconds for the key
// Returns: [current_count, 1=allowed/0=denied, oldest_score]
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local window_start = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)
local count = redis.call('ZCARD', key)

local allowed = 0
if count < limit then
    redis.call('ZADD', key, now, now .. ':' .. math.random(1000000))
    count = count + 1
    allowed = 1
end
redis.call('EXPIRE', key, ttl)

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local oldest_score = now
if oldest[2] then
    oldest_score = tonumber(oldest[2])
end
return {count, allowed, oldest_score}
`)

// Check performs a rate limit check.
// key: the rate limit bucket identifier
// limit: maximum allowed requests in the window
// window: the window duration
func (l *Limiter) Check(ctx context.Context, key string, limit int64, window time.Duration) (LimitResult, error) {
	now := l.now()
	if l.rdb == nil {
		return l.local.check(key, limit, window, now), nil
	}

	windowStart := now.Add(-window).UnixMicro()
	ttlSecs := int64(window.Seconds()) + 1
	redisKey := fmt.Sprintf("bridge:rl:%s", key)

	result, err := slidingWindowScript.Run(ctx, l.rdb, []string{redisKey},
		windowStart, now.UnixMicro(), limit, ttlSecs,
	).Int64Slice()
	if err != nil || len(result) < 3 {
		slog.Warn("redis rate limit check failed, using local limiter", "error", err)
		return l.local.check(key, limit, window, now), nil
	}

	count := result[0]
	allowed := result[1] == 1
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}

	// The window frees a slot when its oldest entry expires.
	resetAt := time.UnixMicro(result[2]).Add(window)
	var retryAfter time.Duration
	if !allowed {
		retryAfter = resetAt.Sub(now)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
	}

	return LimitResult{
		Allowed:    allowed,
		Remaining:  remaining,
		ResetAt:    resetAt,
		RetryAfter: retryAfter,
	}, nil
}
