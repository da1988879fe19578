// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package access

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"
)

// RateDecision is the outcome of a burst check.
type RateDecision struct {
	Allowed    bool
	Limit      int
	RetryAfter time.Duration
}

// RateLimiter admits at most limit requests per window for a key.
//
// Implementations must be safe for concurrent use.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (RateDecision, error)
}

// =============================================================================
// In-process limiter
// =============================================================================

// MemoryRateLimiter keeps one token bucket per key, refilled evenly across
// the window with a burst equal to the limit. Suitable for a single replica.
// Idle buckets are dropped by SweepIdle.
type MemoryRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*bucket
	now      func() time.Time
}

type bucket struct {
	lim      *rate.Limiter
	window   time.Duration
	lastSeen time.Time
}

func NewMemoryRateLimiter() *MemoryRateLimiter {
	return &MemoryRateLimiter{limiters: make(map[string]*bucket), now: time.Now}
}

func (m *MemoryRateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (RateDecision, error) {
	if limit <= 0 {
		return RateDecision{Allowed: true}, nil
	}
	every := rate.Every(window / time.Duration(limit))

	m.mu.Lock()
	// The key carries the limit so a tier change gets a fresh bucket.
	bucketKey := fmt.Sprintf("%s/%d/%s", key, limit, window)
	now := m.now()
	b, ok := m.limiters[bucketKey]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(every, limit), window: window}
		m.limiters[bucketKey] = b
	}
	b.lastSeen = now
	lim := b.lim
	m.mu.Unlock()

	if lim.AllowN(now, 1) {
		return RateDecision{Allowed: true, Limit: limit}, nil
	}
	res := lim.ReserveN(now, 1)
	delay := res.DelayFrom(now)
	res.CancelAt(now)
	return RateDecision{Allowed: false, Limit: limit, RetryAfter: delay}, nil
}

// SweepIdle drops buckets unused for a full window. Such a bucket has
// refilled completely, so a fresh one behaves the same.
func (m *MemoryRateLimiter) SweepIdle(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for key, b := range m.limiters {
		if now.Sub(b.lastSeen) >= b.window {
			delete(m.limiters, key)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of live buckets.
func (m *MemoryRateLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.limiters)
}

// =============================================================================
// Redis sliding window
// =============================================================================

// slidingWindowScript keeps one sorted set per key whose members are request
// ids scored by arrival time in milliseconds. Entries older than the window
// are trimmed before counting, so the window slides with every request.
//
// Returns {allowed, retry_after_ms}.
const slidingWindowScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count < limit then
    redis.call('ZADD', key, now, member)
    redis.call('PEXPIRE', key, window)
    return {1, 0}
end

local retry = window
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if oldest[2] then
    retry = tonumber(oldest[2]) + window - now
end
return {0, math.max(retry, 1)}
`

// RedisRateLimiter is a sliding-window limiter shared by all replicas.
// When Redis is unavailable it fails open and logs the error.
type RedisRateLimiter struct {
	rdb    *redis.Client
	script *redis.Script
	prefix string
	now    func() time.Time
}

func NewRedisRateLimiter(rdb *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{
		rdb:    rdb,
		script: redis.NewScript(slidingWindowScript),
		prefix: "hearth:rate:",
		now:    time.Now,
	}
}

func (r *RedisRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (RateDecision, error) {
	if limit <= 0 {
		return RateDecision{Allowed: true}, nil
	}
	nowMs := r.now().UnixMilli()
	res, err := r.script.Run(ctx, r.rdb, []string{r.prefix + key},
		nowMs, window.Milliseconds(), limit, ulid.Make().String()).Result()
	if err != nil {
		slog.Warn("rate limiter unavailable, allowing request", "key", key, "error", err)
		return RateDecision{Allowed: true, Limit: limit}, nil
	}

	arr, ok := res.([]interface{})
	if !ok || len(arr) < 2 {
		return RateDecision{Allowed: true, Limit: limit}, nil
	}
	allowed, _ := arr[0].(int64)
	retryMs, _ := arr[1].(int64)
	if allowed == 1 {
		return RateDecision{Allowed: true, Limit: limit}, nil
	}
	retry := time.Duration(retryMs) * time.Millisecond
	return RateDecision{Allowed: false, Limit: limit, RetryAfter: retry}, nil
}

// RetryAfterSeconds rounds d up to whole seconds for a Retry-After header.
func RetryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}
