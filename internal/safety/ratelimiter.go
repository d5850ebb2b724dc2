// Package safety implements the Safety Layer (component F): sliding
// window rate limiting and abuse reporting with an auto-disconnect
// threshold.
package safety

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/minglr/match-relay/internal/store"
)

// rateLimitScript is the same sliding-window sorted-set scheme used
// elsewhere in the pack: evict anything older than the window, count
// what remains, admit if under the limit and record this attempt.
var rateLimitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

local windowStart = now - window

redis.call('ZREMRANGEBYSCORE', key, '-inf', windowStart)

local count = redis.call('ZCARD', key)

if count >= limit then
    return {0}
end

redis.call('ZADD', key, now, now .. '-' .. math.random())
redis.call('EXPIRE', key, window + 10)

return {1}
`)

// RateLimiter enforces a per-identifier sliding window. Unlike the
// fail-closed variant this scheme is traditionally built with, this
// limiter fails open: a Shared State Store outage must not take down
// matchmaking, so a Redis error allows the request through and only
// logs. This is an intentional inversion of the usual "deny for
// safety" stance.
type RateLimiter struct {
	store *store.Store
}

func NewRateLimiter(s *store.Store) *RateLimiter {
	return &RateLimiter{store: s}
}

// Allow reports whether a request tagged with identifier is within
// limit occurrences per window.
func (rl *RateLimiter) Allow(ctx context.Context, identifier string, limit int, window time.Duration) bool {
	key := store.RateLimitKey(identifier)

	result, err := rateLimitScript.Run(
		ctx,
		rl.store.Client,
		[]string{key},
		time.Now().UnixNano(),
		window.Nanoseconds(),
		limit,
	).Int64Slice()

	if err != nil {
		log.Warn().Err(err).Str("identifier", identifier).Msg("rate limit check failed, allowing request (fail open)")
		return true
	}

	if len(result) != 1 {
		log.Warn().Str("identifier", identifier).Msg("unexpected rate limit result, allowing request (fail open)")
		return true
	}

	return result[0] == 1
}
