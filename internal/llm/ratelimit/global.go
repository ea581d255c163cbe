package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	llmerrors "github.com/ahrav/go-grader/internal/llm/errors"
)

const maxRetryAfterSeconds = 3600

// fixedWindow counts requests in a one-second window.
// Returns {1, remaining} when allowed or {0, pttl} when denied.
var fixedWindow = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current == false then
	redis.call('SET', KEYS[1], 1, 'PX', ARGV[1])
	return {1, tonumber(ARGV[2]) - 1}
end
local count = tonumber(current)
if count < tonumber(ARGV[2]) then
	local n = redis.call('INCR', KEYS[1])
	if redis.call('PTTL', KEYS[1]) == -1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return {1, tonumber(ARGV[2]) - n}
end
return {0, redis.call('PTTL', KEYS[1])}
`)

// checkGlobal enforces the shared window. Redis failures degrade to
// local-only limiting rather than blocking traffic.
func (l *Limiter) checkGlobal(ctx context.Context, provider, key string) error {
	if l.redis == nil || l.cfg.GlobalRequestsPerSecond == 0 {
		return nil
	}

	res, err := fixedWindow.Run(ctx, l.redis, []string{"rl:global:" + key},
		int64(time.Second/time.Millisecond), l.cfg.GlobalRequestsPerSecond).Int64Slice()
	if err != nil || len(res) != 2 {
		if !l.degraded.Swap(true) {
			l.logger.Warn("global rate limit unavailable, using local limits only", "error", err)
		}
		return nil
	}
	if l.degraded.Swap(false) {
		l.logger.Info("global rate limit restored")
	}

	if res[0] == 1 {
		return nil
	}

	retryAfter := int(res[1] / 1000)
	retryAfter = min(max(retryAfter, 1), maxRetryAfterSeconds)
	return &llmerrors.RateLimitError{
		Provider:   provider,
		RetryAfter: retryAfter,
		Limit:      l.cfg.GlobalRequestsPerSecond,
		LocalLimit: true,
	}
}

// Degraded reports whether the last global check fell back to local limits.
func (l *Limiter) Degraded() bool { return l.degraded.Load() }
