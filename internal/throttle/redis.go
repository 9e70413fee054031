package throttle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "driftgate:throttle:"

// RedisLimiter enforces the same fixed-window semantics as Limiter but
// shares counters across replicas. Counters live in per-window redis keys
// that expire one width after their window ends.
//
// Unlike the in-memory limiter, rejected attempts still advance the redis
// counter (INCR-then-check); within one window that makes no observable
// difference because the counter never resets mid-window.
type RedisLimiter struct {
	cfg    Config
	client *redis.Client
	now    func() time.Time
}

// NewRedisLimiter wraps an existing redis client.
func NewRedisLimiter(cfg Config, client *redis.Client) *RedisLimiter {
	return &RedisLimiter{cfg: cfg, client: client, now: time.Now}
}

// Acquire records one attempt for scope, accepting only when every
// configured granularity is within limit+burst. Redis errors fail open: a
// broken shared limiter must not silence all notifications.
func (l *RedisLimiter) Acquire(ctx context.Context, scope string) bool {
	if !l.cfg.Enabled() {
		return true
	}
	now := l.now()

	for _, g := range granularities {
		limit := g.limit(l.cfg)
		if limit <= 0 {
			continue
		}
		key := fmt.Sprintf("%s%s:%s:%d", redisKeyPrefix, scope, g.name, now.Truncate(g.width).Unix())

		count, err := l.client.Incr(ctx, key).Result()
		if err != nil {
			slog.Warn("throttle: redis incr failed, failing open", "scope", scope, "err", err)
			return true
		}
		if count == 1 {
			l.client.Expire(ctx, key, 2*g.width)
		}
		if int(count) > limit+l.cfg.Burst {
			return false
		}
	}
	return true
}
