package rateLimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robertarktes/seat-reservations/internal/observability"
)

// RateLimiter is a fixed-window counter per key. It fails open: when redis
// cannot be reached every request is allowed.
type RateLimiter struct {
	client *redis.Client
	log    observability.Logger
}

func NewRateLimiter(client *redis.Client, log observability.Logger) *RateLimiter {
	if log == nil {
		log = observability.NewNopLogger()
	}
	return &RateLimiter{client: client, log: log}
}

func (rl *RateLimiter) Allow(ctx context.Context, key string, rate int, period time.Duration) bool {
	if rl == nil || rl.client == nil || rate <= 0 {
		return true
	}
	fullKey := "rl:" + key

	pipe := rl.client.TxPipeline()
	incr := pipe.Incr(ctx, fullKey)
	pipe.ExpireNX(ctx, fullKey, period)

	if _, err := pipe.Exec(ctx); err != nil {
		rl.log.WithError(err).Warn("rate limit check")
		return true
	}

	if incr.Val() > int64(rate) {
		observability.RateLimitExceeded.Inc()
		return false
	}
	return true
}
