package rateLimit

import (
	"context"
	"time"

	redisadapter "github.com/giginhq/gig-settlement/internal/adapters/redis"
)

// Limit is a fixed-window request budget. Transitions that reach the payment
// processor get a tighter budget than plain reads.
type Limit struct {
	Rate   int
	Period time.Duration
}

var (
	ReadLimit   = Limit{Rate: 120, Period: time.Minute}
	WriteLimit  = Limit{Rate: 30, Period: time.Minute}
	AcceptLimit = Limit{Rate: 10, Period: time.Minute}
)

type RateLimiter struct {
	redis *redisadapter.Cache
}

func NewRateLimiter(redis *redisadapter.Cache) *RateLimiter {
	return &RateLimiter{redis: redis}
}

func (rl *RateLimiter) Allow(ctx context.Context, key string, lim Limit) bool {
	fullKey := "rl:" + key

	pipe := rl.redis.Client().Pipeline()
	incr := pipe.Incr(ctx, fullKey)
	pipe.Expire(ctx, fullKey, lim.Period)

	_, err := pipe.Exec(ctx)
	if err != nil {
		return false
	}

	return incr.Val() <= int64(lim.Rate)
}
