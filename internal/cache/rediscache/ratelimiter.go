package rediscache

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const submitLimitPrefix = "feedback:ratelimit:"

// Quota is the outcome of one submission attempt against the client's window.
type Quota struct {
	Allowed    bool
	Used       int64
	Limit      int64
	RetryAfter time.Duration
}

// SubmitLimiter считает отправки фидбэка с одного клиента в фиксированных окнах,
// выровненных по времени: окно минуты 12:00 заканчивается ровно в 12:01.
type SubmitLimiter struct {
	c      *redis.Client
	limit  int64
	window time.Duration
}

// NewSubmitLimiter: limit <= 0 turns the limiter off.
func NewSubmitLimiter(c *redis.Client, limit int64, window time.Duration) *SubmitLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &SubmitLimiter{c: c, limit: limit, window: window}
}

func (l *SubmitLimiter) Enabled() bool {
	return l != nil && l.limit > 0
}

func (l *SubmitLimiter) Allow(ctx context.Context, client string, at time.Time) (Quota, error) {
	q := Quota{Allowed: true, Limit: l.limit}
	if !l.Enabled() {
		return q, nil
	}

	start := at.Truncate(l.window)
	end := start.Add(l.window)
	key := submitLimitPrefix + client + ":" + strconv.FormatInt(start.Unix(), 10)

	pipe := l.c.TxPipeline()
	incr := pipe.Incr(ctx, key)
	// запас на расхождение часов API и Redis
	pipe.Expire(ctx, key, l.window+time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return q, errors.Wrapf(err, "count submissions of %s", client)
	}

	q.Used = incr.Val()
	if q.Used > l.limit {
		q.Allowed = false
		q.RetryAfter = end.Sub(at)
	}
	return q, nil
}
