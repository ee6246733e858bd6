package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/yungbote/arfor-backend/internal/platform/logger"
)

// Limiter admits at most Limit events per Window for each key.
type Limiter interface {
	// Allow consumes one slot for key. When denied, retryAfter is how long
	// until a slot frees up.
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
}

type LimitRule struct {
	Name   string
	Limit  int
	Window time.Duration
}

// redisLimiter is a fixed-window counter shared by every process pointed at
// the same Redis.
type redisLimiter struct {
	log  *logger.Logger
	rdb  goredis.UniversalClient
	rule LimitRule
}

func NewRedisLimiter(log *logger.Logger, rdb goredis.UniversalClient, rule LimitRule) Limiter {
	return &redisLimiter{log: log.With("service", "RedisLimiter", "rule", rule.Name), rdb: rdb, rule: rule}
}

func (l *redisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	k := fmt.Sprintf("arfor:ratelimit:%s:%s", l.rule.Name, key)
	n, err := l.rdb.Incr(ctx, k).Result()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit %s: %w", l.rule.Name, err)
	}
	if n == 1 {
		if err := l.rdb.PExpire(ctx, k, l.rule.Window).Err(); err != nil {
			return false, 0, fmt.Errorf("rate limit %s expire: %w", l.rule.Name, err)
		}
	}
	if n <= int64(l.rule.Limit) {
		return true, 0, nil
	}
	wait, err := l.rdb.PTTL(ctx, k).Result()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit %s ttl: %w", l.rule.Name, err)
	}
	if wait <= 0 {
		// A counter without expiry would deny forever.
		l.log.Warn("Rate limit key had no expiry, resetting window", "key", k)
		_ = l.rdb.PExpire(ctx, k, l.rule.Window).Err()
		wait = l.rule.Window
	}
	return false, wait, nil
}

// localLimiter keeps one token bucket per key in process. It is used when
// Redis is not configured, so limits are per instance.
type localLimiter struct {
	rule LimitRule
	now  func() time.Time

	mu      sync.Mutex
	buckets map[string]*localBucket
	swept   time.Time
}

type localBucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func NewLocalLimiter(rule LimitRule) Limiter {
	return &localLimiter{rule: rule, now: time.Now, buckets: map[string]*localBucket{}, swept: time.Now()}
}

func (l *localLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.swept) > l.rule.Window {
		for k, b := range l.buckets {
			if now.Sub(b.seen) > l.rule.Window {
				delete(l.buckets, k)
			}
		}
		l.swept = now
	}

	b, ok := l.buckets[key]
	if !ok {
		every := l.rule.Window / time.Duration(max(l.rule.Limit, 1))
		b = &localBucket{lim: rate.NewLimiter(rate.Every(every), max(l.rule.Limit, 1))}
		l.buckets[key] = b
	}
	b.seen = now
	if b.lim.AllowN(now, 1) {
		return true, 0, nil
	}
	r := b.lim.ReserveN(now, 1)
	wait := r.DelayFrom(now)
	r.CancelAt(now)
	return false, wait, nil
}

// NewLimiter picks the shared Redis limiter when a client is available.
func NewLimiter(log *logger.Logger, rdb goredis.UniversalClient, rule LimitRule) Limiter {
	if rdb == nil {
		return NewLocalLimiter(rule)
	}
	return NewRedisLimiter(log, rdb, rule)
}
