// Package ratelimit implements a Redis-backed fixed-window counter keyed
// by (wallet, window bucket). Counters live in Redis rather than process
// memory so limits survive restarts and hold across instances.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultWindow = time.Minute
	defaultLimit  = 10
)

type Config struct {
	Redis  redis.UniversalClient
	Prefix string
	Window time.Duration // defaults to one minute
	Limit  int64         // defaults to 10 per window
}

type Limiter struct {
	redis  redis.UniversalClient
	prefix string
	window time.Duration
	limit  int64

	now func() time.Time // test hook
}

func New(c Config) *Limiter {
	// A zero limit would reject everyone; unset config means defaults,
	// not lockout.
	if c.Window <= 0 {
		c.Window = defaultWindow
	}
	if c.Limit <= 0 {
		c.Limit = defaultLimit
	}

	return &Limiter{
		redis:  c.Redis,
		prefix: c.Prefix,
		window: c.Window,
		limit:  c.Limit,
		now:    time.Now,
	}
}

// Allow atomically counts one attempt for the wallet in the current
// window bucket and reports whether it is within the limit. The counter
// expires with the window, so abandoned buckets clean themselves up.
func (l *Limiter) Allow(ctx context.Context, wallet string) (bool, error) {
	key := l.key(wallet)

	n, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("ratelimit: incr: %w", err)
	}

	if n == 1 {
		if err := l.redis.Expire(ctx, key, l.window).Err(); err != nil {
			return false, fmt.Errorf("ratelimit: expire: %w", err)
		}
	}

	return n <= l.limit, nil
}

func (l *Limiter) key(wallet string) string {
	bucket := l.now().Unix() / int64(l.window.Seconds())
	return fmt.Sprintf("%s:%s:%d", l.prefix, wallet, bucket)
}
