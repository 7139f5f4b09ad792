// Package ratelimit implements the rate limiter and brute-force defenses
// of §4.9: the login fixed-window counter and a set of per-route token
// buckets. Every limiter is soft and gates only control-plane endpoints —
// none may hold the resolver's hot redirect path.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shortlinkhq/shortlink/internal/apperr"
	"github.com/shortlinkhq/shortlink/internal/cache"
)

// LoginWindow and LoginThreshold are the fixed-window login-attempt
// parameters from §4.5/§4.9: 5 failures within 15 minutes.
const (
	LoginWindow    = 15 * time.Minute
	LoginThreshold = 5
)

// LoginCounter implements the fixed-window counter at
// login:attempt:{email}:{ip}, built directly on the KV cache's Redis
// client (a raw INCR+EXPIRE pair, not JSON get/set, so it lives beside
// cache.Cache rather than inside it).
type LoginCounter struct {
	rdb *redis.Client
}

// NewLoginCounter builds a LoginCounter over the same redis client the KV
// cache uses.
func NewLoginCounter(rdb *redis.Client) *LoginCounter {
	return &LoginCounter{rdb: rdb}
}

// Check reports whether email+ip is still under the login threshold.
func (l *LoginCounter) Check(ctx context.Context, email, ip string) error {
	key := cache.LoginAttemptKey(email, ip)
	count, err := l.rdb.Get(ctx, key).Int()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("checking login attempt counter: %w", err)
	}
	if count >= LoginThreshold {
		ttl, err := l.rdb.TTL(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("reading login attempt TTL: %w", err)
		}
		retryAfter := int(ttl.Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		return apperr.RateLimited("too many login attempts", retryAfter)
	}
	return nil
}

// RecordFailure increments the counter, setting the window TTL on first
// increment.
func (l *LoginCounter) RecordFailure(ctx context.Context, email, ip string) error {
	key := cache.LoginAttemptKey(email, ip)
	n, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("recording login failure: %w", err)
	}
	if n == 1 {
		if err := l.rdb.Expire(ctx, key, LoginWindow).Err(); err != nil {
			return fmt.Errorf("setting login attempt window: %w", err)
		}
	}
	return nil
}

// Clear resets the counter, called on successful login.
func (l *LoginCounter) Clear(ctx context.Context, email, ip string) error {
	if err := l.rdb.Del(ctx, cache.LoginAttemptKey(email, ip)).Err(); err != nil {
		return fmt.Errorf("clearing login attempt counter: %w", err)
	}
	return nil
}
