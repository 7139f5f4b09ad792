package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/shortlinkhq/shortlink/internal/apperr"
)

// RouteLimiter is a keyed set of token buckets — one per distinct key
// (IP or user ID) — implementing the per-route limits of §4.9:
// general 1000/15min/IP, auth 10/15min/IP, password-reset 3/h/IP,
// link-creation 20/min/user.
type RouteLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	burst    int
	ttl      time.Duration
	lastSeen map[string]time.Time
}

// NewRouteLimiter builds a limiter allowing `limit` events per `per`
// duration per key, with a burst equal to the window's full allowance.
func NewRouteLimiter(limit int, per time.Duration) *RouteLimiter {
	r := rate.Every(per / time.Duration(limit))
	return &RouteLimiter{
		limiters: make(map[string]*rate.Limiter),
		lastSeen: make(map[string]time.Time),
		r:        r,
		burst:    limit,
		ttl:      per * 2,
	}
}

func (rl *RouteLimiter) limiterFor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.lastSeen[key] = time.Now()
	if l, ok := rl.limiters[key]; ok {
		return l
	}
	l := rate.NewLimiter(rl.r, rl.burst)
	rl.limiters[key] = l
	return l
}

// Allow reports whether key may proceed, returning a RATE_LIMITED error
// with retryAfter when it may not.
func (rl *RouteLimiter) Allow(key string) error {
	if rl.limiterFor(key).Allow() {
		return nil
	}
	retryAfter := int(rl.ttl.Seconds() / 2)
	if retryAfter < 1 {
		retryAfter = 1
	}
	return apperr.RateLimited("rate limit exceeded", retryAfter)
}

// Sweep drops entries idle longer than ttl, bounding memory growth. Call
// periodically from a background ticker.
func (rl *RouteLimiter) Sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := time.Now()
	for key, seen := range rl.lastSeen {
		if now.Sub(seen) > rl.ttl {
			delete(rl.lastSeen, key)
			delete(rl.limiters, key)
		}
	}
}

// KeyFromRequest extracts the client IP as the default keying strategy
// for IP-scoped limiters.
func KeyFromRequest(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	return r.RemoteAddr
}

// Set bundles the four §4.9 per-route limiters.
type Set struct {
	General       *RouteLimiter // 1000 / 15min / IP
	Auth          *RouteLimiter // 10 / 15min / IP
	PasswordReset *RouteLimiter // 3 / hour / IP
	LinkCreation  *RouteLimiter // 20 / min / user
}

// NewSet builds the standard §4.9 per-route limiter set.
func NewSet() *Set {
	return &Set{
		General:       NewRouteLimiter(1000, 15*time.Minute),
		Auth:          NewRouteLimiter(10, 15*time.Minute),
		PasswordReset: NewRouteLimiter(3, time.Hour),
		LinkCreation:  NewRouteLimiter(20, time.Minute),
	}
}

// StartSweeper runs Sweep on every limiter in the set every interval,
// until stop is closed.
func (s *Set) StartSweeper(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.General.Sweep()
				s.Auth.Sweep()
				s.PasswordReset.Sweep()
				s.LinkCreation.Sweep()
			}
		}
	}()
}
