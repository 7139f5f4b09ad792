package httpapi

import (
	"net/http"

	"github.com/shortlinkhq/shortlink/internal/authcore"
	"github.com/shortlinkhq/shortlink/internal/httpserver"
	"github.com/shortlinkhq/shortlink/internal/ratelimit"
)

// withAuthMiddleware authenticates every request in the chain via Bearer
// token, for chi sub-router Use().
func (a *API) withAuthMiddleware() func(http.Handler) http.Handler {
	return authcore.Middleware(a.auth, a.logger)
}

// withAuth wraps a single handler with Bearer authentication, for routes
// mounted alongside unauthenticated siblings under the same prefix.
func (a *API) withAuth(next http.HandlerFunc) http.HandlerFunc {
	wrapped := authcore.Middleware(a.auth, a.logger)(next)
	return wrapped.ServeHTTP
}

// rateLimited applies the §4.9 per-route limiter selected by pick, keyed
// by client IP. A nil limiter set (as used by single-handler tests)
// disables limiting entirely.
func (a *API) rateLimited(pick func(*ratelimit.Set) *ratelimit.RouteLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limiter := pick(a.limits)
			if limiter != nil {
				if err := limiter.Allow(ratelimit.KeyFromRequest(r)); err != nil {
					httpserver.RespondAppError(w, err)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// rateLimitedLinkCreation applies the per-user link-creation limiter
// (§4.9: 20/min/user), keyed by the authenticated user rather than IP
// since the limit is per-account.
func (a *API) rateLimitedLinkCreation(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.limits != nil && a.limits.LinkCreation != nil {
			u, ok := authcore.FromContext(r.Context())
			key := ratelimit.KeyFromRequest(r)
			if ok {
				key = u.ID.String()
			}
			if err := a.limits.LinkCreation.Allow(key); err != nil {
				httpserver.RespondAppError(w, err)
				return
			}
		}
		next(w, r)
	}
}
