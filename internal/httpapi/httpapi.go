// Package httpapi wires the authentication core and the domain/link
// registries to the §6 HTTP surface: JSON request/response DTOs, chi
// route handlers, and the redirect endpoints the resolver drives.
package httpapi

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/shortlinkhq/shortlink/internal/authcore"
	"github.com/shortlinkhq/shortlink/internal/domainregistry"
	"github.com/shortlinkhq/shortlink/internal/linkregistry"
	"github.com/shortlinkhq/shortlink/internal/ratelimit"
	"github.com/shortlinkhq/shortlink/internal/resolver"
)

// API bundles the services the HTTP handlers delegate to.
type API struct {
	auth     *authcore.Service
	links    *linkregistry.Registry
	domains  *domainregistry.Registry
	resolver *resolver.Resolver
	limits   *ratelimit.Set
	oauth    *authcore.OAuthFlow
	logger   *slog.Logger
}

// New builds an API. limits may be nil, in which case per-route rate
// limiting is skipped (used by tests exercising a single handler). oauth
// may be nil, in which case the /api/auth/google routes are omitted
// (Google login is only offered when GOOGLE_CLIENT_ID is configured).
func New(auth *authcore.Service, links *linkregistry.Registry, domains *domainregistry.Registry, res *resolver.Resolver, limits *ratelimit.Set, oauth *authcore.OAuthFlow, logger *slog.Logger) *API {
	return &API{auth: auth, links: links, domains: domains, resolver: res, limits: limits, oauth: oauth, logger: logger}
}

// generalLimiter picks the §4.9 general 1000/15min/IP limiter, the
// catch-all applied to every route in addition to any route-specific
// limiter.
func generalLimiter(s *ratelimit.Set) *ratelimit.RouteLimiter {
	if s == nil {
		return nil
	}
	return s.General
}

// AuthRoutes returns the /api/auth sub-router (§6).
func (a *API) AuthRoutes() chi.Router {
	r := chi.NewRouter()
	r.Use(a.rateLimited(generalLimiter))
	r.Use(a.rateLimited(func(s *ratelimit.Set) *ratelimit.RouteLimiter {
		if s == nil {
			return nil
		}
		return s.Auth
	}))
	r.Post("/register", a.handleRegister)
	r.Post("/login", a.handleLogin)
	r.Post("/logout", a.withAuth(a.handleLogout))
	r.Post("/logout-all", a.withAuth(a.handleLogoutAll))
	r.Post("/refresh", a.handleRefresh)
	r.Get("/me", a.withAuth(a.handleMe))
	if a.oauth != nil {
		r.Get("/google", a.oauth.HandleLogin)
		r.Get("/google/callback", a.handleGoogleCallback)
	}
	return r
}

// LinkRoutes returns the /api/links sub-router (§6), fully
// Bearer-authenticated.
func (a *API) LinkRoutes() chi.Router {
	r := chi.NewRouter()
	r.Use(a.withAuthMiddleware())
	r.Use(a.rateLimited(generalLimiter))
	r.Post("/", a.rateLimitedLinkCreation(a.handleCreateLink))
	r.Get("/", a.handleListLinks)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", a.handleGetLink)
		r.Put("/", a.handleUpdateLink)
		r.Delete("/", a.handleDeleteLink)
	})
	return r
}

// DomainRoutes returns the /api/domains sub-router (§6), fully
// Bearer-authenticated.
func (a *API) DomainRoutes() chi.Router {
	r := chi.NewRouter()
	r.Use(a.withAuthMiddleware())
	r.Use(a.rateLimited(generalLimiter))
	r.Post("/", a.handleCreateDomain)
	r.Get("/", a.handleListDomains)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", a.handleGetDomain)
		r.Delete("/", a.handleDeleteDomain)
		r.Post("/verify", a.handleVerifyDomain)
	})
	return r
}

// MountRedirects attaches the root-level redirect/preview routes (§6,
// §4.8) directly to r, since they live outside the /api prefix.
func (a *API) MountRedirects(r chi.Router) {
	r.Get("/preview/{shortCode}", a.handlePreview)
	r.Get("/{shortCode}", a.handleRedirect)
	r.Post("/{shortCode}/password", a.handleRedirectWithPassword)
}
