package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shortlinkhq/shortlink/internal/cache"
	"github.com/shortlinkhq/shortlink/internal/config"
	"github.com/shortlinkhq/shortlink/internal/httpapi"
	"github.com/shortlinkhq/shortlink/internal/livestats"
	"github.com/shortlinkhq/shortlink/internal/searchindex"
	"github.com/shortlinkhq/shortlink/internal/store"
)

// Server holds the HTTP server dependencies and owns the root chi.Mux.
type Server struct {
	Router  *chi.Mux
	Logger  *slog.Logger
	Store   *store.Store
	Cache   *cache.Cache
	Index   *searchindex.Gateway
	Metrics *prometheus.Registry

	startedAt time.Time
}

// NewServer builds the root router: process-wide middleware, health and
// metrics endpoints, the §6 API surface mounted from api, the root-level
// redirect routes, and the admin live-stats WebSocket.
func NewServer(cfg *config.Config, logger *slog.Logger, st *store.Store, c *cache.Cache, index *searchindex.Gateway, metricsReg *prometheus.Registry, api *httpapi.API, hub *livestats.Hub) *Server {
	s := &Server{
		Router:    chi.NewRouter(),
		Logger:    logger,
		Store:     st,
		Cache:     c,
		Index:     index,
		Metrics:   metricsReg,
		startedAt: time.Now(),
	}

	s.Router.Use(RequestID)
	s.Router.Use(Logger(logger))
	s.Router.Use(Metrics)
	s.Router.Use(middleware.Recoverer)

	s.Router.Get("/healthz", s.handleHealthz)
	s.Router.Get("/readyz", s.handleReadyz)
	s.Router.Handle(cfg.MetricsPath, promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))

	s.Router.Mount("/api/auth", api.AuthRoutes())
	s.Router.Mount("/api/links", api.LinkRoutes())
	s.Router.Mount("/api/domains", api.DomainRoutes())
	api.MountRedirects(s.Router)

	if hub != nil {
		s.Router.Get("/admin/live", hub.ServeWS)
	}

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz reports readiness of every dependency the redirect path
// touches: the primary store, the cache, and the analytics index (which
// degrades to mock-mode rather than failing readiness, since §4.3 treats
// it as best-effort).
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !s.Store.Ping(ctx) {
		s.Logger.Error("readiness check: store ping failed")
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "store not ready")
		return
	}

	if s.Cache != nil && !s.Cache.Ping(ctx) {
		s.Logger.Error("readiness check: cache ping failed")
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "cache not ready")
		return
	}

	status := map[string]any{"status": "ready"}
	if s.Index != nil {
		status["analyticsIndex"] = s.Index.Ready()
	}
	Respond(w, http.StatusOK, status)
}

// HandleStatus reports uptime and headline counters for the admin
// dashboard's initial page load (the live-stats hub takes over after
// that via WebSocket).
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uptime := time.Since(s.startedAt)

	resp := struct {
		Status        string             `json:"status"`
		UptimeSeconds int64              `json:"uptimeSeconds"`
		Counts        store.TopLineCounts `json:"counts"`
	}{
		Status:        "ok",
		UptimeSeconds: int64(uptime.Seconds()),
	}

	counts, err := s.Store.TopLineCounts(ctx)
	if err != nil {
		s.Logger.Error("status check: loading top-line counts", "error", err)
	} else {
		resp.Counts = counts
	}

	Respond(w, http.StatusOK, resp)
}
