// Package app is the composition root: it wires config, infrastructure
// clients, and every domain package into the "api" or "worker" runtime
// mode, or runs the one-shot "seed" mode that provisions demo data.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/shortlinkhq/shortlink/internal/authcore"
	"github.com/shortlinkhq/shortlink/internal/cache"
	"github.com/shortlinkhq/shortlink/internal/config"
	"github.com/shortlinkhq/shortlink/internal/domainregistry"
	"github.com/shortlinkhq/shortlink/internal/httpapi"
	"github.com/shortlinkhq/shortlink/internal/httpserver"
	"github.com/shortlinkhq/shortlink/internal/jobqueue"
	"github.com/shortlinkhq/shortlink/internal/linkregistry"
	"github.com/shortlinkhq/shortlink/internal/livestats"
	"github.com/shortlinkhq/shortlink/internal/model"
	"github.com/shortlinkhq/shortlink/internal/platform"
	"github.com/shortlinkhq/shortlink/internal/ratelimit"
	"github.com/shortlinkhq/shortlink/internal/resolver"
	"github.com/shortlinkhq/shortlink/internal/searchindex"
	"github.com/shortlinkhq/shortlink/internal/seed"
	"github.com/shortlinkhq/shortlink/internal/store"
	"github.com/shortlinkhq/shortlink/internal/telemetry"
)

// Run reads config, connects to infrastructure, and starts the
// requested mode.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting shortlink", "mode", cfg.Mode, "listen", cfg.ListenAddr())

	pool, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	metricsReg := telemetry.NewRegistry()

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, pool, rdb, metricsReg)
	case "worker":
		return runWorker(ctx, cfg, logger, pool, rdb)
	case "seed":
		return seed.Run(ctx, store.New(pool), cfg.SystemDomain, logger)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

// coreServices bundles the domain services shared by both runtime modes.
type coreServices struct {
	st      *store.Store
	cache   *cache.Cache
	auth    *authcore.Service
	domains *domainregistry.Registry
	links   *linkregistry.Registry
	index   *searchindex.Gateway
	queues  *jobqueue.Manager
	res     *resolver.Resolver
	limits  *ratelimit.Set
	oauth   *authcore.OAuthFlow
}

func buildCore(ctx context.Context, cfg *config.Config, logger *slog.Logger, pool *pgxpool.Pool, rdb *redis.Client) (*coreServices, error) {
	st := store.New(pool)
	c := cache.New(rdb, logger)

	tokens, err := authcore.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience)
	if err != nil {
		return nil, fmt.Errorf("building token manager: %w", err)
	}
	loginCounter := ratelimit.NewLoginCounter(rdb)
	authSvc := authcore.New(st, c, tokens, loginCounter, logger)

	domains := domainregistry.New(st, domainregistry.NewDNSResolver(), cfg.SystemDomain, logger)
	links := linkregistry.New(st, domains, cfg.SystemDomain, logger)

	index := searchindex.New(ctx, cfg.ElasticsearchURL, cfg.ElasticsearchUsername, cfg.ElasticsearchPassword, logger)
	if cfg.RequireElasticsearch && !index.Ready() {
		return nil, errors.New("analytics index not reachable and REQUIRE_ELASTICSEARCH=true")
	}
	go index.Supervise(ctx, cfg.ElasticsearchURL, cfg.ElasticsearchUsername, cfg.ElasticsearchPassword, logger)

	queues := jobqueue.NewManager(rdb, logger)
	res := resolver.New(links, st, c, queues.Queue(jobqueue.QueueClickTracking), index, logger)

	limits := ratelimit.NewSet()
	stop := make(chan struct{})
	limits.StartSweeper(5*time.Minute, stop)
	go func() {
		<-ctx.Done()
		close(stop)
	}()

	var oauthFlow *authcore.OAuthFlow
	if cfg.GoogleClientID != "" {
		oauthFlow, err = buildOAuthFlow(ctx, cfg, c, authSvc, logger)
		if err != nil {
			return nil, fmt.Errorf("building google oauth flow: %w", err)
		}
	}

	return &coreServices{
		st: st, cache: c, auth: authSvc, domains: domains, links: links,
		index: index, queues: queues, res: res, limits: limits, oauth: oauthFlow,
	}, nil
}

// buildOAuthFlow discovers Google's OIDC provider and builds the
// Authorization Code flow. Only called when GOOGLE_CLIENT_ID is set,
// since discovery is a network call that should not block startup for
// deployments that don't use Google login.
func buildOAuthFlow(ctx context.Context, cfg *config.Config, c *cache.Cache, authSvc *authcore.Service, logger *slog.Logger) (*authcore.OAuthFlow, error) {
	verifier, err := authcore.NewOIDCAuthenticator(ctx, cfg.GoogleIssuerURL, cfg.GoogleClientID)
	if err != nil {
		return nil, err
	}
	oauth2Cfg := &oauth2.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		Endpoint:     google.Endpoint,
		Scopes:       []string{"openid", "email", "profile"},
	}
	return authcore.NewOAuthFlow(oauth2Cfg, verifier, c, authSvc, logger), nil
}

func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger, pool *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry) error {
	core, err := buildCore(ctx, cfg, logger, pool, rdb)
	if err != nil {
		return fmt.Errorf("building core services: %w", err)
	}

	hub := livestats.New(core.queues, core.index, core.st, core.cache, logger, nil)
	go hub.Run(ctx)

	api := httpapi.New(core.auth, core.links, core.domains, core.res, core.limits, core.oauth, logger)
	srv := httpserver.NewServer(cfg, logger, core.st, core.cache, core.index, metricsReg, api, hub)

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// runWorker drains the click-tracking queue into the analytics index and
// runs the domain monthly-usage reset on a daily tick (idempotent, so an
// imprecise schedule is harmless). The metadata-fetch and
// email-notification queues are provisioned by jobqueue.NewManager for
// API parity but have no producer in this build: metadata fetch and
// email transport are out of scope.
func runWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger, pool *pgxpool.Pool, rdb *redis.Client) error {
	logger.Info("worker started")

	core, err := buildCore(ctx, cfg, logger, pool, rdb)
	if err != nil {
		return fmt.Errorf("building core services: %w", err)
	}

	go core.queues.Queue(jobqueue.QueueClickTracking).RunBatch(ctx, func(ctx context.Context, jobs []model.Job) error {
		docs := make([]searchindex.ClickDocument, 0, len(jobs))
		for _, job := range jobs {
			var doc searchindex.ClickDocument
			if err := json.Unmarshal(job.Payload, &doc); err != nil {
				logger.Error("worker: decoding click-tracking payload", "job", job.ID, "error", err)
				continue
			}
			docs = append(docs, doc)
		}
		if len(docs) == 0 {
			return nil
		}
		succeeded, err := core.index.TrackClicksBatch(ctx, docs)
		if err != nil {
			return fmt.Errorf("indexing click batch: %w", err)
		}
		failedCount := len(docs) - succeeded
		if failedCount > 0 {
			logger.Warn("worker: partial click-batch index failure, re-queuing", "failed", failedCount, "total", len(docs))
			return fmt.Errorf("indexing click batch: %d of %d documents not indexed", failedCount, len(docs))
		}
		return nil
	})

	sched := startUsageResetSchedule(ctx, core.domains, logger)
	defer sched.Stop()

	<-ctx.Done()
	return nil
}

// startUsageResetSchedule runs ResetMonthlyUsage once immediately and
// then on a daily cron tick; the call is idempotent within a calendar
// month, so an imprecise schedule is harmless (§4.6's Open Question
// resolution).
func startUsageResetSchedule(ctx context.Context, domains *domainregistry.Registry, logger *slog.Logger) *cron.Cron {
	reset := func() {
		n, err := domains.ResetMonthlyUsage(ctx)
		if err != nil {
			logger.Error("worker: resetting monthly domain usage", "error", err)
			return
		}
		if n > 0 {
			logger.Info("worker: reset monthly domain usage", "domains", n)
		}
	}

	reset()
	c := cron.New()
	if _, err := c.AddFunc("@daily", reset); err != nil {
		logger.Error("worker: scheduling monthly usage reset", "error", err)
	}
	c.Start()
	return c
}
