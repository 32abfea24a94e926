package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/alshuail/portal-access/pkg/audit"
	"github.com/alshuail/portal-access/pkg/auth"
	"github.com/alshuail/portal-access/pkg/config"
	"github.com/alshuail/portal-access/pkg/credentials"
	"github.com/alshuail/portal-access/pkg/httputil"
	"github.com/alshuail/portal-access/pkg/middleware"
	"github.com/alshuail/portal-access/pkg/observability"
	"github.com/alshuail/portal-access/pkg/rbac"
	"github.com/alshuail/portal-access/pkg/storage"
)

const apiPrefix = "/api/access"

type routerDeps struct {
	cfg         *config.Config
	logger      *observability.Logger
	sessions    auth.SessionSource
	manager     *rbac.Manager
	gate        *credentials.Gate
	auditLogger audit.Logger
	auditStore  audit.Store
	limits      rateLimits
	metrics     *observability.Metrics
	otelMetrics *observability.OTelMetrics
}

// rateLimits holds the general and the credential limiter middlewares; either
// may be nil when rate limiting is disabled
type rateLimits struct {
	general    *middleware.RateLimitMiddleware
	credential *middleware.RateLimitMiddleware
}

func (l rateLimits) generalMiddleware() []mux.MiddlewareFunc {
	if l.general == nil {
		return nil
	}
	return []mux.MiddlewareFunc{l.general.Handler}
}

func (l rateLimits) credentialMiddleware() []mux.MiddlewareFunc {
	if l.credential == nil {
		return nil
	}
	return []mux.MiddlewareFunc{l.credential.Handler}
}

func newRouter(d routerDeps) http.Handler {
	router := mux.NewRouter()
	// route-level so the matched template is visible to the label func
	router.Use(
		observability.HTTPMetricsMiddleware(d.metrics, routeTemplate),
		d.otelMetrics.Middleware(routeTemplate),
	)

	api := router.PathPrefix(apiPrefix).Subrouter()
	api.Use(
		audit.NewMiddleware(d.auditLogger).Handler,
		middleware.NewAuthMiddleware(d.sessions, true).Handler,
	)

	d.manager.RegisterRoutes(api, d.limits.generalMiddleware()...)
	credentials.NewHandlers(d.gate).RegisterRoutes(api, d.limits.credentialMiddleware()...)

	auditMiddleware := append(d.limits.generalMiddleware(),
		mux.MiddlewareFunc(d.manager.Middleware().RequirePermission(rbac.PermissionManageRoles)))
	audit.NewHandlers(d.auditStore).RegisterRoutes(api, auditMiddleware...)

	chain := httputil.Chain(
		httputil.RecoveryMiddleware,
		httputil.RequestIDMiddleware(d.logger),
		httputil.LoggingMiddleware,
		httputil.CORSMiddleware(d.cfg.Server.AllowedOrigins),
		httputil.MaxBytesMiddleware(d.cfg.Server.MaxBodyBytes),
	)
	return otelhttp.NewHandler(chain(router), "portal-access")
}

// routeTemplate labels requests by their mux template to keep label cardinality bounded
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

func newHealthRouter(checker *observability.HealthChecker, registry *prometheus.Registry, metricsEnabled bool) http.Handler {
	router := mux.NewRouter()
	observability.RegisterHealthRoutes(router, checker)
	if metricsEnabled {
		router.Handle("/metrics", observability.MetricsHandler(registry)).Methods(http.MethodGet)
	}
	return router
}

func newRateLimits(ctx context.Context, cfg config.RateLimitConfig, redisClient *storage.RedisClient, logger *observability.Logger) rateLimits {
	if !cfg.Enabled {
		logger.Warn("Rate limiting is disabled")
		return rateLimits{}
	}

	general := &middleware.RateLimitConfig{
		RequestsPerWindow: cfg.RequestsPerMinute,
		WindowDuration:    time.Minute,
		BurstSize:         cfg.Burst,
	}
	credential := &middleware.RateLimitConfig{
		RequestsPerWindow: cfg.CredentialPerMinute,
		WindowDuration:    time.Minute,
	}

	var generalLimiter, credentialLimiter middleware.Limiter
	if cfg.Distributed && redisClient != nil {
		generalLimiter = middleware.NewDistributedRateLimiter(redisClient.Client(), general, cfg.RedisPrefix)
		credentialLimiter = middleware.NewDistributedRateLimiter(redisClient.Client(), credential, cfg.RedisPrefix+":credential")
	} else {
		g := middleware.NewRateLimiter(general)
		c := middleware.NewRateLimiter(credential)
		g.StartCleanup(ctx, logger)
		c.StartCleanup(ctx, logger)
		generalLimiter, credentialLimiter = g, c
	}

	limits := rateLimits{
		general:    middleware.NewRateLimitMiddleware(generalLimiter, middleware.NewRateLimiter(middleware.DefaultRateLimitConfig())),
		credential: middleware.NewRateLimitMiddleware(credentialLimiter, nil),
	}
	limits.general.SetFallbackEnabled(cfg.FailOpen)
	limits.credential.SetFallbackEnabled(cfg.FailOpen)
	return limits
}

func redisClientOrNil(c *storage.RedisClient) *redis.Client {
	if c == nil {
		return nil
	}
	return c.Client()
}
