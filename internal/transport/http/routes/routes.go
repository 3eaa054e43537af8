package routes

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/muniportal/portal-auth/internal/infra/config"
	"github.com/muniportal/portal-auth/internal/transport/http/handlers"
	"github.com/muniportal/portal-auth/internal/transport/http/middleware"
)

// SessionService is the session surface the HTTP layer needs, including token authentication.
type SessionService interface {
	handlers.SessionService
	handlers.CurrentSessionRevoker
	middleware.Authenticator
}

// ServiceSet groups the services the HTTP layer depends on.
type ServiceSet struct {
	Login    handlers.LoginService
	Sessions SessionService
	MFA      handlers.MFAService
}

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config      *config.AppConfig
	Logger      *zap.Logger
	RateLimiter *middleware.RateLimiter
	Metrics     *middleware.HTTPMetrics
	Gatherer    prometheus.Gatherer
	Services    ServiceSet
	Keys        handlers.KeySetProvider
	Database    DatabaseChecker
	Cache       CacheChecker
}

// DatabaseChecker exposes readiness behaviour for database connections.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
}

// CacheChecker exposes readiness behaviour for cache backends.
type CacheChecker interface {
	HealthCheck(ctx context.Context) error
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	if deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(deps.Logger))
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Handler())
	}
	if len(deps.Config.CORS.AllowedOrigins) > 0 {
		r.Use(middleware.CORS(deps.Config.CORS.AllowedOrigins))
	}

	healthOptions := make([]handlers.HealthOption, 0, 2)
	if deps.Database != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("database", deps.Database.Ping))
	}
	if deps.Cache != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("redis", deps.Cache.HealthCheck))
	}
	healthHandler := handlers.NewHealthHandler(healthOptions...)

	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Readiness)
	r.GET("/metrics", metricsHandler(deps.Gatherer))
	r.GET("/.well-known/jwks.json", handlers.NewJWKSHandler(deps.Keys).Keys)

	sessions := deps.Services.Sessions
	authMiddleware := middleware.RequireAuth(sessions)

	authGroup := r.Group("/auth")
	limits := deps.Config.RateLimit

	if deps.Services.Login != nil && sessions != nil {
		authHandler := handlers.NewAuthHandler(deps.Services.Login, sessions)
		authHandler.RegisterRoutes(authGroup, authMiddleware, rateLimit(deps, "auth_login_ip", limits.LoginMaxAttempts)...)
	}

	if sessions != nil {
		sessionHandler := handlers.NewSessionHandler(sessions)
		sessionHandler.RegisterRoutes(authGroup.Group("/sessions"), authMiddleware, handlers.CredentialRouteMiddlewares{
			List:   rateLimit(deps, "auth_sessions_list_ip", limits.SessionListMaxAttempts),
			Logout: rateLimit(deps, "auth_sessions_logout_ip", limits.CredentialLogoutMaxAttempts),
		})
	}

	if deps.Services.MFA != nil {
		mfaGroup := authGroup.Group("/mfa")
		mfaGroup.Use(authMiddleware)
		handlers.NewMFAHandler(deps.Services.MFA).RegisterRoutes(mfaGroup)
	}

	return r
}

func metricsHandler(gatherer prometheus.Gatherer) gin.HandlerFunc {
	if gatherer == nil {
		return gin.WrapH(promhttp.Handler())
	}
	return gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}

func rateLimit(deps Dependencies, name string, limit int) []gin.HandlerFunc {
	if deps.RateLimiter == nil || limit <= 0 {
		return nil
	}

	window := deps.Config.RateLimit.WindowDuration
	if window <= 0 {
		window = time.Minute
	}

	rule := middleware.RateLimitRule{
		Name:       name,
		Limit:      limit,
		Window:     window,
		Identifier: middleware.ClientIPIdentifier(),
	}

	return []gin.HandlerFunc{deps.RateLimiter.RateLimit(rule)}
}
