package routes

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arklim/academy-sessions/internal/infra/config"
	"github.com/arklim/academy-sessions/internal/transport/http/handlers"
	"github.com/arklim/academy-sessions/internal/transport/http/middleware"
	"github.com/arklim/academy-sessions/internal/usecase"
)

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config      *config.AppConfig
	Logger      *zap.Logger
	Manager     *usecase.SessionManager
	RateLimiter *middleware.RateLimiter
	HTTPMetrics *middleware.HTTPMetrics
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

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.CORS(deps.Config.App.AllowedOrigins))
	r.Use(deps.HTTPMetrics.Handler())

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

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if deps.Manager == nil {
		return r
	}

	api := r.Group("/v1")
	{
		authMiddleware := middleware.RequireAuth(deps.Manager, deps.Logger)

		sessionHandler := handlers.NewSessionHandler(deps.Manager)
		api.POST("/sessions", append(buildLoginMiddlewares(deps), sessionHandler.CreateSession)...)

		tokenHandler := handlers.NewTokenHandler(deps.Manager)
		validateMiddlewares := append(buildValidateMiddlewares(deps), authMiddleware)
		tokenHandler.RegisterRoutes(api.Group("/tokens"), buildRefreshMiddlewares(deps), validateMiddlewares)

		sessionGroup := api.Group("/sessions")
		sessionGroup.Use(authMiddleware)
		sessionHandler.RegisterRoutes(sessionGroup)

		deviceGroup := api.Group("/devices")
		deviceGroup.Use(authMiddleware)
		handlers.NewDeviceHandler(deps.Manager).RegisterRoutes(deviceGroup)
	}

	return r
}

func buildLoginMiddlewares(deps Dependencies) []gin.HandlerFunc {
	return buildIPLimit(deps, "session_login_ip", deps.Config.RateLimit.LoginMaxAttempts)
}

func buildRefreshMiddlewares(deps Dependencies) []gin.HandlerFunc {
	return buildIPLimit(deps, "token_refresh_ip", deps.Config.RateLimit.RefreshMaxAttempts)
}

func buildValidateMiddlewares(deps Dependencies) []gin.HandlerFunc {
	return buildIPLimit(deps, "token_validate_ip", deps.Config.RateLimit.ValidateMaxAttempts)
}

func buildIPLimit(deps Dependencies, name string, limit int) []gin.HandlerFunc {
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
