package router

import (
	"context"
	"net/http"
	"slices"
	"time"

	"school-portal/backend/conversation/api"
	"school-portal/backend/pkg/config"
	"school-portal/backend/pkg/di"
	"school-portal/backend/pkg/errors"
	"school-portal/backend/pkg/logger"
	"school-portal/backend/pkg/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Track server start time for uptime calculations
var startTime = time.Now()

// Router is the main router for the application
type Router struct {
	Engine      *gin.Engine
	Container   *di.Container
	Logger      *logger.Logger
	Config      *config.Config
	RateLimiter *middleware.RateLimiter

	v1 *gin.RouterGroup
}

// New creates a new router with the given container
func New(container *di.Container) *Router {
	cfg := container.Config

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.Security.TrustedProxies); err != nil {
		container.Logger.LogError(err, "Invalid trusted proxies, trusting none")
		_ = engine.SetTrustedProxies(nil)
	}

	// The logger middleware goes first so every later stage has a request-scoped logger
	engine.Use(logger.Middleware(container.Logger))
	engine.Use(errors.RecoveryWithLogger())
	engine.Use(errors.ErrorHandler())
	engine.Use(corsMiddleware(cfg.Security.AllowedOrigins))
	engine.Use(bodyLimit(cfg.Security.MaxBodySize))

	limiter := middleware.NewRateLimiter(container.Logger, middleware.RateLimiterOptions{
		Limit: rate.Limit(cfg.Security.RateLimit),
		Burst: cfg.Security.RateLimitBurst,
	})

	return &Router{
		Engine:      engine,
		Container:   container,
		Logger:      container.Logger,
		Config:      cfg,
		RateLimiter: limiter,
	}
}

// SetupRoutes registers all application routes
func (r *Router) SetupRoutes(ctx context.Context) {
	r.setupHealthRoutes()

	jwtAuth := middleware.JWTAuthMiddleware(r.Container.JWTService, r.Logger)

	// Authenticate before limiting so the limiter keys on the user, not the address
	r.v1 = r.Engine.Group("/api/v1", jwtAuth, r.RateLimiter.Middleware())
	if r.Config.OpenAPI.Validate {
		r.AddOpenAPIValidation(ctx, r.Config.OpenAPI.SpecPath)
	}

	api.RegisterConversationRoutes(r.v1, r.Container.Handler)
}

// bodyLimit caps request bodies at n bytes
func bodyLimit(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if n > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}

// corsMiddleware allows the configured origins; "*" anywhere in the list allows every origin
func corsMiddleware(allowed []string) gin.HandlerFunc {
	cfg := cors.DefaultConfig()
	switch {
	case slices.Contains(allowed, "*"):
		cfg.AllowAllOrigins = true
	case len(allowed) == 0:
		cfg.AllowOriginFunc = func(string) bool { return false }
	default:
		cfg.AllowOrigins = allowed
	}
	cfg.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Content-Length", "Accept", "Authorization", "Cache-Control", logger.RequestIDHeader}
	cfg.ExposeHeaders = []string{logger.RequestIDHeader}
	cfg.MaxAge = 24 * time.Hour
	return cors.New(cfg)
}
