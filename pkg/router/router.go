package router

import (
	"context"
	"time"

	"booking-inbox/client/internal/api"
	"booking-inbox/client/internal/ws"
	"booking-inbox/client/pkg/config"
	"booking-inbox/client/pkg/di"
	"booking-inbox/client/pkg/errors"
	"booking-inbox/client/pkg/jwt"
	"booking-inbox/client/pkg/logger"
	"booking-inbox/client/pkg/middleware"
	"booking-inbox/client/pkg/validator"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Track server start time for uptime calculations
var startTime = time.Now()

// Router is the gateway's HTTP surface
type Router struct {
	Engine    *gin.Engine
	Container *di.Container
	Logger    *logger.Logger
	Hub       *ws.Hub
	Config    *config.Config
	Validator *validator.OpenAPIValidator
}

// New creates the engine with its middleware stack and starts the websocket
// hub. The hub and the rate limiter stop when ctx ends.
func New(ctx context.Context, container *di.Container) (*Router, error) {
	logger.SetGlobal(container.Logger)
	cfg := container.Config

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	// request id and identity first so the request logger can tag both
	engine.Use(middleware.RequestIDMiddleware())
	engine.Use(middleware.SessionMiddleware(container.Session))
	engine.Use(logger.Middleware(container.Logger))
	engine.Use(errors.ErrorHandler())
	engine.Use(errors.RecoveryWithLogger())

	rateLimiter := middleware.NewRateLimiter(container.Logger, middleware.RateLimiterOptionsFromConfig(cfg))
	engine.Use(rateLimiter.Middleware(ctx))
	engine.Use(middleware.CORS(cfg.Security.AllowedOrigins))

	hub := ws.NewHub(container.Views, ws.Options{
		AllowedOrigins: cfg.Security.AllowedOrigins,
		Logger:         container.Logger,
	})
	go hub.Run(ctx)
	container.Views.Attach(hub, container.Session)

	r := &Router{
		Engine:    engine,
		Container: container,
		Logger:    container.Logger,
		Hub:       hub,
		Config:    cfg,
	}
	if err := r.addOpenAPIValidation(); err != nil {
		return nil, err
	}
	return r, nil
}

// SetupRoutes registers all application routes
func (r *Router) SetupRoutes() {
	r.setupHealthRoutes()
	r.Engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.Container.Registry, promhttp.HandlerOpts{})))

	apiGroup := r.Engine.Group("/api")

	// Public routes
	api.NewSessionController(r.Container.Session, r.Container.API).RegisterRoutes(apiGroup)

	// Routes that need a signed-in identity
	protected := apiGroup.Group("")
	protected.Use(middleware.RequireSession())
	{
		api.NewInboxController(r.Container.Views).RegisterRoutes(protected)
		api.NewThreadController(r.Container.Views).RegisterRoutes(protected)

		adminRoutes := protected.Group("/admin")
		adminRoutes.Use(middleware.RequireRole(jwt.RoleAdmin))
		{
			adminRoutes.GET("/health", r.Container.Health.Handler())
			adminRoutes.GET("/views", r.openViewsHandler())
		}
	}

	r.Engine.GET("/ws", middleware.RequireSession(), func(c *gin.Context) {
		ws.ServeWs(r.Hub, c)
	})
}

// openViewsHandler lists the conversation views held in memory
func (r *Router) openViewsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		views := r.Container.Views.OpenViews()
		c.JSON(200, gin.H{
			"views":              views,
			"count":              len(views),
			"active_connections": r.Hub.ActiveConnections(),
		})
	}
}
