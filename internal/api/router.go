// Package api wires the HTTP routes.
package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/orderflow/backend/internal/api/handlers"
	"github.com/orderflow/backend/internal/api/middleware"
	"github.com/orderflow/backend/internal/auth"
	"github.com/orderflow/backend/internal/core"
	"github.com/orderflow/backend/internal/logging"
	"github.com/orderflow/backend/internal/orders"
)

type Deps struct {
	DB              handlers.Pinger
	Auth            *auth.Service
	Orders          *orders.Service
	Jobs            core.JobStore
	Logger          *slog.Logger
	Limiter         *middleware.IPRateLimiter
	Origins         []string
	SecureCookies   bool
	Operators       []string
	ExposeMagicLink bool
}

func NewRouter(deps Deps) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := gin.New()
	r.Use(gin.Recovery(), logging.Middleware(logger), middleware.CORS(deps.Origins))

	authMW := middleware.NewAuthMiddleware(deps.Auth.Signer(), deps.SecureCookies, deps.Operators)

	health := handlers.NewHealthHandler(deps.DB)
	authHandler := handlers.NewAuthHandler(deps.Auth, authMW, deps.ExposeMagicLink, logger)
	orderHandler := handlers.NewOrderHandler(deps.Orders, authMW, logger)
	jobHandler := handlers.NewJobHandler(deps.Jobs, logger)

	r.GET("/health", health.Health)

	authGroup := r.Group("/auth")
	{
		magicLink := []gin.HandlerFunc{authHandler.RequestMagicLink}
		if deps.Limiter != nil {
			magicLink = append([]gin.HandlerFunc{deps.Limiter.Middleware()}, magicLink...)
		}
		authGroup.POST("/magic-link", magicLink...)
		authGroup.GET("/magic-link/verify", authHandler.VerifyMagicLink)
		authGroup.GET("/me", authMW.RequireAuth(), authHandler.Me)
	}

	protected := r.Group("/", authMW.RequireAuth())
	{
		protected.POST("/orders", orderHandler.CreateOrder)
		protected.GET("/orders/:id", orderHandler.GetOrder)
	}

	operator := r.Group("/jobs", authMW.RequireAuth(), authMW.RequireOperator())
	{
		operator.GET("", jobHandler.ListJobs)
		operator.GET("/stats", jobHandler.GetStats)
		operator.GET("/:id", jobHandler.GetJob)
		operator.POST("/:id/requeue", jobHandler.RequeueJob)
	}

	return r
}
