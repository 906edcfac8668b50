package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jengzang/trip-planner-go/internal/auth"
	"github.com/jengzang/trip-planner-go/internal/config"
	"github.com/jengzang/trip-planner-go/internal/handler"
	"github.com/jengzang/trip-planner-go/internal/middleware"
	"github.com/jengzang/trip-planner-go/internal/service"
	"go.uber.org/zap"
)

// SetupRouter 设置路由. ctx bounds background work such as rate limiter cleanup.
func SetupRouter(ctx context.Context, cfg *config.Config, session *service.TripSession, tokens *auth.Tokens, logger *zap.Logger) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), middleware.Logger(logger.Named("http")))

	// CORS 中间件
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Trip Planner API is running",
		})
	})

	sessions := handler.NewSessionHandler(session, tokens)
	locations := handler.NewLocationHandler(session)
	trips := handler.NewTripHandler(session)

	// API 路由组
	api := r.Group("/api/v1")
	api.Use(middleware.RateLimit(middleware.NewRateLimiter(ctx, cfg.RateLimit, cfg.RateLimitWindow)))
	{
		if !cfg.IsProduction() {
			api.POST("/auth/token", sessions.IssueToken)
		}

		// 会话状态
		s := api.Group("/session")
		{
			s.GET("", sessions.GetSession)
			s.POST("/login", middleware.Auth(tokens), sessions.Login)
			s.POST("/logout", sessions.Logout)
			s.PUT("/date", sessions.SelectDate)
			s.PUT("/start", sessions.SetStartPoint)
			s.PUT("/threshold", sessions.SetThreshold)
		}

		api.POST("/sync/retry", sessions.RetrySync)
		api.GET("/route", sessions.GetRoute)

		// 地点
		l := api.Group("/locations")
		{
			l.GET("", locations.GetLocations)
			l.POST("", locations.CreateLocation)
			l.PUT("/order", locations.ReorderLocations)
			l.PATCH("/:id", locations.UpdateLocation)
			l.DELETE("/:id", locations.DeleteLocation)
		}

		// 行程与协作者
		t := api.Group("/trips")
		{
			t.GET("", trips.GetTrips)
			t.POST("", trips.CreateTrip)
			t.DELETE("/active", trips.DeactivateTrip)
			t.POST("/:id/activate", trips.ActivateTrip)
			t.PUT("/:id/collaborators/:userId", trips.ShareTrip)
			t.DELETE("/:id/collaborators/:userId", trips.UnshareTrip)
		}
	}

	return r
}
