package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/artemuse/gallery-backend/internal/handlers"
	"github.com/artemuse/gallery-backend/internal/middleware"
)

type RouterConfig struct {
	ServiceName      string
	AuthMiddleware   *middleware.AuthMiddleware
	UserStateHandler *handlers.UserStateHandler
	AllowedOrigins   []string
	EnableTracing    bool
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.EnableTracing {
		router.Use(otelgin.Middleware(cfg.ServiceName))
	}

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{
			"http://localhost:3000",
			"http://localhost:5173",
			"http://localhost:5174",
		}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	user := api.Group("/user")
	user.Use(cfg.AuthMiddleware.RequireAuth())
	user.GET("/data", cfg.UserStateHandler.GetData)
	user.POST("/cart", cfg.UserStateHandler.SetCart)
	user.POST("/wishlist", cfg.UserStateHandler.SetWishlist)
	user.POST("/register-event", cfg.UserStateHandler.RegisterEvent)
	user.POST("/order", cfg.UserStateHandler.PlaceOrder)

	return router
}
