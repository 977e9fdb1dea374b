package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/artemuse/gallery-backend/internal/db"
	"github.com/artemuse/gallery-backend/internal/handlers"
	"github.com/artemuse/gallery-backend/internal/logger"
	"github.com/artemuse/gallery-backend/internal/middleware"
	"github.com/artemuse/gallery-backend/internal/observability"
	"github.com/artemuse/gallery-backend/internal/repos"
	"github.com/artemuse/gallery-backend/internal/server"
	"github.com/artemuse/gallery-backend/internal/services"
	"github.com/artemuse/gallery-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Env
	log.Info("Loading environment variables from main...")
	jwtSecretKey := utils.GetEnv("JWT_SECRET_KEY", "", log)
	if jwtSecretKey == "" {
		log.Fatal("JWT_SECRET_KEY is required")
	}

	// Tracing
	shutdownTracing := observability.InitOTel(context.Background(), log, observability.OtelConfig{
		ServiceName: "gallery-backend",
		Environment: utils.GetEnv("ENVIRONMENT", "development", log),
	})
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(ctx)
	}()

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up repos from main...")
	userRepo := repos.NewUserRepo(thePG, log)

	// Services
	log.Info("Setting up services from main...")
	stateCache, err := services.NewStateCache(log)
	if err != nil {
		log.Warn("State cache unavailable, reads go straight to postgres", "error", err)
	}
	sessionResolver := services.NewJWTSessionResolver(log, jwtSecretKey)
	userStateService := services.NewUserStateService(thePG, log, userRepo, stateCache)

	// Handlers
	log.Info("Setting up handlers from main...")
	userStateHandler := handlers.NewUserStateHandler(userStateService)

	// Middleware
	log.Info("Setting up middleware from main...")
	authMiddleware := middleware.NewAuthMiddleware(log, sessionResolver)

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		ServiceName:      "gallery-backend",
		AuthMiddleware:   authMiddleware,
		UserStateHandler: userStateHandler,
		EnableTracing:    os.Getenv("OTEL_ENABLED") != "",
	})

	port := utils.GetEnv("PORT", "8080", log)
	log.Info("Server listening", "port", port)
	if err := router.Run(":" + port); err != nil {
		log.Error("Server failed", "error", err)
		os.Exit(1)
	}
}
