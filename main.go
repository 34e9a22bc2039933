package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/taskhive/backend/internal/config"
	"github.com/taskhive/backend/internal/db"
	"github.com/taskhive/backend/internal/handler"
	"github.com/taskhive/backend/internal/service"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx := context.Background()

	database, err := db.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		logger.Error("postgres init failed", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	authSvc, err := service.NewAuthService(database, cfg.Auth, cfg.Env)
	if err != nil {
		logger.Error("auth service init failed", "error", err)
		os.Exit(1)
	}

	if err := database.EnsureAuthSchema(ctx); err != nil {
		logger.Error("schema init failed", "error", err)
		os.Exit(1)
	}

	oauthSvc, err := service.NewOAuthService(ctx, database, authSvc, cfg.OAuth)
	if err != nil {
		logger.Error("oauth service init failed", "error", err)
		os.Exit(1)
	}

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(handler.LoggingMiddleware(logger))
	router.Use(handler.CORSMiddleware(cfg.CORS.AllowedOrigins, true))

	authHandler := handler.NewAuthHandler(authSvc)
	oauthHandler := handler.NewOAuthHandler(
		oauthSvc,
		authHandler,
		cfg.OAuth.AppOrigin,
		authSvc.CookieConfig().Secure,
		logger,
	)
	handler.RegisterRoutes(router, authHandler, oauthHandler, authSvc)

	logger.Info("listening", "port", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
