package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/taskhive/backend/internal/model"
	"github.com/taskhive/backend/internal/service"
)

// RegisterRoutes wires the auth surface. Everything outside /auth is the
// task CRUD application, which only consumes the bearer middleware.
func RegisterRoutes(r *gin.Engine, auth *AuthHandler, oauth *OAuthHandler, authSvc *service.AuthService) {
	r.GET("/healthz", Health)

	authGroup := r.Group("/auth")
	{
		authGroup.POST("/register", auth.Register)
		authGroup.POST("/login", auth.Login)
		authGroup.POST("/refresh-token", auth.Refresh)
		authGroup.POST("/logout", auth.Logout)

		authGroup.GET("/google", oauth.Begin(model.ProviderGoogle))
		authGroup.GET("/google/callback", oauth.Callback(model.ProviderGoogle))
		authGroup.GET("/github", oauth.Begin(model.ProviderGitHub))
		authGroup.GET("/github/callback", oauth.Callback(model.ProviderGitHub))

		protected := authGroup.Group("")
		protected.Use(AuthMiddleware(authSvc))
		{
			protected.GET("/me", auth.Me)
			protected.DELETE("/account", auth.DeleteAccount)
		}
	}
}
