package api

import (
	"net/http"

	"github.com/PBLIZZ/app-omnicrm-sub012/internal/auth/delivery"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(r *gin.Engine, h *Handler) {
	authHandler := delivery.NewAuthHandler(h.authUsecase)

	// Prometheus scrape endpoint (no auth, lives outside /api)
	r.GET("/metrics", gin.WrapH(h.metrics.Handler()))

	api := r.Group("/api")
	{
		// Health check (no auth required)
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})

		// Auth routes
		auth := api.Group("/auth")
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
			auth.POST("/refresh", authHandler.RefreshToken)
			auth.POST("/logout", authHandler.Logout)
			auth.GET("/me", delivery.AuthMiddleware(h.authUsecase), authHandler.Me)
		}

		// OAuth connect flow. The callback carries identity in the signed
		// state parameter because the provider redirect has no bearer token.
		oauth := api.Group("/oauth")
		{
			oauth.GET("/:provider/authorize", delivery.AuthMiddleware(h.authUsecase), h.oauthHandler.Authorize)
			oauth.GET("/:provider/callback", h.oauthHandler.Callback)
		}

		// Job queue routes (protected)
		jobs := api.Group("/jobs")
		jobs.Use(delivery.AuthMiddleware(h.authUsecase))
		{
			jobs.POST("", h.jobHandler.Enqueue)
			jobs.POST("/run", h.jobHandler.RunOnce)
			jobs.GET("/:id", h.jobHandler.GetJobByID)
		}

		// Sync status (protected)
		sync := api.Group("/sync")
		sync.Use(delivery.AuthMiddleware(h.authUsecase))
		{
			sync.GET("/status", h.jobHandler.SyncStatus)
		}

		// Normalized timeline (protected)
		interactions := api.Group("/interactions")
		interactions.Use(delivery.AuthMiddleware(h.authUsecase))
		{
			interactions.GET("", h.interactionHandler.GetInteractions)
		}
	}
}
