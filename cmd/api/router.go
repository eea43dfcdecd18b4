package api

import (
	"net/http"
	"time"

	"dmsync-backend/internal/auth/delivery"
	"dmsync-backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(r *gin.Engine, h *Handler) {
	// Upstream webhook, authenticated by its signature
	r.GET("/webhook", h.webhook.Verify)
	r.POST("/webhook", h.webhook.Receive)

	api := r.Group("/api")
	{
		// Health check (no auth required)
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})

		accounts := api.Group("/accounts/:account_id")
		accounts.Use(delivery.AuthMiddleware(h.authUsecase), delivery.AccountScope())
		{
			accounts.POST("/events", h.messaging.PushEvents)
			accounts.POST("/sync", h.messaging.Sync)
			accounts.GET("/sync/runs", h.messaging.ListSyncRuns)
			accounts.GET("/conversations", h.messaging.ListConversations)
			accounts.GET("/conversations/:conversation_id/messages", h.messaging.ListMessages)
			accounts.POST("/conversations/:conversation_id/read", h.messaging.MarkConversationRead)
			accounts.GET("/identities/:participant_id", h.messaging.GetIdentity)
			accounts.POST("/identities/backfill", h.messaging.BackfillIdentities)
			accounts.POST("/devices", h.messaging.RegisterDevice)
			accounts.DELETE("/devices/:token", h.messaging.UnregisterDevice)
		}

		// Settings routes (admin) - Runtime configuration
		settings := api.Group("/settings")
		settings.Use(delivery.AuthMiddleware(h.authUsecase), delivery.AdminOnly())
		{
			settings.GET("/scheduler", h.settings.GetSchedulerSettings)
			settings.PUT("/scheduler", h.settings.UpdateSchedulerSettings)
		}
	}
}

func requestLogger() gin.HandlerFunc {
	l := logger.Component("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		l.Info().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}
