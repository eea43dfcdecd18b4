package api

import (
	authUsecase "dmsync-backend/internal/auth/usecase"
	"dmsync-backend/internal/messaging/delivery"
	"dmsync-backend/internal/messaging/scheduler"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	authUsecase authUsecase.AuthUsecase
	messaging   *delivery.MessagingHandler
	webhook     *delivery.WebhookHandler
	settings    *SettingsHandler
}

// NewHandler wires the HTTP surface. A nil authUc leaves the API unauthenticated.
func NewHandler(authUc authUsecase.AuthUsecase, messaging *delivery.MessagingHandler, webhook *delivery.WebhookHandler, settings *scheduler.Settings) *Handler {
	return &Handler{
		authUsecase: authUc,
		messaging:   messaging,
		webhook:     webhook,
		settings:    NewSettingsHandler(settings),
	}
}

// Router builds the gin engine with all routes registered.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	// CORS middleware
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		}

		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Hub-Signature-256")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	SetupRoutes(r, h)
	return r
}
