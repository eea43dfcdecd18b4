package delivery

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"dmsync-backend/internal/messaging/domain"
	"dmsync-backend/internal/messaging/usecase"
	"dmsync-backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const maxWebhookBody = 1 << 20

// WebhookPublisher hands a verified delivery to asynchronous processing.
type WebhookPublisher interface {
	Publish(ctx context.Context, body []byte) error
}

// WebhookHandler receives upstream webhook deliveries. With a publisher the body
// is queued; otherwise it is ingested inline.
type WebhookHandler struct {
	push        usecase.PushUsecase
	publisher   WebhookPublisher
	verifyToken string
	appSecret   string
	logger      zerolog.Logger
}

// NewWebhookHandler creates the handler. publisher may be nil; an empty
// appSecret disables signature checks.
func NewWebhookHandler(push usecase.PushUsecase, publisher WebhookPublisher, verifyToken, appSecret string) *WebhookHandler {
	return &WebhookHandler{
		push:        push,
		publisher:   publisher,
		verifyToken: verifyToken,
		appSecret:   appSecret,
		logger:      logger.Component("webhook"),
	}
}

// GET /webhook
// Subscription handshake.
func (h *WebhookHandler) Verify(c *gin.Context) {
	if c.Query("hub.mode") != "subscribe" || h.verifyToken == "" || c.Query("hub.verify_token") != h.verifyToken {
		c.JSON(http.StatusForbidden, gin.H{"error": "verification failed"})
		return
	}
	c.String(http.StatusOK, c.Query("hub.challenge"))
}

// POST /webhook
func (h *WebhookHandler) Receive(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}
	if !h.validSignature(c.GetHeader("X-Hub-Signature-256"), body) {
		h.logger.Warn().Str("remote_addr", c.ClientIP()).Msg("rejected webhook with bad signature")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	if h.publisher != nil {
		if err := h.publisher.Publish(c.Request.Context(), body); err != nil {
			h.logger.Error().Err(err).Msg("failed to queue webhook")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to queue webhook"})
			return
		}
		c.String(http.StatusOK, "EVENT_RECEIVED")
		return
	}

	var payload domain.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result := h.push.HandleWebhook(c.Request.Context(), payload)
	if len(result.Errors) > 0 {
		h.logger.Warn().Strs("errors", result.Errors).Int("dropped", result.Dropped).Msg("webhook partially ingested")
	}
	c.String(http.StatusOK, "EVENT_RECEIVED")
}

func (h *WebhookHandler) validSignature(header string, body []byte) bool {
	if h.appSecret == "" {
		return true
	}
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.appSecret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
