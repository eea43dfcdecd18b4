package delivery

import (
	"context"
	"net/http"
	"strconv"

	accountdomain "dmsync-backend/internal/account/domain"
	accountrepo "dmsync-backend/internal/account/repository"
	"dmsync-backend/internal/messaging/domain"
	"dmsync-backend/internal/messaging/usecase"
	apperrors "dmsync-backend/pkg/errors"

	"github.com/gin-gonic/gin"
)

type AccountFinder interface {
	FindByID(ctx context.Context, id string) (*accountdomain.AccountConnection, error)
}

type MessagingHandler struct {
	accounts      AccountFinder
	push          usecase.PushUsecase
	sync          usecase.SyncUsecase
	conversations usecase.ConversationUsecase
	identities    usecase.IdentityUsecase
	devices       accountrepo.DeviceTokenRepository
}

func NewMessagingHandler(
	accounts AccountFinder,
	push usecase.PushUsecase,
	sync usecase.SyncUsecase,
	conversations usecase.ConversationUsecase,
	identities usecase.IdentityUsecase,
	devices accountrepo.DeviceTokenRepository,
) *MessagingHandler {
	return &MessagingHandler{
		accounts:      accounts,
		push:          push,
		sync:          sync,
		conversations: conversations,
		identities:    identities,
		devices:       devices,
	}
}

// POST /api/accounts/:account_id/events
func (h *MessagingHandler) PushEvents(c *gin.Context) {
	var req PushEventsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result := h.push.HandleEvents(c.Request.Context(), c.Param("account_id"), req.Events)
	c.JSON(http.StatusOK, result)
}

// POST /api/accounts/:account_id/sync
// The summary is returned even when the run aborts.
func (h *MessagingHandler) Sync(c *gin.Context) {
	var req SyncRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.Since != nil && req.Until != nil && req.Until.Before(*req.Since) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "until must not be before since"})
		return
	}

	summary, err := h.sync.Sync(c.Request.Context(), c.Param("account_id"), domain.SyncOptions{Since: req.Since, Until: req.Until})
	if err != nil {
		body := errorBody(err)
		body["summary"] = summary
		c.JSON(statusFor(apperrors.CodeOf(err)), body)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// GET /api/accounts/:account_id/sync/runs
func (h *MessagingHandler) ListSyncRuns(c *gin.Context) {
	limit := queryInt(c, "limit", 20)
	runs, err := h.sync.ListRuns(c.Request.Context(), c.Param("account_id"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// GET /api/accounts/:account_id/conversations?q=
func (h *MessagingHandler) ListConversations(c *gin.Context) {
	limit, offset := pagination(c)
	conversations, total, err := h.conversations.ListConversations(c.Request.Context(), c.Param("account_id"), c.Query("q"), limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ConversationsResponse{
		Conversations: conversations,
		Limit:         limit,
		Offset:        offset,
		Total:         total,
	})
}

// GET /api/accounts/:account_id/conversations/:conversation_id/messages
func (h *MessagingHandler) ListMessages(c *gin.Context) {
	limit, offset := pagination(c)
	messages, total, err := h.conversations.ListMessages(c.Request.Context(), c.Param("account_id"), c.Param("conversation_id"), limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, MessagesResponse{
		Messages: messages,
		Limit:    limit,
		Offset:   offset,
		Total:    total,
	})
}

// POST /api/accounts/:account_id/conversations/:conversation_id/read
func (h *MessagingHandler) MarkConversationRead(c *gin.Context) {
	marked, err := h.conversations.MarkConversationRead(c.Request.Context(), c.Param("account_id"), c.Param("conversation_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"marked": marked})
}

// GET /api/accounts/:account_id/identities/:participant_id
// Serves the cached identity, fetching it upstream when stale.
func (h *MessagingHandler) GetIdentity(c *gin.Context) {
	account, ok := h.loadAccount(c)
	if !ok {
		return
	}
	identity, err := h.identities.Resolve(c.Request.Context(), account, c.Param("participant_id"))
	if err != nil {
		// A stored entry is still useful when the refresh failed
		if identity.HasIdentity() {
			c.JSON(http.StatusOK, gin.H{"identity": identity, "stale": true, "error": err.Error()})
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"identity": identity})
}

// POST /api/accounts/:account_id/identities/backfill?limit=
func (h *MessagingHandler) BackfillIdentities(c *gin.Context) {
	limit := queryInt(c, "limit", usecase.MaxBackfillBatch)
	result, err := h.identities.Backfill(c.Request.Context(), c.Param("account_id"), limit)
	if err != nil {
		body := errorBody(err)
		body["result"] = result
		c.JSON(statusFor(apperrors.CodeOf(err)), body)
		return
	}
	c.JSON(http.StatusOK, result)
}

// POST /api/accounts/:account_id/devices
func (h *MessagingHandler) RegisterDevice(c *gin.Context) {
	account, ok := h.loadAccount(c)
	if !ok {
		return
	}
	var req RegisterDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.devices.SaveToken(c.Request.Context(), account.ID, req.Token, req.DeviceInfo); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "device registered"})
}

// DELETE /api/accounts/:account_id/devices/:token
func (h *MessagingHandler) UnregisterDevice(c *gin.Context) {
	if err := h.devices.DeleteToken(c.Request.Context(), c.Param("token")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "device unregistered"})
}

func (h *MessagingHandler) loadAccount(c *gin.Context) (*accountdomain.AccountConnection, bool) {
	account, err := h.accounts.FindByID(c.Request.Context(), c.Param("account_id"))
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	if account == nil {
		writeError(c, apperrors.ErrAccountNotFound)
		return nil, false
	}
	return account, true
}

func pagination(c *gin.Context) (int, int) {
	limit := queryInt(c, "limit", 50)
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	offset := queryInt(c, "offset", 0)
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func queryInt(c *gin.Context, key string, fallback int) int {
	if raw := c.Query(key); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			return parsed
		}
	}
	return fallback
}
