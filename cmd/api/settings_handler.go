package api

import (
	"net/http"

	"dmsync-backend/internal/messaging/scheduler"

	"github.com/gin-gonic/gin"
)

// SettingsHandler exposes the runtime-configurable scheduler settings
type SettingsHandler struct {
	settings *scheduler.Settings
}

func NewSettingsHandler(settings *scheduler.Settings) *SettingsHandler {
	return &SettingsHandler{settings: settings}
}

// UpdateSchedulerSettingsRequest represents the request body for updating scheduler settings
type UpdateSchedulerSettingsRequest struct {
	SyncEnabled       *bool `json:"sync_enabled"`
	BackfillEnabled   *bool `json:"backfill_enabled"`
	BackfillBatchSize int   `json:"backfill_batch_size" binding:"omitempty,min=1"`
}

// GetSchedulerSettings returns current scheduler configuration
// GET /api/settings/scheduler
func (h *SettingsHandler) GetSchedulerSettings(c *gin.Context) {
	c.JSON(http.StatusOK, h.settings.Snapshot())
}

// UpdateSchedulerSettings updates scheduler configuration at runtime; omitted fields keep their value
// PUT /api/settings/scheduler
func (h *SettingsHandler) UpdateSchedulerSettings(c *gin.Context) {
	var req UpdateSchedulerSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	next := h.settings.Snapshot()
	if req.SyncEnabled != nil {
		next.SyncEnabled = *req.SyncEnabled
	}
	if req.BackfillEnabled != nil {
		next.BackfillEnabled = *req.BackfillEnabled
	}
	next.BackfillBatchSize = req.BackfillBatchSize

	c.JSON(http.StatusOK, h.settings.Update(next))
}
