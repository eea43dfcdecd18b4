package delivery

import (
	"time"

	"dmsync-backend/internal/messaging/domain"
)

type PushEventsRequest struct {
	Events []domain.PushEvent `json:"events" binding:"required"`
}

type SyncRequest struct {
	Since *time.Time `json:"since"`
	Until *time.Time `json:"until"`
}

type ConversationsResponse struct {
	Conversations []*domain.Conversation `json:"conversations"`
	Limit         int                    `json:"limit"`
	Offset        int                    `json:"offset"`
	Total         int64                  `json:"total"`
}

type MessagesResponse struct {
	Messages []*domain.Message `json:"messages"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
	Total    int64             `json:"total"`
}

type RegisterDeviceRequest struct {
	Token      string `json:"token" binding:"required"`
	DeviceInfo string `json:"device_info"`
}
