package repository

import (
	"context"
	"time"

	"dmsync-backend/internal/messaging/domain"
)

// ConversationRepository defines conversation row operations
type ConversationRepository interface {
	FindConversation(ctx context.Context, id string) (*domain.Conversation, error)
	// FindConversationByParticipant looks up the row holding the (account, participant) slot.
	FindConversationByParticipant(ctx context.Context, accountID, participantID string) (*domain.Conversation, error)
	// InsertConversationIfAbsent inserts conv unless any unique key already exists.
	// Returns false when nothing was inserted.
	InsertConversationIfAbsent(ctx context.Context, conv *domain.Conversation) (bool, error)
	UpdateConversationFields(ctx context.Context, id string, fields map[string]interface{}) error
	ListConversations(ctx context.Context, accountID string, limit, offset int) ([]*domain.Conversation, int64, error)
	CountConversations(ctx context.Context, accountID string) (int64, error)
}

// MessageRepository defines message row operations
type MessageRepository interface {
	FindMessage(ctx context.Context, id string) (*domain.Message, error)
	// InsertMessageIfAbsent inserts msg keyed by its id. Returns false for an already known message.
	InsertMessageIfAbsent(ctx context.Context, msg *domain.Message) (bool, error)
	// SetMessageReadAt sets read_at only when it is still null.
	SetMessageReadAt(ctx context.Context, id string, readAt time.Time) error
	LatestMessage(ctx context.Context, conversationID string) (*domain.Message, error)
	// CountUnreadInbound counts unread inbound messages newer than the latest outbound one.
	CountUnreadInbound(ctx context.Context, conversationID string) (int, error)
	ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]*domain.Message, int64, error)
	CountMessages(ctx context.Context, conversationID string) (int64, error)
	// MarkInboundRead stamps every unread inbound message of the conversation.
	MarkInboundRead(ctx context.Context, conversationID string, readAt time.Time) (int64, error)
}

// MessageStore groups conversations and messages so a unit of work can share one transaction
type MessageStore interface {
	ConversationRepository
	MessageRepository
	Transaction(ctx context.Context, fn func(tx MessageStore) error) error
}
