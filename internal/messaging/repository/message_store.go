package repository

import (
	"context"
	"errors"
	"time"

	"dmsync-backend/internal/messaging/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// messageStore implements MessageStore interface
type messageStore struct {
	db *gorm.DB
}

// NewMessageStore creates a new instance of messageStore
func NewMessageStore(db *gorm.DB) MessageStore {
	return &messageStore{
		db: db,
	}
}

func (s *messageStore) Transaction(ctx context.Context, fn func(tx MessageStore) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&messageStore{db: tx})
	})
}

func (s *messageStore) FindConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	var conv domain.Conversation
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&conv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &conv, nil
}

func (s *messageStore) FindConversationByParticipant(ctx context.Context, accountID, participantID string) (*domain.Conversation, error) {
	var conv domain.Conversation
	err := s.db.WithContext(ctx).
		Where("account_id = ? AND participant_id = ?", accountID, participantID).
		First(&conv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &conv, nil
}

func (s *messageStore) InsertConversationIfAbsent(ctx context.Context, conv *domain.Conversation) (bool, error) {
	// INSERT ... ON CONFLICT DO NOTHING covers both the primary key and idx_account_participant
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(conv)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (s *messageStore) UpdateConversationFields(ctx context.Context, id string, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&domain.Conversation{}).Where("id = ?", id).Updates(fields).Error
}

func (s *messageStore) ListConversations(ctx context.Context, accountID string, limit, offset int) ([]*domain.Conversation, int64, error) {
	var conversations []*domain.Conversation
	var total int64

	query := s.db.WithContext(ctx).Model(&domain.Conversation{}).Where("account_id = ?", accountID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// Newest activity first, threads without messages last
	err := query.Order("CASE WHEN last_message_at IS NULL THEN 1 ELSE 0 END, last_message_at DESC, id ASC").
		Limit(limit).Offset(offset).Find(&conversations).Error
	return conversations, total, err
}

func (s *messageStore) CountConversations(ctx context.Context, accountID string) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).Model(&domain.Conversation{}).Where("account_id = ?", accountID).Count(&total).Error
	return total, err
}

func (s *messageStore) FindMessage(ctx context.Context, id string) (*domain.Message, error) {
	var msg domain.Message
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&msg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}

func (s *messageStore) InsertMessageIfAbsent(ctx context.Context, msg *domain.Message) (bool, error) {
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(msg)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (s *messageStore) SetMessageReadAt(ctx context.Context, id string, readAt time.Time) error {
	return s.db.WithContext(ctx).Model(&domain.Message{}).
		Where("id = ? AND read_at IS NULL", id).
		Update("read_at", readAt).Error
}

func (s *messageStore) LatestMessage(ctx context.Context, conversationID string) (*domain.Message, error) {
	var msg domain.Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_time DESC, id DESC").
		First(&msg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}

func (s *messageStore) CountUnreadInbound(ctx context.Context, conversationID string) (int, error) {
	var lastOutbound domain.Message
	err := s.db.WithContext(ctx).
		Select("id", "created_time").
		Where("conversation_id = ? AND direction = ?", conversationID, domain.DirectionOutbound).
		Order("created_time DESC, id DESC").
		First(&lastOutbound).Error
	hasOutbound := err == nil
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, err
	}

	var unread []domain.Message
	err = s.db.WithContext(ctx).
		Select("id", "created_time").
		Where("conversation_id = ? AND direction = ? AND read_at IS NULL", conversationID, domain.DirectionInbound).
		Find(&unread).Error
	if err != nil {
		return 0, err
	}
	if !hasOutbound {
		return len(unread), nil
	}

	// Same ordering as LatestMessage: created_time, then id
	count := 0
	for _, m := range unread {
		if m.CreatedTime.After(lastOutbound.CreatedTime) ||
			(m.CreatedTime.Equal(lastOutbound.CreatedTime) && m.ID > lastOutbound.ID) {
			count++
		}
	}
	return count, nil
}

func (s *messageStore) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]*domain.Message, int64, error) {
	var messages []*domain.Message
	var total int64

	query := s.db.WithContext(ctx).Model(&domain.Message{}).Where("conversation_id = ?", conversationID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.Order("created_time DESC, id DESC").Limit(limit).Offset(offset).Find(&messages).Error
	return messages, total, err
}

func (s *messageStore) CountMessages(ctx context.Context, conversationID string) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).Model(&domain.Message{}).Where("conversation_id = ?", conversationID).Count(&total).Error
	return total, err
}

func (s *messageStore) MarkInboundRead(ctx context.Context, conversationID string, readAt time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Model(&domain.Message{}).
		Where("conversation_id = ? AND direction = ? AND read_at IS NULL", conversationID, domain.DirectionInbound).
		Update("read_at", readAt)
	return result.RowsAffected, result.Error
}
