package usecase

import (
	"context"
	"sort"
	"time"

	"dmsync-backend/internal/messaging/domain"
	"dmsync-backend/internal/messaging/repository"
	apperrors "dmsync-backend/pkg/errors"
	"dmsync-backend/pkg/logger"

	"github.com/rs/zerolog"
)

// ConversationRecord is the conversation half of a unit of work.
type ConversationRecord struct {
	ID               string
	AccountID        string
	ParticipantID    string
	IsGroup          bool
	ParticipantCount int
}

// UnitOfWork is one conversation and the messages observed for it in one pass.
type UnitOfWork struct {
	Conversation ConversationRecord
	Messages     []*domain.Message
}

// UpsertResult reports what a unit of work changed.
type UpsertResult struct {
	// ConversationID is the id of the row actually written, which differs from
	// the requested id after a redirect.
	ConversationID      string
	ConversationCreated bool
	ConversationUpdated bool
	Redirected          bool
	MessagesFound       int
	// Inserted holds only genuinely new messages.
	Inserted []*domain.Message
}

// PersistenceEngine writes conversations and messages idempotently.
type PersistenceEngine struct {
	store  repository.MessageStore
	now    func() time.Time
	logger zerolog.Logger
}

func NewPersistenceEngine(store repository.MessageStore) *PersistenceEngine {
	return &PersistenceEngine{
		store:  store,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.Component("persistence"),
	}
}

// Upsert applies uow in a single transaction. Re-applying the same unit of work
// leaves the store unchanged.
func (e *PersistenceEngine) Upsert(ctx context.Context, uow UnitOfWork) (*UpsertResult, error) {
	rec := uow.Conversation
	if rec.ID == "" {
		return nil, apperrors.ErrConversationUnresolved
	}
	if rec.ParticipantID == "" {
		return nil, apperrors.ErrParticipantUnresolved
	}

	messages := make([]*domain.Message, 0, len(uow.Messages))
	for _, m := range uow.Messages {
		if m != nil && m.ID != "" {
			messages = append(messages, m)
		}
	}
	sort.SliceStable(messages, func(i, j int) bool {
		if !messages[i].CreatedTime.Equal(messages[j].CreatedTime) {
			return messages[i].CreatedTime.Before(messages[j].CreatedTime)
		}
		return messages[i].ID < messages[j].ID
	})

	result := &UpsertResult{MessagesFound: len(messages)}
	err := e.store.Transaction(ctx, func(tx repository.MessageStore) error {
		conv, created, redirected, err := e.locateConversation(ctx, tx, rec)
		if err != nil {
			return err
		}
		result.ConversationID = conv.ID
		result.ConversationCreated = created
		result.Redirected = redirected

		inserted, err := e.writeMessages(ctx, tx, conv, messages)
		if err != nil {
			return err
		}
		result.Inserted = inserted

		fields, err := e.aggregateFields(ctx, tx, conv, rec, inserted)
		if err != nil {
			return err
		}
		if len(fields) > 0 {
			if err := tx.UpdateConversationFields(ctx, conv.ID, fields); err != nil {
				return err
			}
			result.ConversationUpdated = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Redirected {
		e.logger.Info().
			Str("requested_id", rec.ID).
			Str("conversation_id", result.ConversationID).
			Str("participant_id", rec.ParticipantID).
			Msg("redirected unit of work to existing conversation")
	}
	return result, nil
}

// locateConversation finds the row for rec by id, then by (account, participant),
// and inserts it only when neither exists.
func (e *PersistenceEngine) locateConversation(ctx context.Context, tx repository.MessageStore, rec ConversationRecord) (*domain.Conversation, bool, bool, error) {
	conv, err := tx.FindConversation(ctx, rec.ID)
	if err != nil || conv != nil {
		return conv, false, false, err
	}

	conv, err = tx.FindConversationByParticipant(ctx, rec.AccountID, rec.ParticipantID)
	if err != nil {
		return nil, false, false, err
	}
	if conv != nil {
		return conv, false, true, nil
	}

	fresh := &domain.Conversation{
		ID:               rec.ID,
		AccountID:        rec.AccountID,
		ParticipantID:    rec.ParticipantID,
		IsGroup:          rec.IsGroup,
		ParticipantCount: rec.ParticipantCount,
	}
	inserted, err := tx.InsertConversationIfAbsent(ctx, fresh)
	if err != nil {
		return nil, false, false, apperrors.ErrConversationConflict(err)
	}
	if inserted {
		return fresh, true, false, nil
	}

	// Lost a race with a concurrent writer; use whichever row won
	if conv, err = tx.FindConversation(ctx, rec.ID); err != nil || conv != nil {
		return conv, false, false, err
	}
	if conv, err = tx.FindConversationByParticipant(ctx, rec.AccountID, rec.ParticipantID); err != nil || conv != nil {
		return conv, false, conv != nil, err
	}
	return nil, false, false, apperrors.ErrConversationConflict(nil)
}

func (e *PersistenceEngine) writeMessages(ctx context.Context, tx repository.MessageStore, conv *domain.Conversation, messages []*domain.Message) ([]*domain.Message, error) {
	inserted := make([]*domain.Message, 0, len(messages))
	for _, m := range messages {
		m.ConversationID = conv.ID
		m.AccountID = conv.AccountID
		if m.Direction == domain.DirectionOutbound && m.ReadAt == nil {
			readAt := m.CreatedTime
			m.ReadAt = &readAt
		}

		ok, err := tx.InsertMessageIfAbsent(ctx, m)
		if err != nil {
			return nil, err
		}
		if ok {
			inserted = append(inserted, m)
			continue
		}
		// Known message: only the read-time transition may change it
		if m.ReadAt != nil {
			if err := tx.SetMessageReadAt(ctx, m.ID, *m.ReadAt); err != nil {
				return nil, err
			}
		}
	}
	return inserted, nil
}

// aggregateFields recomputes the preview and unread count from the stored
// messages and returns only the columns whose value actually changes.
func (e *PersistenceEngine) aggregateFields(ctx context.Context, tx repository.MessageStore, conv *domain.Conversation, rec ConversationRecord, inserted []*domain.Message) (map[string]interface{}, error) {
	fields := make(map[string]interface{})

	latest, err := tx.LatestMessage(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	if latest != nil {
		at := latest.CreatedTime.UTC()
		if conv.LastMessageAt == nil || !conv.LastMessageAt.Equal(at) {
			fields["last_message_at"] = at
		}
		if preview := latest.Preview(); preview != conv.LastMessageText {
			fields["last_message_text"] = preview
		}
	}

	// Replays leave the count alone; inserts recompute it from the stored rows
	if len(inserted) > 0 {
		unread, err := tx.CountUnreadInbound(ctx, conv.ID)
		if err != nil {
			return nil, err
		}
		if unread != conv.UnreadCount {
			fields["unread_count"] = unread
		}
	}

	if rec.ParticipantCount > 0 && rec.ParticipantCount != conv.ParticipantCount {
		fields["participant_count"] = rec.ParticipantCount
	}
	if rec.IsGroup && !conv.IsGroup {
		fields["is_group"] = true
	}
	return fields, nil
}

// MarkConversationRead stamps unread inbound messages and clears the unread count.
func (e *PersistenceEngine) MarkConversationRead(ctx context.Context, accountID, conversationID string) (int64, error) {
	var marked int64
	err := e.store.Transaction(ctx, func(tx repository.MessageStore) error {
		conv, err := tx.FindConversation(ctx, conversationID)
		if err != nil {
			return err
		}
		if conv == nil || conv.AccountID != accountID {
			return apperrors.NotFound("conversation not found")
		}

		marked, err = tx.MarkInboundRead(ctx, conv.ID, e.now())
		if err != nil {
			return err
		}
		if conv.UnreadCount != 0 {
			return tx.UpdateConversationFields(ctx, conv.ID, map[string]interface{}{"unread_count": 0})
		}
		return nil
	})
	return marked, err
}
