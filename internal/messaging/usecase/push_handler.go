package usecase

import (
	"context"
	"fmt"
	"time"

	accountdomain "dmsync-backend/internal/account/domain"
	accountrepo "dmsync-backend/internal/account/repository"
	"dmsync-backend/internal/messaging/domain"
	apperrors "dmsync-backend/pkg/errors"
	"dmsync-backend/pkg/logger"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"
)

// pushUsecase implements PushUsecase
type pushUsecase struct {
	accounts   accountrepo.AccountRepository
	resolver   *Resolver
	engine     *PersistenceEngine
	identities IdentityEnricher
	notifier   InboundNotifier
	now        func() time.Time
	logger     zerolog.Logger
}

// NewPushUsecase creates the push ingestion path. notifier may be nil.
func NewPushUsecase(
	accounts accountrepo.AccountRepository,
	resolver *Resolver,
	engine *PersistenceEngine,
	identities IdentityEnricher,
	notifier InboundNotifier,
) PushUsecase {
	return &pushUsecase{
		accounts:   accounts,
		resolver:   resolver,
		engine:     engine,
		identities: identities,
		notifier:   notifier,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logger.Component("push"),
	}
}

func (u *pushUsecase) HandleEvent(ctx context.Context, accountID string, event domain.PushEvent) (*UpsertResult, error) {
	account, err := u.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, apperrors.ErrAccountNotFound
	}
	return u.handle(ctx, account, event)
}

func (u *pushUsecase) handle(ctx context.Context, account *accountdomain.AccountConnection, event domain.PushEvent) (*UpsertResult, error) {
	if event.Message.ID == "" {
		return nil, apperrors.ErrEventMissingMessageID
	}
	if event.Sender.ID == "" || event.Recipient.ID == "" {
		return nil, apperrors.ErrEventMissingSender
	}
	now := u.now()

	parties, err := u.resolver.ResolveParties(MessageParties{
		SenderID:     event.Sender.ID,
		RecipientID:  event.Recipient.ID,
		SelfID:       account.SelfParticipantID,
		SelfUsername: account.Username,
		Echo:         event.IsEcho,
	})
	if err != nil {
		return nil, err
	}

	// A missing or expired token only disables the upstream lookup strategy
	token, _ := account.UsableToken(now)
	conversationID, err := u.resolver.ResolveConversationID(ctx, ConversationLookup{
		AccountID:     account.ID,
		EmbeddedID:    event.ConversationID(),
		ParticipantID: parties.ParticipantID,
		Token:         token,
	})
	if err != nil {
		return nil, err
	}

	msg := &domain.Message{
		ID:                event.Message.ID,
		Direction:         parties.Direction,
		DirectionInferred: parties.LowConfidence,
		SenderID:          event.Sender.ID,
		RecipientID:       event.Recipient.ID,
		Text:              event.Message.Text,
		CreatedTime:       event.CreatedTime(now),
	}
	if len(event.Message.Attachments) > 0 {
		msg.Attachments = datatypes.JSON(event.Message.Attachments)
	}
	if len(event.Raw) > 0 {
		msg.RawPayload = datatypes.JSON(event.Raw)
	}

	result, err := u.engine.Upsert(ctx, UnitOfWork{
		Conversation: ConversationRecord{
			ID:            conversationID,
			AccountID:     account.ID,
			ParticipantID: parties.ParticipantID,
		},
		Messages: []*domain.Message{msg},
	})
	if err != nil {
		return nil, err
	}

	if parties.LowConfidence {
		u.logger.Warn().
			Str("account_id", account.ID).
			Str("message_id", msg.ID).
			Msg("self id unknown, direction defaulted to inbound")
	}

	// Identity enrichment and notifications run after the write and never fail it
	if u.identities != nil {
		u.identities.Enqueue(account.ID, parties.ParticipantID)
	}
	if u.notifier != nil {
		if inbound := inboundOnly(result.Inserted); len(inbound) > 0 {
			u.notifier.NotifyInbound(ctx, account.ID, inbound)
		}
	}
	return result, nil
}

func (u *pushUsecase) HandleEvents(ctx context.Context, accountID string, events []domain.PushEvent) *domain.PushResult {
	result := &domain.PushResult{Errors: []string{}}

	account, err := u.accounts.FindByID(ctx, accountID)
	if err == nil && account == nil {
		err = apperrors.ErrAccountNotFound
	}
	if err != nil {
		for _, event := range events {
			result.Processed++
			result.Dropped++
			result.Errors = append(result.Errors, eventError(event, err))
		}
		return result
	}

	u.applyEvents(ctx, account, events, result)
	return result
}

func (u *pushUsecase) HandleWebhook(ctx context.Context, payload domain.WebhookPayload) *domain.PushResult {
	result := &domain.PushResult{Errors: []string{}}

	for _, entry := range payload.Entry {
		events, decodeErrs := entry.Events()
		for _, decodeErr := range decodeErrs {
			result.Processed++
			result.Dropped++
			result.Errors = append(result.Errors, decodeErr.Error())
		}

		account, err := u.accountForEntry(ctx, entry.ID)
		if err != nil {
			for _, event := range events {
				result.Processed++
				result.Dropped++
				result.Errors = append(result.Errors, eventError(event, err))
			}
			continue
		}
		u.applyEvents(ctx, account, events, result)
	}
	return result
}

func (u *pushUsecase) applyEvents(ctx context.Context, account *accountdomain.AccountConnection, events []domain.PushEvent, result *domain.PushResult) {
	for _, event := range events {
		result.Processed++
		res, err := u.handle(ctx, account, event)
		if err != nil {
			result.Dropped++
			result.Errors = append(result.Errors, eventError(event, err))
			u.logger.Warn().
				Str("account_id", account.ID).
				Str("message_id", event.Message.ID).
				Str("code", string(apperrors.CodeOf(err))).
				Err(err).
				Msg("push event dropped")
			continue
		}
		result.Inserted += len(res.Inserted)
	}
}

// accountForEntry maps a webhook entry id to a connected account, first by
// account id and then by the account's self participant id.
func (u *pushUsecase) accountForEntry(ctx context.Context, entryID string) (*accountdomain.AccountConnection, error) {
	account, err := u.accounts.FindByID(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if account != nil {
		return account, nil
	}
	account, err = u.accounts.FindBySelfParticipantID(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("webhook entry %s: %w", entryID, apperrors.ErrAccountNotFound)
	}
	return account, nil
}

func eventError(event domain.PushEvent, err error) string {
	if event.Message.ID == "" {
		return err.Error()
	}
	return fmt.Sprintf("message %s: %v", event.Message.ID, err)
}

func inboundOnly(messages []*domain.Message) []*domain.Message {
	inbound := make([]*domain.Message, 0, len(messages))
	for _, m := range messages {
		if m.Direction == domain.DirectionInbound {
			inbound = append(inbound, m)
		}
	}
	return inbound
}
