package notification

import (
	"context"
	"fmt"
	"time"

	accountrepo "dmsync-backend/internal/account/repository"
	"dmsync-backend/internal/messaging/domain"
	"dmsync-backend/internal/messaging/repository"
	"dmsync-backend/pkg/fcm"
	"dmsync-backend/pkg/logger"

	"github.com/rs/zerolog"
)

const sendTimeout = 15 * time.Second

// DeviceSender delivers one notification to many devices and reports stale tokens.
type DeviceSender interface {
	SendToDevices(ctx context.Context, tokens []string, notification fcm.NotificationData) ([]string, error)
}

// PushNotifier sends a device notification for every batch of new inbound messages.
type PushNotifier struct {
	tokens     accountrepo.DeviceTokenRepository
	identities repository.IdentityRepository
	sender     DeviceSender
	logger     zerolog.Logger
}

func NewPushNotifier(tokens accountrepo.DeviceTokenRepository, identities repository.IdentityRepository, sender DeviceSender) *PushNotifier {
	return &PushNotifier{
		tokens:     tokens,
		identities: identities,
		sender:     sender,
		logger:     logger.Component("notifier"),
	}
}

// NotifyInbound returns immediately; delivery happens in the background.
func (n *PushNotifier) NotifyInbound(ctx context.Context, accountID string, messages []*domain.Message) {
	if n.sender == nil || len(messages) == 0 {
		return
	}
	go func() {
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
		defer cancel()
		if err := n.send(sendCtx, accountID, messages); err != nil {
			n.logger.Error().Str("account_id", accountID).Err(err).Msg("failed to send push notification")
		}
	}()
}

func (n *PushNotifier) send(ctx context.Context, accountID string, messages []*domain.Message) error {
	tokens, err := n.tokens.GetTokensByAccountID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("load device tokens: %w", err)
	}
	if len(tokens) == 0 {
		n.logger.Debug().Str("account_id", accountID).Msg("no device tokens, skipping")
		return nil
	}
	tokenStrings := make([]string, 0, len(tokens))
	for _, t := range tokens {
		tokenStrings = append(tokenStrings, t.Token)
	}

	stale, err := n.sender.SendToDevices(ctx, tokenStrings, n.buildNotification(ctx, messages))
	if err != nil {
		return err
	}
	if len(stale) > 0 {
		n.logger.Info().Str("account_id", accountID).Int("count", len(stale)).Msg("removing stale device tokens")
		if err := n.tokens.DeleteTokens(ctx, stale); err != nil {
			return fmt.Errorf("delete stale tokens: %w", err)
		}
	}
	return nil
}

// buildNotification describes the newest message of the batch.
func (n *PushNotifier) buildNotification(ctx context.Context, messages []*domain.Message) fcm.NotificationData {
	latest := messages[0]
	for _, m := range messages[1:] {
		if m.CreatedTime.After(latest.CreatedTime) {
			latest = m
		}
	}

	sender := latest.SenderID
	if identity, err := n.identities.Get(ctx, latest.SenderID); err == nil && identity != nil {
		sender = identity.DisplayName()
	}

	body := latest.Preview()
	if body == "" {
		body = "New message"
	}
	if len(messages) > 1 {
		body = fmt.Sprintf("%s (+%d more)", body, len(messages)-1)
	}

	return fcm.NotificationData{
		Title: sender,
		Body:  body,
		Data: map[string]string{
			"type":            "dm_inbound",
			"conversation_id": latest.ConversationID,
			"message_id":      latest.ID,
			"click_action":    "/conversations/" + latest.ConversationID,
		},
	}
}
