package usecase

import (
	"context"

	accountdomain "dmsync-backend/internal/account/domain"
	"dmsync-backend/internal/messaging/domain"
)

// PushUsecase ingests near-real-time message events
type PushUsecase interface {
	HandleEvent(ctx context.Context, accountID string, event domain.PushEvent) (*UpsertResult, error)
	HandleEvents(ctx context.Context, accountID string, events []domain.PushEvent) *domain.PushResult
	HandleWebhook(ctx context.Context, payload domain.WebhookPayload) *domain.PushResult
}

// SyncUsecase runs reconciliation syncs against the upstream API
type SyncUsecase interface {
	Sync(ctx context.Context, accountID string, opts domain.SyncOptions) (*domain.SyncSummary, error)
	// SyncIncremental syncs conversations updated since the last completed run.
	SyncIncremental(ctx context.Context, accountID string) (*domain.SyncSummary, error)
	ListRuns(ctx context.Context, accountID string, limit int) ([]*domain.SyncRun, error)
}

// ConversationUsecase serves the stored conversations and messages
type ConversationUsecase interface {
	ListConversations(ctx context.Context, accountID, query string, limit, offset int) ([]*domain.Conversation, int64, error)
	ListMessages(ctx context.Context, accountID, conversationID string, limit, offset int) ([]*domain.Message, int64, error)
	MarkConversationRead(ctx context.Context, accountID, conversationID string) (int64, error)
}

// IdentityUsecase exposes the identity cache
type IdentityUsecase interface {
	Get(ctx context.Context, participantID string) (*domain.ParticipantIdentity, error)
	Resolve(ctx context.Context, account *accountdomain.AccountConnection, participantID string) (*domain.ParticipantIdentity, error)
	Backfill(ctx context.Context, accountID string, limit int) (*BackfillResult, error)
}

// IdentityEnricher receives fire-and-forget enrichment requests
type IdentityEnricher interface {
	Enqueue(accountID, participantID string) bool
}

// IdentitySeeder stores identities already present in sync data
type IdentitySeeder interface {
	IdentityEnricher
	Seed(ctx context.Context, accountID string, participants []domain.UpstreamParticipant) (int, error)
}

// InboundNotifier is told about genuinely new inbound messages
type InboundNotifier interface {
	NotifyInbound(ctx context.Context, accountID string, messages []*domain.Message)
}

var (
	_ IdentityUsecase = (*IdentityCache)(nil)
	_ IdentitySeeder  = (*IdentityCache)(nil)
)
