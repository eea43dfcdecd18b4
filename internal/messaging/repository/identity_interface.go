package repository

import (
	"context"

	"dmsync-backend/internal/messaging/domain"
)

// IdentityRepository defines operations on cached participant identities
type IdentityRepository interface {
	Get(ctx context.Context, participantID string) (*domain.ParticipantIdentity, error)
	GetMany(ctx context.Context, participantIDs []string) (map[string]*domain.ParticipantIdentity, error)
	// Save writes every column of entry, inserting the row when missing.
	Save(ctx context.Context, entry *domain.ParticipantIdentity) error
	// SeedIfAbsent inserts entry only when no row exists for its participant.
	SeedIfAbsent(ctx context.Context, entry *domain.ParticipantIdentity) (bool, error)
	// ListMissing returns entries of the account that still have neither name nor username.
	ListMissing(ctx context.Context, accountID string, limit int) ([]*domain.ParticipantIdentity, error)
	// AccountsWithMissing returns account ids that own at least one entry without identity.
	AccountsWithMissing(ctx context.Context) ([]string, error)
}
