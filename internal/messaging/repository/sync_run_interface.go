package repository

import (
	"context"

	"dmsync-backend/internal/messaging/domain"
)

// SyncRunRepository defines operations for the reconciliation run history
type SyncRunRepository interface {
	Create(ctx context.Context, run *domain.SyncRun) error
	Update(ctx context.Context, run *domain.SyncRun) error
	ListByAccount(ctx context.Context, accountID string, limit int) ([]*domain.SyncRun, error)
	// LastCompleted returns the most recent completed run, or nil.
	LastCompleted(ctx context.Context, accountID string) (*domain.SyncRun, error)
}
