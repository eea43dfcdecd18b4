package repository

import (
	"context"
	"time"

	"dmsync-backend/internal/messaging/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// leaseRepository implements SyncLocker on the sync_leases table
type leaseRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewLeaseRepository creates a postgres backed SyncLocker
func NewLeaseRepository(db *gorm.DB) SyncLocker {
	return &leaseRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (r *leaseRepository) Acquire(ctx context.Context, accountID, owner string, ttl time.Duration) (bool, error) {
	now := r.now()
	lease := &domain.SyncLease{
		AccountID: accountID,
		Owner:     owner,
		ExpiresAt: now.Add(ttl),
	}

	// Take over only an expired lease or one we already own
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"owner", "expires_at"}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Or(
				clause.Expr{SQL: "sync_leases.expires_at < ?", Vars: []interface{}{now}},
				clause.Expr{SQL: "sync_leases.owner = ?", Vars: []interface{}{owner}},
			),
		}},
	}).Create(lease)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *leaseRepository) Extend(ctx context.Context, accountID, owner string, ttl time.Duration) (bool, error) {
	result := r.db.WithContext(ctx).Model(&domain.SyncLease{}).
		Where("account_id = ? AND owner = ?", accountID, owner).
		Update("expires_at", r.now().Add(ttl))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *leaseRepository) Release(ctx context.Context, accountID, owner string) error {
	return r.db.WithContext(ctx).
		Where("account_id = ? AND owner = ?", accountID, owner).
		Delete(&domain.SyncLease{}).Error
}
