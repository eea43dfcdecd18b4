package repository

import (
	"context"
	"errors"

	accountdomain "dmsync-backend/internal/account/domain"

	"gorm.io/gorm"
)

// AccountRepository gives read access to connected accounts
type AccountRepository interface {
	FindByID(ctx context.Context, id string) (*accountdomain.AccountConnection, error)
	FindBySelfParticipantID(ctx context.Context, participantID string) (*accountdomain.AccountConnection, error)
	List(ctx context.Context) ([]*accountdomain.AccountConnection, error)
}

// accountRepository implements AccountRepository interface
type accountRepository struct {
	db *gorm.DB
}

// NewAccountRepository creates a new instance of accountRepository
func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{
		db: db,
	}
}

func (r *accountRepository) FindByID(ctx context.Context, id string) (*accountdomain.AccountConnection, error) {
	var account accountdomain.AccountConnection
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *accountRepository) FindBySelfParticipantID(ctx context.Context, participantID string) (*accountdomain.AccountConnection, error) {
	if participantID == "" {
		return nil, nil
	}
	var account accountdomain.AccountConnection
	err := r.db.WithContext(ctx).Where("self_participant_id = ?", participantID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *accountRepository) List(ctx context.Context) ([]*accountdomain.AccountConnection, error) {
	var accounts []*accountdomain.AccountConnection
	err := r.db.WithContext(ctx).Order("id ASC").Find(&accounts).Error
	return accounts, err
}
