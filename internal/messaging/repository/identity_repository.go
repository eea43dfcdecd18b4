package repository

import (
	"context"
	"errors"

	"dmsync-backend/internal/messaging/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const missingIdentityFilter = "COALESCE(name, '') = '' AND COALESCE(username, '') = ''"

// identityRepository implements IdentityRepository interface
type identityRepository struct {
	db *gorm.DB
}

// NewIdentityRepository creates a new instance of identityRepository
func NewIdentityRepository(db *gorm.DB) IdentityRepository {
	return &identityRepository{
		db: db,
	}
}

func (r *identityRepository) Get(ctx context.Context, participantID string) (*domain.ParticipantIdentity, error) {
	var entry domain.ParticipantIdentity
	err := r.db.WithContext(ctx).Where("participant_id = ?", participantID).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func (r *identityRepository) GetMany(ctx context.Context, participantIDs []string) (map[string]*domain.ParticipantIdentity, error) {
	result := make(map[string]*domain.ParticipantIdentity, len(participantIDs))
	if len(participantIDs) == 0 {
		return result, nil
	}

	var entries []*domain.ParticipantIdentity
	if err := r.db.WithContext(ctx).Where("participant_id IN ?", participantIDs).Find(&entries).Error; err != nil {
		return nil, err
	}
	for _, entry := range entries {
		result[entry.ParticipantID] = entry
	}
	return result, nil
}

func (r *identityRepository) Save(ctx context.Context, entry *domain.ParticipantIdentity) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "participant_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"account_id", "name", "username", "profile_pic_url",
			"last_fetched_at", "failure_count", "last_failure_at", "updated_at",
		}),
	}).Create(entry).Error
}

func (r *identityRepository) SeedIfAbsent(ctx context.Context, entry *domain.ParticipantIdentity) (bool, error) {
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "participant_id"}},
		DoNothing: true,
	}).Create(entry)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *identityRepository) ListMissing(ctx context.Context, accountID string, limit int) ([]*domain.ParticipantIdentity, error) {
	var entries []*domain.ParticipantIdentity
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Where(missingIdentityFilter).
		Order("failure_count ASC, updated_at ASC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

func (r *identityRepository) AccountsWithMissing(ctx context.Context) ([]string, error) {
	var accountIDs []string
	err := r.db.WithContext(ctx).
		Model(&domain.ParticipantIdentity{}).
		Where("account_id <> ''").
		Where(missingIdentityFilter).
		Distinct().
		Pluck("account_id", &accountIDs).Error
	return accountIDs, err
}
