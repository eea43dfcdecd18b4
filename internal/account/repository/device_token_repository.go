package repository

import (
	"context"
	"time"

	accountdomain "dmsync-backend/internal/account/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DeviceTokenRepository defines the interface for FCM device token operations
type DeviceTokenRepository interface {
	SaveToken(ctx context.Context, accountID, token, deviceInfo string) error
	GetTokensByAccountID(ctx context.Context, accountID string) ([]accountdomain.DeviceToken, error)
	DeleteToken(ctx context.Context, token string) error
	DeleteTokens(ctx context.Context, tokens []string) error
}

// deviceTokenRepository implements DeviceTokenRepository interface
type deviceTokenRepository struct {
	db *gorm.DB
}

// NewDeviceTokenRepository creates a new instance of deviceTokenRepository
func NewDeviceTokenRepository(db *gorm.DB) DeviceTokenRepository {
	return &deviceTokenRepository{
		db: db,
	}
}

// SaveToken registers a device for an account; a token moves to the latest account that registers it
func (r *deviceTokenRepository) SaveToken(ctx context.Context, accountID, token, deviceInfo string) error {
	now := time.Now().UTC()
	deviceToken := &accountdomain.DeviceToken{
		ID:         uuid.New().String(),
		AccountID:  accountID,
		Token:      token,
		DeviceInfo: deviceInfo,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	// Atomic upsert: INSERT ... ON CONFLICT (token) DO UPDATE
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "token"}},
		DoUpdates: clause.AssignmentColumns([]string{"account_id", "device_info", "updated_at"}),
	}).Create(deviceToken).Error
}

func (r *deviceTokenRepository) GetTokensByAccountID(ctx context.Context, accountID string) ([]accountdomain.DeviceToken, error) {
	var tokens []accountdomain.DeviceToken
	err := r.db.WithContext(ctx).Where("account_id = ?", accountID).Find(&tokens).Error
	if err != nil {
		return nil, err
	}
	return tokens, nil
}

func (r *deviceTokenRepository) DeleteToken(ctx context.Context, token string) error {
	return r.db.WithContext(ctx).Where("token = ?", token).Delete(&accountdomain.DeviceToken{}).Error
}

// DeleteTokens removes tokens FCM reported as unregistered
func (r *deviceTokenRepository) DeleteTokens(ctx context.Context, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Where("token IN ?", tokens).Delete(&accountdomain.DeviceToken{}).Error
}
