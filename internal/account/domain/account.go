package domain

import (
	"time"

	apperrors "dmsync-backend/pkg/errors"
)

// AccountConnection is maintained by the connection subsystem; the sync engine only reads it.
type AccountConnection struct {
	ID          string     `json:"id" gorm:"primaryKey"`
	AccessToken string     `json:"-" gorm:"type:text"`
	TokenExpiry *time.Time `json:"token_expiry,omitempty"`
	// SelfParticipantID is the account's own id as it appears as a sender or
	// recipient inside conversations. It is not the same value space as ID.
	SelfParticipantID string    `json:"self_participant_id" gorm:"index"`
	Username          string    `json:"username"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// UsableToken returns the access token, or an authentication error when it is
// missing or already expired.
func (a *AccountConnection) UsableToken(now time.Time) (string, error) {
	if a == nil || a.AccessToken == "" {
		return "", apperrors.ErrMissingAccessToken
	}
	if a.TokenExpiry != nil && !a.TokenExpiry.IsZero() && !now.Before(*a.TokenExpiry) {
		return "", apperrors.ErrTokenExpired
	}
	return a.AccessToken, nil
}
