package domain

import "time"

const (
	IdentityFreshFor         = 7 * 24 * time.Hour
	IdentityFailureThreshold = 3
	IdentityCooldown         = 15 * time.Minute
)

// ParticipantIdentity caches the display identity of an opaque participant id.
type ParticipantIdentity struct {
	ParticipantID string     `json:"participant_id" gorm:"primaryKey"`
	AccountID     string     `json:"account_id" gorm:"index"`
	Name          string     `json:"name"`
	Username      string     `json:"username"`
	ProfilePicURL string     `json:"profile_pic_url,omitempty" gorm:"type:text"`
	LastFetchedAt *time.Time `json:"last_fetched_at,omitempty"`
	FailureCount  int        `json:"failure_count" gorm:"not null;default:0"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (p *ParticipantIdentity) HasIdentity() bool {
	return p != nil && (p.Name != "" || p.Username != "")
}

// IsFresh reports whether the entry can be served without a network call.
func (p *ParticipantIdentity) IsFresh(now time.Time) bool {
	if !p.HasIdentity() || p.LastFetchedAt == nil {
		return false
	}
	return now.Sub(*p.LastFetchedAt) < IdentityFreshFor
}

// InCooldown reports whether resolution is suppressed after repeated failures.
func (p *ParticipantIdentity) InCooldown(now time.Time) bool {
	if p == nil || p.FailureCount < IdentityFailureThreshold || p.LastFailureAt == nil {
		return false
	}
	return now.Sub(*p.LastFailureAt) < IdentityCooldown
}

// DisplayName prefers the name, then the username, then the raw id.
func (p *ParticipantIdentity) DisplayName() string {
	switch {
	case p == nil:
		return ""
	case p.Name != "":
		return p.Name
	case p.Username != "":
		return p.Username
	default:
		return p.ParticipantID
	}
}
