package domain

import (
	"time"

	"gorm.io/datatypes"
)

// MaxSyncErrors caps SyncSummary.Errors.
const MaxSyncErrors = 50

// SyncLease guards a reconciliation run for one account.
type SyncLease struct {
	AccountID string    `gorm:"primaryKey"`
	Owner     string    `gorm:"not null"`
	ExpiresAt time.Time `gorm:"not null"`
}

// SyncOptions bounds a reconciliation run to conversations updated in [Since, Until].
type SyncOptions struct {
	Since *time.Time `json:"since,omitempty"`
	Until *time.Time `json:"until,omitempty"`
}

func (o SyncOptions) Contains(t time.Time) bool {
	if t.IsZero() {
		return true
	}
	if o.Since != nil && t.Before(*o.Since) {
		return false
	}
	if o.Until != nil && t.After(*o.Until) {
		return false
	}
	return true
}

// SyncSummary is returned by every reconciliation run, including partially failed ones.
type SyncSummary struct {
	RunID                 string   `json:"run_id"`
	AccountID             string   `json:"account_id"`
	ConversationsFound    int      `json:"conversations_found"`
	ConversationsUpserted int      `json:"conversations_upserted"`
	MessagesFound         int      `json:"messages_found"`
	MessagesUpserted      int      `json:"messages_upserted"`
	IdentitiesResolved    int      `json:"identities_resolved"`
	Errors                []string `json:"errors"`
}

// AddError appends msg unless the cap is reached.
func (s *SyncSummary) AddError(msg string) {
	if len(s.Errors) >= MaxSyncErrors {
		return
	}
	s.Errors = append(s.Errors, msg)
}

// SyncRun is the persisted record of one reconciliation run.
type SyncRun struct {
	ID                    string         `json:"id" gorm:"primaryKey"`
	AccountID             string         `json:"account_id" gorm:"index;not null"`
	Since                 *time.Time     `json:"since,omitempty"`
	Until                 *time.Time     `json:"until,omitempty"`
	Status                string         `json:"status"`
	ConversationsFound    int            `json:"conversations_found"`
	ConversationsUpserted int            `json:"conversations_upserted"`
	MessagesFound         int            `json:"messages_found"`
	MessagesUpserted      int            `json:"messages_upserted"`
	IdentitiesResolved    int            `json:"identities_resolved"`
	Errors                datatypes.JSON `json:"errors" gorm:"type:jsonb"`
	StartedAt             time.Time      `json:"started_at" gorm:"index"`
	FinishedAt            *time.Time     `json:"finished_at,omitempty"`
}

const (
	SyncStatusRunning   = "running"
	SyncStatusCompleted = "completed"
	SyncStatusAborted   = "aborted"
)
