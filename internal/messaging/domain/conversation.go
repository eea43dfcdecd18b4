package domain

import (
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/datatypes"
)

// PreviewMaxRunes bounds Conversation.LastMessageText.
const PreviewMaxRunes = 100

// GroupParticipantPrefix keys group threads in the participant column so they
// never occupy the (account, participant) slot of a one-to-one thread.
const GroupParticipantPrefix = "group:"

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Conversation is one thread between the account and one counterparty.
// ID is the upstream conversation id and is never generated locally.
type Conversation struct {
	ID               string     `json:"id" gorm:"primaryKey"`
	AccountID        string     `json:"account_id" gorm:"not null;uniqueIndex:idx_account_participant,priority:1"`
	ParticipantID    string     `json:"participant_id" gorm:"not null;uniqueIndex:idx_account_participant,priority:2"`
	LastMessageAt    *time.Time `json:"last_message_at,omitempty" gorm:"index"`
	LastMessageText  string     `json:"last_message_text" gorm:"size:400"`
	UnreadCount      int        `json:"unread_count" gorm:"not null;default:0"`
	IsGroup          bool       `json:"is_group" gorm:"not null;default:false"`
	ParticipantCount int        `json:"participant_count" gorm:"not null;default:0"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`

	// Populated for API responses from the identity cache, not stored.
	Participant *ParticipantIdentity `json:"participant,omitempty" gorm:"-"`
}

// Message is immutable once stored except for ReadAt.
type Message struct {
	ID             string    `json:"id" gorm:"primaryKey"`
	ConversationID string    `json:"conversation_id" gorm:"index:idx_conversation_created,priority:1;not null"`
	AccountID      string    `json:"account_id" gorm:"index;not null"`
	Direction      Direction `json:"direction" gorm:"size:16;not null"`
	// DirectionInferred marks messages whose direction fell back to the
	// inbound default because the account's self id was unknown.
	DirectionInferred bool           `json:"direction_inferred" gorm:"not null;default:false"`
	SenderID          string         `json:"sender_id" gorm:"not null"`
	RecipientID       string         `json:"recipient_id"`
	Text              *string        `json:"text,omitempty" gorm:"type:text"`
	Attachments       datatypes.JSON `json:"attachments,omitempty" gorm:"type:jsonb"`
	CreatedTime       time.Time      `json:"created_time" gorm:"index:idx_conversation_created,priority:2;not null"`
	ReadAt            *time.Time     `json:"read_at,omitempty"`
	// RawPayload is kept for diagnostics only.
	RawPayload datatypes.JSON `json:"-" gorm:"type:jsonb"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Preview returns the conversation preview text for m.
func (m *Message) Preview() string {
	text := ""
	if m.Text != nil {
		text = strings.Join(strings.Fields(*m.Text), " ")
	}
	if text == "" && hasAttachments(m.Attachments) {
		text = "[attachment]"
	}
	return TruncatePreview(text)
}

// TruncatePreview cuts s to PreviewMaxRunes runes.
func TruncatePreview(s string) string {
	if utf8.RuneCountInString(s) <= PreviewMaxRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:PreviewMaxRunes])
}

func hasAttachments(raw datatypes.JSON) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed != "" && trimmed != "null" && trimmed != "[]" && trimmed != "{}"
}
