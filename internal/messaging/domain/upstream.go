package domain

import (
	"context"
	"encoding/json"
	"time"
)

//go:generate mockgen -destination=../mocks/mock_provider.go -package=mocks dmsync-backend/internal/messaging/domain Provider

// Provider is the upstream messaging API the engine pulls from.
type Provider interface {
	// ListConversations returns one page of the account's conversations.
	ListConversations(ctx context.Context, token, accountID, cursor string) (*ConversationPage, error)
	// GetConversation returns participants and messages of one conversation.
	GetConversation(ctx context.Context, token, conversationID string) (*ConversationDetail, error)
	// FindConversationWithParticipant returns the id of the account's conversation
	// with participantID, or "" when there is none.
	FindConversationWithParticipant(ctx context.Context, token, accountID, participantID string) (string, error)
	// GetParticipant returns the display identity of one participant.
	GetParticipant(ctx context.Context, token, participantID string) (*ParticipantProfile, error)
}

type ConversationSummary struct {
	ID          string    `json:"id"`
	UpdatedTime time.Time `json:"updated_time"`
}

type ConversationPage struct {
	Conversations []ConversationSummary
	NextCursor    string
}

type UpstreamParticipant struct {
	ID       string `json:"id"`
	Username string `json:"username,omitempty"`
	Name     string `json:"name,omitempty"`
}

type UpstreamMessage struct {
	ID          string                `json:"id"`
	From        UpstreamParticipant   `json:"from"`
	To          []UpstreamParticipant `json:"to"`
	Text        *string               `json:"text,omitempty"`
	Attachments json.RawMessage       `json:"attachments,omitempty"`
	CreatedTime time.Time             `json:"created_time"`
	Raw         json.RawMessage       `json:"-"`
}

// RecipientID is the first recipient; one-to-one threads have exactly one.
func (m UpstreamMessage) RecipientID() string {
	if len(m.To) == 0 {
		return ""
	}
	return m.To[0].ID
}

type ConversationDetail struct {
	ID           string
	Participants []UpstreamParticipant
	Messages     []UpstreamMessage
}

type ParticipantProfile struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Username      string `json:"username"`
	ProfilePicURL string `json:"profile_pic"`
}

// EventMessage is the message part of a PushEvent.
type EventMessage struct {
	ID          string          `json:"id"`
	Text        *string         `json:"text,omitempty"`
	Attachments json.RawMessage `json:"attachments,omitempty"`
}

// EventRef references an upstream object by id.
type EventRef struct {
	ID string `json:"id"`
}

// PushEvent is one near-real-time message notification. Conversation is
// frequently absent and is resolved by the resolver cascade.
type PushEvent struct {
	Message   EventMessage `json:"message"`
	Sender    EventRef     `json:"sender"`
	Recipient EventRef     `json:"recipient"`
	// Timestamp is in milliseconds since the epoch.
	Timestamp    int64     `json:"timestamp"`
	Conversation *EventRef `json:"conversation,omitempty"`
	// IsEcho marks a copy of a message the account itself sent.
	IsEcho bool `json:"is_echo,omitempty"`
	// Raw is the event as received, kept for diagnostics only.
	Raw json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the event and keeps the original bytes in Raw.
func (e *PushEvent) UnmarshalJSON(data []byte) error {
	type plain PushEvent
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*e = PushEvent(decoded)
	e.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// ConversationID returns the embedded conversation id, if any.
func (e *PushEvent) ConversationID() string {
	if e.Conversation == nil {
		return ""
	}
	return e.Conversation.ID
}

// CreatedTime converts Timestamp, defaulting to fallback when absent.
func (e *PushEvent) CreatedTime(fallback time.Time) time.Time {
	if e.Timestamp <= 0 {
		return fallback
	}
	return time.UnixMilli(e.Timestamp).UTC()
}

// PushResult summarizes a batch of push events.
type PushResult struct {
	Processed int      `json:"processed"`
	Inserted  int      `json:"inserted"`
	Dropped   int      `json:"dropped"`
	Errors    []string `json:"errors"`
}
