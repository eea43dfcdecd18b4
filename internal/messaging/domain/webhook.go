package domain

import (
	"encoding/json"
	"fmt"
)

// WebhookPayload is the platform's webhook envelope. One entry carries the
// messaging events of one account.
type WebhookPayload struct {
	Object string         `json:"object"`
	Entry  []WebhookEntry `json:"entry"`
}

type WebhookEntry struct {
	// ID is the account's id on the platform.
	ID        string            `json:"id"`
	Time      int64             `json:"time"`
	Messaging []json.RawMessage `json:"messaging"`
}

type webhookMessaging struct {
	Sender       EventRef        `json:"sender"`
	Recipient    EventRef        `json:"recipient"`
	Timestamp    int64           `json:"timestamp"`
	Conversation *EventRef       `json:"conversation,omitempty"`
	Message      *webhookMessage `json:"message"`
}

type webhookMessage struct {
	Mid         string          `json:"mid"`
	Text        *string         `json:"text,omitempty"`
	Attachments json.RawMessage `json:"attachments,omitempty"`
	IsEcho      bool            `json:"is_echo,omitempty"`
	IsDeleted   bool            `json:"is_deleted,omitempty"`
}

// Events converts the entry's message events into PushEvents. Reads, reactions
// and deletions carry no message and are skipped.
func (e WebhookEntry) Events() ([]PushEvent, []error) {
	events := make([]PushEvent, 0, len(e.Messaging))
	var errs []error
	for i, raw := range e.Messaging {
		var item webhookMessaging
		if err := json.Unmarshal(raw, &item); err != nil {
			errs = append(errs, fmt.Errorf("entry %s event %d: %w", e.ID, i, err))
			continue
		}
		if item.Message == nil || item.Message.IsDeleted {
			continue
		}
		events = append(events, PushEvent{
			Message: EventMessage{
				ID:          item.Message.Mid,
				Text:        item.Message.Text,
				Attachments: item.Message.Attachments,
			},
			Sender:       item.Sender,
			Recipient:    item.Recipient,
			Timestamp:    item.Timestamp,
			Conversation: item.Conversation,
			IsEcho:       item.Message.IsEcho,
			Raw:          raw,
		})
	}
	return events, errs
}
