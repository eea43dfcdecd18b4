package graph

import (
	"encoding/json"
	"strings"
	"time"

	messagingdomain "dmsync-backend/internal/messaging/domain"
	apperrors "dmsync-backend/pkg/errors"
)

// Graph timestamps look like 2026-01-02T15:04:05+0000.
const graphTimeLayout = "2006-01-02T15:04:05-0700"

type graphTime struct {
	time.Time
}

func (t *graphTime) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "" || raw == "null" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range []string{graphTimeLayout, time.RFC3339Nano} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return apperrors.New(apperrors.CodeMalformed, "unparseable graph timestamp "+raw)
}

type paging struct {
	Cursors struct {
		After string `json:"after"`
	} `json:"cursors"`
	Next string `json:"next"`
}

// nextCursor is empty on the last page.
func (p paging) nextCursor() string {
	if p.Next == "" {
		return ""
	}
	return p.Cursors.After
}

type listResponse[T any] struct {
	Data   []T    `json:"data"`
	Paging paging `json:"paging"`
}

type conversationNode struct {
	ID          string    `json:"id"`
	UpdatedTime graphTime `json:"updated_time"`
}

type participantNode struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

func (p participantNode) toDomain() messagingdomain.UpstreamParticipant {
	return messagingdomain.UpstreamParticipant{ID: p.ID, Username: p.Username, Name: p.Name}
}

type conversationResponse struct {
	ID           string                        `json:"id"`
	Participants listResponse[participantNode] `json:"participants"`
	Messages     listResponse[json.RawMessage] `json:"messages"`
}

type attachmentsNode struct {
	Data json.RawMessage `json:"data"`
}

type messageNode struct {
	ID          string                        `json:"id"`
	From        participantNode               `json:"from"`
	To          listResponse[participantNode] `json:"to"`
	Message     string                        `json:"message"`
	Attachments *attachmentsNode              `json:"attachments"`
	CreatedTime graphTime                     `json:"created_time"`
}

func decodeMessages(raw []json.RawMessage) ([]messagingdomain.UpstreamMessage, error) {
	messages := make([]messagingdomain.UpstreamMessage, 0, len(raw))
	for _, item := range raw {
		var node messageNode
		if err := json.Unmarshal(item, &node); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeMalformed, "decode graph message", err)
		}

		msg := messagingdomain.UpstreamMessage{
			ID:          node.ID,
			From:        node.From.toDomain(),
			CreatedTime: node.CreatedTime.Time,
			Raw:         item,
		}
		if node.Message != "" {
			text := node.Message
			msg.Text = &text
		}
		if node.Attachments != nil && len(node.Attachments.Data) > 0 {
			msg.Attachments = node.Attachments.Data
		}
		for _, to := range node.To.Data {
			msg.To = append(msg.To, to.toDomain())
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
		Subcode int    `json:"error_subcode"`
	} `json:"error"`
}
