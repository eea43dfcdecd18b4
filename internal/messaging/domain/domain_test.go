package domain

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"gorm.io/datatypes"
)

func TestParticipantIdentity_IsFresh(t *testing.T) {
	fetched := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	entry := &ParticipantIdentity{ParticipantID: "U1", Username: "alice", LastFetchedAt: &fetched}

	assert.True(t, entry.IsFresh(fetched.Add(7*24*time.Hour-time.Second)))
	assert.False(t, entry.IsFresh(fetched.Add(7*24*time.Hour)))

	empty := &ParticipantIdentity{ParticipantID: "U2", LastFetchedAt: &fetched}
	assert.False(t, empty.IsFresh(fetched.Add(time.Minute)), "entries without identity are never fresh")
}

func TestParticipantIdentity_InCooldown(t *testing.T) {
	failed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	below := &ParticipantIdentity{FailureCount: 2, LastFailureAt: &failed}
	assert.False(t, below.InCooldown(failed.Add(time.Minute)))

	at := &ParticipantIdentity{FailureCount: 3, LastFailureAt: &failed}
	assert.True(t, at.InCooldown(failed.Add(14*time.Minute)))
	assert.False(t, at.InCooldown(failed.Add(15*time.Minute)))
}

func TestParticipantIdentity_DisplayName(t *testing.T) {
	assert.Equal(t, "Alice", (&ParticipantIdentity{ParticipantID: "U1", Name: "Alice", Username: "alice"}).DisplayName())
	assert.Equal(t, "alice", (&ParticipantIdentity{ParticipantID: "U1", Username: "alice"}).DisplayName())
	assert.Equal(t, "U1", (&ParticipantIdentity{ParticipantID: "U1"}).DisplayName())
}

func TestMessage_Preview(t *testing.T) {
	long := strings.Repeat("é", 150)
	m := &Message{Text: &long}
	assert.Equal(t, 100, len([]rune(m.Preview())))

	spaced := "  hello \n  world "
	assert.Equal(t, "hello world", (&Message{Text: &spaced}).Preview())

	withAttachment := &Message{Attachments: datatypes.JSON(`[{"type":"image"}]`)}
	assert.Equal(t, "[attachment]", withAttachment.Preview())

	assert.Equal(t, "", (&Message{Attachments: datatypes.JSON(`[]`)}).Preview())
}

func TestSyncOptions_Contains(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	until := since.Add(24 * time.Hour)
	opts := SyncOptions{Since: &since, Until: &until}

	assert.True(t, opts.Contains(since.Add(time.Hour)))
	assert.False(t, opts.Contains(since.Add(-time.Second)))
	assert.False(t, opts.Contains(until.Add(time.Second)))
	assert.True(t, opts.Contains(time.Time{}), "unknown update time is never filtered out")
	assert.True(t, SyncOptions{}.Contains(since))
}

func TestSyncSummary_AddErrorIsCapped(t *testing.T) {
	var s SyncSummary
	for i := 0; i < MaxSyncErrors+10; i++ {
		s.AddError("boom")
	}
	assert.Len(t, s.Errors, MaxSyncErrors)
}

func TestPushEvent_Helpers(t *testing.T) {
	fallback := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	ev := PushEvent{Timestamp: 1767225600000}
	assert.Equal(t, "", ev.ConversationID())
	assert.Equal(t, time.UnixMilli(1767225600000).UTC(), ev.CreatedTime(fallback))

	ev.Conversation = &EventRef{ID: "C1"}
	assert.Equal(t, "C1", ev.ConversationID())

	assert.Equal(t, fallback, (&PushEvent{}).CreatedTime(fallback))
	assert.Equal(t, "R", UpstreamMessage{To: []UpstreamParticipant{{ID: "R"}}}.RecipientID())
}

func TestWebhookEntry_Events(t *testing.T) {
	entry := WebhookEntry{
		ID: "SELF",
		Messaging: []json.RawMessage{
			json.RawMessage(`{"sender":{"id":"U1"},"recipient":{"id":"SELF"},"timestamp":1767225600000,"message":{"mid":"M1","text":"hi"}}`),
			json.RawMessage(`{"sender":{"id":"U1"},"recipient":{"id":"SELF"},"timestamp":1767225600000,"read":{"mid":"M0"}}`),
			json.RawMessage(`{"sender":{"id":"SELF"},"recipient":{"id":"U1"},"timestamp":1767225601000,"message":{"mid":"M2","is_echo":true,"attachments":[{"type":"image"}]}}`),
			json.RawMessage(`{"sender":`),
		},
	}

	events, errs := entry.Events()
	assert.Len(t, errs, 1)
	if assert.Len(t, events, 2) {
		assert.Equal(t, "M1", events[0].Message.ID)
		assert.Equal(t, "hi", *events[0].Message.Text)
		assert.Equal(t, "", events[0].ConversationID())
		assert.NotEmpty(t, events[0].Raw)
		assert.False(t, events[0].IsEcho)
		assert.Equal(t, "SELF", events[1].Sender.ID)
		assert.True(t, events[1].IsEcho)
		assert.JSONEq(t, `[{"type":"image"}]`, string(events[1].Message.Attachments))
	}
}

func TestPushEvent_UnmarshalKeepsRawBytes(t *testing.T) {
	body := `{"message":{"id":"M1","text":"hi"},"sender":{"id":"U1"},"recipient":{"id":"SELF"},"timestamp":1767225600000,"is_echo":true,"extra":"kept"}`

	var ev PushEvent
	assert.NoError(t, json.Unmarshal([]byte(body), &ev))
	assert.Equal(t, "M1", ev.Message.ID)
	assert.Equal(t, "U1", ev.Sender.ID)
	assert.True(t, ev.IsEcho)
	assert.JSONEq(t, body, string(ev.Raw))

	var batch struct {
		Events []PushEvent `json:"events"`
	}
	assert.NoError(t, json.Unmarshal([]byte(`{"events":[`+body+`]}`), &batch))
	if assert.Len(t, batch.Events, 1) {
		assert.JSONEq(t, body, string(batch.Events[0].Raw))
	}
}
