package usecase

import (
	"context"
	"fmt"
	"testing"
	"time"

	"dmsync-backend/internal/messaging/domain"
	apperrors "dmsync-backend/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedConversation(t *testing.T, f *fixture, id, accountID, participantID string, at time.Time) {
	t.Helper()
	require.NoError(t, f.db.Create(&domain.Conversation{
		ID:            id,
		AccountID:     accountID,
		ParticipantID: participantID,
		LastMessageAt: &at,
	}).Error)
}

func seedIdentity(t *testing.T, f *fixture, participantID, name, username string) {
	t.Helper()
	require.NoError(t, f.identities.Save(context.Background(), &domain.ParticipantIdentity{
		ParticipantID: participantID,
		AccountID:     "acc",
		Name:          name,
		Username:      username,
	}))
}

func TestConversationUsecase_ListConversations(t *testing.T) {
	f := newFixture(t)
	uc := NewConversationUsecase(f.store, f.identities, f.engine)
	ctx := context.Background()

	seedConversation(t, f, "C1", "acc", "U1", baseTime)
	seedConversation(t, f, "C2", "acc", "U2", baseTime.Add(time.Hour))
	seedConversation(t, f, "C3", "acc", "U3", baseTime.Add(2*time.Hour))
	seedConversation(t, f, "X1", "other", "U9", baseTime)
	seedIdentity(t, f, "U1", "José Nguyễn", "jose.ng")
	seedIdentity(t, f, "U2", "Joseph Tran", "jtran")
	seedIdentity(t, f, "U3", "Maria Lopez", "mlopez")

	t.Run("recency order with participants attached", func(t *testing.T) {
		convs, total, err := uc.ListConversations(ctx, "acc", "", 0, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
		require.Len(t, convs, 3)
		assert.Equal(t, []string{"C3", "C2", "C1"}, []string{convs[0].ID, convs[1].ID, convs[2].ID})
		require.NotNil(t, convs[0].Participant)
		assert.Equal(t, "Maria Lopez", convs[0].Participant.Name)
	})

	t.Run("fuzzy search ignores accents and ranks exact word first", func(t *testing.T) {
		convs, total, err := uc.ListConversations(ctx, "acc", "jose", 10, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
		require.Len(t, convs, 2)
		assert.Equal(t, "C1", convs[0].ID)
		assert.Equal(t, "C2", convs[1].ID)
	})

	t.Run("typo tolerance", func(t *testing.T) {
		convs, _, err := uc.ListConversations(ctx, "acc", "mria", 10, 0)
		require.NoError(t, err)
		require.Len(t, convs, 1)
		assert.Equal(t, "C3", convs[0].ID)
	})

	t.Run("participant id matches", func(t *testing.T) {
		convs, _, err := uc.ListConversations(ctx, "acc", "u2", 10, 0)
		require.NoError(t, err)
		require.Len(t, convs, 1)
		assert.Equal(t, "C2", convs[0].ID)
	})

	t.Run("search pagination", func(t *testing.T) {
		convs, total, err := uc.ListConversations(ctx, "acc", "jose", 1, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
		require.Len(t, convs, 1)
		assert.Equal(t, "C2", convs[0].ID)

		convs, _, err = uc.ListConversations(ctx, "acc", "jose", 10, 5)
		require.NoError(t, err)
		assert.Empty(t, convs)
	})
}

func TestConversationUsecase_ListMessages(t *testing.T) {
	f := newFixture(t)
	f.defaultAccount()
	uc := NewConversationUsecase(f.store, f.identities, f.engine)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.push.HandleEvent(ctx, "acc", inboundEvent(fmt.Sprintf("m%d", i), "U2", "C1", baseTime.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}

	msgs, total, err := uc.ListMessages(ctx, "acc", "C1", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, msgs, 2)

	_, _, err = uc.ListMessages(ctx, "someone-else", "C1", 10, 0)
	assert.True(t, apperrors.Is(err, apperrors.CodeNotFound))

	_, _, err = uc.ListMessages(ctx, "acc", "missing", 10, 0)
	assert.True(t, apperrors.Is(err, apperrors.CodeNotFound))

	marked, err := uc.MarkConversationRead(ctx, "acc", "C1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), marked)
	assert.Zero(t, f.conversation("C1").UnreadCount)
}

func TestNormalizePage(t *testing.T) {
	tests := []struct {
		limit, offset         int
		wantLimit, wantOffset int
	}{
		{0, 0, 50, 0},
		{20, 40, 20, 40},
		{500, -1, 50, 0},
	}
	for _, tt := range tests {
		limit, offset := normalizePage(tt.limit, tt.offset)
		assert.Equal(t, tt.wantLimit, limit)
		assert.Equal(t, tt.wantOffset, offset)
	}
}
