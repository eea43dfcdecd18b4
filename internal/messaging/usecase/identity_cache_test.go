package usecase

import (
	"context"
	"testing"
	"time"

	accountdomain "dmsync-backend/internal/account/domain"
	"dmsync-backend/internal/messaging/domain"
	apperrors "dmsync-backend/pkg/errors"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clockAt(t time.Time) (*time.Time, func() time.Time) {
	now := t
	return &now, func() time.Time { return now }
}

func TestIdentityCache_ServesFreshEntryUntilTTL(t *testing.T) {
	f := newFixture(t)
	account := f.defaultAccount()
	ctx := context.Background()
	now, clock := clockAt(baseTime)
	f.cache.now = clock

	f.provider.EXPECT().GetParticipant(gomock.Any(), "tok", "U1").
		Return(&domain.ParticipantProfile{ID: "U1", Name: "Alice", Username: "alice"}, nil).Times(1)

	entry, err := f.cache.Resolve(ctx, account, "U1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", entry.Name)

	// Within 7 days: no network call
	*now = baseTime.Add(7*24*time.Hour - time.Minute)
	entry, err = f.cache.Resolve(ctx, account, "U1")
	require.NoError(t, err)
	assert.Equal(t, "alice", entry.Username)

	// At T+7d a refetch happens
	*now = baseTime.Add(7 * 24 * time.Hour)
	f.provider.EXPECT().GetParticipant(gomock.Any(), "tok", "U1").
		Return(&domain.ParticipantProfile{ID: "U1", Name: "Alice B", Username: "alice"}, nil).Times(1)
	entry, err = f.cache.Resolve(ctx, account, "U1")
	require.NoError(t, err)
	assert.Equal(t, "Alice B", entry.Name)
}

func TestIdentityCache_CooldownAfterThreeFailures(t *testing.T) {
	f := newFixture(t)
	account := f.defaultAccount()
	ctx := context.Background()
	now, clock := clockAt(baseTime)
	f.cache.now = clock

	notFound := apperrors.NotFound("no such user")
	f.provider.EXPECT().GetParticipant(gomock.Any(), "tok", "U1").Return(nil, notFound).Times(3)
	for i := 0; i < 3; i++ {
		_, err := f.cache.Resolve(ctx, account, "U1")
		require.Error(t, err)
		*now = now.Add(time.Minute)
	}

	// In cooldown: no call, cached empty entry returned
	entry, err := f.cache.Resolve(ctx, account, "U1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 3, entry.FailureCount)
	assert.False(t, entry.HasIdentity())

	// Cooldown runs from the last failure at baseTime+2m
	*now = baseTime.Add(2*time.Minute + 15*time.Minute)
	f.provider.EXPECT().GetParticipant(gomock.Any(), "tok", "U1").Return(nil, notFound).Times(1)
	_, err = f.cache.Resolve(ctx, account, "U1")
	require.Error(t, err)

	// The single retry failed, so the window starts over
	*now = now.Add(time.Minute)
	entry, err = f.cache.Resolve(ctx, account, "U1")
	require.NoError(t, err)
	assert.Equal(t, 4, entry.FailureCount)
}

func TestIdentityCache_SuccessResetsFailures(t *testing.T) {
	f := newFixture(t)
	account := f.defaultAccount()
	ctx := context.Background()

	gomock.InOrder(
		f.provider.EXPECT().GetParticipant(gomock.Any(), "tok", "U1").Return(nil, apperrors.New(apperrors.CodeUpstream, "boom")),
		f.provider.EXPECT().GetParticipant(gomock.Any(), "tok", "U1").Return(&domain.ParticipantProfile{Username: "alice"}, nil),
	)
	_, err := f.cache.Resolve(ctx, account, "U1")
	require.Error(t, err)

	entry, err := f.cache.Resolve(ctx, account, "U1")
	require.NoError(t, err)
	assert.Zero(t, entry.FailureCount)
	assert.Nil(t, entry.LastFailureAt)
	require.NotNil(t, entry.LastFetchedAt)
}

func TestIdentityCache_AuthFailureDoesNotCount(t *testing.T) {
	f := newFixture(t)
	account := f.defaultAccount()
	ctx := context.Background()

	f.provider.EXPECT().GetParticipant(gomock.Any(), "tok", "U1").Return(nil, apperrors.Unauthorized("token revoked"))
	_, err := f.cache.Resolve(ctx, account, "U1")
	assert.True(t, apperrors.IsAuth(err))

	stored, err := f.identities.Get(ctx, "U1")
	require.NoError(t, err)
	require.NotNil(t, stored, "entry is created on the first attempt")
	assert.Zero(t, stored.FailureCount)

	expired := time.Now().Add(-time.Hour)
	_, err = f.cache.Resolve(ctx, &accountdomain.AccountConnection{ID: "acc", AccessToken: "tok", TokenExpiry: &expired}, "U2")
	assert.ErrorIs(t, err, apperrors.ErrTokenExpired)
}

func TestIdentityCache_TimeoutIsAFailureNotRetried(t *testing.T) {
	f := newFixture(t)
	account := f.defaultAccount()
	f.cache.policy.Timeout = 10 * time.Millisecond

	f.provider.EXPECT().GetParticipant(gomock.Any(), "tok", "U1").
		DoAndReturn(func(ctx context.Context, _, _ string) (*domain.ParticipantProfile, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}).Times(1)

	_, err := f.cache.Resolve(context.Background(), account, "U1")
	assert.True(t, apperrors.Is(err, apperrors.CodeTimeout))

	stored, err := f.identities.Get(context.Background(), "U1")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.FailureCount)
}

func TestIdentityCache_BackfillSkipsCooldownAndStopsOnAuth(t *testing.T) {
	f := newFixture(t)
	f.defaultAccount()
	ctx := context.Background()
	_, clock := clockAt(baseTime)
	f.cache.now = clock

	failedAt := baseTime.Add(-time.Minute)
	require.NoError(t, f.identities.Save(ctx, &domain.ParticipantIdentity{ParticipantID: "cool", AccountID: "acc", FailureCount: 3, LastFailureAt: &failedAt}))
	require.NoError(t, f.identities.Save(ctx, &domain.ParticipantIdentity{ParticipantID: "U1", AccountID: "acc"}))
	require.NoError(t, f.identities.Save(ctx, &domain.ParticipantIdentity{ParticipantID: "U2", AccountID: "acc", FailureCount: 4}))

	f.provider.EXPECT().GetParticipant(gomock.Any(), "tok", "U1").Return(&domain.ParticipantProfile{Username: "one"}, nil)
	f.provider.EXPECT().GetParticipant(gomock.Any(), "tok", "U2").Return(nil, apperrors.Unauthorized("token revoked"))

	result, err := f.cache.Backfill(ctx, "acc", 500)
	assert.True(t, apperrors.IsAuth(err))
	assert.Equal(t, 1, result.Resolved)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 3, result.Scanned)
}

func TestIdentityCache_BackfillShortCircuitsOnExpiredToken(t *testing.T) {
	f := newFixture(t)
	expired := time.Now().Add(-time.Hour)
	f.addAccount(accountdomain.AccountConnection{ID: "acc", AccessToken: "tok", TokenExpiry: &expired})
	require.NoError(t, f.identities.Save(context.Background(), &domain.ParticipantIdentity{ParticipantID: "U1", AccountID: "acc"}))

	result, err := f.cache.Backfill(context.Background(), "acc", 10)
	assert.ErrorIs(t, err, apperrors.ErrTokenExpired)
	assert.Zero(t, result.Scanned)
}

func TestIdentityCache_SeedAndEnqueue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seeded, err := f.cache.Seed(ctx, "acc", []domain.UpstreamParticipant{
		{ID: "U1", Username: "alice"},
		{ID: "U2"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, seeded)

	u1, err := f.identities.Get(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, "alice", u1.Username)
	assert.Nil(t, u1.LastFetchedAt, "seeded identities are still enriched later")

	u2, err := f.identities.Get(ctx, "U2")
	require.NoError(t, err)
	require.NotNil(t, u2)

	assert.True(t, f.cache.Enqueue("acc", "U1"))
	assert.False(t, f.cache.Enqueue("acc", ""))
}

func TestIdentityCache_WorkersEnrichInBackground(t *testing.T) {
	f := newFixture(t)
	f.defaultAccount()

	done := make(chan struct{})
	f.provider.EXPECT().GetParticipant(gomock.Any(), "tok", "U1").
		DoAndReturn(func(context.Context, string, string) (*domain.ParticipantProfile, error) {
			close(done)
			return &domain.ParticipantProfile{Username: "alice"}, nil
		})

	f.cache.Start()
	require.True(t, f.cache.Enqueue("acc", "U1"))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not pick up the job")
	}
	f.cache.Stop()

	entry, err := f.identities.Get(context.Background(), "U1")
	require.NoError(t, err)
	assert.Equal(t, "alice", entry.Username)
}
