package repository

import (
	"context"
	"testing"
	"time"

	"dmsync-backend/internal/messaging/domain"
	"dmsync-backend/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newDB(t *testing.T) *gorm.DB {
	return testutil.NewDB(t,
		&domain.Conversation{},
		&domain.Message{},
		&domain.ParticipantIdentity{},
		&domain.SyncLease{},
		&domain.SyncRun{},
	)
}

func strPtr(s string) *string { return &s }

func TestMessageStore_InsertConversationIfAbsent(t *testing.T) {
	ctx := context.Background()
	store := NewMessageStore(newDB(t))

	inserted, err := store.InsertConversationIfAbsent(ctx, &domain.Conversation{ID: "C1", AccountID: "A", ParticipantID: "P"})
	require.NoError(t, err)
	assert.True(t, inserted)

	// same id
	inserted, err = store.InsertConversationIfAbsent(ctx, &domain.Conversation{ID: "C1", AccountID: "A", ParticipantID: "P"})
	require.NoError(t, err)
	assert.False(t, inserted)

	// same (account, participant) slot under another id
	inserted, err = store.InsertConversationIfAbsent(ctx, &domain.Conversation{ID: "C2", AccountID: "A", ParticipantID: "P"})
	require.NoError(t, err)
	assert.False(t, inserted)

	conv, err := store.FindConversationByParticipant(ctx, "A", "P")
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.Equal(t, "C1", conv.ID)

	missing, err := store.FindConversation(ctx, "C2")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMessageStore_MessagesAndLatest(t *testing.T) {
	ctx := context.Background()
	store := NewMessageStore(newDB(t))
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.Transaction(ctx, func(tx MessageStore) error {
		for _, m := range []*domain.Message{
			{ID: "m1", ConversationID: "C1", AccountID: "A", Direction: domain.DirectionInbound, SenderID: "P", Text: strPtr("one"), CreatedTime: base},
			{ID: "m3", ConversationID: "C1", AccountID: "A", Direction: domain.DirectionInbound, SenderID: "P", Text: strPtr("tie b"), CreatedTime: base.Add(time.Minute)},
			{ID: "m2", ConversationID: "C1", AccountID: "A", Direction: domain.DirectionInbound, SenderID: "P", Text: strPtr("tie a"), CreatedTime: base.Add(time.Minute)},
		} {
			inserted, err := tx.InsertMessageIfAbsent(ctx, m)
			require.NoError(t, err)
			assert.True(t, inserted)
		}
		return nil
	}))

	inserted, err := store.InsertMessageIfAbsent(ctx, &domain.Message{ID: "m1", ConversationID: "C1", AccountID: "A", Direction: domain.DirectionInbound, SenderID: "P", CreatedTime: base})
	require.NoError(t, err)
	assert.False(t, inserted)

	latest, err := store.LatestMessage(ctx, "C1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "m3", latest.ID, "ties on created_time break on the larger id")

	n, err := store.MarkInboundRead(ctx, "C1", base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = store.MarkInboundRead(ctx, "C1", base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	messages, total, err := store.ListMessages(ctx, "C1", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, messages, 2)
}

func TestMessageStore_CountUnreadInbound(t *testing.T) {
	ctx := context.Background()
	store := NewMessageStore(newDB(t))
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	read := base.Add(time.Hour)

	count := func() int {
		n, err := store.CountUnreadInbound(ctx, "C1")
		require.NoError(t, err)
		return n
	}
	insert := func(m *domain.Message) {
		m.ConversationID, m.AccountID = "C1", "A"
		_, err := store.InsertMessageIfAbsent(ctx, m)
		require.NoError(t, err)
	}

	assert.Equal(t, 0, count())

	insert(&domain.Message{ID: "m1", Direction: domain.DirectionInbound, SenderID: "P", CreatedTime: base})
	insert(&domain.Message{ID: "m2", Direction: domain.DirectionInbound, SenderID: "P", CreatedTime: base.Add(time.Minute)})
	assert.Equal(t, 2, count(), "no outbound yet")

	insert(&domain.Message{ID: "m3", Direction: domain.DirectionOutbound, SenderID: "SELF", CreatedTime: base.Add(2 * time.Minute), ReadAt: &read})
	assert.Equal(t, 0, count())

	insert(&domain.Message{ID: "m4", Direction: domain.DirectionInbound, SenderID: "P", CreatedTime: base.Add(3 * time.Minute)})
	// Same instant as the reply, ordered after it by id
	insert(&domain.Message{ID: "m5", Direction: domain.DirectionInbound, SenderID: "P", CreatedTime: base.Add(2 * time.Minute)})
	assert.Equal(t, 2, count())

	_, err := store.MarkInboundRead(ctx, "C1", read)
	require.NoError(t, err)
	assert.Equal(t, 0, count())
}

func TestMessageStore_TransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	store := NewMessageStore(newDB(t))

	err := store.Transaction(ctx, func(tx MessageStore) error {
		_, err := tx.InsertConversationIfAbsent(ctx, &domain.Conversation{ID: "C1", AccountID: "A", ParticipantID: "P"})
		require.NoError(t, err)
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	conv, err := store.FindConversation(ctx, "C1")
	require.NoError(t, err)
	assert.Nil(t, conv)
}

func TestIdentityRepository_SaveAndListMissing(t *testing.T) {
	ctx := context.Background()
	repo := NewIdentityRepository(newDB(t))

	seeded, err := repo.SeedIfAbsent(ctx, &domain.ParticipantIdentity{ParticipantID: "U1", AccountID: "A"})
	require.NoError(t, err)
	assert.True(t, seeded)
	seeded, err = repo.SeedIfAbsent(ctx, &domain.ParticipantIdentity{ParticipantID: "U1", AccountID: "A", Username: "ignored"})
	require.NoError(t, err)
	assert.False(t, seeded)

	require.NoError(t, repo.Save(ctx, &domain.ParticipantIdentity{ParticipantID: "U2", AccountID: "A", Username: "bob"}))
	require.NoError(t, repo.Save(ctx, &domain.ParticipantIdentity{ParticipantID: "U3", AccountID: "B"}))

	missing, err := repo.ListMissing(ctx, "A", 100)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, "U1", missing[0].ParticipantID)

	accounts, err := repo.AccountsWithMissing(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"A", "B"}, accounts)

	// Save overwrites
	require.NoError(t, repo.Save(ctx, &domain.ParticipantIdentity{ParticipantID: "U1", AccountID: "A", Name: "Uno", FailureCount: 0}))
	got, err := repo.Get(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, "Uno", got.Name)

	many, err := repo.GetMany(ctx, []string{"U1", "U2", "nope"})
	require.NoError(t, err)
	assert.Len(t, many, 2)
}

func TestSyncRunRepository_LastCompleted(t *testing.T) {
	ctx := context.Background()
	repo := NewSyncRunRepository(newDB(t))
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Create(ctx, &domain.SyncRun{ID: "r1", AccountID: "A", Status: domain.SyncStatusCompleted, StartedAt: base}))
	require.NoError(t, repo.Create(ctx, &domain.SyncRun{ID: "r2", AccountID: "A", Status: domain.SyncStatusAborted, StartedAt: base.Add(time.Hour)}))

	last, err := repo.LastCompleted(ctx, "A")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "r1", last.ID)

	runs, err := repo.ListByAccount(ctx, "A", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r2", runs[0].ID)

	none, err := repo.LastCompleted(ctx, "B")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func testLocker(t *testing.T, locker SyncLocker) {
	ctx := context.Background()

	ok, err := locker.Acquire(ctx, "A", "owner-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = locker.Acquire(ctx, "A", "owner-2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "held lease is exclusive")

	ok, err = locker.Acquire(ctx, "B", "owner-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "accounts are independent")

	ok, err = locker.Extend(ctx, "A", "owner-2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "only the owner extends")

	ok, err = locker.Extend(ctx, "A", "owner-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, locker.Release(ctx, "A", "owner-2"))
	ok, err = locker.Acquire(ctx, "A", "owner-3", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "release by a non-owner is ignored")

	require.NoError(t, locker.Release(ctx, "A", "owner-1"))
	ok, err = locker.Acquire(ctx, "A", "owner-3", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLeaseRepository(t *testing.T) {
	testLocker(t, NewLeaseRepository(newDB(t)))
}

func TestLeaseRepository_ExpiredLeaseIsTakenOver(t *testing.T) {
	ctx := context.Background()
	locker := NewLeaseRepository(newDB(t)).(*leaseRepository)
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	locker.now = func() time.Time { return now }

	ok, err := locker.Acquire(ctx, "A", "crashed", 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(31 * time.Second)
	ok, err = locker.Acquire(ctx, "A", "next", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = locker.Extend(ctx, "A", "crashed", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisLease(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	testLocker(t, NewRedisLease(client))
}

func TestRedisLease_Expiry(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := NewRedisLease(client)

	ok, err := locker.Acquire(ctx, "A", "crashed", 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(31 * time.Second)

	ok, err = locker.Acquire(ctx, "A", "next", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}
