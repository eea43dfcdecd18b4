package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	accountdomain "dmsync-backend/internal/account/domain"
	accountrepo "dmsync-backend/internal/account/repository"
	"dmsync-backend/internal/messaging/domain"
	"dmsync-backend/internal/messaging/mocks"
	"dmsync-backend/internal/messaging/repository"
	"dmsync-backend/internal/testutil"
	"dmsync-backend/pkg/retry"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var baseTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func noSleep(context.Context, time.Duration) error { return nil }

type fixture struct {
	t          *testing.T
	db         *gorm.DB
	store      repository.MessageStore
	identities repository.IdentityRepository
	accounts   accountrepo.AccountRepository
	provider   *mocks.MockProvider
	resolver   *Resolver
	engine     *PersistenceEngine
	cache      *IdentityCache
	push       *pushUsecase
	sync       *syncUsecase
	notifier   *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t,
		&accountdomain.AccountConnection{},
		&domain.Conversation{},
		&domain.Message{},
		&domain.ParticipantIdentity{},
		&domain.SyncLease{},
		&domain.SyncRun{},
	)
	ctrl := gomock.NewController(t)

	f := &fixture{
		t:          t,
		db:         db,
		store:      repository.NewMessageStore(db),
		identities: repository.NewIdentityRepository(db),
		accounts:   accountrepo.NewAccountRepository(db),
		provider:   mocks.NewMockProvider(ctrl),
		notifier:   &recordingNotifier{},
	}
	f.resolver = NewResolver(f.provider, f.store)
	for i, s := range f.resolver.conversationStrategies {
		if lookup, ok := s.(upstreamLookupStrategy); ok {
			lookup.policy = lookup.policy.WithSleep(noSleep)
			f.resolver.conversationStrategies[i] = lookup
		}
	}
	f.engine = NewPersistenceEngine(f.store)
	f.cache = NewIdentityCache(f.identities, f.accounts, f.provider, 1)
	f.cache.policy = f.cache.policy.WithSleep(noSleep)
	f.push = NewPushUsecase(f.accounts, f.resolver, f.engine, f.cache, f.notifier).(*pushUsecase)
	f.sync = NewSyncUsecase(f.accounts, f.provider, f.resolver, f.engine, f.cache,
		repository.NewLeaseRepository(db), repository.NewSyncRunRepository(db),
		SyncConfig{LeaseTTL: 30 * time.Second, DetailWorkers: 3},
	).(*syncUsecase)
	f.sync.policy = func(name string) retry.Policy { return retry.Upstream(name).WithSleep(noSleep) }
	return f
}

func (f *fixture) addAccount(acc accountdomain.AccountConnection) *accountdomain.AccountConnection {
	f.t.Helper()
	require.NoError(f.t, f.db.Create(&acc).Error)
	return &acc
}

// defaultAccount has a usable token and a known self id.
func (f *fixture) defaultAccount() *accountdomain.AccountConnection {
	return f.addAccount(accountdomain.AccountConnection{
		ID:                "acc",
		AccessToken:       "tok",
		SelfParticipantID: "SELF",
		Username:          "biz",
	})
}

func (f *fixture) conversation(id string) *domain.Conversation {
	f.t.Helper()
	conv, err := f.store.FindConversation(context.Background(), id)
	require.NoError(f.t, err)
	return conv
}

func (f *fixture) count(model interface{}) int64 {
	f.t.Helper()
	var n int64
	require.NoError(f.t, f.db.Model(model).Count(&n).Error)
	return n
}

func textPtr(s string) *string { return &s }

func inboundEvent(messageID, sender, conversationID string, at time.Time) domain.PushEvent {
	ev := domain.PushEvent{
		Message:   domain.EventMessage{ID: messageID, Text: textPtr("hi")},
		Sender:    domain.EventRef{ID: sender},
		Recipient: domain.EventRef{ID: "SELF"},
		Timestamp: at.UnixMilli(),
	}
	if conversationID != "" {
		ev.Conversation = &domain.EventRef{ID: conversationID}
	}
	return ev
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls [][]*domain.Message
}

func (n *recordingNotifier) NotifyInbound(_ context.Context, _ string, messages []*domain.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, messages)
}

func repositoryLocker(f *fixture) repository.SyncLocker {
	return repository.NewLeaseRepository(f.db)
}
