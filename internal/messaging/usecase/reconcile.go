package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	accountdomain "dmsync-backend/internal/account/domain"
	accountrepo "dmsync-backend/internal/account/repository"
	"dmsync-backend/internal/messaging/domain"
	"dmsync-backend/internal/messaging/repository"
	apperrors "dmsync-backend/pkg/errors"
	"dmsync-backend/pkg/logger"
	"dmsync-backend/pkg/retry"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
)

const maxListPages = 200

// SyncConfig tunes reconciliation runs.
type SyncConfig struct {
	LeaseTTL      time.Duration
	DetailWorkers int
	// MaxRunDuration bounds a run. The heartbeat stops with it, so a stuck run
	// loses its lease one TTL later.
	MaxRunDuration time.Duration
}

// syncUsecase implements SyncUsecase
type syncUsecase struct {
	accounts   accountrepo.AccountRepository
	provider   domain.Provider
	resolver   *Resolver
	engine     *PersistenceEngine
	identities IdentitySeeder
	locker     repository.SyncLocker
	runs       repository.SyncRunRepository
	cfg        SyncConfig
	policy     func(name string) retry.Policy
	now        func() time.Time
	logger     zerolog.Logger
}

func NewSyncUsecase(
	accounts accountrepo.AccountRepository,
	provider domain.Provider,
	resolver *Resolver,
	engine *PersistenceEngine,
	identities IdentitySeeder,
	locker repository.SyncLocker,
	runs repository.SyncRunRepository,
	cfg SyncConfig,
) SyncUsecase {
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 30 * time.Second
	}
	if cfg.DetailWorkers <= 0 {
		cfg.DetailWorkers = 5
	}
	if cfg.MaxRunDuration <= 0 {
		cfg.MaxRunDuration = 10 * time.Minute
	}
	return &syncUsecase{
		accounts:   accounts,
		provider:   provider,
		resolver:   resolver,
		engine:     engine,
		identities: identities,
		locker:     locker,
		runs:       runs,
		cfg:        cfg,
		policy:     retry.Upstream,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logger.Component("sync"),
	}
}

// Sync reconciles the account's conversations updated inside opts. It always
// returns a summary; the error is non-nil only when the run was aborted.
func (u *syncUsecase) Sync(ctx context.Context, accountID string, opts domain.SyncOptions) (*domain.SyncSummary, error) {
	summary := &domain.SyncSummary{RunID: uuid.NewString(), AccountID: accountID, Errors: []string{}}

	account, err := u.accounts.FindByID(ctx, accountID)
	if err != nil {
		return summary, err
	}
	if account == nil {
		return summary, apperrors.ErrAccountNotFound
	}

	owner := uuid.NewString()
	acquired, err := u.locker.Acquire(ctx, accountID, owner, u.cfg.LeaseTTL)
	if err != nil {
		return summary, apperrors.Wrap(apperrors.CodeInternal, "acquire sync lease", err)
	}
	if !acquired {
		return summary, apperrors.ErrSyncInProgress
	}
	runCtx, cancelRun := context.WithTimeout(ctx, u.cfg.MaxRunDuration)
	defer cancelRun()
	stopHeartbeat := u.heartbeat(runCtx, accountID, owner)
	defer func() {
		stopHeartbeat()
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := u.locker.Release(releaseCtx, accountID, owner); err != nil {
			u.logger.Error().Str("account_id", accountID).Err(err).Msg("failed to release sync lease")
		}
	}()

	run := &domain.SyncRun{
		ID:        summary.RunID,
		AccountID: accountID,
		Since:     opts.Since,
		Until:     opts.Until,
		Status:    domain.SyncStatusRunning,
		StartedAt: u.now(),
	}
	if err := u.runs.Create(ctx, run); err != nil {
		u.logger.Error().Str("account_id", accountID).Err(err).Msg("failed to record sync run")
	}

	err = u.run(runCtx, account, opts, summary)
	if err != nil && ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		err = apperrors.Wrap(apperrors.CodeTimeout, fmt.Sprintf("sync run exceeded %s", u.cfg.MaxRunDuration), err)
	}
	u.finishRun(run, summary, err)
	if err != nil {
		u.logger.Warn().Str("account_id", accountID).Err(err).Msg("sync aborted")
		return summary, err
	}

	u.logger.Info().
		Str("account_id", accountID).
		Str("run_id", summary.RunID).
		Int("conversations_found", summary.ConversationsFound).
		Int("conversations_upserted", summary.ConversationsUpserted).
		Int("messages_found", summary.MessagesFound).
		Int("messages_upserted", summary.MessagesUpserted).
		Int("errors", len(summary.Errors)).
		Msg("sync completed")
	return summary, nil
}

func (u *syncUsecase) SyncIncremental(ctx context.Context, accountID string) (*domain.SyncSummary, error) {
	var opts domain.SyncOptions
	last, err := u.runs.LastCompleted(ctx, accountID)
	if err != nil {
		return &domain.SyncSummary{AccountID: accountID, Errors: []string{}}, err
	}
	if last != nil {
		since := last.StartedAt
		opts.Since = &since
	}
	return u.Sync(ctx, accountID, opts)
}

func (u *syncUsecase) ListRuns(ctx context.Context, accountID string, limit int) ([]*domain.SyncRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return u.runs.ListByAccount(ctx, accountID, limit)
}

func (u *syncUsecase) run(ctx context.Context, account *accountdomain.AccountConnection, opts domain.SyncOptions, summary *domain.SyncSummary) error {
	token, err := account.UsableToken(u.now())
	if err != nil {
		return err
	}

	conversations, err := u.listConversations(ctx, account, token, opts, summary)
	if err != nil {
		return err
	}
	summary.ConversationsFound = len(conversations)

	var mu sync.Mutex
	record := func(fn func()) {
		mu.Lock()
		defer mu.Unlock()
		fn()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.cfg.DetailWorkers)
	for _, conv := range conversations {
		g.Go(func() error {
			detail, err := retry.Do(gctx, u.policy("get_conversation"), func(ctx context.Context) (*domain.ConversationDetail, error) {
				return u.provider.GetConversation(ctx, token, conv.ID)
			})
			if err != nil {
				if apperrors.IsAuth(err) {
					return err
				}
				if gctx.Err() != nil {
					return gctx.Err()
				}
				record(func() { summary.AddError(fmt.Sprintf("conversation %s: %v", conv.ID, err)) })
				return nil
			}
			if detail.ID == "" {
				detail.ID = conv.ID
			}

			outcome := u.applyConversation(gctx, account, token, detail)
			record(func() {
				summary.MessagesFound += outcome.messagesFound
				summary.IdentitiesResolved += outcome.identitiesSeeded
				if outcome.result != nil {
					summary.ConversationsUpserted++
					summary.MessagesUpserted += len(outcome.result.Inserted)
				}
				for _, e := range outcome.errors {
					summary.AddError(e)
				}
			})
			return nil
		})
	}
	return g.Wait()
}

// listConversations pages through the account's conversations. Failure of the
// first page aborts the run; a later page failure ends listing early.
func (u *syncUsecase) listConversations(ctx context.Context, account *accountdomain.AccountConnection, token string, opts domain.SyncOptions, summary *domain.SyncSummary) ([]domain.ConversationSummary, error) {
	var conversations []domain.ConversationSummary
	seen := make(map[string]struct{})
	cursor := ""

	for page := 0; page < maxListPages; page++ {
		current := cursor
		result, err := retry.Do(ctx, u.policy("list_conversations"), func(ctx context.Context) (*domain.ConversationPage, error) {
			return u.provider.ListConversations(ctx, token, account.ID, current)
		})
		if err != nil {
			if page == 0 || apperrors.IsAuth(err) || ctx.Err() != nil {
				return nil, err
			}
			summary.AddError(fmt.Sprintf("list conversations page %d: %v", page+1, err))
			break
		}

		for _, conv := range result.Conversations {
			if conv.ID == "" || !opts.Contains(conv.UpdatedTime) {
				continue
			}
			if _, dup := seen[conv.ID]; dup {
				continue
			}
			seen[conv.ID] = struct{}{}
			conversations = append(conversations, conv)
		}

		if result.NextCursor == "" || result.NextCursor == cursor {
			break
		}
		cursor = result.NextCursor
	}
	return conversations, nil
}

type conversationOutcome struct {
	result           *UpsertResult
	messagesFound    int
	identitiesSeeded int
	errors           []string
}

// applyConversation resolves and persists one conversation detail. Every failure
// is confined to this conversation.
func (u *syncUsecase) applyConversation(ctx context.Context, account *accountdomain.AccountConnection, token string, detail *domain.ConversationDetail) conversationOutcome {
	out := conversationOutcome{messagesFound: len(detail.Messages)}
	fail := func(format string, args ...interface{}) {
		out.errors = append(out.errors, fmt.Sprintf("conversation %s: ", detail.ID)+fmt.Sprintf(format, args...))
	}

	// Unknown self ids are derived for this run only; the account record is never written
	selfID := SelfIDFor(account.SelfParticipantID, account.Username, detail.Participants)

	counterparty, err := u.resolver.ResolveCounterparty(detail, selfID, account.Username)
	if err != nil {
		fail("%v", err)
		return out
	}

	conversationID, err := u.resolver.ResolveConversationID(ctx, ConversationLookup{
		AccountID:     account.ID,
		EmbeddedID:    detail.ID,
		ParticipantID: counterparty.ParticipantID,
		Token:         token,
	})
	if err != nil {
		fail("%v", err)
		return out
	}

	messages := make([]*domain.Message, 0, len(detail.Messages))
	for _, m := range detail.Messages {
		if m.ID == "" {
			fail("message without id skipped")
			continue
		}
		parties, err := u.resolver.ResolveParties(MessageParties{
			SenderID:       m.From.ID,
			SenderUsername: m.From.Username,
			RecipientID:    m.RecipientID(),
			SelfID:         selfID,
			SelfUsername:   account.Username,
			Participants:   detail.Participants,
		})
		// Group threads are keyed by the group, so an outbound message without a
		// single recipient is still stored
		if err != nil && !(counterparty.IsGroup && parties.Direction == domain.DirectionOutbound) {
			fail("message %s: %v", m.ID, err)
			continue
		}
		messages = append(messages, toMessage(m, parties))
	}

	result, err := u.engine.Upsert(ctx, UnitOfWork{
		Conversation: ConversationRecord{
			ID:               conversationID,
			AccountID:        account.ID,
			ParticipantID:    counterparty.ParticipantID,
			IsGroup:          counterparty.IsGroup,
			ParticipantCount: counterparty.ParticipantCount,
		},
		Messages: messages,
	})
	if err != nil {
		fail("%v", err)
		return out
	}
	out.result = result

	others := make([]domain.UpstreamParticipant, 0, len(detail.Participants))
	for _, p := range detail.Participants {
		if p.ID == "" || p.ID == selfID || sameUsername(p.Username, account.Username) {
			continue
		}
		others = append(others, p)
	}
	if u.identities != nil {
		seeded, err := u.identities.Seed(ctx, account.ID, others)
		if err != nil {
			fail("seed identities: %v", err)
		}
		out.identitiesSeeded = seeded

		if !counterparty.IsGroup && !strings.HasPrefix(counterparty.ParticipantID, domain.GroupParticipantPrefix) {
			u.identities.Enqueue(account.ID, counterparty.ParticipantID)
		}
		for _, p := range others {
			if p.ID != counterparty.ParticipantID {
				u.identities.Enqueue(account.ID, p.ID)
			}
		}
	}
	return out
}

func toMessage(m domain.UpstreamMessage, parties PartyResolution) *domain.Message {
	msg := &domain.Message{
		ID:                m.ID,
		Direction:         parties.Direction,
		DirectionInferred: parties.LowConfidence,
		SenderID:          m.From.ID,
		RecipientID:       m.RecipientID(),
		Text:              m.Text,
		CreatedTime:       m.CreatedTime.UTC(),
	}
	if len(m.Attachments) > 0 {
		msg.Attachments = datatypes.JSON(m.Attachments)
	}
	if len(m.Raw) > 0 {
		msg.RawPayload = datatypes.JSON(m.Raw)
	}
	return msg
}

// heartbeat extends the lease every third of its TTL until stopped or until
// ctx ends. A lost lease is logged; the run is not interrupted.
func (u *syncUsecase) heartbeat(ctx context.Context, accountID, owner string) func() {
	done := make(chan struct{})
	var once sync.Once
	go func() {
		ticker := time.NewTicker(u.cfg.LeaseTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), u.cfg.LeaseTTL/3)
				ok, err := u.locker.Extend(ctx, accountID, owner, u.cfg.LeaseTTL)
				cancel()
				if err != nil || !ok {
					u.logger.Warn().Str("account_id", accountID).Bool("extended", ok).Err(err).Msg("sync lease heartbeat failed")
				}
			}
		}
	}()
	return func() { once.Do(func() { close(done) }) }
}

func (u *syncUsecase) finishRun(run *domain.SyncRun, summary *domain.SyncSummary, runErr error) {
	finished := u.now()
	run.FinishedAt = &finished
	run.Status = domain.SyncStatusCompleted
	errs := summary.Errors
	if runErr != nil {
		run.Status = domain.SyncStatusAborted
		errs = append(append([]string{}, errs...), runErr.Error())
	}
	run.ConversationsFound = summary.ConversationsFound
	run.ConversationsUpserted = summary.ConversationsUpserted
	run.MessagesFound = summary.MessagesFound
	run.MessagesUpserted = summary.MessagesUpserted
	run.IdentitiesResolved = summary.IdentitiesResolved
	if raw, err := json.Marshal(errs); err == nil {
		run.Errors = datatypes.JSON(raw)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := u.runs.Update(ctx, run); err != nil {
		u.logger.Error().Str("run_id", run.ID).Err(err).Msg("failed to persist sync run")
	}
}
