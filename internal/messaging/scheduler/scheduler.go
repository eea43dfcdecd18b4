package scheduler

import (
	"context"
	"sync"
	"time"

	accountdomain "dmsync-backend/internal/account/domain"
	"dmsync-backend/internal/messaging/domain"
	"dmsync-backend/internal/messaging/usecase"
	apperrors "dmsync-backend/pkg/errors"
	"dmsync-backend/pkg/logger"

	"github.com/rs/zerolog"
)

type AccountLister interface {
	List(ctx context.Context) ([]*accountdomain.AccountConnection, error)
}

type IncrementalSyncer interface {
	SyncIncremental(ctx context.Context, accountID string) (*domain.SyncSummary, error)
}

type MissingIdentityLister interface {
	AccountsWithMissing(ctx context.Context) ([]string, error)
}

type Backfiller interface {
	Backfill(ctx context.Context, accountID string, limit int) (*usecase.BackfillResult, error)
}

// Settings are the scheduler knobs that can change while the process runs.
type Settings struct {
	mu                sync.RWMutex
	syncEnabled       bool
	backfillEnabled   bool
	backfillBatchSize int
}

type SettingsSnapshot struct {
	SyncEnabled       bool `json:"sync_enabled"`
	BackfillEnabled   bool `json:"backfill_enabled"`
	BackfillBatchSize int  `json:"backfill_batch_size"`
}

func NewSettings(backfillBatchSize int) *Settings {
	return &Settings{
		syncEnabled:       true,
		backfillEnabled:   true,
		backfillBatchSize: clampBatch(backfillBatchSize),
	}
}

func (s *Settings) Snapshot() SettingsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SettingsSnapshot{
		SyncEnabled:       s.syncEnabled,
		BackfillEnabled:   s.backfillEnabled,
		BackfillBatchSize: s.backfillBatchSize,
	}
}

func (s *Settings) Update(next SettingsSnapshot) SettingsSnapshot {
	s.mu.Lock()
	s.syncEnabled = next.SyncEnabled
	s.backfillEnabled = next.BackfillEnabled
	if next.BackfillBatchSize > 0 {
		s.backfillBatchSize = clampBatch(next.BackfillBatchSize)
	}
	s.mu.Unlock()
	return s.Snapshot()
}

func clampBatch(n int) int {
	if n <= 0 || n > usecase.MaxBackfillBatch {
		return usecase.MaxBackfillBatch
	}
	return n
}

// Scheduler periodically runs incremental syncs for every connected account and
// backfills identities that are still unknown.
type Scheduler struct {
	accounts         AccountLister
	syncer           IncrementalSyncer
	missing          MissingIdentityLister
	backfiller       Backfiller
	settings         *Settings
	syncInterval     time.Duration
	backfillInterval time.Duration
	stopChan         chan struct{}
	wg               sync.WaitGroup
	logger           zerolog.Logger
}

func NewScheduler(
	accounts AccountLister,
	syncer IncrementalSyncer,
	missing MissingIdentityLister,
	backfiller Backfiller,
	settings *Settings,
	syncInterval, backfillInterval time.Duration,
) *Scheduler {
	return &Scheduler{
		accounts:         accounts,
		syncer:           syncer,
		missing:          missing,
		backfiller:       backfiller,
		settings:         settings,
		syncInterval:     syncInterval,
		backfillInterval: backfillInterval,
		stopChan:         make(chan struct{}),
		logger:           logger.Component("scheduler"),
	}
}

// Start begins both loops. A non-positive interval disables its loop.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-s.stopChan
		cancel()
	}()

	if s.syncInterval > 0 {
		s.logger.Info().Dur("interval", s.syncInterval).Msg("starting sync loop")
		s.loop(ctx, s.syncInterval, s.RunSync)
	}
	if s.backfillInterval > 0 {
		s.logger.Info().Dur("interval", s.backfillInterval).Msg("starting identity backfill loop")
		s.loop(ctx, s.backfillInterval, s.RunBackfill)
	}
}

// Stop cancels in-flight work and waits for both loops to exit.
func (s *Scheduler) Stop() {
	close(s.stopChan)
	s.wg.Wait()
	s.logger.Info().Msg("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, run func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				run(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// RunSync syncs every account once, one account at a time.
func (s *Scheduler) RunSync(ctx context.Context) {
	if !s.settings.Snapshot().SyncEnabled {
		return
	}
	accounts, err := s.accounts.List(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list accounts")
		return
	}

	for _, account := range accounts {
		if ctx.Err() != nil {
			return
		}
		summary, err := s.syncer.SyncIncremental(ctx, account.ID)
		switch {
		case err == nil:
			s.logger.Debug().
				Str("account_id", account.ID).
				Int("messages_upserted", summary.MessagesUpserted).
				Msg("scheduled sync done")
		case apperrors.Is(err, apperrors.CodeSyncInProgress):
			s.logger.Debug().Str("account_id", account.ID).Msg("sync already running, skipped")
		case apperrors.IsAuth(err):
			s.logger.Warn().Str("account_id", account.ID).Err(err).Msg("reconnect required")
		default:
			s.logger.Error().Str("account_id", account.ID).Err(err).Msg("scheduled sync failed")
		}
	}
}

// RunBackfill resolves one batch of missing identities per account.
func (s *Scheduler) RunBackfill(ctx context.Context) {
	settings := s.settings.Snapshot()
	if !settings.BackfillEnabled {
		return
	}
	accountIDs, err := s.missing.AccountsWithMissing(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list accounts with missing identities")
		return
	}

	for _, accountID := range accountIDs {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.backfiller.Backfill(ctx, accountID, settings.BackfillBatchSize); err != nil {
			if apperrors.IsAuth(err) {
				s.logger.Warn().Str("account_id", accountID).Err(err).Msg("reconnect required")
				continue
			}
			s.logger.Error().Str("account_id", accountID).Err(err).Msg("identity backfill failed")
		}
	}
}
