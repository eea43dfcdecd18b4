package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	accountdomain "dmsync-backend/internal/account/domain"
	accountrepo "dmsync-backend/internal/account/repository"
	"dmsync-backend/internal/messaging/domain"
	"dmsync-backend/internal/messaging/repository"
	apperrors "dmsync-backend/pkg/errors"
	"dmsync-backend/pkg/logger"
	"dmsync-backend/pkg/retry"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	// MaxBackfillBatch bounds one backfill run.
	MaxBackfillBatch   = 100
	identityQueueSize  = 1000
	// identityJobTimeout covers the lookup timeout plus every retry delay.
	identityJobTimeout = 60 * time.Second
)

// identityJob asks a worker to enrich one participant.
type identityJob struct {
	AccountID     string
	ParticipantID string
}

// BackfillResult summarizes one backfill batch.
type BackfillResult struct {
	AccountID string `json:"account_id"`
	Scanned   int    `json:"scanned"`
	Resolved  int    `json:"resolved"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
}

// IdentityCache resolves participant ids into display identities with a
// freshness window and a failure cooldown.
type IdentityCache struct {
	repo     repository.IdentityRepository
	accounts accountrepo.AccountRepository
	provider domain.Provider
	policy   retry.Policy
	group    singleflight.Group
	now      func() time.Time
	logger   zerolog.Logger

	jobQueue    chan identityJob
	workerWg    sync.WaitGroup
	workerCount int
	started     bool
	stopped     bool
	mu          sync.Mutex
}

// NewIdentityCache creates the cache; call Start to run enrichment workers.
func NewIdentityCache(
	repo repository.IdentityRepository,
	accounts accountrepo.AccountRepository,
	provider domain.Provider,
	workerCount int,
) *IdentityCache {
	if workerCount <= 0 {
		workerCount = 3
	}
	return &IdentityCache{
		repo:        repo,
		accounts:    accounts,
		provider:    provider,
		policy:      retry.Lookup("get_participant"),
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logger.Component("identity"),
		jobQueue:    make(chan identityJob, identityQueueSize),
		workerCount: workerCount,
	}
}

// Get returns the cached entry without any network call.
func (c *IdentityCache) Get(ctx context.Context, participantID string) (*domain.ParticipantIdentity, error) {
	return c.repo.Get(ctx, participantID)
}

// Resolve returns the identity of participantID, fetching it upstream only when
// the cached entry is stale and not in cooldown. During cooldown the cached
// entry, possibly nil or empty, is returned with no error.
func (c *IdentityCache) Resolve(ctx context.Context, account *accountdomain.AccountConnection, participantID string) (*domain.ParticipantIdentity, error) {
	if participantID == "" {
		return nil, apperrors.InvalidArg("participant id is required")
	}
	v, err, _ := c.group.Do(participantID, func() (interface{}, error) {
		return c.resolve(ctx, account, participantID)
	})
	entry, _ := v.(*domain.ParticipantIdentity)
	return entry, err
}

func (c *IdentityCache) resolve(ctx context.Context, account *accountdomain.AccountConnection, participantID string) (*domain.ParticipantIdentity, error) {
	now := c.now()
	entry, err := c.repo.Get(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if entry.IsFresh(now) || entry.InCooldown(now) {
		return entry, nil
	}

	isNew := entry == nil
	if isNew {
		entry = &domain.ParticipantIdentity{ParticipantID: participantID}
	}
	if account != nil {
		entry.AccountID = account.ID
	}

	token, err := account.UsableToken(now)
	if err != nil {
		// Token problems belong to the account, not to this participant
		if isNew {
			if _, seedErr := c.repo.SeedIfAbsent(ctx, entry); seedErr != nil {
				return nil, seedErr
			}
		}
		return entry, err
	}

	profile, err := retry.Do(ctx, c.policy, func(ctx context.Context) (*domain.ParticipantProfile, error) {
		return c.provider.GetParticipant(ctx, token, participantID)
	})
	if err == nil && (profile == nil || (profile.Name == "" && profile.Username == "")) {
		err = apperrors.New(apperrors.CodeUnsupported, "participant profile has no name or username")
	}

	switch {
	case err == nil:
		fetched := c.now()
		entry.Name = profile.Name
		entry.Username = profile.Username
		entry.ProfilePicURL = profile.ProfilePicURL
		entry.LastFetchedAt = &fetched
		entry.FailureCount = 0
		entry.LastFailureAt = nil
	case apperrors.IsAuth(err):
		if isNew {
			if _, seedErr := c.repo.SeedIfAbsent(ctx, entry); seedErr != nil {
				return nil, seedErr
			}
		}
		return entry, err
	case ctx.Err() != nil:
		return entry, ctx.Err()
	default:
		failed := c.now()
		entry.FailureCount++
		entry.LastFailureAt = &failed
	}

	if saveErr := c.repo.Save(ctx, entry); saveErr != nil {
		return nil, saveErr
	}
	if err != nil {
		c.logger.Debug().
			Str("participant_id", participantID).
			Int("failure_count", entry.FailureCount).
			Err(err).
			Msg("identity lookup failed")
	}
	return entry, err
}

// Seed stores identities already known from a conversation's participant list
// without a network call. Existing identities are left untouched. Returns the
// number of entries that gained a name or username.
func (c *IdentityCache) Seed(ctx context.Context, accountID string, participants []domain.UpstreamParticipant) (int, error) {
	seeded := 0
	for _, p := range participants {
		if p.ID == "" {
			continue
		}
		entry, err := c.repo.Get(ctx, p.ID)
		if err != nil {
			return seeded, err
		}
		if entry.HasIdentity() {
			continue
		}
		if p.Name == "" && p.Username == "" {
			if entry == nil {
				if _, err := c.repo.SeedIfAbsent(ctx, &domain.ParticipantIdentity{ParticipantID: p.ID, AccountID: accountID}); err != nil {
					return seeded, err
				}
			}
			continue
		}

		if entry == nil {
			entry = &domain.ParticipantIdentity{ParticipantID: p.ID}
		}
		entry.AccountID = accountID
		entry.Name = p.Name
		entry.Username = p.Username
		// LastFetchedAt stays unset so enrichment still fetches the full profile
		if err := c.repo.Save(ctx, entry); err != nil {
			return seeded, err
		}
		seeded++
	}
	return seeded, nil
}

// Enqueue schedules enrichment of one participant. It never blocks; the job is
// dropped when the queue is full.
func (c *IdentityCache) Enqueue(accountID, participantID string) bool {
	if participantID == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return false
	}
	select {
	case c.jobQueue <- identityJob{AccountID: accountID, ParticipantID: participantID}:
		return true
	default:
		c.logger.Warn().Str("participant_id", participantID).Msg("identity queue full, dropping job")
		return false
	}
}

// Backfill resolves up to limit entries of the account that still lack an
// identity. Entries in cooldown are skipped. An authentication failure stops
// the batch and is returned.
func (c *IdentityCache) Backfill(ctx context.Context, accountID string, limit int) (*BackfillResult, error) {
	if limit <= 0 || limit > MaxBackfillBatch {
		limit = MaxBackfillBatch
	}
	result := &BackfillResult{AccountID: accountID}

	account, err := c.accounts.FindByID(ctx, accountID)
	if err != nil {
		return result, err
	}
	if account == nil {
		return result, apperrors.ErrAccountNotFound
	}
	if _, err := account.UsableToken(c.now()); err != nil {
		return result, err
	}

	entries, err := c.repo.ListMissing(ctx, accountID, limit)
	if err != nil {
		return result, err
	}

	for _, entry := range entries {
		result.Scanned++
		if entry.InCooldown(c.now()) {
			result.Skipped++
			continue
		}
		resolved, err := c.Resolve(ctx, account, entry.ParticipantID)
		switch {
		case err == nil && resolved.HasIdentity():
			result.Resolved++
		case err == nil:
			result.Skipped++
		case apperrors.IsAuth(err):
			return result, err
		case ctx.Err() != nil:
			return result, ctx.Err()
		default:
			result.Failed++
		}
	}

	c.logger.Info().
		Str("account_id", accountID).
		Int("scanned", result.Scanned).
		Int("resolved", result.Resolved).
		Int("failed", result.Failed).
		Int("skipped", result.Skipped).
		Msg("identity backfill finished")
	return result, nil
}

// Start starts the enrichment workers
func (c *IdentityCache) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started || c.stopped {
		return
	}
	for i := 0; i < c.workerCount; i++ {
		c.workerWg.Add(1)
		go c.worker(i)
	}
	c.started = true
	c.logger.Info().Int("workers", c.workerCount).Msg("identity workers started")
}

// Stop drains the queue and waits for the workers
func (c *IdentityCache) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return
	}
	c.stopped = true
	close(c.jobQueue)
	c.workerWg.Wait()
	c.started = false
}

func (c *IdentityCache) worker(workerID int) {
	defer c.workerWg.Done()

	for job := range c.jobQueue {
		if err := c.process(job); err != nil {
			c.logger.Debug().
				Int("worker", workerID).
				Str("account_id", job.AccountID).
				Str("participant_id", job.ParticipantID).
				Err(err).
				Msg("identity enrichment failed")
		}
	}
}

func (c *IdentityCache) process(job identityJob) error {
	ctx, cancel := context.WithTimeout(context.Background(), identityJobTimeout)
	defer cancel()

	account, err := c.accounts.FindByID(ctx, job.AccountID)
	if err != nil {
		return err
	}
	if account == nil {
		return fmt.Errorf("account %s: %w", job.AccountID, apperrors.ErrAccountNotFound)
	}
	_, err = c.Resolve(ctx, account, job.ParticipantID)
	return err
}
