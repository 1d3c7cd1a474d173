package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/beam-cloud/mailsync/pkg/credentials"
	"github.com/beam-cloud/mailsync/pkg/repository"
	"github.com/beam-cloud/mailsync/pkg/types"
	"github.com/rs/zerolog/log"
)

const (
	DefaultInterval = 5 * time.Minute
	DefaultWindow   = 15 * time.Minute
)

// RefreshScheduler proactively refreshes access tokens that are about to expire,
// independent of any sync request
type RefreshScheduler struct {
	store    repository.CredentialStore
	manager  *credentials.Manager
	tokens   credentials.TokenClients
	interval time.Duration
	window   time.Duration
	now      func() time.Time
}

func NewRefreshScheduler(store repository.CredentialStore, manager *credentials.Manager, tokens credentials.TokenClients, cfg types.RefreshConfig) *RefreshScheduler {
	s := &RefreshScheduler{
		store:    store,
		manager:  manager,
		tokens:   tokens,
		interval: cfg.Interval,
		window:   cfg.Window,
		now:      time.Now,
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	if s.window <= 0 {
		s.window = DefaultWindow
	}
	return s
}

// Start runs one tick immediately and then one per interval until ctx is done.
// Call as a goroutine.
func (s *RefreshScheduler) Start(ctx context.Context) {
	log.Info().Dur("interval", s.interval).Dur("window", s.window).Msg("refresh scheduler started")

	s.Tick(ctx)

	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("refresh scheduler stopped")
			return
		case <-t.C:
			s.Tick(ctx)
		}
	}
}

// Tick refreshes every account whose token expires within the window, soonest
// first. A failing account never aborts the tick and the tick never panics.
func (s *RefreshScheduler) Tick(ctx context.Context) (result types.RefreshTickResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("refresh tick panicked")
		}
		log.Info().
			Int("refreshed", result.Refreshed).
			Int("skipped", result.Skipped).
			Int("failed", result.Failed).
			Msg("refresh tick complete")
	}()

	accounts, err := s.store.ListRefreshCandidates(ctx, s.now().Add(s.window))
	if err != nil {
		log.Warn().Err(err).Msg("refresh tick: failed to list accounts")
		return result
	}

	for _, account := range accounts {
		if ctx.Err() != nil {
			log.Info().Msg("refresh tick cancelled")
			return result
		}
		s.refreshOne(ctx, account, &result)
	}
	return result
}

func (s *RefreshScheduler) refreshOne(ctx context.Context, account *types.Account, result *types.RefreshTickResult) {
	logger := log.With().Str("account_id", account.ID).Str("provider", account.Provider.String()).Logger()

	if _, err := s.tokens.Get(account.Provider); err != nil {
		logger.Debug().Err(err).Msg("refresh skipped: provider not available")
		result.Skipped++
		return
	}

	session, err := s.manager.TryLease(ctx, account.ID)
	if err != nil {
		if errors.Is(err, credentials.ErrAccountBusy) {
			logger.Debug().Msg("refresh skipped: account busy")
		} else {
			logger.Warn().Err(err).Msg("refresh skipped: unable to lock account")
		}
		result.Skipped++
		return
	}
	defer session.Release()

	refreshed := session.Refresh(session.Context())
	if !refreshed.Success {
		logger.Warn().Str("error", refreshed.Error).Msg("scheduled refresh failed")
		result.Failed++
		return
	}

	logger.Debug().Time("expires_at", refreshed.ExpiresAt).Msg("scheduled refresh succeeded")
	result.Refreshed++
}
