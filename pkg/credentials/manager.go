package credentials

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/beam-cloud/mailsync/pkg/oauth"
	"github.com/beam-cloud/mailsync/pkg/repository"
	"github.com/beam-cloud/mailsync/pkg/types"
	"github.com/rs/zerolog/log"
)

const (
	DefaultRefreshThreshold = 15 * time.Minute
	DefaultSkewMargin       = 60 * time.Second
)

// TokenClients resolves the token client for a provider
type TokenClients interface {
	Get(provider types.Provider) (oauth.TokenClient, error)
}

// Manager is the single authority on whether an account's access token is usable
// and on refreshing it. Public methods serialize on the per-account lock.
type Manager struct {
	store      repository.CredentialStore
	tokens     TokenClients
	locker     Locker
	threshold  time.Duration
	skewMargin time.Duration
	now        func() time.Time
}

type ManagerOption func(*Manager)

// WithClock overrides the time source
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

func NewManager(store repository.CredentialStore, tokens TokenClients, locker Locker, cfg types.RefreshConfig, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:      store,
		tokens:     tokens,
		locker:     locker,
		threshold:  cfg.Threshold,
		skewMargin: cfg.SkewMargin,
		now:        time.Now,
	}
	if m.threshold <= 0 {
		m.threshold = DefaultRefreshThreshold
	}
	if m.skewMargin <= 0 {
		m.skewMargin = DefaultSkewMargin
	}
	if m.locker == nil {
		m.locker = NewLocalLocker(cfg.LockWait)
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// EnsureValid returns true when the account holds an access token that is neither
// expired nor within the refresh threshold, refreshing it first if needed
func (m *Manager) EnsureValid(ctx context.Context, accountID string) bool {
	s, err := m.Lease(ctx, accountID)
	if err != nil {
		log.Warn().Err(err).Str("account_id", accountID).Msg("unable to lock account")
		return false
	}
	defer s.Release()
	return s.EnsureValid(s.Context())
}

// ForceRefresh refreshes the access token regardless of its expiry
func (m *Manager) ForceRefresh(ctx context.Context, accountID string) bool {
	s, err := m.Lease(ctx, accountID)
	if err != nil {
		log.Warn().Err(err).Str("account_id", accountID).Msg("unable to lock account")
		return false
	}
	defer s.Release()
	return s.ForceRefresh(s.Context())
}

// Refresh performs a refresh-token grant and persists the result
func (m *Manager) Refresh(ctx context.Context, accountID string) types.TokenRefreshResult {
	s, err := m.Lease(ctx, accountID)
	if err != nil {
		return types.RefreshFailure("lock account %s: %v", accountID, err)
	}
	defer s.Release()
	return s.Refresh(s.Context())
}

// Lease holds the account lock until the returned session is released
func (m *Manager) Lease(ctx context.Context, accountID string) (*Session, error) {
	held, unlock, err := m.locker.Lock(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &Session{m: m, accountID: accountID, ctx: held, unlock: unlock}, nil
}

// TryLease is Lease without waiting for a busy account
func (m *Manager) TryLease(ctx context.Context, accountID string) (*Session, error) {
	held, unlock, err := m.locker.TryLock(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &Session{m: m, accountID: accountID, ctx: held, unlock: unlock}, nil
}

func (m *Manager) ensureValid(ctx context.Context, accountID string) bool {
	account, err := m.store.GetAccount(ctx, accountID)
	if err != nil {
		log.Warn().Err(err).Str("account_id", accountID).Msg("failed to load account")
		return false
	}
	if account == nil || !account.CanRefresh() {
		return false
	}

	now := m.now()
	expiry := account.AccessTokenExpiry
	isExpired := !now.Before(expiry)
	nearExpiry := expiry.Sub(now) <= m.threshold
	if !isExpired && !nearExpiry {
		return true
	}

	log.Debug().
		Str("account_id", accountID).
		Str("provider", account.Provider.String()).
		Bool("expired", isExpired).
		Msg("access token needs refresh")

	return m.refreshAccount(ctx, account).Success
}

func (m *Manager) refresh(ctx context.Context, accountID string) types.TokenRefreshResult {
	account, err := m.store.GetAccount(ctx, accountID)
	if err != nil {
		return types.RefreshFailure("load account %s: %v", accountID, err)
	}
	if account == nil {
		return types.RefreshFailure("%v: %s", types.ErrAccountNotFound, accountID)
	}
	return m.refreshAccount(ctx, account)
}

func (m *Manager) refreshAccount(ctx context.Context, account *types.Account) types.TokenRefreshResult {
	if !account.CanRefresh() {
		return types.RefreshFailure("%v: %s", types.ErrNoRefreshToken, account.ID)
	}

	client, err := m.tokens.Get(account.Provider)
	if err != nil {
		return types.RefreshFailure("refresh %s: %v", account.ID, err)
	}

	tok, err := client.Refresh(ctx, account.RefreshToken)
	if err != nil {
		log.Warn().
			Err(err).
			Str("account_id", account.ID).
			Str("provider", account.Provider.String()).
			Msg("token refresh failed")
		return types.RefreshFailure("refresh %s: %v", account.ID, err)
	}

	lifetime := time.Duration(tok.ExpiresIn)*time.Second - m.skewMargin
	if lifetime < 0 {
		lifetime = 0
	}
	expiresAt := m.now().Add(lifetime).UTC()

	var rotated *string
	if strings.TrimSpace(tok.RefreshToken) != "" {
		rotated = &tok.RefreshToken
	}

	if err := m.store.UpdateAccountTokens(ctx, account.ID, tok.AccessToken, rotated, expiresAt); err != nil {
		return types.RefreshFailure("persist tokens for %s: %v", account.ID, err)
	}

	log.Info().
		Str("account_id", account.ID).
		Str("provider", account.Provider.String()).
		Time("expires_at", expiresAt).
		Bool("rotated", rotated != nil).
		Msg("access token refreshed")

	return types.TokenRefreshResult{
		Success:     true,
		AccessToken: tok.AccessToken,
		ExpiresAt:   expiresAt,
	}
}

func (m *Manager) accessToken(ctx context.Context, accountID string) (string, error) {
	account, err := m.store.GetAccount(ctx, accountID)
	if err != nil {
		return "", fmt.Errorf("load account: %w", err)
	}
	if account == nil {
		return "", fmt.Errorf("%w: %s", types.ErrAccountNotFound, accountID)
	}
	return account.AccessToken, nil
}
