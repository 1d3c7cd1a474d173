package credentials

import (
	"context"
	"errors"
	"fmt"

	"github.com/beam-cloud/mailsync/pkg/sources"
	"github.com/beam-cloud/mailsync/pkg/types"
)

// Session is a held account lock. Its methods run without re-locking, so one
// sync can ensure, use and force-refresh a token without racing the scheduler.
type Session struct {
	m         *Manager
	accountID string
	ctx       context.Context
	unlock    func()
}

func (s *Session) AccountID() string {
	return s.accountID
}

// Context is cancelled once the lock is released or lost. Its cause is
// ErrLockLost when another holder may have taken the account.
func (s *Session) Context() context.Context {
	return s.ctx
}

func (s *Session) EnsureValid(ctx context.Context) bool {
	return s.m.ensureValid(ctx, s.accountID)
}

func (s *Session) ForceRefresh(ctx context.Context) bool {
	return s.m.refresh(ctx, s.accountID).Success
}

func (s *Session) Refresh(ctx context.Context) types.TokenRefreshResult {
	return s.m.refresh(ctx, s.accountID)
}

// Token returns the currently stored access token
func (s *Session) Token(ctx context.Context) (string, error) {
	return s.m.accessToken(ctx, s.accountID)
}

// Release unlocks the account. It is safe to call more than once.
func (s *Session) Release() {
	s.unlock()
}

// Retry runs op with the session's current token. If op reports an unauthorized
// response the token is force-refreshed and op runs exactly once more; a failed
// refresh is returned as ErrReauthorizationRequired without re-running op.
func Retry[T any](ctx context.Context, s *Session, op func(ctx context.Context, token string) (T, error)) (T, error) {
	var zero T

	token, err := s.Token(ctx)
	if err != nil {
		return zero, err
	}

	out, err := op(ctx, token)
	if err == nil || !errors.Is(err, sources.ErrUnauthorized) {
		return out, err
	}

	if !s.ForceRefresh(ctx) {
		return zero, fmt.Errorf("%w: %w", types.ErrReauthorizationRequired, err)
	}

	token, err = s.Token(ctx)
	if err != nil {
		return zero, err
	}
	return op(ctx, token)
}
