package credentials

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/beam-cloud/mailsync/pkg/common"
	"github.com/rs/zerolog/log"
)

var (
	// ErrAccountBusy is returned when an account lock could not be obtained in time
	ErrAccountBusy = errors.New("account is locked by another operation")

	// ErrLockLost is the cancellation cause of a held context whose lock could not be kept
	ErrLockLost = errors.New("account lock lost")

	errLockReleased = errors.New("account lock released")
)

// Locker provides per-account mutual exclusion around "ensure valid token, then use it".
// The returned held context is derived from ctx and is cancelled when the lock is
// released or lost; work done under the lock should use it.
type Locker interface {
	// Lock waits for the account lock, bounded by the locker's wait time and ctx
	Lock(ctx context.Context, accountID string) (held context.Context, unlock func(), err error)

	// TryLock obtains the account lock without waiting
	TryLock(ctx context.Context, accountID string) (held context.Context, unlock func(), err error)
}

// LocalLocker is an in-process keyed mutex
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*localLock
	wait  time.Duration
}

type localLock struct {
	ch   chan struct{} // holds one token while locked
	refs int
}

// NewLocalLocker creates a keyed mutex. wait <= 0 waits until ctx is done.
func NewLocalLocker(wait time.Duration) *LocalLocker {
	return &LocalLocker{
		locks: make(map[string]*localLock),
		wait:  wait,
	}
}

func (l *LocalLocker) acquireRef(key string) *localLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk, ok := l.locks[key]
	if !ok {
		lk = &localLock{ch: make(chan struct{}, 1)}
		l.locks[key] = lk
	}
	lk.refs++
	return lk
}

func (l *LocalLocker) releaseRef(key string, lk *localLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, key)
	}
}

func (l *LocalLocker) hold(ctx context.Context, key string, lk *localLock) (context.Context, func()) {
	held, cancel := context.WithCancelCause(ctx)
	var once sync.Once
	return held, func() {
		once.Do(func() {
			cancel(errLockReleased)
			<-lk.ch
			l.releaseRef(key, lk)
		})
	}
}

func (l *LocalLocker) Lock(ctx context.Context, accountID string) (context.Context, func(), error) {
	lk := l.acquireRef(accountID)

	var timeout <-chan time.Time
	if l.wait > 0 {
		timer := time.NewTimer(l.wait)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case lk.ch <- struct{}{}:
		held, unlock := l.hold(ctx, accountID, lk)
		return held, unlock, nil
	case <-timeout:
		l.releaseRef(accountID, lk)
		return nil, nil, ErrAccountBusy
	case <-ctx.Done():
		l.releaseRef(accountID, lk)
		return nil, nil, ctx.Err()
	}
}

func (l *LocalLocker) TryLock(ctx context.Context, accountID string) (context.Context, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	lk := l.acquireRef(accountID)
	select {
	case lk.ch <- struct{}{}:
		held, unlock := l.hold(ctx, accountID, lk)
		return held, unlock, nil
	default:
		l.releaseRef(accountID, lk)
		return nil, nil, ErrAccountBusy
	}
}

// RedisLocker shares account locks across processes through Redis
type RedisLocker struct {
	lock    *common.RedisLock
	ttl     time.Duration
	wait    time.Duration
	backoff time.Duration
}

// NewRedisLocker creates a distributed locker. Held locks are extended every ttl/2
// until released, so ttl only bounds how long a crashed holder blocks others. If the
// lock cannot be extended before it expires, the held context is cancelled with ErrLockLost.
func NewRedisLocker(rdb *common.RedisClient, ttl, wait time.Duration) *RedisLocker {
	if ttl < time.Second {
		ttl = 2 * time.Minute
	}
	return &RedisLocker{
		lock:    common.NewRedisLock(rdb),
		ttl:     ttl,
		wait:    wait,
		backoff: 100 * time.Millisecond,
	}
}

func (l *RedisLocker) Lock(ctx context.Context, accountID string) (context.Context, func(), error) {
	retries := int(l.wait / l.backoff)
	return l.obtain(ctx, accountID, retries)
}

func (l *RedisLocker) TryLock(ctx context.Context, accountID string) (context.Context, func(), error) {
	return l.obtain(ctx, accountID, 0)
}

func (l *RedisLocker) obtain(ctx context.Context, accountID string, retries int) (context.Context, func(), error) {
	key := common.Keys.AccountLock(accountID)

	err := l.lock.Acquire(ctx, key, common.RedisLockOptions{
		TtlS:    int(l.ttl / time.Second),
		Retries: retries,
		Backoff: l.backoff,
	})
	if errors.Is(err, common.ErrLockNotObtained) {
		return nil, nil, ErrAccountBusy
	}
	if err != nil {
		return nil, nil, err
	}

	held, cancel := context.WithCancelCause(ctx)
	done := make(chan struct{})
	go l.keepAlive(key, done, cancel)

	var once sync.Once
	return held, func() {
		once.Do(func() {
			close(done)
			cancel(errLockReleased)
			if err := l.lock.Release(key); err != nil {
				log.Warn().Err(err).Str("account_id", accountID).Msg("failed to release account lock")
			}
		})
	}, nil
}

// keepAlive extends the lock every ttl/2. A failed extension is retried quickly until
// the lock would expire; a lock that is gone or about to lapse cancels the holder.
func (l *RedisLocker) keepAlive(key string, done <-chan struct{}, lost context.CancelCauseFunc) {
	retryDelay := l.ttl / 10
	if retryDelay < l.backoff {
		retryDelay = l.backoff
	}

	expires := time.Now().Add(l.ttl)
	timer := time.NewTimer(l.ttl / 2)
	defer timer.Stop()

	for {
		select {
		case <-done:
			return
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), retryDelay)
		err := l.lock.Refresh(ctx, key, l.ttl)
		cancel()

		switch {
		case err == nil:
			expires = time.Now().Add(l.ttl)
			timer.Reset(l.ttl / 2)
		case errors.Is(err, common.ErrLockNotHeld) || !time.Now().Add(retryDelay).Before(expires):
			log.Error().Err(err).Str("key", key).Msg("account lock lost")
			lost(fmt.Errorf("%w: %v", ErrLockLost, err))
			return
		default:
			log.Warn().Err(err).Str("key", key).Msg("failed to extend account lock, retrying")
			timer.Reset(retryDelay)
		}
	}
}
