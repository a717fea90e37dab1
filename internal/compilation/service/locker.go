package service

import (
	"context"
	"time"

	"codelab/internal/common/cache"
	appErr "codelab/pkg/errors"
	"codelab/pkg/utils/logger"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

const (
	sessionLockKeyPrefix = "compile:lock:session:"
	defaultLockTTL       = 60 * time.Second
	defaultLockWait      = 45 * time.Second
	lockRetryInterval    = 50 * time.Millisecond
)

// lockEntry is a channel mutex shared by every waiter on one session.
type lockEntry struct {
	ch   chan struct{}
	refs int
}

// SessionLocker serializes work on one session. Waiters in this process
// queue on a local mutex; when a cache is set the holder also takes a
// Redis lock so that replicas agree.
type SessionLocker struct {
	local *xsync.MapOf[string, *lockEntry]
	cache cache.Cache
	ttl   time.Duration
	wait  time.Duration
}

// NewSessionLocker creates a locker. cacheClient may be nil.
func NewSessionLocker(cacheClient cache.Cache, ttl, wait time.Duration) *SessionLocker {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	if wait <= 0 {
		wait = defaultLockWait
	}
	return &SessionLocker{
		local: xsync.NewMapOf[string, *lockEntry](),
		cache: cacheClient,
		ttl:   ttl,
		wait:  wait,
	}
}

// Lock blocks until the session lock is held or the wait budget runs out.
// The returned func releases the lock and must be called exactly once.
func (l *SessionLocker) Lock(ctx context.Context, sessionID string) (func(), error) {
	waitCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	entry := l.retain(sessionID)
	select {
	case entry.ch <- struct{}{}:
	case <-waitCtx.Done():
		l.release(sessionID)
		return nil, appErr.New(appErr.LockFailed).WithMessage("session is busy")
	}

	unlockLocal := func() {
		<-entry.ch
		l.release(sessionID)
	}
	if l.cache == nil {
		return unlockLocal, nil
	}

	key := sessionLockKeyPrefix + sessionID
	token := uuid.NewString()
	if err := l.tryRemote(waitCtx, key, token); err != nil {
		unlockLocal()
		return nil, err
	}
	return func() {
		// The request context may already be done.
		unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if err := l.cache.Unlock(unlockCtx, key, token); err != nil {
			logger.Warn(ctx, "release session lock failed", zap.String("session_id", sessionID), zap.Error(err))
		}
		unlockLocal()
	}, nil
}

func (l *SessionLocker) tryRemote(ctx context.Context, key, token string) error {
	ticker := time.NewTicker(lockRetryInterval)
	defer ticker.Stop()
	for {
		ok, err := l.cache.TryLock(ctx, key, token, l.ttl)
		if err != nil {
			return appErr.Wrapf(err, appErr.LockFailed, "acquire session lock failed")
		}
		if ok {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return appErr.New(appErr.LockFailed).WithMessage("session is busy")
		}
	}
}

func (l *SessionLocker) retain(sessionID string) *lockEntry {
	entry, _ := l.local.Compute(sessionID, func(old *lockEntry, loaded bool) (*lockEntry, bool) {
		if !loaded {
			old = &lockEntry{ch: make(chan struct{}, 1)}
		}
		old.refs++
		return old, false
	})
	return entry
}

func (l *SessionLocker) release(sessionID string) {
	l.local.Compute(sessionID, func(old *lockEntry, loaded bool) (*lockEntry, bool) {
		if !loaded {
			return nil, true
		}
		old.refs--
		return old, old.refs <= 0
	})
}
