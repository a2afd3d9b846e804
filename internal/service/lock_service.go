package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"wallet-ledger-engine/internal/core/ports"
	"wallet-ledger-engine/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type heldLocksCtxKey struct{}

// heldLocks returns the set of lock keys already owned by the logical
// operation carried in ctx.
func heldLocks(ctx context.Context) map[string]struct{} {
	held, _ := ctx.Value(heldLocksCtxKey{}).(map[string]struct{})
	return held
}

// LockService implements ports.LockCoordinator on top of a LockStore.
// Keys are always acquired in lexicographic order so that two operations
// locking overlapping wallet sets cannot deadlock, and keys already held by
// the surrounding operation are skipped instead of re-blocked.
type LockService struct {
	store         ports.LockStore
	lockTTL       time.Duration
	retryInterval time.Duration
	log           zerolog.Logger
}

// NewLockService creates a new LockService. lockTTL bounds how long a crashed
// holder can keep a key hostage.
func NewLockService(store ports.LockStore, lockTTL time.Duration, log zerolog.Logger) *LockService {
	return &LockService{
		store:         store,
		lockTTL:       lockTTL,
		retryInterval: 10 * time.Millisecond,
		log:           log,
	}
}

// Acquire blocks until every key is held or timeout elapses. On timeout the
// keys acquired so far are released before the error returns, so the caller
// never holds a partial set.
func (s *LockService) Acquire(ctx context.Context, keys []string, timeout time.Duration) (context.Context, ports.ReleaseFunc, error) {
	already := heldLocks(ctx)

	wanted := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if _, ok := already[key]; ok {
			continue
		}
		wanted = append(wanted, key)
	}
	sort.Strings(wanted)

	token := uuid.NewString()
	deadline := time.Now().Add(timeout)

	acquired := make([]string, 0, len(wanted))
	for _, key := range wanted {
		if err := s.acquireOne(ctx, key, token, deadline); err != nil {
			s.releaseAll(ctx, acquired, token)
			return ctx, func(context.Context) {}, err
		}
		acquired = append(acquired, key)
	}

	held := make(map[string]struct{}, len(already)+len(acquired))
	for key := range already {
		held[key] = struct{}{}
	}
	for _, key := range acquired {
		held[key] = struct{}{}
	}
	lockedCtx := context.WithValue(ctx, heldLocksCtxKey{}, held)

	var once sync.Once
	release := func(ctx context.Context) {
		once.Do(func() {
			s.releaseAll(ctx, acquired, token)
		})
	}
	return lockedCtx, release, nil
}

// Blocks acquires keys, runs fn and always releases, propagating fn's error.
func (s *LockService) Blocks(ctx context.Context, keys []string, timeout time.Duration, fn func(ctx context.Context) error) error {
	lockedCtx, release, err := s.Acquire(ctx, keys, timeout)
	if err != nil {
		return err
	}
	defer release(ctx)
	return fn(lockedCtx)
}

func (s *LockService) acquireOne(ctx context.Context, key, token string, deadline time.Time) error {
	for {
		ok, err := s.store.TryAcquire(ctx, key, token, s.lockTTL)
		if err != nil {
			return apperror.InternalError(err)
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			s.log.Warn().Str("key", key).Msg("lock acquisition timed out")
			return apperror.ErrLockTimeout(nil)
		}
		select {
		case <-ctx.Done():
			return apperror.ErrLockTimeout(ctx.Err())
		case <-time.After(s.retryInterval):
		}
	}
}

func (s *LockService) releaseAll(ctx context.Context, keys []string, token string) {
	for _, key := range keys {
		if _, err := s.store.Release(ctx, key, token); err != nil {
			s.log.Error().Err(err).Str("key", key).Msg("failed to release lock")
		}
	}
}
