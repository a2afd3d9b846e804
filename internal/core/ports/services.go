package ports

import (
	"context"
	"time"

	"wallet-ledger-engine/internal/core/domain"
)

// StateCache is the storage tier for WalletStateData snapshots. It is a
// pass-through layer with no independent source of truth and must tolerate
// being empty at any time.
type StateCache interface {
	// MultiGet returns the entries for keys. When any key is absent it fails
	// with a RecordNotFoundError enumerating exactly the missing keys.
	MultiGet(ctx context.Context, keys []string) (map[string]domain.WalletStateData, error)
	// MultiSync replaces entries wholesale.
	MultiSync(ctx context.Context, items map[string]domain.WalletStateData) error
	Forget(ctx context.Context, key string) error
}

// LockStore provides the raw named-lock primitive.
type LockStore interface {
	TryAcquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, token string) (bool, error)
}

// ReleaseFunc releases the locks acquired by one Acquire call. Safe to call
// more than once; repeated calls are no-ops.
type ReleaseFunc func(ctx context.Context)

// LockCoordinator acquires mutual-exclusion locks keyed by wallet identifier.
// Keys are always taken in lexicographic order regardless of call-site
// ordering, and keys already held by the current logical operation (carried
// in ctx) are skipped rather than re-blocked.
type LockCoordinator interface {
	// Acquire blocks until all keys are held or timeout elapses, then fails
	// with a LOCK_TIMEOUT error holding no partial locks. The returned
	// context carries the held key set for reentrancy.
	Acquire(ctx context.Context, keys []string, timeout time.Duration) (context.Context, ReleaseFunc, error)
	// Blocks acquires keys, runs fn and releases, propagating fn's error.
	Blocks(ctx context.Context, keys []string, timeout time.Duration, fn func(ctx context.Context) error) error
}

// Bookkeeper is the read-through cache of persisted wallet state. Cache
// misses are recovered internally and never escape to callers.
type Bookkeeper interface {
	Get(ctx context.Context, w *domain.Wallet) (domain.WalletStateData, error)
	MultiGet(ctx context.Context, wallets []*domain.Wallet) (map[string]domain.WalletStateData, error)
	GetBalance(ctx context.Context, w *domain.Wallet) (string, error)
	GetFrozenAmount(ctx context.Context, w *domain.Wallet) (string, error)
	GetTransactionsCount(ctx context.Context, w *domain.Wallet) (int64, error)
	Sync(ctx context.Context, key string, data domain.WalletStateData) error
	MultiSync(ctx context.Context, items map[string]domain.WalletStateData) error
	Forget(ctx context.Context, w *domain.Wallet) error
}

// ConsistencyChecker validates amounts and computes/verifies HMAC checksums
// over wallet and transaction state.
type ConsistencyChecker interface {
	CheckPositive(amount string) error
	CheckPotential(balance, available, amount string, allowZero bool) error
	CreateWalletChecksum(uuid, balance, frozenAmount string, transactionsCount int64, transactionsSum string) (string, error)
	CreateTransactionChecksum(uuid, walletUUID, kind, amount, createdAt string) (string, error)
	CheckWalletConsistency(ctx context.Context, uuid, checksum string, throwOnFailure bool) (bool, error)
	CheckMultiWalletConsistency(ctx context.Context, checksums map[string]string) error
}

// EventPublisher dispatches post-commit domain events.
type EventPublisher interface {
	Publish(ctx context.Context, event any) error
}
