package service

import (
	"context"
	"errors"
	"time"

	"wallet-ledger-engine/internal/core/domain"
	"wallet-ledger-engine/internal/core/ports"

	"github.com/rs/zerolog"
)

type blockCtxKey struct{}

// errNoAtomicBlock signals a balance mutation attempted outside any block.
var errNoAtomicBlock = errors.New("operation requires an atomic block")

// blockFromContext returns the Regulator of the surrounding atomic block.
func blockFromContext(ctx context.Context) (*Regulator, bool) {
	reg, ok := ctx.Value(blockCtxKey{}).(*Regulator)
	return reg, ok
}

// AtomicService orchestrates atomic multi-wallet blocks: it acquires the
// wallet locks, opens the data-transaction, hands the operation body a
// context carrying the block's Regulator and drives the
// Committing/Committed/Purge lifecycle. Lock release and purge are deferred,
// so they run on every exit path including panics unwinding through.
type AtomicService struct {
	locks       ports.LockCoordinator
	transactor  ports.Transactor
	regulators  *RegulatorFactory
	lockTimeout time.Duration
	log         zerolog.Logger
}

// NewAtomicService creates a new AtomicService.
func NewAtomicService(
	locks ports.LockCoordinator,
	transactor ports.Transactor,
	regulators *RegulatorFactory,
	lockTimeout time.Duration,
	log zerolog.Logger,
) *AtomicService {
	return &AtomicService{
		locks:       locks,
		transactor:  transactor,
		regulators:  regulators,
		lockTimeout: lockTimeout,
		log:         log,
	}
}

// Atomic runs fn as one atomic block over wallets. When ctx already carries a
// block, the wallets join the surrounding block and fn runs inline, so nested
// operations share one lock set, one transaction and one commit point.
func (s *AtomicService) Atomic(ctx context.Context, wallets []*domain.Wallet, fn ports.TxFunc) (domain.Outcome, error) {
	if reg, ok := blockFromContext(ctx); ok {
		return s.join(ctx, reg, wallets, fn)
	}

	keys := make([]string, 0, len(wallets))
	for _, w := range wallets {
		keys = append(keys, w.Key())
	}

	lockedCtx, release, err := s.locks.Acquire(ctx, keys, s.lockTimeout)
	if err != nil {
		return domain.Outcome{}, err
	}

	reg := s.regulators.NewBlock()
	reg.adoptLocks(keys, release)
	defer reg.Purge(ctx)

	// Wallets are pinned before the data-transaction opens, so the block's
	// own row inserts can never leak into the committed state it starts from.
	blockCtx := context.WithValue(lockedCtx, blockCtxKey{}, reg)
	for _, w := range wallets {
		if err := reg.Persist(blockCtx, w); err != nil {
			return domain.Outcome{}, err
		}
	}

	outcome, err := s.transactor.Transaction(blockCtx, func(ctx context.Context) (domain.Outcome, error) {
		outcome, err := fn(ctx)
		if err != nil {
			return domain.Outcome{}, err
		}
		if outcome.Rollback {
			return outcome, nil
		}
		if err := reg.Committing(ctx); err != nil {
			return domain.Outcome{}, err
		}
		return outcome, nil
	})
	if err != nil {
		return domain.Outcome{}, err
	}
	if outcome.Rollback {
		return outcome, nil
	}

	// The transaction committed; cache sync and events happen outside it.
	if err := reg.Committed(ctx); err != nil {
		s.log.Error().Err(err).Msg("post-commit synchronization failed")
		return outcome, err
	}
	return outcome, nil
}

// join adds wallets to the surrounding block. Keys the block does not hold
// yet are acquired and handed to it, so they stay locked until the block's
// single commit point, then fn runs inline against the shared Regulator.
func (s *AtomicService) join(ctx context.Context, reg *Regulator, wallets []*domain.Wallet, fn ports.TxFunc) (domain.Outcome, error) {
	keys := make([]string, 0, len(wallets))
	for _, w := range wallets {
		keys = append(keys, w.Key())
	}
	if missing := reg.unlockedKeys(keys); len(missing) > 0 {
		lockedCtx, release, err := s.locks.Acquire(ctx, missing, s.lockTimeout)
		if err != nil {
			return domain.Outcome{}, err
		}
		reg.adoptLocks(missing, release)
		ctx = lockedCtx
	}
	for _, w := range wallets {
		if err := reg.Persist(ctx, w); err != nil {
			return domain.Outcome{}, err
		}
	}
	return fn(ctx)
}
