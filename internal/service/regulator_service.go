package service

import (
	"context"
	"time"

	"wallet-ledger-engine/internal/core/domain"
	"wallet-ledger-engine/internal/core/ports"
	"wallet-ledger-engine/pkg/decmath"

	"github.com/rs/zerolog"
)

// RegulatorFactory builds one Regulator per atomic block. The factory holds
// the shared collaborators; the blocks hold only their own staged deltas, so
// parallel operations never observe each other's uncommitted state.
type RegulatorFactory struct {
	bookkeeper  ports.Bookkeeper
	walletRepo  ports.WalletRepository
	consistency ports.ConsistencyChecker
	publisher   ports.EventPublisher
	math        *decmath.Engine
	log         zerolog.Logger
}

// NewRegulatorFactory creates a new RegulatorFactory.
func NewRegulatorFactory(
	bookkeeper ports.Bookkeeper,
	walletRepo ports.WalletRepository,
	consistency ports.ConsistencyChecker,
	publisher ports.EventPublisher,
	math *decmath.Engine,
	log zerolog.Logger,
) *RegulatorFactory {
	return &RegulatorFactory{
		bookkeeper:  bookkeeper,
		walletRepo:  walletRepo,
		consistency: consistency,
		publisher:   publisher,
		math:        math,
		log:         log,
	}
}

// NewBlock creates an empty Regulator for one atomic block.
func (f *RegulatorFactory) NewBlock() *Regulator {
	return &Regulator{
		factory: f,
		deltas:  make(map[string]*walletDelta),
		locked:  make(map[string]struct{}),
	}
}

// walletDelta accumulates the uncommitted changes of one wallet inside a
// block, next to the committed state pinned when the wallet joined. All
// numeric fields are raw fixed-point integers.
type walletDelta struct {
	wallet    *domain.Wallet
	committed domain.WalletStateData
	balance   string
	frozen    string
	sum       string
	count     int64
}

// Regulator is the uncommitted overlay of a single atomic block. Reads
// through it return the pinned committed state plus staged deltas; Committing
// folds the deltas into wallet rows inside the open data-transaction and
// Committed synchronizes caches and publishes events only after the physical
// commit. The block's locks live here too, so keys joined mid-block stay held
// until the single commit point.
type Regulator struct {
	factory  *RegulatorFactory
	deltas   map[string]*walletDelta
	order    []string
	staged   map[string]domain.WalletStateData
	locked   map[string]struct{}
	releases []ports.ReleaseFunc
}

// Persist registers a wallet with the block and pins its committed state. The
// pin must happen before the block writes any rows for the wallet; otherwise
// the block would later fold its deltas onto a state that already contains
// its own uncommitted writes. Registering twice is a no-op.
func (r *Regulator) Persist(ctx context.Context, w *domain.Wallet) error {
	key := w.Key()
	if _, ok := r.deltas[key]; ok {
		return nil
	}
	committed, err := r.factory.bookkeeper.Get(ctx, w)
	if err != nil {
		return err
	}
	r.deltas[key] = &walletDelta{wallet: w, committed: committed, balance: "0", frozen: "0", sum: "0"}
	r.order = append(r.order, key)
	return nil
}

func (r *Regulator) delta(ctx context.Context, w *domain.Wallet) (*walletDelta, error) {
	if err := r.Persist(ctx, w); err != nil {
		return nil, err
	}
	return r.deltas[w.Key()], nil
}

// Increase stages a balance increase of amount raw units together with one
// transaction and returns the effective balance after it.
func (r *Regulator) Increase(ctx context.Context, w *domain.Wallet, amount string) (string, error) {
	d, err := r.delta(ctx, w)
	if err != nil {
		return "", err
	}
	balance, err := r.factory.math.Add(d.balance, amount)
	if err != nil {
		return "", err
	}
	sum, err := r.factory.math.Add(d.sum, amount)
	if err != nil {
		return "", err
	}
	d.balance = balance
	d.sum = sum
	d.count++
	return r.factory.math.Add(d.committed.Balance, d.balance)
}

// Decrease stages a balance decrease of amount raw units together with one
// transaction and returns the effective balance after it.
func (r *Regulator) Decrease(ctx context.Context, w *domain.Wallet, amount string) (string, error) {
	negated, err := r.factory.math.Negate(amount)
	if err != nil {
		return "", err
	}
	return r.Increase(ctx, w, negated)
}

// Freeze stages freezing amount raw units.
func (r *Regulator) Freeze(ctx context.Context, w *domain.Wallet, amount string) error {
	d, err := r.delta(ctx, w)
	if err != nil {
		return err
	}
	frozen, err := r.factory.math.Add(d.frozen, amount)
	if err != nil {
		return err
	}
	d.frozen = frozen
	return nil
}

// UnFreeze stages unfreezing amount raw units.
func (r *Regulator) UnFreeze(ctx context.Context, w *domain.Wallet, amount string) error {
	negated, err := r.factory.math.Negate(amount)
	if err != nil {
		return err
	}
	return r.Freeze(ctx, w, negated)
}

// GetBalance returns the pinned committed balance plus the staged delta.
func (r *Regulator) GetBalance(ctx context.Context, w *domain.Wallet) (string, error) {
	d, err := r.delta(ctx, w)
	if err != nil {
		return "", err
	}
	return r.factory.math.Add(d.committed.Balance, d.balance)
}

// GetFrozenAmount returns the pinned committed frozen amount plus the staged
// delta.
func (r *Regulator) GetFrozenAmount(ctx context.Context, w *domain.Wallet) (string, error) {
	d, err := r.delta(ctx, w)
	if err != nil {
		return "", err
	}
	return r.factory.math.Add(d.committed.FrozenAmount, d.frozen)
}

// GetAvailableBalance returns balance minus frozen amount, both including
// staged deltas.
func (r *Regulator) GetAvailableBalance(ctx context.Context, w *domain.Wallet) (string, error) {
	balance, err := r.GetBalance(ctx, w)
	if err != nil {
		return "", err
	}
	frozen, err := r.GetFrozenAmount(ctx, w)
	if err != nil {
		return "", err
	}
	return r.factory.math.Sub(balance, frozen)
}

// Committing folds the staged deltas onto the pinned committed states, in
// wallet registration order, inside the caller's open data-transaction.
// Wallets whose deltas are all zero are skipped. Every written wallet is
// verified against its fresh checksum right away, and its cache entry is
// dropped so no stale projection can outlive the row change. The new states
// are staged for Committed.
func (r *Regulator) Committing(ctx context.Context) error {
	r.staged = make(map[string]domain.WalletStateData, len(r.order))
	for _, key := range r.order {
		d := r.deltas[key]
		changed, err := r.deltaChanged(d)
		if err != nil {
			return err
		}
		if !changed {
			continue
		}

		balance, err := r.factory.math.Add(d.committed.Balance, d.balance)
		if err != nil {
			return err
		}
		frozen, err := r.factory.math.Add(d.committed.FrozenAmount, d.frozen)
		if err != nil {
			return err
		}
		sum, err := r.factory.math.Add(d.committed.TransactionsSum, d.sum)
		if err != nil {
			return err
		}
		count := d.committed.TransactionsCount + d.count

		checksum, err := r.factory.consistency.CreateWalletChecksum(key, balance, frozen, count, sum)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		if _, err := r.factory.walletRepo.Update(ctx, d.wallet, map[string]any{
			"balance":       balance,
			"frozen_amount": frozen,
			"checksum":      checksum,
			"updated_at":    now,
		}); err != nil {
			return err
		}
		if _, err := r.factory.consistency.CheckWalletConsistency(ctx, key, checksum, true); err != nil {
			return err
		}
		if err := r.factory.bookkeeper.Forget(ctx, d.wallet); err != nil {
			return err
		}

		r.staged[key] = domain.WalletStateData{
			UUID:              key,
			Balance:           balance,
			FrozenAmount:      frozen,
			TransactionsCount: count,
			TransactionsSum:   sum,
			Checksum:          checksum,
			UpdatedAt:         now.Unix(),
		}
	}
	return nil
}

// Committed runs after the physical commit. It synchronizes the bookkeeper
// with the new states, refreshes the in-memory wallet structs and publishes
// balance events. Event publishing is best effort; the ledger change already
// committed. A failed sync is safe: Committing evicted the cache entries, so
// the next read rebuilds from the committed rows.
func (r *Regulator) Committed(ctx context.Context) error {
	if len(r.staged) == 0 {
		return nil
	}

	if err := r.factory.bookkeeper.MultiSync(ctx, r.staged); err != nil {
		return err
	}

	for key, state := range r.staged {
		d := r.deltas[key]
		d.wallet.Balance = state.Balance
		d.wallet.FrozenAmount = state.FrozenAmount
		d.wallet.Checksum = state.Checksum
		d.wallet.UpdatedAt = time.Unix(state.UpdatedAt, 0).UTC()

		event := domain.BalanceUpdatedEvent{
			Event:             domain.EventBalanceUpdated,
			WalletUUID:        key,
			Balance:           state.Balance,
			FrozenAmount:      state.FrozenAmount,
			TransactionsCount: state.TransactionsCount,
			UpdatedAt:         state.UpdatedAt,
		}
		if err := r.factory.publisher.Publish(ctx, event); err != nil {
			r.factory.log.Warn().Err(err).Str("wallet_uuid", key).Msg("failed to publish balance event")
		}
	}
	return nil
}

// Purge releases the block's locks and discards every staged delta. Safe to
// call more than once; a purged block can be reused as if freshly created.
func (r *Regulator) Purge(ctx context.Context) {
	for i := len(r.releases) - 1; i >= 0; i-- {
		r.releases[i](ctx)
	}
	r.releases = nil
	r.locked = make(map[string]struct{})
	r.deltas = make(map[string]*walletDelta)
	r.order = nil
	r.staged = nil
}

// adoptLocks hands a set of held keys and their release to the block. The
// release runs when the block purges.
func (r *Regulator) adoptLocks(keys []string, release ports.ReleaseFunc) {
	for _, key := range keys {
		r.locked[key] = struct{}{}
	}
	r.releases = append(r.releases, release)
}

// unlockedKeys filters out keys the block already holds.
func (r *Regulator) unlockedKeys(keys []string) []string {
	missing := make([]string, 0, len(keys))
	for _, key := range keys {
		if _, ok := r.locked[key]; !ok {
			missing = append(missing, key)
		}
	}
	return missing
}

func (r *Regulator) deltaChanged(d *walletDelta) (bool, error) {
	if d.count != 0 {
		return true, nil
	}
	balanceCmp, err := r.factory.math.Compare(d.balance, "0")
	if err != nil {
		return false, err
	}
	if balanceCmp != 0 {
		return true, nil
	}
	frozenCmp, err := r.factory.math.Compare(d.frozen, "0")
	if err != nil {
		return false, err
	}
	return frozenCmp != 0, nil
}
