// Package integration exercises the ledger engine end to end: real service
// stack, real redis protocol via miniredis, in-memory SQL stand-ins.
package integration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wallet-ledger-engine/internal/core/domain"
	"wallet-ledger-engine/internal/core/ports"
	"wallet-ledger-engine/pkg/apperror"
	"wallet-ledger-engine/pkg/decmath"

	"github.com/google/uuid"
)

// ledgerStore is an in-memory replacement for the postgres repositories. It
// mirrors the real schema's invariant: authoritative state combines wallet
// rows with transaction aggregates.
type ledgerStore struct {
	mu           sync.Mutex
	math         *decmath.Engine
	walletSeq    int64
	txSeq        int64
	transferSeq  int64
	wallets      map[string]*domain.Wallet
	transactions []*domain.Transaction
	transfers    []*domain.Transfer
}

func newLedgerStore() *ledgerStore {
	return &ledgerStore{
		math:    decmath.New(),
		wallets: make(map[string]*domain.Wallet),
	}
}

// Tamper overwrites a wallet row's balance behind the checksum's back,
// simulating an out-of-band modification of the persisted store.
func (s *ledgerStore) Tamper(key, balance string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wallets[key].Balance = balance
}

func (s *ledgerStore) TransactionCount(walletID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.transactions {
		if t.WalletID == walletID {
			n++
		}
	}
	return n
}

func (s *ledgerStore) TransferCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.transfers)
}

func (s *ledgerStore) Create(_ context.Context, w *domain.Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.walletSeq++
	w.ID = s.walletSeq
	cp := *w
	s.wallets[w.Key()] = &cp
	return nil
}

func (s *ledgerStore) FindByID(_ context.Context, id int64) (*domain.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.wallets {
		if w.ID == id {
			cp := *w
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *ledgerStore) FindByUUID(_ context.Context, id uuid.UUID) (*domain.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[id.String()]
	if !ok {
		return nil, nil
	}
	cp := *w
	return &cp, nil
}

func (s *ledgerStore) FindBySlug(_ context.Context, holderType, holderID, slug string) (*domain.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.wallets {
		if w.HolderType == holderType && w.HolderID == holderID && w.Slug == slug {
			cp := *w
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *ledgerStore) Update(_ context.Context, w *domain.Wallet, fields map[string]any) (*domain.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.wallets[w.Key()]
	if !ok {
		return nil, apperror.ErrModelNotFound("Wallet")
	}
	for name, value := range fields {
		switch name {
		case "balance":
			stored.Balance = value.(string)
		case "frozen_amount":
			stored.FrozenAmount = value.(string)
		case "checksum":
			stored.Checksum = value.(string)
		case "updated_at":
			stored.UpdatedAt = value.(time.Time)
		default:
			return nil, fmt.Errorf("unknown column %q", name)
		}
	}
	cp := *stored
	return &cp, nil
}

func (s *ledgerStore) MultiGet(_ context.Context, uuids []string) (map[string]domain.WalletStateData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make(map[string]domain.WalletStateData, len(uuids))
	for _, id := range uuids {
		w, ok := s.wallets[id]
		if !ok {
			continue
		}
		count, sum, err := s.aggregateLocked(w.ID)
		if err != nil {
			return nil, err
		}
		result[id] = domain.WalletStateData{
			UUID:              id,
			Balance:           w.Balance,
			FrozenAmount:      w.FrozenAmount,
			TransactionsCount: count,
			TransactionsSum:   sum,
			Checksum:          w.Checksum,
			UpdatedAt:         w.UpdatedAt.Unix(),
		}
	}
	return result, nil
}

func (s *ledgerStore) GetWalletStateData(_ context.Context, w *domain.Wallet) (domain.WalletStateData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.wallets[w.Key()]
	if !ok {
		return domain.WalletStateData{}, apperror.ErrModelNotFound("Wallet")
	}
	count, sum, err := s.aggregateLocked(stored.ID)
	if err != nil {
		return domain.WalletStateData{}, err
	}
	return domain.WalletStateData{
		UUID:              w.Key(),
		Balance:           sum,
		FrozenAmount:      stored.FrozenAmount,
		TransactionsCount: count,
		TransactionsSum:   sum,
		Checksum:          stored.Checksum,
		UpdatedAt:         stored.UpdatedAt.Unix(),
	}, nil
}

func (s *ledgerStore) SumWallets(_ context.Context, params ports.SumWalletsParams) (domain.WalletSumData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := domain.WalletSumData{Balance: "0", FrozenAmount: "0", AvailableBalance: "0"}
	for _, w := range s.wallets {
		if !selects(params, w) {
			continue
		}
		sum.Count++
		var err error
		if sum.Balance, err = s.math.Add(sum.Balance, w.Balance); err != nil {
			return domain.WalletSumData{}, err
		}
		if sum.FrozenAmount, err = s.math.Add(sum.FrozenAmount, w.FrozenAmount); err != nil {
			return domain.WalletSumData{}, err
		}
	}
	available, err := s.math.Sub(sum.Balance, sum.FrozenAmount)
	if err != nil {
		return domain.WalletSumData{}, err
	}
	sum.AvailableBalance = available
	return sum, nil
}

func selects(params ports.SumWalletsParams, w *domain.Wallet) bool {
	for _, id := range params.IDs {
		if w.ID == id {
			return true
		}
	}
	for _, id := range params.UUIDs {
		if w.Key() == id {
			return true
		}
	}
	for _, slug := range params.Slugs {
		if w.Slug == slug {
			return true
		}
	}
	return false
}

func (s *ledgerStore) Insert(_ context.Context, t *domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txSeq++
	t.ID = s.txSeq
	cp := *t
	s.transactions = append(s.transactions, &cp)
	return nil
}

func (s *ledgerStore) InsertMultiple(ctx context.Context, ts []*domain.Transaction) error {
	for _, t := range ts {
		if err := s.Insert(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

func (s *ledgerStore) aggregateLocked(walletID int64) (int64, string, error) {
	count := int64(0)
	sum := "0"
	for _, t := range s.transactions {
		if t.WalletID != walletID || t.DeletedAt != nil {
			continue
		}
		count++
		var err error
		if sum, err = s.math.Add(sum, t.Amount); err != nil {
			return 0, "", err
		}
	}
	return count, sum, nil
}

// transferStore records transfer rows alongside the ledger store.
type transferStore struct {
	store *ledgerStore
}

func (r *transferStore) Insert(_ context.Context, t *domain.Transfer) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.transferSeq++
	t.ID = r.store.transferSeq
	cp := *t
	r.store.transfers = append(r.store.transfers, &cp)
	return nil
}

func (r *transferStore) InsertMultiple(ctx context.Context, ts []*domain.Transfer) error {
	for _, t := range ts {
		if err := r.Insert(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// snapshotTransactor mimics the postgres transactor over the ledger store:
// writes made by fn are discarded when fn fails or asks for a rollback, and
// nested calls run inline inside the surrounding transaction.
type snapshotTransactor struct {
	store *ledgerStore
}

type txCtxKey struct{}

func (t *snapshotTransactor) Transaction(ctx context.Context, fn ports.TxFunc) (domain.Outcome, error) {
	if ctx.Value(txCtxKey{}) != nil {
		return fn(ctx)
	}

	snap := t.snapshot()
	ctx = context.WithValue(ctx, txCtxKey{}, struct{}{})

	outcome, err := fn(ctx)
	if err != nil {
		t.restore(snap)
		if apperror.IsAppError(err) {
			return domain.Outcome{}, err
		}
		return domain.Outcome{}, apperror.ErrTransactionFailed(err)
	}
	if outcome.Rollback {
		t.restore(snap)
	}
	return outcome, nil
}

type storeSnapshot struct {
	walletSeq, txSeq, transferSeq int64
	wallets                       map[string]*domain.Wallet
	transactions                  []*domain.Transaction
	transfers                     []*domain.Transfer
}

func (t *snapshotTransactor) snapshot() storeSnapshot {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	wallets := make(map[string]*domain.Wallet, len(t.store.wallets))
	for key, w := range t.store.wallets {
		cp := *w
		wallets[key] = &cp
	}
	return storeSnapshot{
		walletSeq:    t.store.walletSeq,
		txSeq:        t.store.txSeq,
		transferSeq:  t.store.transferSeq,
		wallets:      wallets,
		transactions: append([]*domain.Transaction(nil), t.store.transactions...),
		transfers:    append([]*domain.Transfer(nil), t.store.transfers...),
	}
}

func (t *snapshotTransactor) restore(s storeSnapshot) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.walletSeq = s.walletSeq
	t.store.txSeq = s.txSeq
	t.store.transferSeq = s.transferSeq
	t.store.wallets = s.wallets
	t.store.transactions = s.transactions
	t.store.transfers = s.transfers
}

// collectingPublisher records published events in order.
type collectingPublisher struct {
	mu     sync.Mutex
	events []any
}

func (p *collectingPublisher) Publish(_ context.Context, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *collectingPublisher) Events() []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]any(nil), p.events...)
}
