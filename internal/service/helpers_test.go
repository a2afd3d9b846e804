package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"wallet-ledger-engine/internal/core/domain"
	"wallet-ledger-engine/internal/core/ports"
	"wallet-ledger-engine/pkg/apperror"
	"wallet-ledger-engine/pkg/decmath"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	redisadapter "wallet-ledger-engine/internal/adapter/storage/redis"
)

// memStore is an in-memory stand-in for the postgres repositories. It keeps
// the same invariant as the real schema: the authoritative state combines
// wallet rows with transaction aggregates.
type memStore struct {
	mu            sync.Mutex
	math          *decmath.Engine
	walletSeq     int64
	txSeq         int64
	transferSeq   int64
	wallets       map[string]*domain.Wallet
	transactions  []*domain.Transaction
	transfers     []*domain.Transfer
	multiGetCalls int
	rebuildCalls  int
}

func newMemStore() *memStore {
	return &memStore{
		math:    decmath.New(),
		wallets: make(map[string]*domain.Wallet),
	}
}

func (m *memStore) Create(_ context.Context, w *domain.Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.walletSeq++
	w.ID = m.walletSeq
	cp := *w
	m.wallets[w.Key()] = &cp
	return nil
}

func (m *memStore) FindByID(_ context.Context, id int64) (*domain.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.wallets {
		if w.ID == id {
			cp := *w
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) FindByUUID(_ context.Context, id uuid.UUID) (*domain.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[id.String()]
	if !ok {
		return nil, nil
	}
	cp := *w
	return &cp, nil
}

func (m *memStore) FindBySlug(_ context.Context, holderType, holderID, slug string) (*domain.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.wallets {
		if w.HolderType == holderType && w.HolderID == holderID && w.Slug == slug {
			cp := *w
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) Update(_ context.Context, w *domain.Wallet, fields map[string]any) (*domain.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.wallets[w.Key()]
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

func (m *memStore) MultiGet(_ context.Context, uuids []string) (map[string]domain.WalletStateData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.multiGetCalls++

	result := make(map[string]domain.WalletStateData, len(uuids))
	for _, id := range uuids {
		w, ok := m.wallets[id]
		if !ok {
			continue
		}
		count, sum, err := m.aggregateLocked(w.ID)
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

func (m *memStore) GetWalletStateData(_ context.Context, w *domain.Wallet) (domain.WalletStateData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rebuildCalls++
	stored, ok := m.wallets[w.Key()]
	if !ok {
		return domain.WalletStateData{}, apperror.ErrModelNotFound("Wallet")
	}
	count, sum, err := m.aggregateLocked(stored.ID)
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

func (m *memStore) SumWallets(_ context.Context, params ports.SumWalletsParams) (domain.WalletSumData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	selected := make([]*domain.Wallet, 0)
	for _, w := range m.wallets {
		for _, id := range params.UUIDs {
			if w.Key() == id {
				selected = append(selected, w)
			}
		}
		for _, slug := range params.Slugs {
			if w.Slug == slug {
				selected = append(selected, w)
			}
		}
		for _, id := range params.IDs {
			if w.ID == id {
				selected = append(selected, w)
			}
		}
	}

	sum := domain.WalletSumData{Balance: "0", FrozenAmount: "0", AvailableBalance: "0"}
	for _, w := range selected {
		sum.Count++
		var err error
		if sum.Balance, err = m.math.Add(sum.Balance, w.Balance); err != nil {
			return domain.WalletSumData{}, err
		}
		if sum.FrozenAmount, err = m.math.Add(sum.FrozenAmount, w.FrozenAmount); err != nil {
			return domain.WalletSumData{}, err
		}
	}
	available, err := m.math.Sub(sum.Balance, sum.FrozenAmount)
	if err != nil {
		return domain.WalletSumData{}, err
	}
	sum.AvailableBalance = available
	return sum, nil
}

func (m *memStore) Insert(_ context.Context, t *domain.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txSeq++
	t.ID = m.txSeq
	cp := *t
	m.transactions = append(m.transactions, &cp)
	return nil
}

func (m *memStore) InsertMultiple(ctx context.Context, ts []*domain.Transaction) error {
	for _, t := range ts {
		if err := m.Insert(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

func (m *memStore) aggregateLocked(walletID int64) (int64, string, error) {
	count := int64(0)
	sum := "0"
	for _, t := range m.transactions {
		if t.WalletID != walletID || t.DeletedAt != nil {
			continue
		}
		count++
		var err error
		if sum, err = m.math.Add(sum, t.Amount); err != nil {
			return 0, "", err
		}
	}
	return count, sum, nil
}

func (m *memStore) transactionCount(walletID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.transactions {
		if t.WalletID == walletID {
			n++
		}
	}
	return n
}

func (m *memStore) setWalletRow(key string, balance, checksum string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.wallets[key]
	w.Balance = balance
	w.Checksum = checksum
}

// memTransferRepo records transfers.
type memTransferRepo struct {
	store *memStore
}

func (r *memTransferRepo) Insert(_ context.Context, t *domain.Transfer) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.transferSeq++
	t.ID = r.store.transferSeq
	cp := *t
	r.store.transfers = append(r.store.transfers, &cp)
	return nil
}

func (r *memTransferRepo) InsertMultiple(ctx context.Context, ts []*domain.Transfer) error {
	for _, t := range ts {
		if err := r.Insert(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// memTransactor mimics the postgres transactor over the memStore: it
// snapshots the store before fn and restores it when fn fails or asks for a
// rollback, and nested calls run inline.
type memTransactor struct {
	store *memStore
}

type memTxCtxKey struct{}

func (t *memTransactor) Transaction(ctx context.Context, fn ports.TxFunc) (domain.Outcome, error) {
	if ctx.Value(memTxCtxKey{}) != nil {
		return fn(ctx)
	}

	snapshot := t.snapshot()
	ctx = context.WithValue(ctx, memTxCtxKey{}, struct{}{})

	outcome, err := fn(ctx)
	if err != nil {
		t.restore(snapshot)
		if apperror.IsAppError(err) {
			return domain.Outcome{}, err
		}
		return domain.Outcome{}, apperror.ErrTransactionFailed(err)
	}
	if outcome.Rollback {
		t.restore(snapshot)
	}
	return outcome, nil
}

type memSnapshot struct {
	walletSeq, txSeq, transferSeq int64
	wallets                       map[string]*domain.Wallet
	transactions                  []*domain.Transaction
	transfers                     []*domain.Transfer
}

func (t *memTransactor) snapshot() memSnapshot {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	wallets := make(map[string]*domain.Wallet, len(t.store.wallets))
	for key, w := range t.store.wallets {
		cp := *w
		wallets[key] = &cp
	}
	return memSnapshot{
		walletSeq:    t.store.walletSeq,
		txSeq:        t.store.txSeq,
		transferSeq:  t.store.transferSeq,
		wallets:      wallets,
		transactions: append([]*domain.Transaction(nil), t.store.transactions...),
		transfers:    append([]*domain.Transfer(nil), t.store.transfers...),
	}
}

func (t *memTransactor) restore(s memSnapshot) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.walletSeq = s.walletSeq
	t.store.txSeq = s.txSeq
	t.store.transferSeq = s.transferSeq
	t.store.wallets = s.wallets
	t.store.transactions = s.transactions
	t.store.transfers = s.transfers
}

// recordingPublisher collects published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []any
}

func (p *recordingPublisher) Publish(_ context.Context, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) all() []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]any(nil), p.events...)
}

const testChecksumSecret = "test-secret"

// harness wires the full service stack over miniredis and the in-memory
// store.
type harness struct {
	store     *memStore
	cache     *redisadapter.StateCache
	locks     *LockService
	book      *BookkeeperService
	check     *ConsistencyService
	regs      *RegulatorFactory
	atomic    *AtomicService
	svc       *WalletService
	publisher *recordingPublisher
	redis     *miniredis.Miniredis
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := zerolog.Nop()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := newMemStore()
	math := decmath.New()
	cache := redisadapter.NewStateCache(client, time.Hour)
	locks := NewLockService(redisadapter.NewLockStore(client), time.Minute, log)
	book := NewBookkeeperService(cache, locks, store, time.Second, log)
	check := NewConsistencyService(math, store, testChecksumSecret, true, log)
	publisher := &recordingPublisher{}
	regs := NewRegulatorFactory(book, store, check, publisher, math, log)
	atomic := NewAtomicService(locks, &memTransactor{store: store}, regs, time.Second, log)
	svc := NewWalletService(store, store, &memTransferRepo{store: store}, atomic, book, check, publisher, math,
		WalletDefaults{Name: "Default Wallet", Slug: "default", DecimalPlaces: 2}, log)

	return &harness{
		store:     store,
		cache:     cache,
		locks:     locks,
		book:      book,
		check:     check,
		regs:      regs,
		atomic:    atomic,
		svc:       svc,
		publisher: publisher,
		redis:     mr,
	}
}

// insertTransaction books one raw-amount row directly, the way a ledger
// operation would before driving the regulator.
func (h *harness) insertTransaction(t *testing.T, w *domain.Wallet, rawAmount string) {
	t.Helper()
	kind := domain.TransactionKindDeposit
	if strings.HasPrefix(rawAmount, "-") {
		kind = domain.TransactionKindWithdraw
	}
	now := time.Now().UTC()
	require.NoError(t, h.store.Insert(context.Background(), &domain.Transaction{
		UUID:      uuid.New(),
		WalletID:  w.ID,
		Kind:      kind,
		Amount:    rawAmount,
		CreatedAt: now,
		UpdatedAt: now,
	}))
}

func (h *harness) createWallet(t *testing.T, holderID string) *domain.Wallet {
	t.Helper()
	w, err := h.svc.CreateWallet(context.Background(), CreateWalletParams{
		HolderType: "user",
		HolderID:   holderID,
	})
	require.NoError(t, err)
	return w
}
