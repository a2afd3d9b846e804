package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"wallet-ledger-engine/internal/core/domain"
	"wallet-ledger-engine/internal/core/ports"
	"wallet-ledger-engine/pkg/apperror"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWalletService_CreateWalletDefaults(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	w, err := h.svc.CreateWallet(ctx, CreateWalletParams{HolderType: "user", HolderID: "42"})
	require.NoError(t, err)
	assert.Equal(t, "Default Wallet", w.Name)
	assert.Equal(t, "default", w.Slug)
	assert.Equal(t, int32(2), w.DecimalPlaces)
	assert.Equal(t, "0", w.Balance)
	assert.Equal(t, "0", w.FrozenAmount)
	assert.NotEmpty(t, w.Checksum)
	assert.NotZero(t, w.ID)

	events := h.publisher.all()
	require.Len(t, events, 1)
	created, ok := events[0].(domain.WalletCreatedEvent)
	require.True(t, ok)
	assert.Equal(t, domain.EventWalletCreated, created.Event)
	assert.Equal(t, w.Key(), created.WalletUUID)

	found, err := h.svc.GetWalletBySlug(ctx, "user", "42", "default")
	require.NoError(t, err)
	assert.Equal(t, w.UUID, found.UUID)
}

func TestWalletService_GetWalletNotFound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.GetWalletBySlug(ctx, "user", "404", "default")
	assert.True(t, apperror.HasCode(err, "LEDGER_004"))

	_, err = h.svc.GetWalletByID(ctx, 404)
	assert.True(t, apperror.HasCode(err, "LEDGER_004"))
}

func TestWalletService_GetWalletByID(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.createWallet(t, "42")

	found, err := h.svc.GetWalletByID(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, w.UUID, found.UUID)
}

func TestWalletService_DepositAccumulates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.createWallet(t, "42")

	txn, err := h.svc.Deposit(ctx, w, "100.00", map[string]any{"ref": "top-up"})
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionKindDeposit, txn.Kind)
	assert.Equal(t, "10000", txn.Amount)
	assert.NotEmpty(t, txn.Checksum)

	_, err = h.svc.Deposit(ctx, w, "100.00", nil)
	require.NoError(t, err)

	balance, err := h.svc.GetBalance(ctx, w)
	require.NoError(t, err)
	assert.Equal(t, "200.00", balance)
	count, err := h.svc.GetTransactionsCount(ctx, w)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestWalletService_DepositRejectsNonPositive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.createWallet(t, "42")

	_, err := h.svc.Deposit(ctx, w, "0", nil)
	assert.True(t, apperror.HasCode(err, "LEDGER_001"))
	_, err = h.svc.Deposit(ctx, w, "-5.00", nil)
	assert.True(t, apperror.HasCode(err, "LEDGER_001"))
	_, err = h.svc.Deposit(ctx, w, "banana", nil)
	assert.True(t, apperror.HasCode(err, "MATH_001"))
	assert.Equal(t, 0, h.store.transactionCount(w.ID))
}

func TestWalletService_WithdrawOnEmptyBalance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.createWallet(t, "42")

	_, err := h.svc.Withdraw(ctx, w, "1.00", nil)
	assert.True(t, apperror.HasCode(err, "LEDGER_002"))
}

func TestWalletService_WithdrawInsufficientFunds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.createWallet(t, "42")

	_, err := h.svc.Deposit(ctx, w, "100.00", nil)
	require.NoError(t, err)

	_, err = h.svc.Withdraw(ctx, w, "150.00", nil)
	assert.True(t, apperror.HasCode(err, "LEDGER_003"))

	// The failed withdraw left nothing behind.
	balance, err := h.svc.GetBalance(ctx, w)
	require.NoError(t, err)
	assert.Equal(t, "100.00", balance)
	assert.Equal(t, 1, h.store.transactionCount(w.ID))
}

func TestWalletService_WithdrawExactBalance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.createWallet(t, "42")

	_, err := h.svc.Deposit(ctx, w, "100.00", nil)
	require.NoError(t, err)

	txn, err := h.svc.Withdraw(ctx, w, "100.00", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionKindWithdraw, txn.Kind)
	assert.Equal(t, "-10000", txn.Amount)

	balance, err := h.svc.GetBalance(ctx, w)
	require.NoError(t, err)
	assert.Equal(t, "0.00", balance)
}

func TestWalletService_ForceWithdrawGoesNegative(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.createWallet(t, "42")

	_, err := h.svc.ForceWithdraw(ctx, w, "25.00", nil)
	require.NoError(t, err)

	balance, err := h.svc.GetBalance(ctx, w)
	require.NoError(t, err)
	assert.Equal(t, "-25.00", balance)
}

func TestWalletService_TransferMovesBothLegs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	from := h.createWallet(t, "1")
	to := h.createWallet(t, "2")

	_, err := h.svc.Deposit(ctx, from, "100.00", nil)
	require.NoError(t, err)

	transfer, err := h.svc.Transfer(ctx, from, to, "40.00", TransferParams{})
	require.NoError(t, err)
	assert.Equal(t, from.ID, transfer.FromWalletID)
	assert.Equal(t, to.ID, transfer.ToWalletID)
	assert.Equal(t, "4000", transfer.Amount)
	assert.Equal(t, "0", transfer.Fee)
	assert.NotEqual(t, transfer.WithdrawUUID, transfer.DepositUUID)

	fromBalance, err := h.svc.GetBalance(ctx, from)
	require.NoError(t, err)
	assert.Equal(t, "60.00", fromBalance)
	toBalance, err := h.svc.GetBalance(ctx, to)
	require.NoError(t, err)
	assert.Equal(t, "40.00", toBalance)
}

func TestWalletService_TransferWithFee(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	from := h.createWallet(t, "1")
	to := h.createWallet(t, "2")

	_, err := h.svc.Deposit(ctx, from, "100.00", nil)
	require.NoError(t, err)

	transfer, err := h.svc.Transfer(ctx, from, to, "40.00", TransferParams{Fee: "1.50"})
	require.NoError(t, err)
	assert.Equal(t, "150", transfer.Fee)

	// The source pays the fee on top of the transferred amount.
	fromBalance, err := h.svc.GetBalance(ctx, from)
	require.NoError(t, err)
	assert.Equal(t, "58.50", fromBalance)
	toBalance, err := h.svc.GetBalance(ctx, to)
	require.NoError(t, err)
	assert.Equal(t, "40.00", toBalance)
}

func TestWalletService_TransferInsufficientLeavesBothUntouched(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	from := h.createWallet(t, "1")
	to := h.createWallet(t, "2")

	_, err := h.svc.Deposit(ctx, from, "10.00", nil)
	require.NoError(t, err)

	_, err = h.svc.Transfer(ctx, from, to, "40.00", TransferParams{})
	assert.True(t, apperror.HasCode(err, "LEDGER_003"))

	fromBalance, err := h.svc.GetBalance(ctx, from)
	require.NoError(t, err)
	assert.Equal(t, "10.00", fromBalance)
	toBalance, err := h.svc.GetBalance(ctx, to)
	require.NoError(t, err)
	assert.Equal(t, "0.00", toBalance)
	assert.Equal(t, 1, h.store.transactionCount(from.ID))
	assert.Equal(t, 0, h.store.transactionCount(to.ID))
	assert.Empty(t, h.store.transfers)
}

func TestWalletService_FreezeShrinksAvailable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.createWallet(t, "42")

	_, err := h.svc.Deposit(ctx, w, "100.00", nil)
	require.NoError(t, err)

	require.NoError(t, h.svc.Freeze(ctx, w, "30.00", false))

	balance, err := h.svc.GetBalance(ctx, w)
	require.NoError(t, err)
	assert.Equal(t, "100.00", balance, "frozen funds stay on the balance")
	frozen, err := h.svc.GetFrozenAmount(ctx, w)
	require.NoError(t, err)
	assert.Equal(t, "30.00", frozen)
	available, err := h.svc.GetAvailableBalance(ctx, w)
	require.NoError(t, err)
	assert.Equal(t, "70.00", available)

	// Withdrawing more than the available part fails.
	_, err = h.svc.Withdraw(ctx, w, "80.00", nil)
	assert.True(t, apperror.HasCode(err, "LEDGER_003"))

	// Withdrawing within the available part works.
	_, err = h.svc.Withdraw(ctx, w, "70.00", nil)
	require.NoError(t, err)
}

func TestWalletService_FreezeWholeBalance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.createWallet(t, "42")

	_, err := h.svc.Deposit(ctx, w, "55.00", nil)
	require.NoError(t, err)

	require.NoError(t, h.svc.Freeze(ctx, w, "", false))

	available, err := h.svc.GetAvailableBalance(ctx, w)
	require.NoError(t, err)
	assert.Equal(t, "0.00", available)
	frozen, err := h.svc.GetFrozenAmount(ctx, w)
	require.NoError(t, err)
	assert.Equal(t, "55.00", frozen)
}

func TestWalletService_FreezeMoreThanAvailable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.createWallet(t, "42")

	_, err := h.svc.Deposit(ctx, w, "50.00", nil)
	require.NoError(t, err)
	require.NoError(t, h.svc.Freeze(ctx, w, "40.00", false))

	err = h.svc.Freeze(ctx, w, "20.00", false)
	assert.True(t, apperror.HasCode(err, "LEDGER_003"))
}

func TestWalletService_FreezeWithOverdraft(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.createWallet(t, "42")

	_, err := h.svc.Deposit(ctx, w, "10.00", nil)
	require.NoError(t, err)

	// The override reserves beyond the available balance.
	require.NoError(t, h.svc.Freeze(ctx, w, "50.00", true))

	frozen, err := h.svc.GetFrozenAmount(ctx, w)
	require.NoError(t, err)
	assert.Equal(t, "50.00", frozen)
	available, err := h.svc.GetAvailableBalance(ctx, w)
	require.NoError(t, err)
	assert.Equal(t, "-40.00", available)

	// Without the override the same reservation is refused.
	err = h.svc.Freeze(ctx, w, "50.00", false)
	assert.True(t, apperror.HasCode(err, "LEDGER_003"))
}

func TestWalletService_UnFreeze(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.createWallet(t, "42")

	_, err := h.svc.Deposit(ctx, w, "100.00", nil)
	require.NoError(t, err)
	require.NoError(t, h.svc.Freeze(ctx, w, "60.00", false))

	require.NoError(t, h.svc.UnFreeze(ctx, w, "20.00"))
	frozen, err := h.svc.GetFrozenAmount(ctx, w)
	require.NoError(t, err)
	assert.Equal(t, "40.00", frozen)

	// Cannot unfreeze more than is frozen.
	err = h.svc.UnFreeze(ctx, w, "50.00")
	assert.True(t, apperror.HasCode(err, "LEDGER_003"))

	// Empty amount unfreezes the rest.
	require.NoError(t, h.svc.UnFreeze(ctx, w, ""))
	available, err := h.svc.GetAvailableBalance(ctx, w)
	require.NoError(t, err)
	assert.Equal(t, "100.00", available)
}

func TestWalletService_ConcurrentDeposits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.createWallet(t, "42")

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.Deposit(ctx, w, "1.00", nil)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	balance, err := h.svc.GetBalance(ctx, w)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%d.00", n), balance)
	count, err := h.svc.GetTransactionsCount(ctx, w)
	require.NoError(t, err)
	assert.Equal(t, int64(n), count)
}

func TestWalletService_SumWallets(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.createWallet(t, "1")
	b := h.createWallet(t, "2")

	_, err := h.svc.Deposit(ctx, a, "100.00", nil)
	require.NoError(t, err)
	_, err = h.svc.Deposit(ctx, b, "5.00", nil)
	require.NoError(t, err)
	require.NoError(t, h.svc.Freeze(ctx, b, "1.00", false))

	sum, err := h.svc.SumWallets(ctx, ports.SumWalletsParams{UUIDs: []string{a.Key(), b.Key()}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), sum.Count)
	assert.Equal(t, "10500", sum.Balance)
	assert.Equal(t, "100", sum.FrozenAmount)
	assert.Equal(t, "10400", sum.AvailableBalance)
}

func TestWalletService_AtomicComposesOperations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.createWallet(t, "1")
	b := h.createWallet(t, "2")

	outcome, err := h.svc.Atomic(ctx, []*domain.Wallet{a, b}, func(ctx context.Context) (domain.Outcome, error) {
		if _, err := h.svc.Deposit(ctx, a, "10.00", nil); err != nil {
			return domain.Outcome{}, err
		}
		if _, err := h.svc.Deposit(ctx, b, "20.00", nil); err != nil {
			return domain.Outcome{}, err
		}
		if _, err := h.svc.Transfer(ctx, a, b, "5.00", TransferParams{}); err != nil {
			return domain.Outcome{}, err
		}
		return domain.Commit(nil), nil
	})
	require.NoError(t, err)
	assert.False(t, outcome.Rollback)

	aBalance, err := h.svc.GetBalance(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, "5.00", aBalance)
	bBalance, err := h.svc.GetBalance(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, "25.00", bBalance)
}

func TestWalletService_ConsistencySurvivesOperations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.createWallet(t, "42")

	_, err := h.svc.Deposit(ctx, w, "100.00", nil)
	require.NoError(t, err)
	require.NoError(t, h.svc.Freeze(ctx, w, "10.00", false))
	_, err = h.svc.Withdraw(ctx, w, "50.00", nil)
	require.NoError(t, err)

	ok, err := h.svc.CheckWalletConsistency(ctx, w, true)
	require.NoError(t, err)
	assert.True(t, ok)
}
