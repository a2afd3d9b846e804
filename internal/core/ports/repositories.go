package ports

import (
	"context"

	"wallet-ledger-engine/internal/core/domain"

	"github.com/google/uuid"
)

// WalletRepository defines persistence operations for wallets. The persisted
// store is the sole source of truth; cache tiers are derived from it.
type WalletRepository interface {
	Create(ctx context.Context, w *domain.Wallet) error
	FindByID(ctx context.Context, id int64) (*domain.Wallet, error)
	FindByUUID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error)
	FindBySlug(ctx context.Context, holderType, holderID, slug string) (*domain.Wallet, error)
	// Update writes the given columns and returns the refreshed wallet.
	Update(ctx context.Context, w *domain.Wallet, fields map[string]any) (*domain.Wallet, error)
	// MultiGet reads the authoritative per-wallet state straight from wallet rows.
	MultiGet(ctx context.Context, uuids []string) (map[string]domain.WalletStateData, error)
	// GetWalletStateData rebuilds the state projection from transaction history.
	GetWalletStateData(ctx context.Context, w *domain.Wallet) (domain.WalletStateData, error)
	SumWallets(ctx context.Context, params SumWalletsParams) (domain.WalletSumData, error)
}

// SumWalletsParams selects wallets for aggregation. Exactly one selector
// should be set.
type SumWalletsParams struct {
	IDs   []int64
	UUIDs []string
	Slugs []string
}

// TransactionRepository defines persistence operations for transactions.
type TransactionRepository interface {
	Insert(ctx context.Context, t *domain.Transaction) error
	InsertMultiple(ctx context.Context, ts []*domain.Transaction) error
}

// TransferRepository defines persistence operations for transfers.
type TransferRepository interface {
	Insert(ctx context.Context, t *domain.Transfer) error
	InsertMultiple(ctx context.Context, ts []*domain.Transfer) error
}

// TxFunc is the body of a data-transaction.
type TxFunc func(ctx context.Context) (domain.Outcome, error)

// Transactor provides reentrant data-transaction management. A nested call
// executes inline inside the surrounding transaction. A rollback outcome
// unwinds the transaction without an error; unexpected failures are wrapped
// into a TRANSACTION_FAILED error, pre-existing domain errors pass through.
type Transactor interface {
	Transaction(ctx context.Context, fn TxFunc) (domain.Outcome, error)
}
