package postgres

import (
	"context"

	"wallet-ledger-engine/internal/core/domain"
	"wallet-ledger-engine/internal/core/ports"
	"wallet-ledger-engine/pkg/apperror"
)

// Transactor implements ports.Transactor on a pgx pool. Transactions are
// reentrant: a nested call detects the transaction carried in ctx and runs
// its body inline instead of opening a second one.
type Transactor struct {
	pool Pool
}

// NewTransactor creates a new Transactor wrapping the connection pool.
func NewTransactor(pool Pool) *Transactor {
	return &Transactor{pool: pool}
}

// Transaction runs fn inside a data-transaction. A rollback outcome unwinds
// the transaction and is returned without an error. Unexpected failures are
// wrapped into a TRANSACTION_FAILED error; domain errors pass through.
func (t *Transactor) Transaction(ctx context.Context, fn ports.TxFunc) (domain.Outcome, error) {
	if _, ok := txFromContext(ctx); ok {
		return fn(ctx)
	}

	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return domain.Outcome{}, apperror.ErrTransactionFailed(err)
	}
	// Covers the error and panic paths; after a commit this is a no-op.
	defer func() { _ = tx.Rollback(ctx) }()

	outcome, err := fn(withTx(ctx, tx))
	if err != nil {
		if apperror.IsAppError(err) {
			return domain.Outcome{}, err
		}
		return domain.Outcome{}, apperror.ErrTransactionFailed(err)
	}

	if outcome.Rollback {
		if err := tx.Rollback(ctx); err != nil {
			return domain.Outcome{}, apperror.ErrTransactionFailed(err)
		}
		return outcome, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Outcome{}, apperror.ErrTransactionFailed(err)
	}
	return outcome, nil
}
