package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"wallet-ledger-engine/internal/core/domain"
)

// TransactionRepo implements ports.TransactionRepository. Transaction rows
// are immutable once written; soft deletion is the only permitted mutation
// and soft-deleted rows stay behind for audit.
type TransactionRepo struct {
	pool Pool
}

// NewTransactionRepo creates a new TransactionRepo.
func NewTransactionRepo(pool Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

const insertTransactionQuery = `INSERT INTO transactions
	(uuid, wallet_id, kind, amount, meta, checksum, created_at, updated_at)
	VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8)
	RETURNING id`

// Insert writes a single transaction row and fills in the generated id.
func (r *TransactionRepo) Insert(ctx context.Context, t *domain.Transaction) error {
	meta, err := json.Marshal(t.Meta)
	if err != nil {
		return fmt.Errorf("encode transaction meta: %w", err)
	}

	err = querier(ctx, r.pool).QueryRow(ctx, insertTransactionQuery,
		t.UUID, t.WalletID, t.Kind, t.Amount, meta, t.Checksum, t.CreatedAt, t.UpdatedAt,
	).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// InsertMultiple writes transaction rows one by one on the caller's
// transaction, so either all rows land or the surrounding rollback removes
// every one of them.
func (r *TransactionRepo) InsertMultiple(ctx context.Context, ts []*domain.Transaction) error {
	for _, t := range ts {
		if err := r.Insert(ctx, t); err != nil {
			return err
		}
	}
	return nil
}
