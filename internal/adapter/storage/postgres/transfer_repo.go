package postgres

import (
	"context"
	"fmt"

	"wallet-ledger-engine/internal/core/domain"
)

// TransferRepo implements ports.TransferRepository.
type TransferRepo struct {
	pool Pool
}

// NewTransferRepo creates a new TransferRepo.
func NewTransferRepo(pool Pool) *TransferRepo {
	return &TransferRepo{pool: pool}
}

const insertTransferQuery = `INSERT INTO transfers
	(uuid, from_wallet_id, to_wallet_id, withdraw_uuid, deposit_uuid, amount, fee, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8, $9)
	RETURNING id`

// Insert writes a single transfer row and fills in the generated id.
func (r *TransferRepo) Insert(ctx context.Context, t *domain.Transfer) error {
	err := querier(ctx, r.pool).QueryRow(ctx, insertTransferQuery,
		t.UUID, t.FromWalletID, t.ToWalletID, t.WithdrawUUID, t.DepositUUID,
		t.Amount, t.Fee, t.CreatedAt, t.UpdatedAt,
	).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("insert transfer: %w", err)
	}
	return nil
}

// InsertMultiple writes transfer rows on the caller's transaction.
func (r *TransferRepo) InsertMultiple(ctx context.Context, ts []*domain.Transfer) error {
	for _, t := range ts {
		if err := r.Insert(ctx, t); err != nil {
			return err
		}
	}
	return nil
}
