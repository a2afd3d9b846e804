package domain

import (
	"time"

	"github.com/google/uuid"
)

// Transfer links the withdraw and deposit legs of a wallet-to-wallet move.
// Both legs commit atomically inside one block; no observer ever sees only
// one side applied.
type Transfer struct {
	ID           int64     `json:"id"`
	UUID         uuid.UUID `json:"uuid"`
	FromWalletID int64     `json:"from_wallet_id"`
	ToWalletID   int64     `json:"to_wallet_id"`
	WithdrawUUID uuid.UUID `json:"withdraw_uuid"`
	DepositUUID  uuid.UUID `json:"deposit_uuid"`
	Amount       string    `json:"amount"`
	Fee          string    `json:"fee"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
