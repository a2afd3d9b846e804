package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionKind represents the direction of a balance-affecting event.
type TransactionKind string

const (
	TransactionKindDeposit  TransactionKind = "deposit"
	TransactionKindWithdraw TransactionKind = "withdraw"
)

// Transaction is an immutable record of a balance-affecting event. Amount is
// a signed raw fixed-point integer: positive for deposits, negative for
// withdrawals. The signed sum of all non-deleted transactions for a wallet
// equals that wallet's persisted raw balance.
type Transaction struct {
	ID        int64           `json:"id"`
	UUID      uuid.UUID       `json:"uuid"`
	WalletID  int64           `json:"wallet_id"`
	Kind      TransactionKind `json:"kind"`
	Amount    string          `json:"amount"`
	Meta      map[string]any  `json:"meta,omitempty"`
	Checksum  string          `json:"-"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	DeletedAt *time.Time      `json:"deleted_at,omitempty"`
}
