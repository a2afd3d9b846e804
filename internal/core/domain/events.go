package domain

import "time"

// Event names carried on the wire.
const (
	EventWalletCreated  = "wallet.created"
	EventBalanceUpdated = "wallet.balance_updated"
)

// WalletCreatedEvent is published after a wallet row is persisted.
type WalletCreatedEvent struct {
	Event      string    `json:"event"`
	WalletUUID string    `json:"wallet_uuid"`
	HolderType string    `json:"holder_type"`
	HolderID   string    `json:"holder_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// BalanceUpdatedEvent is published after an atomic block physically commits,
// one per wallet whose state changed. Never published before commit.
type BalanceUpdatedEvent struct {
	Event             string `json:"event"`
	WalletUUID        string `json:"wallet_uuid"`
	Balance           string `json:"balance"`
	FrozenAmount      string `json:"frozen_amount"`
	TransactionsCount int64  `json:"transactions_count"`
	UpdatedAt         int64  `json:"updated_at"`
}
