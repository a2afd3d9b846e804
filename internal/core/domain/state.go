package domain

// WalletStateData is the canonical projection of a wallet's last-committed
// state. It is the unit of cache storage and cross-process synchronization
// and is always replaced wholesale, never partially updated.
type WalletStateData struct {
	UUID              string `json:"uuid"`
	Balance           string `json:"balance"`
	FrozenAmount      string `json:"frozen_amount"`
	TransactionsCount int64  `json:"transactions_count"`
	TransactionsSum   string `json:"transactions_sum"`
	Checksum          string `json:"checksum,omitempty"`
	UpdatedAt         int64  `json:"updated_at"`
}

// WalletSumData aggregates balances across a set of wallets.
type WalletSumData struct {
	Count            int64  `json:"count"`
	Balance          string `json:"balance"`
	FrozenAmount     string `json:"frozen_amount"`
	AvailableBalance string `json:"available_balance"`
}
