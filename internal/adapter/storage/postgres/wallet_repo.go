package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"wallet-ledger-engine/internal/core/domain"
	"wallet-ledger-engine/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// WalletRepo implements ports.WalletRepository.
type WalletRepo struct {
	pool Pool
}

// NewWalletRepo creates a new WalletRepo.
func NewWalletRepo(pool Pool) *WalletRepo {
	return &WalletRepo{pool: pool}
}

const walletColumns = `id, uuid, holder_type, holder_id, name, slug, description, meta,
	balance::text, frozen_amount::text, decimal_places, checksum, created_at, updated_at, deleted_at`

func scanWallet(row pgx.Row) (*domain.Wallet, error) {
	w := &domain.Wallet{}
	var meta []byte
	err := row.Scan(
		&w.ID, &w.UUID, &w.HolderType, &w.HolderID, &w.Name, &w.Slug, &w.Description, &meta,
		&w.Balance, &w.FrozenAmount, &w.DecimalPlaces, &w.Checksum, &w.CreatedAt, &w.UpdatedAt, &w.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &w.Meta); err != nil {
			return nil, fmt.Errorf("decode wallet meta: %w", err)
		}
	}
	return w, nil
}

// Create inserts a new wallet row and fills in the generated id.
func (r *WalletRepo) Create(ctx context.Context, w *domain.Wallet) error {
	meta, err := json.Marshal(w.Meta)
	if err != nil {
		return fmt.Errorf("encode wallet meta: %w", err)
	}

	query := `INSERT INTO wallets
		(uuid, holder_type, holder_id, name, slug, description, meta, balance, frozen_amount, decimal_places, checksum, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9::numeric, $10, $11, $12, $13)
		RETURNING id`

	err = querier(ctx, r.pool).QueryRow(ctx, query,
		w.UUID, w.HolderType, w.HolderID, w.Name, w.Slug, w.Description, meta,
		w.Balance, w.FrozenAmount, w.DecimalPlaces, w.Checksum, w.CreatedAt, w.UpdatedAt,
	).Scan(&w.ID)
	if err != nil {
		return fmt.Errorf("insert wallet: %w", err)
	}
	return nil
}

// FindByID fetches a wallet by its internal id. Returns nil, nil when absent.
func (r *WalletRepo) FindByID(ctx context.Context, id int64) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1 AND deleted_at IS NULL`
	w, err := scanWallet(querier(ctx, r.pool).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get wallet by id: %w", err)
	}
	return w, nil
}

// FindByUUID fetches a wallet by its external key. Returns nil, nil when absent.
func (r *WalletRepo) FindByUUID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE uuid = $1 AND deleted_at IS NULL`
	w, err := scanWallet(querier(ctx, r.pool).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get wallet by uuid: %w", err)
	}
	return w, nil
}

// FindBySlug fetches a wallet by holder and slug. Returns nil, nil when absent.
func (r *WalletRepo) FindBySlug(ctx context.Context, holderType, holderID, slug string) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets
		WHERE holder_type = $1 AND holder_id = $2 AND slug = $3 AND deleted_at IS NULL`
	w, err := scanWallet(querier(ctx, r.pool).QueryRow(ctx, query, holderType, holderID, slug))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get wallet by slug: %w", err)
	}
	return w, nil
}

// Update writes the given columns and returns the refreshed wallet. Column
// names are ordered so the generated SQL is deterministic.
func (r *WalletRepo) Update(ctx context.Context, w *domain.Wallet, fields map[string]any) (*domain.Wallet, error) {
	if len(fields) == 0 {
		return w, nil
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	query := `UPDATE wallets SET `
	args := make([]any, 0, len(fields)+1)
	for i, name := range names {
		if i > 0 {
			query += ", "
		}
		switch name {
		case "balance", "frozen_amount":
			query += fmt.Sprintf("%s = $%d::numeric", name, i+1)
		default:
			query += fmt.Sprintf("%s = $%d", name, i+1)
		}
		args = append(args, fields[name])
	}
	query += fmt.Sprintf(" WHERE id = $%d RETURNING ", len(args)+1) + walletColumns
	args = append(args, w.ID)

	updated, err := scanWallet(querier(ctx, r.pool).QueryRow(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("update wallet: %w", err)
	}
	return updated, nil
}

// MultiGet reads the authoritative state for each uuid straight from the
// persisted store: balance, frozen amount and checksum from the wallet row,
// transaction count and signed sum from non-deleted transaction rows.
func (r *WalletRepo) MultiGet(ctx context.Context, uuids []string) (map[string]domain.WalletStateData, error) {
	if len(uuids) == 0 {
		return map[string]domain.WalletStateData{}, nil
	}

	query := `SELECT w.uuid, w.balance::text, w.frozen_amount::text, w.checksum,
			COUNT(t.id), COALESCE(SUM(t.amount), 0)::text,
			EXTRACT(EPOCH FROM w.updated_at)::bigint
		FROM wallets w
		LEFT JOIN transactions t ON t.wallet_id = w.id AND t.deleted_at IS NULL
		WHERE w.uuid = ANY($1::uuid[]) AND w.deleted_at IS NULL
		GROUP BY w.id`

	rows, err := querier(ctx, r.pool).Query(ctx, query, uuids)
	if err != nil {
		return nil, fmt.Errorf("multi get wallet state: %w", err)
	}
	defer rows.Close()

	result := make(map[string]domain.WalletStateData, len(uuids))
	for rows.Next() {
		var (
			id   uuid.UUID
			data domain.WalletStateData
		)
		if err := rows.Scan(&id, &data.Balance, &data.FrozenAmount, &data.Checksum,
			&data.TransactionsCount, &data.TransactionsSum, &data.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan wallet state: %w", err)
		}
		data.UUID = id.String()
		result[data.UUID] = data
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("multi get wallet state: %w", err)
	}
	return result, nil
}

// GetWalletStateData rebuilds the state projection from the persisted
// transaction history: the balance is the signed sum of all non-deleted
// transactions, not the wallet row's balance column.
func (r *WalletRepo) GetWalletStateData(ctx context.Context, w *domain.Wallet) (domain.WalletStateData, error) {
	query := `SELECT COALESCE(SUM(t.amount), 0)::text, COUNT(t.id),
			w.frozen_amount::text, w.checksum, EXTRACT(EPOCH FROM w.updated_at)::bigint
		FROM wallets w
		LEFT JOIN transactions t ON t.wallet_id = w.id AND t.deleted_at IS NULL
		WHERE w.id = $1
		GROUP BY w.id`

	data := domain.WalletStateData{UUID: w.Key()}
	err := querier(ctx, r.pool).QueryRow(ctx, query, w.ID).Scan(
		&data.Balance, &data.TransactionsCount, &data.FrozenAmount, &data.Checksum, &data.UpdatedAt,
	)
	if err != nil {
		return domain.WalletStateData{}, fmt.Errorf("rebuild wallet state: %w", err)
	}
	data.TransactionsSum = data.Balance
	return data, nil
}

// SumWallets aggregates balances over the selected wallets.
func (r *WalletRepo) SumWallets(ctx context.Context, params ports.SumWalletsParams) (domain.WalletSumData, error) {
	query := `SELECT COUNT(*), COALESCE(SUM(balance), 0)::text,
			COALESCE(SUM(frozen_amount), 0)::text,
			COALESCE(SUM(balance - frozen_amount), 0)::text
		FROM wallets WHERE deleted_at IS NULL AND `

	var arg any
	switch {
	case len(params.IDs) > 0:
		query += `id = ANY($1::bigint[])`
		arg = params.IDs
	case len(params.UUIDs) > 0:
		query += `uuid = ANY($1::uuid[])`
		arg = params.UUIDs
	case len(params.Slugs) > 0:
		query += `slug = ANY($1::text[])`
		arg = params.Slugs
	default:
		return domain.WalletSumData{}, fmt.Errorf("sum wallets: no selector given")
	}

	var sum domain.WalletSumData
	err := querier(ctx, r.pool).QueryRow(ctx, query, arg).Scan(
		&sum.Count, &sum.Balance, &sum.FrozenAmount, &sum.AvailableBalance,
	)
	if err != nil {
		return domain.WalletSumData{}, fmt.Errorf("sum wallets: %w", err)
	}
	return sum, nil
}
