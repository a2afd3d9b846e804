package service

import (
	"context"
	"strconv"
	"time"

	"wallet-ledger-engine/internal/core/domain"
	"wallet-ledger-engine/internal/core/ports"
	"wallet-ledger-engine/pkg/apperror"
	"wallet-ledger-engine/pkg/decmath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// WalletDefaults configures the wallet fields applied when a caller omits
// them.
type WalletDefaults struct {
	Name          string
	Slug          string
	DecimalPlaces int32
}

// WalletService is the public surface of the ledger engine. Every
// balance-affecting operation runs inside an atomic block; read operations go
// through the bookkeeper.
type WalletService struct {
	walletRepo   ports.WalletRepository
	txRepo       ports.TransactionRepository
	transferRepo ports.TransferRepository
	atomic       *AtomicService
	bookkeeper   ports.Bookkeeper
	consistency  ports.ConsistencyChecker
	publisher    ports.EventPublisher
	math         *decmath.Engine
	defaults     WalletDefaults
	log          zerolog.Logger
}

// NewWalletService creates a new WalletService.
func NewWalletService(
	walletRepo ports.WalletRepository,
	txRepo ports.TransactionRepository,
	transferRepo ports.TransferRepository,
	atomic *AtomicService,
	bookkeeper ports.Bookkeeper,
	consistency ports.ConsistencyChecker,
	publisher ports.EventPublisher,
	math *decmath.Engine,
	defaults WalletDefaults,
	log zerolog.Logger,
) *WalletService {
	return &WalletService{
		walletRepo:   walletRepo,
		txRepo:       txRepo,
		transferRepo: transferRepo,
		atomic:       atomic,
		bookkeeper:   bookkeeper,
		consistency:  consistency,
		publisher:    publisher,
		math:         math,
		defaults:     defaults,
		log:          log,
	}
}

// CreateWalletParams describes a wallet to create. HolderType and HolderID
// are required; the rest falls back to the configured defaults.
type CreateWalletParams struct {
	HolderType    string
	HolderID      string
	Name          string
	Slug          string
	Description   string
	Meta          map[string]any
	DecimalPlaces int32
}

// CreateWallet persists a new wallet with a zero balance and publishes a
// wallet.created event.
func (s *WalletService) CreateWallet(ctx context.Context, params CreateWalletParams) (*domain.Wallet, error) {
	if params.Name == "" {
		params.Name = s.defaults.Name
	}
	if params.Slug == "" {
		params.Slug = s.defaults.Slug
	}
	if params.DecimalPlaces == 0 {
		params.DecimalPlaces = s.defaults.DecimalPlaces
	}

	id := uuid.New()
	checksum, err := s.consistency.CreateWalletChecksum(id.String(), "0", "0", 0, "0")
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	w := &domain.Wallet{
		UUID:          id,
		HolderType:    params.HolderType,
		HolderID:      params.HolderID,
		Name:          params.Name,
		Slug:          params.Slug,
		Description:   params.Description,
		Meta:          params.Meta,
		Balance:       "0",
		FrozenAmount:  "0",
		DecimalPlaces: params.DecimalPlaces,
		Checksum:      checksum,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.walletRepo.Create(ctx, w); err != nil {
		return nil, err
	}

	event := domain.WalletCreatedEvent{
		Event:      domain.EventWalletCreated,
		WalletUUID: w.Key(),
		HolderType: w.HolderType,
		HolderID:   w.HolderID,
		CreatedAt:  w.CreatedAt,
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.log.Warn().Err(err).Str("wallet_uuid", w.Key()).Msg("failed to publish wallet created event")
	}

	s.log.Info().Str("wallet_uuid", w.Key()).Str("holder_type", w.HolderType).Str("holder_id", w.HolderID).Msg("wallet created")
	return w, nil
}

// GetWallet loads a wallet by uuid and fails with a not-found error when it
// does not exist.
func (s *WalletService) GetWallet(ctx context.Context, id uuid.UUID) (*domain.Wallet, error) {
	w, err := s.walletRepo.FindByUUID(ctx, id)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, apperror.ErrModelNotFound("Wallet")
	}
	return w, nil
}

// GetWalletByID loads a wallet by its database identifier and fails with a
// not-found error when it does not exist.
func (s *WalletService) GetWalletByID(ctx context.Context, id int64) (*domain.Wallet, error) {
	w, err := s.walletRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, apperror.ErrModelNotFound("Wallet")
	}
	return w, nil
}

// GetWalletBySlug loads a holder's wallet by slug and fails with a not-found
// error when it does not exist.
func (s *WalletService) GetWalletBySlug(ctx context.Context, holderType, holderID, slug string) (*domain.Wallet, error) {
	w, err := s.walletRepo.FindBySlug(ctx, holderType, holderID, slug)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, apperror.ErrModelNotFound("Wallet")
	}
	return w, nil
}

// Deposit credits the wallet with a positive decimal amount and records one
// transaction. Runs in its own atomic block unless ctx already carries one.
func (s *WalletService) Deposit(ctx context.Context, w *domain.Wallet, amount string, meta map[string]any) (*domain.Transaction, error) {
	outcome, err := s.atomic.Atomic(ctx, []*domain.Wallet{w}, func(ctx context.Context) (domain.Outcome, error) {
		txn, err := s.deposit(ctx, w, amount, meta)
		if err != nil {
			return domain.Outcome{}, err
		}
		return domain.Commit(txn), nil
	})
	if err != nil {
		return nil, err
	}
	return outcome.Value.(*domain.Transaction), nil
}

// Withdraw debits the wallet after verifying the available balance covers the
// amount.
func (s *WalletService) Withdraw(ctx context.Context, w *domain.Wallet, amount string, meta map[string]any) (*domain.Transaction, error) {
	outcome, err := s.atomic.Atomic(ctx, []*domain.Wallet{w}, func(ctx context.Context) (domain.Outcome, error) {
		txn, err := s.withdraw(ctx, w, amount, meta, false)
		if err != nil {
			return domain.Outcome{}, err
		}
		return domain.Commit(txn), nil
	})
	if err != nil {
		return nil, err
	}
	return outcome.Value.(*domain.Transaction), nil
}

// ForceWithdraw debits the wallet without a funds check. The balance may go
// negative; the caller owns that decision.
func (s *WalletService) ForceWithdraw(ctx context.Context, w *domain.Wallet, amount string, meta map[string]any) (*domain.Transaction, error) {
	outcome, err := s.atomic.Atomic(ctx, []*domain.Wallet{w}, func(ctx context.Context) (domain.Outcome, error) {
		txn, err := s.withdraw(ctx, w, amount, meta, true)
		if err != nil {
			return domain.Outcome{}, err
		}
		return domain.Commit(txn), nil
	})
	if err != nil {
		return nil, err
	}
	return outcome.Value.(*domain.Transaction), nil
}

// TransferParams carries the optional pieces of a transfer.
type TransferParams struct {
	Fee  string
	Meta map[string]any
}

// Transfer moves amount from one wallet to another inside a single atomic
// block. The source gives up amount plus fee, the destination receives
// amount. No observer ever sees only one leg applied.
func (s *WalletService) Transfer(ctx context.Context, from, to *domain.Wallet, amount string, params TransferParams) (*domain.Transfer, error) {
	if params.Fee == "" {
		params.Fee = "0"
	}

	outcome, err := s.atomic.Atomic(ctx, []*domain.Wallet{from, to}, func(ctx context.Context) (domain.Outcome, error) {
		withdrawAmount, err := s.math.Add(amount, params.Fee)
		if err != nil {
			return domain.Outcome{}, err
		}
		withdrawTxn, err := s.withdraw(ctx, from, withdrawAmount, params.Meta, false)
		if err != nil {
			return domain.Outcome{}, err
		}

		depositTxn, err := s.deposit(ctx, to, amount, params.Meta)
		if err != nil {
			return domain.Outcome{}, err
		}

		rawAmount, err := s.math.ToScaledInteger(amount, from.DecimalPlaces)
		if err != nil {
			return domain.Outcome{}, err
		}
		rawFee, err := s.math.ToScaledInteger(params.Fee, from.DecimalPlaces)
		if err != nil {
			return domain.Outcome{}, err
		}

		now := time.Now().UTC()
		transfer := &domain.Transfer{
			UUID:         uuid.New(),
			FromWalletID: from.ID,
			ToWalletID:   to.ID,
			WithdrawUUID: withdrawTxn.UUID,
			DepositUUID:  depositTxn.UUID,
			Amount:       rawAmount,
			Fee:          rawFee,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.transferRepo.Insert(ctx, transfer); err != nil {
			return domain.Outcome{}, err
		}
		return domain.Commit(transfer), nil
	})
	if err != nil {
		return nil, err
	}
	return outcome.Value.(*domain.Transfer), nil
}

// Freeze reserves amount so it no longer counts as available. An empty amount
// freezes the entire current balance. Frozen funds stay on the balance and
// only the available portion shrinks. With allowOverdraft set the reservation
// may exceed the available balance.
func (s *WalletService) Freeze(ctx context.Context, w *domain.Wallet, amount string, allowOverdraft bool) error {
	_, err := s.atomic.Atomic(ctx, []*domain.Wallet{w}, func(ctx context.Context) (domain.Outcome, error) {
		reg, err := s.block(ctx)
		if err != nil {
			return domain.Outcome{}, err
		}

		var raw string
		if amount == "" {
			raw, err = reg.GetBalance(ctx, w)
			if err != nil {
				return domain.Outcome{}, err
			}
		} else {
			raw, err = s.math.ToScaledInteger(amount, w.DecimalPlaces)
			if err != nil {
				return domain.Outcome{}, err
			}
			if err := s.consistency.CheckPositive(raw); err != nil {
				return domain.Outcome{}, err
			}
		}

		if !allowOverdraft {
			balance, err := reg.GetBalance(ctx, w)
			if err != nil {
				return domain.Outcome{}, err
			}
			available, err := reg.GetAvailableBalance(ctx, w)
			if err != nil {
				return domain.Outcome{}, err
			}
			if err := s.consistency.CheckPotential(balance, available, raw, true); err != nil {
				return domain.Outcome{}, err
			}
		}
		if err := reg.Freeze(ctx, w, raw); err != nil {
			return domain.Outcome{}, err
		}
		return domain.Commit(nil), nil
	})
	return err
}

// UnFreeze returns reserved funds to the available balance. An empty amount
// unfreezes everything currently frozen.
func (s *WalletService) UnFreeze(ctx context.Context, w *domain.Wallet, amount string) error {
	_, err := s.atomic.Atomic(ctx, []*domain.Wallet{w}, func(ctx context.Context) (domain.Outcome, error) {
		reg, err := s.block(ctx)
		if err != nil {
			return domain.Outcome{}, err
		}

		frozen, err := reg.GetFrozenAmount(ctx, w)
		if err != nil {
			return domain.Outcome{}, err
		}

		raw := frozen
		if amount != "" {
			raw, err = s.math.ToScaledInteger(amount, w.DecimalPlaces)
			if err != nil {
				return domain.Outcome{}, err
			}
			if err := s.consistency.CheckPositive(raw); err != nil {
				return domain.Outcome{}, err
			}
		}

		cmp, err := s.math.Compare(frozen, raw)
		if err != nil {
			return domain.Outcome{}, err
		}
		if cmp < 0 {
			return domain.Outcome{}, apperror.ErrInsufficientFunds()
		}
		if err := reg.UnFreeze(ctx, w, raw); err != nil {
			return domain.Outcome{}, err
		}
		return domain.Commit(nil), nil
	})
	return err
}

// GetBalance returns the committed balance formatted with the wallet's
// decimal places.
func (s *WalletService) GetBalance(ctx context.Context, w *domain.Wallet) (string, error) {
	raw, err := s.bookkeeper.GetBalance(ctx, w)
	if err != nil {
		return "", err
	}
	return s.math.ToDecimalString(raw, w.DecimalPlaces)
}

// GetFrozenAmount returns the committed frozen amount formatted with the
// wallet's decimal places.
func (s *WalletService) GetFrozenAmount(ctx context.Context, w *domain.Wallet) (string, error) {
	raw, err := s.bookkeeper.GetFrozenAmount(ctx, w)
	if err != nil {
		return "", err
	}
	return s.math.ToDecimalString(raw, w.DecimalPlaces)
}

// GetAvailableBalance returns balance minus frozen amount formatted with the
// wallet's decimal places.
func (s *WalletService) GetAvailableBalance(ctx context.Context, w *domain.Wallet) (string, error) {
	state, err := s.bookkeeper.Get(ctx, w)
	if err != nil {
		return "", err
	}
	available, err := s.math.Sub(state.Balance, state.FrozenAmount)
	if err != nil {
		return "", err
	}
	return s.math.ToDecimalString(available, w.DecimalPlaces)
}

// GetTransactionsCount returns the committed transaction count.
func (s *WalletService) GetTransactionsCount(ctx context.Context, w *domain.Wallet) (int64, error) {
	return s.bookkeeper.GetTransactionsCount(ctx, w)
}

// CheckWalletConsistency verifies the wallet's stored checksum against the
// authoritative persisted state.
func (s *WalletService) CheckWalletConsistency(ctx context.Context, w *domain.Wallet, throwOnFailure bool) (bool, error) {
	return s.consistency.CheckWalletConsistency(ctx, w.Key(), w.Checksum, throwOnFailure)
}

// SumWallets aggregates balances over the selected wallets.
func (s *WalletService) SumWallets(ctx context.Context, params ports.SumWalletsParams) (domain.WalletSumData, error) {
	return s.walletRepo.SumWallets(ctx, params)
}

// Atomic exposes the atomic block primitive so callers can compose several
// operations into one commit point.
func (s *WalletService) Atomic(ctx context.Context, wallets []*domain.Wallet, fn ports.TxFunc) (domain.Outcome, error) {
	return s.atomic.Atomic(ctx, wallets, fn)
}

func (s *WalletService) block(ctx context.Context) (*Regulator, error) {
	reg, ok := blockFromContext(ctx)
	if !ok {
		return nil, apperror.InternalError(errNoAtomicBlock)
	}
	return reg, nil
}

func (s *WalletService) deposit(ctx context.Context, w *domain.Wallet, amount string, meta map[string]any) (*domain.Transaction, error) {
	reg, err := s.block(ctx)
	if err != nil {
		return nil, err
	}
	// Pin the committed state before the row insert below.
	if err := reg.Persist(ctx, w); err != nil {
		return nil, err
	}

	raw, err := s.math.ToScaledInteger(amount, w.DecimalPlaces)
	if err != nil {
		return nil, err
	}
	if err := s.consistency.CheckPositive(raw); err != nil {
		return nil, err
	}

	txn, err := s.makeTransaction(w, domain.TransactionKindDeposit, raw, meta)
	if err != nil {
		return nil, err
	}
	if err := s.txRepo.Insert(ctx, txn); err != nil {
		return nil, err
	}
	if _, err := reg.Increase(ctx, w, raw); err != nil {
		return nil, err
	}
	return txn, nil
}

func (s *WalletService) withdraw(ctx context.Context, w *domain.Wallet, amount string, meta map[string]any, force bool) (*domain.Transaction, error) {
	reg, err := s.block(ctx)
	if err != nil {
		return nil, err
	}
	// Pin the committed state before the row insert below.
	if err := reg.Persist(ctx, w); err != nil {
		return nil, err
	}

	raw, err := s.math.ToScaledInteger(amount, w.DecimalPlaces)
	if err != nil {
		return nil, err
	}
	if err := s.consistency.CheckPositive(raw); err != nil {
		return nil, err
	}

	if !force {
		balance, err := reg.GetBalance(ctx, w)
		if err != nil {
			return nil, err
		}
		available, err := reg.GetAvailableBalance(ctx, w)
		if err != nil {
			return nil, err
		}
		if err := s.consistency.CheckPotential(balance, available, raw, false); err != nil {
			return nil, err
		}
	}

	negated, err := s.math.Negate(raw)
	if err != nil {
		return nil, err
	}
	txn, err := s.makeTransaction(w, domain.TransactionKindWithdraw, negated, meta)
	if err != nil {
		return nil, err
	}
	if err := s.txRepo.Insert(ctx, txn); err != nil {
		return nil, err
	}
	if _, err := reg.Decrease(ctx, w, raw); err != nil {
		return nil, err
	}
	return txn, nil
}

func (s *WalletService) makeTransaction(w *domain.Wallet, kind domain.TransactionKind, rawAmount string, meta map[string]any) (*domain.Transaction, error) {
	id := uuid.New()
	now := time.Now().UTC()
	checksum, err := s.consistency.CreateTransactionChecksum(
		id.String(), w.Key(), string(kind), rawAmount, strconv.FormatInt(now.Unix(), 10))
	if err != nil {
		return nil, err
	}
	return &domain.Transaction{
		UUID:      id,
		WalletID:  w.ID,
		Kind:      kind,
		Amount:    rawAmount,
		Meta:      meta,
		Checksum:  checksum,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}
