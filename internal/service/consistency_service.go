package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"wallet-ledger-engine/internal/core/ports"
	"wallet-ledger-engine/pkg/apperror"
	"wallet-ledger-engine/pkg/decmath"

	"github.com/rs/zerolog"
)

// ConsistencyService validates amounts and maintains HMAC-SHA256 checksums
// over wallet and transaction state. When checksums are disabled every
// checksum call returns an empty digest and every verification passes, so the
// rest of the engine never branches on the flag.
type ConsistencyService struct {
	math       *decmath.Engine
	walletRepo ports.WalletRepository
	secret     []byte
	enabled    bool
	log        zerolog.Logger
}

// NewConsistencyService creates a new ConsistencyService.
func NewConsistencyService(
	math *decmath.Engine,
	walletRepo ports.WalletRepository,
	secret string,
	enabled bool,
	log zerolog.Logger,
) *ConsistencyService {
	return &ConsistencyService{
		math:       math,
		walletRepo: walletRepo,
		secret:     []byte(secret),
		enabled:    enabled,
		log:        log,
	}
}

// CheckPositive fails with an AMOUNT_INVALID error unless amount > 0.
func (s *ConsistencyService) CheckPositive(amount string) error {
	cmp, err := s.math.Compare(amount, "0")
	if err != nil {
		return err
	}
	if cmp <= 0 {
		return apperror.ErrAmountInvalid()
	}
	return nil
}

// CheckPotential verifies that a wallet holding balance with available funds
// can give up amount. A zero amount passes only when allowZero is set.
func (s *ConsistencyService) CheckPotential(balance, available, amount string, allowZero bool) error {
	amountCmp, err := s.math.Compare(amount, "0")
	if err != nil {
		return err
	}
	if amountCmp == 0 && allowZero {
		return nil
	}

	balanceCmp, err := s.math.Compare(balance, "0")
	if err != nil {
		return err
	}
	if balanceCmp == 0 && amountCmp != 0 {
		return apperror.ErrBalanceIsEmpty()
	}

	availableCmp, err := s.math.Compare(available, amount)
	if err != nil {
		return err
	}
	if availableCmp < 0 {
		return apperror.ErrInsufficientFunds()
	}
	return nil
}

// CreateWalletChecksum computes the integrity digest of a wallet state.
// Numeric inputs are rounded to whole raw units first so that equivalent
// representations ("100" and "100.0") produce the same digest.
func (s *ConsistencyService) CreateWalletChecksum(uuid, balance, frozenAmount string, transactionsCount int64, transactionsSum string) (string, error) {
	if !s.enabled {
		return "", nil
	}
	parts := []string{uuid, balance, frozenAmount, strconv.FormatInt(transactionsCount, 10), transactionsSum}
	for _, i := range []int{1, 2, 4} {
		rounded, err := s.math.Round(parts[i], 0)
		if err != nil {
			return "", err
		}
		parts[i] = rounded
	}
	return s.sign(parts), nil
}

// CreateTransactionChecksum computes the integrity digest of one transaction.
func (s *ConsistencyService) CreateTransactionChecksum(uuid, walletUUID, kind, amount, createdAt string) (string, error) {
	if !s.enabled {
		return "", nil
	}
	rounded, err := s.math.Round(amount, 0)
	if err != nil {
		return "", err
	}
	return s.sign([]string{uuid, walletUUID, kind, rounded, createdAt}), nil
}

// CheckWalletConsistency recomputes the digest from the authoritative
// persisted state and compares it with the stored checksum. On mismatch it
// either fails with a CONSISTENCY_001 error or reports false, depending on
// throwOnFailure.
func (s *ConsistencyService) CheckWalletConsistency(ctx context.Context, uuid, checksum string, throwOnFailure bool) (bool, error) {
	if !s.enabled {
		return true, nil
	}

	states, err := s.walletRepo.MultiGet(ctx, []string{uuid})
	if err != nil {
		return false, err
	}
	state, ok := states[uuid]
	if !ok {
		return false, apperror.ErrModelNotFound("Wallet")
	}

	expected, err := s.CreateWalletChecksum(uuid, state.Balance, state.FrozenAmount, state.TransactionsCount, state.TransactionsSum)
	if err != nil {
		return false, err
	}
	if hmac.Equal([]byte(expected), []byte(checksum)) {
		return true, nil
	}

	s.log.Error().Str("wallet_uuid", uuid).Msg("wallet checksum mismatch")
	if throwOnFailure {
		return false, apperror.ErrWalletInconsistency(uuid)
	}
	return false, nil
}

// CheckMultiWalletConsistency verifies every uuid to checksum pair and fails
// on the first mismatch.
func (s *ConsistencyService) CheckMultiWalletConsistency(ctx context.Context, checksums map[string]string) error {
	for uuid, checksum := range checksums {
		if _, err := s.CheckWalletConsistency(ctx, uuid, checksum, true); err != nil {
			return err
		}
	}
	return nil
}

func (s *ConsistencyService) sign(parts []string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(strings.Join(parts, "_")))
	return hex.EncodeToString(mac.Sum(nil))
}
