package service

import (
	"context"
	"time"

	"wallet-ledger-engine/internal/core/domain"
	"wallet-ledger-engine/internal/core/ports"
	"wallet-ledger-engine/pkg/apperror"

	"github.com/rs/zerolog"
)

// BookkeeperService is the read-through cache of last-committed wallet state.
// Cache misses are rebuilt from the wallet repository under a per-key lock so
// that concurrent misses on the same wallet trigger a single rebuild, and the
// miss never escapes to callers.
type BookkeeperService struct {
	cache       ports.StateCache
	locks       ports.LockCoordinator
	walletRepo  ports.WalletRepository
	lockTimeout time.Duration
	log         zerolog.Logger
}

// NewBookkeeperService creates a new BookkeeperService.
func NewBookkeeperService(
	cache ports.StateCache,
	locks ports.LockCoordinator,
	walletRepo ports.WalletRepository,
	lockTimeout time.Duration,
	log zerolog.Logger,
) *BookkeeperService {
	return &BookkeeperService{
		cache:       cache,
		locks:       locks,
		walletRepo:  walletRepo,
		lockTimeout: lockTimeout,
		log:         log,
	}
}

// Get returns the state for a single wallet.
func (s *BookkeeperService) Get(ctx context.Context, w *domain.Wallet) (domain.WalletStateData, error) {
	states, err := s.MultiGet(ctx, []*domain.Wallet{w})
	if err != nil {
		return domain.WalletStateData{}, err
	}
	state, ok := states[w.Key()]
	if !ok {
		return domain.WalletStateData{}, apperror.ErrModelNotFound("Wallet state")
	}
	return state, nil
}

// MultiGet returns the state for every wallet, rebuilding absent entries from
// the persisted store.
func (s *BookkeeperService) MultiGet(ctx context.Context, wallets []*domain.Wallet) (map[string]domain.WalletStateData, error) {
	keys := make([]string, 0, len(wallets))
	for _, w := range wallets {
		keys = append(keys, w.Key())
	}

	states, err := s.cache.MultiGet(ctx, keys)
	if err == nil {
		return states, nil
	}
	missing, ok := apperror.MissingKeys(err)
	if !ok {
		return nil, err
	}

	byKey := make(map[string]*domain.Wallet, len(wallets))
	for _, w := range wallets {
		byKey[w.Key()] = w
	}
	rebuilt, err := s.rebuild(ctx, missing, byKey)
	if err != nil {
		return nil, err
	}
	if states == nil {
		states = make(map[string]domain.WalletStateData, len(keys))
	}
	for key, state := range rebuilt {
		states[key] = state
	}
	return states, nil
}

// rebuild recovers the given keys from the persisted transaction history and
// writes them back to the cache. The keys are locked first so parallel misses
// rebuild once; after the lock is held the cache is checked again because
// another process may have finished the rebuild while this one waited.
func (s *BookkeeperService) rebuild(ctx context.Context, missing []string, byKey map[string]*domain.Wallet) (map[string]domain.WalletStateData, error) {
	recovered := make(map[string]domain.WalletStateData, len(missing))

	err := s.locks.Blocks(ctx, missing, s.lockTimeout, func(ctx context.Context) error {
		cached, err := s.cache.MultiGet(ctx, missing)
		still := missing
		if err != nil {
			keys, ok := apperror.MissingKeys(err)
			if !ok {
				return err
			}
			still = keys
		} else {
			still = nil
		}
		for key, state := range cached {
			recovered[key] = state
		}
		if len(still) == 0 {
			return nil
		}

		s.log.Debug().Strs("keys", still).Msg("rebuilding wallet state from persisted store")
		fresh := make(map[string]domain.WalletStateData, len(still))
		for _, key := range still {
			w, ok := byKey[key]
			if !ok || w.ID == 0 {
				return apperror.ErrModelNotFound("Wallet")
			}
			state, err := s.walletRepo.GetWalletStateData(ctx, w)
			if err != nil {
				return err
			}
			fresh[key] = state
			recovered[key] = state
		}
		return s.cache.MultiSync(ctx, fresh)
	})
	if err != nil {
		return nil, err
	}
	return recovered, nil
}

// GetBalance returns the raw committed balance of w.
func (s *BookkeeperService) GetBalance(ctx context.Context, w *domain.Wallet) (string, error) {
	state, err := s.Get(ctx, w)
	if err != nil {
		return "", err
	}
	return state.Balance, nil
}

// GetFrozenAmount returns the raw committed frozen amount of w.
func (s *BookkeeperService) GetFrozenAmount(ctx context.Context, w *domain.Wallet) (string, error) {
	state, err := s.Get(ctx, w)
	if err != nil {
		return "", err
	}
	return state.FrozenAmount, nil
}

// GetTransactionsCount returns the committed transaction count of w.
func (s *BookkeeperService) GetTransactionsCount(ctx context.Context, w *domain.Wallet) (int64, error) {
	state, err := s.Get(ctx, w)
	if err != nil {
		return 0, err
	}
	return state.TransactionsCount, nil
}

// Sync stores the state for one key.
func (s *BookkeeperService) Sync(ctx context.Context, key string, data domain.WalletStateData) error {
	return s.cache.MultiSync(ctx, map[string]domain.WalletStateData{key: data})
}

// MultiSync stores the state for several keys at once.
func (s *BookkeeperService) MultiSync(ctx context.Context, items map[string]domain.WalletStateData) error {
	return s.cache.MultiSync(ctx, items)
}

// Forget drops the cached state of w. The next read rebuilds it.
func (s *BookkeeperService) Forget(ctx context.Context, w *domain.Wallet) error {
	return s.cache.Forget(ctx, w.Key())
}
