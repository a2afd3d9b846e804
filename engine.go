// Package walletledger assembles the wallet ledger engine from configuration:
// a PostgreSQL-backed ledger with a Redis state cache, Redis named locks,
// HMAC state checksums and optional Kafka event publishing. The resulting
// Engine exposes the full wallet API (create, deposit, withdraw, transfer,
// freeze, balances, consistency checks and atomic blocks).
package walletledger

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"wallet-ledger-engine/config"
	"wallet-ledger-engine/internal/adapter/events/kafka"
	"wallet-ledger-engine/internal/adapter/storage/postgres"
	"wallet-ledger-engine/internal/adapter/storage/redis"
	"wallet-ledger-engine/internal/core/ports"
	"wallet-ledger-engine/internal/service"
	"wallet-ledger-engine/pkg/decmath"
	"wallet-ledger-engine/pkg/logger"
)

// Engine is a fully wired ledger. It embeds the wallet service, so every
// ledger operation is available directly on the Engine value.
type Engine struct {
	*service.WalletService

	log    zerolog.Logger
	pool   *pgxpool.Pool
	client *goredis.Client
	pub    ports.EventPublisher
}

// New builds an Engine from configuration, connecting to PostgreSQL, Redis
// and, when brokers are configured, Kafka.
func New(ctx context.Context, cfg *config.Config) (*Engine, error) {
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	pool, err := postgres.NewPool(ctx, cfg.Database, log)
	if err != nil {
		return nil, err
	}
	client, err := redis.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		pool.Close()
		return nil, err
	}

	var publisher ports.EventPublisher = kafka.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = kafka.NewPublisher(cfg.Kafka, log)
	}

	walletRepo := postgres.NewWalletRepo(pool)
	txRepo := postgres.NewTransactionRepo(pool)
	transferRepo := postgres.NewTransferRepo(pool)
	transactor := postgres.NewTransactor(pool)

	math := decmath.New()
	cache := redis.NewStateCache(client, cfg.Wallet.CacheTTL)
	locks := service.NewLockService(redis.NewLockStore(client), cfg.Wallet.LockTTL, log)
	book := service.NewBookkeeperService(cache, locks, walletRepo, cfg.Wallet.LockTimeout, log)
	check := service.NewConsistencyService(math, walletRepo, cfg.Wallet.ChecksumSecret, cfg.Wallet.ChecksumEnabled, log)
	regs := service.NewRegulatorFactory(book, walletRepo, check, publisher, math, log)
	atomic := service.NewAtomicService(locks, transactor, regs, cfg.Wallet.LockTimeout, log)

	svc := service.NewWalletService(walletRepo, txRepo, transferRepo, atomic, book, check, publisher, math,
		service.WalletDefaults{
			Name:          cfg.Wallet.DefaultName,
			Slug:          cfg.Wallet.DefaultSlug,
			DecimalPlaces: cfg.Wallet.DefaultDecimalPlaces,
		}, log)

	return &Engine{
		WalletService: svc,
		log:           log,
		pool:          pool,
		client:        client,
		pub:           publisher,
	}, nil
}

// Close releases the engine's connections.
func (e *Engine) Close() error {
	e.pool.Close()
	err := e.client.Close()
	if closer, ok := e.pub.(interface{ Close() error }); ok {
		if cerr := closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
