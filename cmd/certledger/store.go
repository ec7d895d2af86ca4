package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/certledger/internal/config"
	"github.com/bigkaa/certledger/internal/horizon"
	"github.com/bigkaa/certledger/internal/ledger"
	"github.com/bigkaa/certledger/internal/ledger/badgerstore"
	"github.com/bigkaa/certledger/internal/ledger/pgstore"
	"github.com/bigkaa/certledger/internal/ledger/redisstore"
	"github.com/bigkaa/certledger/internal/registry"
)

// openedStore — открытое хранилище и, для postgres, его пул соединений.
type openedStore struct {
	ledger.Store
	pool *pgxpool.Pool
}

// openStore открывает бэкенд хранилища, выбранный CL_STORE_BACKEND.
// Для postgres предварительно применяются миграции.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*openedStore, error) {
	retry := ledger.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.TxMaxRetries

	switch cfg.StoreBackend {
	case config.StoreBadger:
		s, err := badgerstore.New(
			badgerstore.WithDataDir(cfg.BadgerPath),
			badgerstore.WithLogger(logger),
			badgerstore.WithRetryPolicy(retry),
		)
		if err != nil {
			return nil, err
		}
		if cfg.BadgerPath == "" {
			logger.Warn("CL_BADGER_PATH не задан, реестр хранится в памяти и теряется при остановке")
		}
		return &openedStore{Store: s}, nil

	case config.StorePostgres:
		logger.Info("Применение миграций БД...")
		if err := pgstore.Migrate(cfg.DatabaseMigrateURL(), logger); err != nil {
			return nil, err
		}
		s, err := pgstore.Connect(ctx, cfg.DatabaseDSN(),
			pgstore.WithLogger(logger),
			pgstore.WithRetryPolicy(retry),
		)
		if err != nil {
			return nil, err
		}
		return &openedStore{Store: s, pool: s.Pool()}, nil

	case config.StoreRedis:
		s, err := redisstore.Connect(ctx, cfg.RedisOptions(),
			redisstore.WithLogger(logger),
			redisstore.WithRetryPolicy(retry),
			redisstore.WithKeyPrefix(cfg.RedisKeyPrefix),
		)
		if err != nil {
			return nil, err
		}
		return &openedStore{Store: s}, nil

	default:
		return nil, fmt.Errorf("неизвестный бэкенд хранилища %q", cfg.StoreBackend)
	}
}

// newVerifier создаёт проверку транзакции-доказательства по CL_TX_VERIFIER.
func newVerifier(cfg *config.Config, logger *slog.Logger) registry.TxVerifier {
	if cfg.TxVerifier == config.VerifierHorizon {
		return horizon.New(cfg.HorizonURL, cfg.HorizonTimeout, logger)
	}
	return registry.AcceptAll{}
}

// newRegistry собирает реестр поверх хранилища.
func newRegistry(cfg *config.Config, store ledger.Store, auth registry.Authorizer, logger *slog.Logger) *registry.Registry {
	return registry.New(store, auth,
		registry.WithVerifier(newVerifier(cfg, logger)),
		registry.WithCache(registry.NewCache(cfg.CacheSize, cfg.CacheTTL)),
		registry.WithLogger(logger),
	)
}
