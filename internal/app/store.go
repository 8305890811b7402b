package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/loanflow/gatekeeper"
	"github.com/loanflow/gatekeeper/internal/config"
	"github.com/loanflow/gatekeeper/internal/migration"
	"github.com/loanflow/gatekeeper/internal/stores"
)

// newAccountStore opens the configured backend and ties its connections to
// the fx lifecycle.
func newAccountStore(lifecycle fx.Lifecycle, cfg *config.AppConfig, logger *zap.Logger) (gatekeeper.AccountStore, error) {
	switch cfg.Store.Driver {
	case config.StoreRedis:
		return newRedisStore(lifecycle, cfg, logger)
	case config.StorePostgres:
		return newPostgresStore(lifecycle, cfg, logger)
	default:
		logger.Warn("using in-memory account store; accounts are lost on restart")
		return stores.NewMemoryStore(), nil
	}
}

func newRedisStore(lifecycle fx.Lifecycle, cfg *config.AppConfig, logger *zap.Logger) (gatekeeper.AccountStore, error) {
	opts, err := redis.ParseURL(cfg.Store.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	store := stores.NewRedisStore(client, cfg.Store.RedisPrefix)

	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := store.Ping(ctx); err != nil {
				return err
			}
			logger.Info("connected to redis", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("closing redis connection")
			return client.Close()
		},
	})
	return store, nil
}

func newPostgresStore(lifecycle fx.Lifecycle, cfg *config.AppConfig, logger *zap.Logger) (gatekeeper.AccountStore, error) {
	db, err := stores.OpenPostgres(cfg.Store.PostgresDSN, logger)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres handle: %w", err)
	}

	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := sqlDB.PingContext(ctx); err != nil {
				return fmt.Errorf("%w: %v", gatekeeper.ErrAccountStoreUnavailable, err)
			}
			if !cfg.Store.Migrate {
				return nil
			}
			migrator, err := migration.NewMigrator(sqlDB, logger)
			if err != nil {
				return err
			}
			return migrator.Up(ctx)
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("closing database connections")
			return sqlDB.Close()
		},
	})
	return stores.NewGormStore(db), nil
}
