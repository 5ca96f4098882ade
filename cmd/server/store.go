package main

import (
	"context"
	"fmt"

	"github.com/paperhub/guest-hub/config"
	"github.com/paperhub/guest-hub/internal/domain/guest"
	"github.com/paperhub/guest-hub/internal/infrastructure/metrics"
	"github.com/paperhub/guest-hub/internal/infrastructure/persistence/memory"
	"github.com/paperhub/guest-hub/internal/infrastructure/persistence/postgres"
	"github.com/paperhub/guest-hub/internal/infrastructure/persistence/redis"
	"github.com/paperhub/guest-hub/internal/infrastructure/persistence/sqlite"
	"github.com/paperhub/guest-hub/pkg/logger"
)

// snapshotStore is a guest.KVStore the server can health-check and close.
type snapshotStore interface {
	guest.KVStore
	Ping(ctx context.Context) error
	Close() error
}

// redisStore pairs the guest store with the connection it owns.
type redisStore struct {
	*redis.GuestKVStore
	cache *redis.Cache
}

func (s redisStore) Ping(ctx context.Context) error { return s.cache.Ping(ctx) }
func (s redisStore) Close() error                   { return s.cache.Close() }

// memoryStore never fails; it is for development and tests.
type memoryStore struct {
	*memory.KVStore
}

func (memoryStore) Ping(context.Context) error { return nil }
func (memoryStore) Close() error               { return nil }

func openStore(cfg *config.Config, log *logger.Logger, observer *metrics.Observer) (snapshotStore, error) {
	switch cfg.Guest.Store {
	case config.StoreRedis:
		rc := redis.DefaultConfig()
		rc.Host = cfg.Redis.Host
		rc.Port = cfg.Redis.Port
		rc.Password = cfg.Redis.Password
		rc.DB = cfg.Redis.DB
		rc.PoolSize = cfg.Redis.PoolSize
		rc.MinIdleConns = cfg.Redis.MinIdleConns
		rc.DialTimeout = cfg.Redis.DialTimeout
		rc.ReadTimeout = cfg.Redis.ReadTimeout
		rc.WriteTimeout = cfg.Redis.WriteTimeout

		log.Info("connecting to Redis...", logger.String("addr", rc.Addr()))
		cache, err := redis.NewCache(rc)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return redisStore{
			GuestKVStore: redis.NewGuestKVStore(cache,
				redis.WithTTL(cfg.Guest.SnapshotTTL),
				redis.WithBreakerStateChange(observer.BreakerStateChanged),
			),
			cache: cache,
		}, nil

	case config.StoreSQLite:
		log.Info("opening sqlite store...", logger.String("path", cfg.LocalStore.Path))
		s, err := sqlite.Open(cfg.LocalStore.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return s, nil

	default:
		log.Warn("using in-memory snapshot store, guest data is lost on restart")
		return memoryStore{memory.NewKVStore()}, nil
	}
}

func connectAccounts(ctx context.Context, cfg *config.Config, log *logger.Logger) (*postgres.Connection, error) {
	log.Info("connecting to database...")

	settings := postgres.DefaultPoolSettings()
	settings.MaxConns = int32(cfg.Database.MaxOpenConns)
	settings.MinConns = int32(min(cfg.Database.MaxIdleConns, cfg.Database.MaxOpenConns))
	settings.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	settings.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime

	conn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL, settings)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Info("checking database migrations...")
	if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info("database schema is up to date")

	return conn, nil
}
