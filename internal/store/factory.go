package store

import (
	"context"
	"fmt"

	"statusflow/internal/config"
	"statusflow/internal/constants"
	"statusflow/internal/logger"
)

// New connects the backend selected by store.type and wraps it with a circuit
// breaker when enabled. Init is left to the caller.
func New(ctx context.Context, cfg config.StoreConfig, cb config.CircuitBreakerConfig, log logger.Logger, opts ...Option) (Store, error) {
	s, err := newBackend(ctx, cfg, log, opts...)
	if err != nil {
		return nil, err
	}

	if cb.Enabled {
		log.Infow("Circuit breaker enabled for status store", "store", cfg.Type)
		return NewCircuitBreakerStore(s, "store-"+cfg.Type, cb), nil
	}
	return s, nil
}

func newBackend(ctx context.Context, cfg config.StoreConfig, log logger.Logger, opts ...Option) (Store, error) {
	switch cfg.Type {
	case constants.StoreTypeSQLite, "":
		return NewSQLiteStore(cfg.SQLite, log, opts...)

	case constants.StoreTypePostgres:
		dsn := PostgresDSN(cfg.Postgres)
		db, err := openPostgres(ctx, dsn)
		if err != nil {
			return nil, err
		}
		log.Info("PostgreSQL connected successfully")
		return NewPostgresStore(db, dsn, log, opts...), nil

	case constants.StoreTypeMongoDB:
		client, err := connectMongo(ctx, cfg.MongoDB.URI)
		if err != nil {
			return nil, err
		}
		log.Info("MongoDB connected successfully")
		return NewMongoStore(client, cfg.MongoDB, log, opts...), nil

	case constants.StoreTypeRedis:
		client, err := newRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		log.Info("Redis connected successfully")
		return NewRedisStore(client, cfg.Redis.KeyPrefix, log, opts...), nil

	default:
		return nil, fmt.Errorf("unsupported store type: %s", cfg.Type)
	}
}
