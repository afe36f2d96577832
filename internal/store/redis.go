package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"statusflow/internal/config"
	"statusflow/internal/constants"
	"statusflow/internal/logger"
	"statusflow/pkg/models"
)

const (
	fieldModuleState    = "moduleState"
	fieldLastUpdatedUtc = "lastUpdatedUtc"
)

// RedisStore keeps each module in a hash at <prefix>state:<id> and the set of
// known ids at <prefix>ids. Writes run in MULTI/EXEC.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
	logger logger.Logger
}

func NewRedisStore(client *redis.Client, prefix string, log logger.Logger, opts ...Option) *RedisStore {
	o := buildOptions(opts)
	return &RedisStore{client: client, prefix: prefix, now: o.now, logger: log}
}

func newRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Host + ":" + strconv.Itoa(cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}
	return rdb, nil
}

func (s *RedisStore) moduleKey(moduleID string) string {
	return s.prefix + "state:" + moduleID
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "ids"
}

func (s *RedisStore) Init(ctx context.Context) error {
	if err := s.Ping(ctx); err != nil {
		return fmt.Errorf("redis store not reachable: %w", err)
	}
	s.logger.Infow("Redis store ready", "key_prefix", s.prefix)
	return nil
}

func (s *RedisStore) Upsert(ctx context.Context, moduleID, state string) (err error) {
	start := time.Now()
	defer func() { observe(constants.StoreTypeRedis, "upsert", start, err) }()

	if moduleID == "" {
		return ErrInvalidID
	}
	return s.write(ctx, []models.ModuleUpdate{{ModuleCategoryID: moduleID, ModuleState: state}})
}

func (s *RedisStore) UpsertMany(ctx context.Context, updates []models.ModuleUpdate) (err error) {
	start := time.Now()
	defer func() { observe(constants.StoreTypeRedis, "upsert_many", start, err) }()

	if err := validateUpdates(updates); err != nil {
		return err
	}
	if len(updates) == 0 {
		return nil
	}
	return s.write(ctx, updates)
}

func (s *RedisStore) write(ctx context.Context, updates []models.ModuleUpdate) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, u := range updates {
			pipe.HSet(ctx, s.moduleKey(u.ModuleCategoryID),
				fieldModuleState, u.ModuleState,
				fieldLastUpdatedUtc, FormatTimestamp(s.now()),
			)
			pipe.SAdd(ctx, s.indexKey(), u.ModuleCategoryID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis upsert failed: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, moduleID string) (models.ModuleRecord, error) {
	fields, err := s.client.HGetAll(ctx, s.moduleKey(moduleID)).Result()
	if err != nil {
		return models.ModuleRecord{}, fmt.Errorf("failed to get module %s: %w", moduleID, err)
	}
	if len(fields) == 0 {
		return models.ModuleRecord{}, notFound(moduleID)
	}
	return models.ModuleRecord{
		ModuleCategoryID: moduleID,
		ModuleState:      fields[fieldModuleState],
		LastUpdatedUtc:   fields[fieldLastUpdatedUtc],
	}, nil
}

func (s *RedisStore) List(ctx context.Context) ([]models.ModuleRecord, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis SMembers failed: %w", err)
	}
	sort.Strings(ids)

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.moduleKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis pipeline failed: %w", err)
	}

	records := make([]models.ModuleRecord, 0, len(ids))
	for i, id := range ids {
		fields := cmds[i].Val()
		if len(fields) == 0 {
			continue
		}
		records = append(records, models.ModuleRecord{
			ModuleCategoryID: id,
			ModuleState:      fields[fieldModuleState],
			LastUpdatedUtc:   fields[fieldLastUpdatedUtc],
		})
	}
	return records, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
