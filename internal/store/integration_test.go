//go:build integration

package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	redisclient "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	postgresmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	redismodule "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"statusflow/internal/config"
	"statusflow/internal/logger"
)

const containerStartupTimeout = 60 * time.Second

var sequence atomic.Int64

func uniqueName(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, sequence.Add(1))
}

func TestMain(m *testing.M) {
	if os.Getenv("TESTCONTAINERS_RYUK_DISABLED") == "" {
		os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
	}
	os.Exit(m.Run())
}

func TestPostgresStore_Integration(t *testing.T) {
	ctx := context.Background()

	container, err := postgresmodule.Run(ctx, "postgres:15",
		postgresmodule.WithDatabase("test_db"),
		postgresmodule.WithUsername("test_user"),
		postgresmodule.WithPassword("test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("5432/tcp").WithStartupTimeout(containerStartupTimeout),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	runStoreContract(t, func(t *testing.T, clock *fakeClock) Store {
		db, err := openPostgres(ctx, dsn)
		require.NoError(t, err)

		s := NewPostgresStore(db, dsn, logger.NopLogger(), WithClock(clock.Now))
		require.NoError(t, s.Init(ctx))
		_, err = db.ExecContext(ctx, "TRUNCATE modules")
		require.NoError(t, err)

		t.Cleanup(func() { s.Close() })
		return s
	})

	t.Run("schema matches persisted layout", func(t *testing.T) {
		db, err := sql.Open("postgres", dsn)
		require.NoError(t, err)
		defer db.Close()

		var count int
		err = db.QueryRowContext(ctx, `
			SELECT count(*) FROM information_schema.columns
			WHERE table_name = 'modules'
			AND column_name IN ('module_category_id', 'module_state', 'last_updated_utc')
		`).Scan(&count)
		require.NoError(t, err)
		require.Equal(t, 3, count)
	})
}

func TestMongoStore_Integration(t *testing.T) {
	ctx := context.Background()

	container, err := mongodb.Run(ctx, "mongo:6",
		mongodb.WithReplicaSet("rs0"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("Waiting for connections").WithStartupTimeout(containerStartupTimeout),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(ctx) })

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetDirect(true))
	require.NoError(t, err)
	t.Cleanup(func() { client.Disconnect(ctx) })

	runStoreContract(t, func(t *testing.T, clock *fakeClock) Store {
		cfg := config.MongoDBConfig{Database: "test_db", Collection: uniqueName("modules")}
		return &MongoStore{
			client:     client,
			collection: client.Database(cfg.Database).Collection(cfg.Collection),
			now:        clock.Now,
			logger:     logger.NopLogger(),
		}
	})
}

func TestRedisStore_Integration(t *testing.T) {
	ctx := context.Background()

	container, err := redismodule.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(ctx) })

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	opt, err := redisclient.ParseURL(uri)
	require.NoError(t, err)

	runStoreContract(t, func(t *testing.T, clock *fakeClock) Store {
		client := redisclient.NewClient(opt)
		s := NewRedisStore(client, uniqueName("module")+":", logger.NopLogger(), WithClock(clock.Now))
		t.Cleanup(func() { s.Close() })
		return s
	})
}
