package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statusflow/internal/config"
	"statusflow/internal/logger"
)

func newTestSQLiteStore(t *testing.T, clock *fakeClock) Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "instrument.db")
	s, err := NewSQLiteStore(config.SQLiteConfig{Path: path}, logger.NopLogger(), WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_Contract(t *testing.T) {
	runStoreContract(t, newTestSQLiteStore)
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	cfg := config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "instrument.db")}

	s, err := NewSQLiteStore(cfg, logger.NopLogger())
	require.NoError(t, err)
	require.NoError(t, s.Init(ctx))
	require.NoError(t, s.Upsert(ctx, "M1", "Run"))
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(cfg, logger.NopLogger())
	require.NoError(t, err)
	defer reopened.Close()
	require.NoError(t, reopened.Init(ctx))

	rec, err := reopened.Get(ctx, "M1")
	require.NoError(t, err)
	assert.Equal(t, "Run", rec.ModuleState)
}

func TestSQLiteStore_UsesModulesTable(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t, newFakeClock()).(*SQLiteStore)
	require.NoError(t, s.Init(ctx))
	require.NoError(t, s.Upsert(ctx, "M1", "Online"))

	var state, updated string
	row := s.db.Raw(`SELECT ModuleState, LastUpdatedUtc FROM Modules WHERE ModuleCategoryID = ?`, "M1").Row()
	require.NoError(t, row.Scan(&state, &updated))
	assert.Equal(t, "Online", state)
	assert.Equal(t, "2024-03-01T12:00:00.0000000Z", updated)
}

func TestSQLiteDSN(t *testing.T) {
	dsn := sqliteDSN(config.SQLiteConfig{Path: "instrument.db"})
	assert.Contains(t, dsn, "instrument.db?")
	assert.Contains(t, dsn, "busy_timeout%285000%29")
	assert.Contains(t, dsn, "journal_mode%28WAL%29")

	assert.NotContains(t, sqliteDSN(config.SQLiteConfig{Path: ":memory:"}), "journal_mode")
}

func TestPostgresDSN(t *testing.T) {
	dsn := PostgresDSN(config.PostgresConfig{
		Host:     "db",
		Port:     5432,
		User:     "app",
		Password: "p@ss",
		DBName:   "status",
		SSLMode:  "disable",
	})
	assert.Equal(t, "postgres://app:p%40ss@db:5432/status?sslmode=disable", dsn)
}

func TestNew_SelectsBackend(t *testing.T) {
	ctx := context.Background()
	cfg := config.StoreConfig{
		Type:   "sqlite",
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "instrument.db")},
	}

	s, err := New(ctx, cfg, config.CircuitBreakerConfig{}, logger.NopLogger())
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	s, err = New(ctx, cfg, config.CircuitBreakerConfig{Enabled: true}, logger.NopLogger())
	require.NoError(t, err)
	assert.IsType(t, &CircuitBreakerStore{}, s)
	require.NoError(t, s.Close())

	_, err = New(ctx, config.StoreConfig{Type: "cassandra"}, config.CircuitBreakerConfig{}, logger.NopLogger())
	assert.Error(t, err)
}
