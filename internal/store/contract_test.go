package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "statusflow/pkg/errors"
	"statusflow/pkg/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// runStoreContract exercises behaviour every backend must share. newStore
// must return an empty store using the given clock.
func runStoreContract(t *testing.T, newStore func(t *testing.T, clock *fakeClock) Store) {
	ctx := context.Background()

	t.Run("init is idempotent", func(t *testing.T) {
		s := newStore(t, newFakeClock())
		require.NoError(t, s.Init(ctx))
		require.NoError(t, s.Init(ctx))
		require.NoError(t, s.Ping(ctx))
	})

	t.Run("get missing module", func(t *testing.T) {
		s := newStore(t, newFakeClock())
		require.NoError(t, s.Init(ctx))

		_, err := s.Get(ctx, "M404")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("upsert twice keeps one row with second timestamp", func(t *testing.T) {
		clock := newFakeClock()
		s := newStore(t, clock)
		require.NoError(t, s.Init(ctx))

		require.NoError(t, s.Upsert(ctx, "M1", "Online"))
		clock.Advance(1500 * time.Millisecond)
		require.NoError(t, s.Upsert(ctx, "M1", "Online"))

		rec, err := s.Get(ctx, "M1")
		require.NoError(t, err)
		assert.Equal(t, "Online", rec.ModuleState)
		assert.Equal(t, "2024-03-01T12:00:01.5000000Z", rec.LastUpdatedUtc)

		all, err := s.List(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("upsert overwrites state", func(t *testing.T) {
		s := newStore(t, newFakeClock())
		require.NoError(t, s.Init(ctx))

		require.NoError(t, s.Upsert(ctx, "M1", "Online"))
		require.NoError(t, s.Upsert(ctx, "M1", "Offline"))

		rec, err := s.Get(ctx, "M1")
		require.NoError(t, err)
		assert.Equal(t, "Offline", rec.ModuleState)
	})

	t.Run("upsert many applies in order", func(t *testing.T) {
		s := newStore(t, newFakeClock())
		require.NoError(t, s.Init(ctx))

		require.NoError(t, s.UpsertMany(ctx, []models.ModuleUpdate{
			{ModuleCategoryID: "M2", ModuleState: "Run"},
			{ModuleCategoryID: "M1", ModuleState: "Online"},
			{ModuleCategoryID: "M2", ModuleState: "NotReady"},
		}))

		all, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "M1", all[0].ModuleCategoryID)
		assert.Equal(t, "M2", all[1].ModuleCategoryID)
		assert.Equal(t, "NotReady", all[1].ModuleState)
	})

	t.Run("empty id is rejected", func(t *testing.T) {
		s := newStore(t, newFakeClock())
		require.NoError(t, s.Init(ctx))

		assert.ErrorIs(t, s.Upsert(ctx, "", "Online"), ErrInvalidID)
		assert.ErrorIs(t, s.UpsertMany(ctx, []models.ModuleUpdate{
			{ModuleCategoryID: "M1", ModuleState: "Online"},
			{ModuleCategoryID: "", ModuleState: "Run"},
		}), ErrInvalidID)

		all, err := s.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("concurrent upserts of distinct keys", func(t *testing.T) {
		s := newStore(t, newFakeClock())
		require.NoError(t, s.Init(ctx))

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				assert.NoError(t, s.Upsert(ctx, fmt.Sprintf("M%02d", i), "Run"))
			}(i)
		}
		wg.Wait()

		all, err := s.List(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 20)
	})
}

func TestFormatTimestamp(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 123456789, time.FixedZone("CET", 3600))
	assert.Equal(t, "2024-01-02T02:04:05.1234567Z", FormatTimestamp(ts))
	assert.Equal(t, "2024-01-02T02:04:05.0000000Z", FormatTimestamp(ts.Truncate(time.Second)))
}

func TestBuildOptions(t *testing.T) {
	o := buildOptions(nil)
	require.NotNil(t, o.now)

	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	o = buildOptions([]Option{WithClock(func() time.Time { return fixed })})
	assert.Equal(t, fixed, o.now())
}
