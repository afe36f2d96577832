package store

import (
	"context"
	"time"

	"statusflow/pkg/errors"
	"statusflow/pkg/metrics"
	"statusflow/pkg/models"
)

// TimestampLayout is the fixed-width ISO-8601 UTC form of lastUpdatedUtc.
const TimestampLayout = "2006-01-02T15:04:05.0000000Z"

var (
	ErrNotFound  = errors.ErrNotFound.WithMessage("module not found")
	ErrInvalidID = errors.ErrValidation.WithMessage("module category id is required")
)

// Store persists the latest state of each module. Upsert is atomic per key and
// safe for concurrent use. UpsertMany applies updates in order inside one
// transaction, so a later update of the same key wins.
type Store interface {
	Init(ctx context.Context) error
	Upsert(ctx context.Context, moduleID, state string) error
	UpsertMany(ctx context.Context, updates []models.ModuleUpdate) error
	Get(ctx context.Context, moduleID string) (models.ModuleRecord, error)
	List(ctx context.Context) ([]models.ModuleRecord, error)
	Ping(ctx context.Context) error
	Close() error
}

type Option func(*storeOptions)

type storeOptions struct {
	now func() time.Time
}

// WithClock overrides the time source used for lastUpdatedUtc.
func WithClock(now func() time.Time) Option {
	return func(o *storeOptions) {
		o.now = now
	}
}

func buildOptions(opts []Option) storeOptions {
	o := storeOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

func notFound(moduleID string) error {
	return ErrNotFound.WithDetail("module_category_id", moduleID)
}

func validateUpdates(updates []models.ModuleUpdate) error {
	for _, u := range updates {
		if u.ModuleCategoryID == "" {
			return ErrInvalidID
		}
	}
	return nil
}

func observe(storeType, operation string, start time.Time, err error) {
	status := "ok"
	if err != nil && !errors.IsNotFound(err) {
		status = "error"
	}
	metrics.IncStoreOperation(storeType, operation, status)
	metrics.ObserveStoreOperationDuration(storeType, operation, time.Since(start))
}
