package store

import (
	"context"
	"fmt"

	"statusflow/internal/config"
	"statusflow/pkg/circuitbreaker"
	"statusflow/pkg/errors"
	"statusflow/pkg/models"
)

// CircuitBreakerStore guards write and read calls of another Store. Not-found
// and validation results do not count as failures. Init, Ping and Close pass
// through unguarded.
type CircuitBreakerStore struct {
	Store
	cb *circuitbreaker.Wrapper
}

func NewCircuitBreakerStore(s Store, name string, cfg config.CircuitBreakerConfig) *CircuitBreakerStore {
	cbConfig := circuitbreaker.FromSettings(name, cfg)
	cbConfig.IsSuccessful = func(err error) bool {
		return err == nil || errors.IsNotFound(err) || errors.IsValidation(err)
	}
	return &CircuitBreakerStore{
		Store: s,
		cb:    circuitbreaker.NewWrapper(cbConfig),
	}
}

func (s *CircuitBreakerStore) Upsert(ctx context.Context, moduleID, state string) error {
	_, err := s.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return nil, s.Store.Upsert(ctx, moduleID, state)
	})
	return s.wrap(err)
}

func (s *CircuitBreakerStore) UpsertMany(ctx context.Context, updates []models.ModuleUpdate) error {
	_, err := s.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return nil, s.Store.UpsertMany(ctx, updates)
	})
	return s.wrap(err)
}

func (s *CircuitBreakerStore) Get(ctx context.Context, moduleID string) (models.ModuleRecord, error) {
	result, err := s.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return s.Store.Get(ctx, moduleID)
	})
	if err != nil {
		return models.ModuleRecord{}, s.wrap(err)
	}

	record, ok := result.(models.ModuleRecord)
	if !ok {
		return models.ModuleRecord{}, fmt.Errorf("store returned invalid result type")
	}
	return record, nil
}

func (s *CircuitBreakerStore) List(ctx context.Context) ([]models.ModuleRecord, error) {
	result, err := s.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return s.Store.List(ctx)
	})
	if err != nil {
		return nil, s.wrap(err)
	}

	records, ok := result.([]models.ModuleRecord)
	if !ok {
		return nil, fmt.Errorf("store returned invalid result type")
	}
	return records, nil
}

func (s *CircuitBreakerStore) State() string {
	return s.cb.State().String()
}

func (s *CircuitBreakerStore) wrap(err error) error {
	if err != nil && circuitbreaker.IsRejected(err) {
		return errors.ErrServiceUnavailable.
			WithMessage(fmt.Sprintf("circuit breaker is open for %s", s.cb.Name())).
			WithCause(err)
	}
	return err
}
