package apply

import (
	"context"
	"errors"
	"sort"
	"sync"

	"statusflow/internal/store"
	"statusflow/pkg/models"
)

var errStoreDown = errors.New("database is locked")

// memStore is a map-backed store.Store that can fail writes for given ids.
type memStore struct {
	mu      sync.Mutex
	records map[string]models.ModuleRecord
	failOn  map[string]bool
	upserts []models.ModuleUpdate
	batches int
	listErr error
}

func newMemStore() *memStore {
	return &memStore{
		records: make(map[string]models.ModuleRecord),
		failOn:  make(map[string]bool),
	}
}

func (s *memStore) Init(ctx context.Context) error { return nil }
func (s *memStore) Ping(ctx context.Context) error { return nil }
func (s *memStore) Close() error                   { return nil }

func (s *memStore) Upsert(ctx context.Context, moduleID, state string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn[moduleID] {
		return errStoreDown
	}
	s.put(moduleID, state)
	return nil
}

func (s *memStore) UpsertMany(ctx context.Context, updates []models.ModuleUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches++
	for _, u := range updates {
		if s.failOn[u.ModuleCategoryID] {
			return errStoreDown
		}
	}
	for _, u := range updates {
		s.put(u.ModuleCategoryID, u.ModuleState)
	}
	return nil
}

func (s *memStore) put(moduleID, state string) {
	s.upserts = append(s.upserts, models.ModuleUpdate{ModuleCategoryID: moduleID, ModuleState: state})
	s.records[moduleID] = models.ModuleRecord{
		ModuleCategoryID: moduleID,
		ModuleState:      state,
		LastUpdatedUtc:   "2024-03-01T12:00:00.0000000Z",
	}
}

func (s *memStore) Get(ctx context.Context, moduleID string) (models.ModuleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[moduleID]
	if !ok {
		return models.ModuleRecord{}, store.ErrNotFound
	}
	return r, nil
}

func (s *memStore) List(ctx context.Context) ([]models.ModuleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]models.ModuleRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModuleCategoryID < out[j].ModuleCategoryID })
	return out, nil
}

func (s *memStore) state(moduleID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[moduleID]
	return r.ModuleState, ok
}
