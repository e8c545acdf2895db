package memory

import (
	"context"
	"sort"
	"sync"

	"market-pit-lab/internal/domain"
	"market-pit-lab/internal/storage"
)

// RunManifestStore is an in-memory implementation of storage.RunManifestStore.
type RunManifestStore struct {
	mu   sync.RWMutex
	data map[string]*domain.RunManifest // keyed by run_id
}

// NewRunManifestStore creates a new in-memory run manifest store.
func NewRunManifestStore() *RunManifestStore {
	return &RunManifestStore{
		data: make(map[string]*domain.RunManifest),
	}
}

// Insert adds a new run manifest. Returns ErrDuplicateKey if run_id exists.
func (s *RunManifestStore) Insert(_ context.Context, r *domain.RunManifest) error {
	if r == nil || r.RunID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[r.RunID]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *r
	s.data[r.RunID] = &copy
	return nil
}

// GetByID retrieves a run manifest by its ID. Returns ErrNotFound if not exists.
func (s *RunManifestStore) GetByID(_ context.Context, runID string) (*domain.RunManifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.data[runID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	copy := *r
	return &copy, nil
}

// GetByManifestID retrieves all runs executed against a world-state manifest.
func (s *RunManifestStore) GetByManifestID(_ context.Context, manifestID string) ([]*domain.RunManifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.RunManifest
	for _, r := range s.data {
		if r.WorldStateManifestID == manifestID {
			copy := *r
			result = append(result, &copy)
		}
	}

	sortRuns(result)
	return result, nil
}

// GetByStrategyVersion retrieves all runs for a strategy version.
func (s *RunManifestStore) GetByStrategyVersion(_ context.Context, strategyVersionID string) ([]*domain.RunManifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.RunManifest
	for _, r := range s.data {
		if r.StrategyVersionID == strategyVersionID {
			copy := *r
			result = append(result, &copy)
		}
	}

	sortRuns(result)
	return result, nil
}

func sortRuns(runs []*domain.RunManifest) {
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].RunID < runs[j].RunID
	})
}

var _ storage.RunManifestStore = (*RunManifestStore)(nil)
