package memory

import (
	"context"
	"sort"
	"sync"

	"market-pit-lab/internal/domain"
	"market-pit-lab/internal/storage"
)

// StrategyVersionStore is an in-memory implementation of storage.StrategyVersionStore.
type StrategyVersionStore struct {
	mu   sync.RWMutex
	data map[string]*domain.StrategyVersion // keyed by version_id
}

// NewStrategyVersionStore creates a new in-memory strategy version store.
func NewStrategyVersionStore() *StrategyVersionStore {
	return &StrategyVersionStore{
		data: make(map[string]*domain.StrategyVersion),
	}
}

// Insert adds a new version. Returns ErrDuplicateKey if version_id exists.
func (s *StrategyVersionStore) Insert(_ context.Context, v *domain.StrategyVersion) error {
	if v == nil || v.VersionID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[v.VersionID]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *v
	s.data[v.VersionID] = &copy
	return nil
}

// GetByID retrieves a version by its ID. Returns ErrNotFound if not exists.
func (s *StrategyVersionStore) GetByID(_ context.Context, versionID string) (*domain.StrategyVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, exists := s.data[versionID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	copy := *v
	return &copy, nil
}

// GetByName retrieves all versions of a named strategy, ordered by version_id ASC.
func (s *StrategyVersionStore) GetByName(_ context.Context, name string) ([]*domain.StrategyVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.StrategyVersion
	for _, v := range s.data {
		if v.Name == name {
			copy := *v
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].VersionID < result[j].VersionID
	})

	return result, nil
}

var _ storage.StrategyVersionStore = (*StrategyVersionStore)(nil)
