package memory

import (
	"context"
	"sort"
	"sync"

	"market-pit-lab/internal/domain"
	"market-pit-lab/internal/storage"
)

// WorldStateManifestStore is an in-memory implementation of storage.WorldStateManifestStore.
type WorldStateManifestStore struct {
	mu   sync.RWMutex
	data map[string]*domain.WorldStateManifest // keyed by manifest_id
}

// NewWorldStateManifestStore creates a new in-memory manifest store.
func NewWorldStateManifestStore() *WorldStateManifestStore {
	return &WorldStateManifestStore{
		data: make(map[string]*domain.WorldStateManifest),
	}
}

func copyManifest(m *domain.WorldStateManifest) *domain.WorldStateManifest {
	copy := *m
	copy.Universe = append([]string(nil), m.Universe...)
	copy.DatasetVersions = append([]domain.DatasetVersion(nil), m.DatasetVersions...)
	copy.SkipReport = append([]domain.SkipEntry(nil), m.SkipReport...)
	return &copy
}

// Insert adds a new manifest. Returns ErrDuplicateKey if manifest_id exists.
func (s *WorldStateManifestStore) Insert(_ context.Context, m *domain.WorldStateManifest) error {
	if m == nil || m.ManifestID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[m.ManifestID]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[m.ManifestID] = copyManifest(m)
	return nil
}

// GetByID retrieves a manifest by its ID. Returns ErrNotFound if not exists.
func (s *WorldStateManifestStore) GetByID(_ context.Context, manifestID string) (*domain.WorldStateManifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, exists := s.data[manifestID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	return copyManifest(m), nil
}

// GetAll retrieves all manifests, ordered by manifest_id ASC.
func (s *WorldStateManifestStore) GetAll(_ context.Context) ([]*domain.WorldStateManifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.WorldStateManifest, 0, len(s.data))
	for _, m := range s.data {
		result = append(result, copyManifest(m))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ManifestID < result[j].ManifestID
	})

	return result, nil
}

var _ storage.WorldStateManifestStore = (*WorldStateManifestStore)(nil)
