package memory

import (
	"context"
	"sort"
	"sync"

	"market-pit-lab/internal/domain"
	"market-pit-lab/internal/storage"
)

// TuningRunStore is an in-memory implementation of storage.TuningRunStore.
type TuningRunStore struct {
	mu   sync.RWMutex
	data map[string]*domain.TuningRun // keyed by tuning_run_id
}

// NewTuningRunStore creates a new in-memory tuning run store.
func NewTuningRunStore() *TuningRunStore {
	return &TuningRunStore{
		data: make(map[string]*domain.TuningRun),
	}
}

func copyTuningRun(r *domain.TuningRun) *domain.TuningRun {
	copy := *r
	copy.Trials = append([]domain.TrialResult(nil), r.Trials...)
	copy.Rejected = append([]domain.RejectedCandidate(nil), r.Rejected...)
	copy.Best = append([]domain.TrialResult(nil), r.Best...)
	copy.Sensitivity = append([]domain.SensitivityEntry(nil), r.Sensitivity...)
	return &copy
}

// Insert adds a new tuning run. Returns ErrDuplicateKey if tuning_run_id exists.
func (s *TuningRunStore) Insert(_ context.Context, r *domain.TuningRun) error {
	if r == nil || r.TuningRunID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[r.TuningRunID]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[r.TuningRunID] = copyTuningRun(r)
	return nil
}

// GetByID retrieves a tuning run by its ID. Returns ErrNotFound if not exists.
func (s *TuningRunStore) GetByID(_ context.Context, tuningRunID string) (*domain.TuningRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.data[tuningRunID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	return copyTuningRun(r), nil
}

// GetByManifestID retrieves all tuning runs against a world-state manifest,
// ordered by tuning_run_id ASC.
func (s *TuningRunStore) GetByManifestID(_ context.Context, manifestID string) ([]*domain.TuningRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TuningRun
	for _, r := range s.data {
		if r.ManifestID == manifestID {
			result = append(result, copyTuningRun(r))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].TuningRunID < result[j].TuningRunID
	})

	return result, nil
}

var _ storage.TuningRunStore = (*TuningRunStore)(nil)
