// Package memory provides in-memory implementations of the storage
// interfaces, used by tests and single-process runs.
package memory

import (
	"context"
	"sort"
	"sync"

	"market-pit-lab/internal/domain"
	"market-pit-lab/internal/storage"
)

// InstrumentStore is an in-memory implementation of storage.InstrumentStore.
type InstrumentStore struct {
	mu   sync.RWMutex
	data map[string]*domain.InstrumentMaster // keyed by symbol
}

// NewInstrumentStore creates a new in-memory instrument store.
func NewInstrumentStore() *InstrumentStore {
	return &InstrumentStore{
		data: make(map[string]*domain.InstrumentMaster),
	}
}

// Insert adds a new instrument. Returns ErrDuplicateKey if symbol exists.
func (s *InstrumentStore) Insert(_ context.Context, m *domain.InstrumentMaster) error {
	if m == nil || m.Symbol == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[m.Symbol]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *m
	s.data[m.Symbol] = &copy
	return nil
}

// GetBySymbol retrieves an instrument. Returns ErrNotFound if not exists.
func (s *InstrumentStore) GetBySymbol(_ context.Context, symbol string) (*domain.InstrumentMaster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, exists := s.data[symbol]
	if !exists {
		return nil, storage.ErrNotFound
	}

	copy := *m
	return &copy, nil
}

// GetAll retrieves all instruments, ordered by symbol ASC.
func (s *InstrumentStore) GetAll(_ context.Context) ([]*domain.InstrumentMaster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.InstrumentMaster, 0, len(s.data))
	for _, m := range s.data {
		copy := *m
		result = append(result, &copy)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Symbol < result[j].Symbol
	})

	return result, nil
}

var _ storage.InstrumentStore = (*InstrumentStore)(nil)
