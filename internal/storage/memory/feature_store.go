package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"market-pit-lab/internal/domain"
	"market-pit-lab/internal/storage"
)

// FeatureStore is an in-memory implementation of storage.FeatureStore.
type FeatureStore struct {
	mu   sync.RWMutex
	data map[string]*domain.FeaturePoint // keyed by composite key
}

// NewFeatureStore creates a new in-memory feature store.
func NewFeatureStore() *FeatureStore {
	return &FeatureStore{
		data: make(map[string]*domain.FeaturePoint),
	}
}

// featureKey generates a unique key for a feature point.
func featureKey(symbol string, timestampMs int64, name string) string {
	return fmt.Sprintf("%s|%d|%s", symbol, timestampMs, name)
}

// InsertBulk adds multiple points. Fails entire batch on any duplicate.
func (s *FeatureStore) InsertBulk(_ context.Context, points []*domain.FeaturePoint) error {
	if len(points) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(points))

	for _, p := range points {
		if p == nil || p.Symbol == "" || p.Name == "" {
			return storage.ErrInvalidInput
		}
		key := featureKey(p.Symbol, p.TimestampMs, p.Name)

		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, p := range points {
		key := featureKey(p.Symbol, p.TimestampMs, p.Name)
		copy := *p
		s.data[key] = &copy
	}

	return nil
}

// GetBySymbol retrieves all points for a symbol, ordered by timestamp ASC then name ASC.
func (s *FeatureStore) GetBySymbol(_ context.Context, symbol string) ([]*domain.FeaturePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.FeaturePoint
	for _, p := range s.data {
		if p.Symbol == symbol {
			copy := *p
			result = append(result, &copy)
		}
	}

	sortFeatures(result)
	return result, nil
}

// GetByTimeRange retrieves points for a symbol within [start, end] (inclusive).
func (s *FeatureStore) GetByTimeRange(_ context.Context, symbol string, start, end int64) ([]*domain.FeaturePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.FeaturePoint
	for _, p := range s.data {
		if p.Symbol == symbol && p.TimestampMs >= start && p.TimestampMs <= end {
			copy := *p
			result = append(result, &copy)
		}
	}

	sortFeatures(result)
	return result, nil
}

func sortFeatures(points []*domain.FeaturePoint) {
	sort.Slice(points, func(i, j int) bool {
		if points[i].TimestampMs != points[j].TimestampMs {
			return points[i].TimestampMs < points[j].TimestampMs
		}
		return points[i].Name < points[j].Name
	})
}

var _ storage.FeatureStore = (*FeatureStore)(nil)
