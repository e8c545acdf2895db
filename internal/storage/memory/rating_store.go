package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"market-pit-lab/internal/domain"
	"market-pit-lab/internal/storage"
)

// RatingStore is an in-memory implementation of storage.RatingStore.
type RatingStore struct {
	mu   sync.RWMutex
	data map[string]*domain.RatingEvent // keyed by composite key
}

// NewRatingStore creates a new in-memory rating store.
func NewRatingStore() *RatingStore {
	return &RatingStore{
		data: make(map[string]*domain.RatingEvent),
	}
}

// ratingKey generates a unique key for a rating event.
func ratingKey(symbol string, revisedAtMs, ingestSeq int64) string {
	return fmt.Sprintf("%s|%d|%d", symbol, revisedAtMs, ingestSeq)
}

// InsertBulk adds multiple events. Fails entire batch on any duplicate.
func (s *RatingStore) InsertBulk(_ context.Context, events []*domain.RatingEvent) error {
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(events))

	for _, e := range events {
		if e == nil || e.Symbol == "" {
			return storage.ErrInvalidInput
		}
		key := ratingKey(e.Symbol, e.RevisedAtMs, e.IngestSeq)

		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, e := range events {
		key := ratingKey(e.Symbol, e.RevisedAtMs, e.IngestSeq)
		copy := *e
		s.data[key] = &copy
	}

	return nil
}

// GetBySymbol retrieves all events for a symbol, ordered by revision
// timestamp ASC then ingest sequence ASC.
func (s *RatingStore) GetBySymbol(_ context.Context, symbol string) ([]*domain.RatingEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.RatingEvent
	for _, e := range s.data {
		if e.Symbol == symbol {
			copy := *e
			result = append(result, &copy)
		}
	}

	sortRatings(result)
	return result, nil
}

// GetRevisedUpTo retrieves events for a symbol with revised_at_ms <= asOf.
func (s *RatingStore) GetRevisedUpTo(_ context.Context, symbol string, asOf int64) ([]*domain.RatingEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.RatingEvent
	for _, e := range s.data {
		if e.Symbol == symbol && e.RevisedAtMs <= asOf {
			copy := *e
			result = append(result, &copy)
		}
	}

	sortRatings(result)
	return result, nil
}

func sortRatings(events []*domain.RatingEvent) {
	sort.Slice(events, func(i, j int) bool {
		if events[i].RevisedAtMs != events[j].RevisedAtMs {
			return events[i].RevisedAtMs < events[j].RevisedAtMs
		}
		return events[i].IngestSeq < events[j].IngestSeq
	})
}

var _ storage.RatingStore = (*RatingStore)(nil)
