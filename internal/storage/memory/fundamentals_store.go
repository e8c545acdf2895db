package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"market-pit-lab/internal/domain"
	"market-pit-lab/internal/storage"
)

// FundamentalsStore is an in-memory implementation of storage.FundamentalsStore.
type FundamentalsStore struct {
	mu   sync.RWMutex
	data map[string]*domain.FundamentalsRow // keyed by composite key
}

// NewFundamentalsStore creates a new in-memory fundamentals store.
func NewFundamentalsStore() *FundamentalsStore {
	return &FundamentalsStore{
		data: make(map[string]*domain.FundamentalsRow),
	}
}

// fundamentalsKey generates a unique key for a fundamentals row.
func fundamentalsKey(symbol string, publishedAtMs, ingestSeq int64) string {
	return fmt.Sprintf("%s|%d|%d", symbol, publishedAtMs, ingestSeq)
}

func copyFundamentalsRow(r *domain.FundamentalsRow) *domain.FundamentalsRow {
	copy := *r
	if r.Fields != nil {
		copy.Fields = make(map[string]float64, len(r.Fields))
		for k, v := range r.Fields {
			copy.Fields[k] = v
		}
	}
	return &copy
}

// InsertBulk adds multiple rows. Fails entire batch on any duplicate.
func (s *FundamentalsStore) InsertBulk(_ context.Context, rows []*domain.FundamentalsRow) error {
	if len(rows) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(rows))

	for _, r := range rows {
		if r == nil || r.Symbol == "" {
			return storage.ErrInvalidInput
		}
		key := fundamentalsKey(r.Symbol, r.PublishedAtMs, r.IngestSeq)

		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, r := range rows {
		key := fundamentalsKey(r.Symbol, r.PublishedAtMs, r.IngestSeq)
		s.data[key] = copyFundamentalsRow(r)
	}

	return nil
}

// GetBySymbol retrieves all rows for a symbol, ordered by publication
// timestamp ASC then ingest sequence ASC.
func (s *FundamentalsStore) GetBySymbol(_ context.Context, symbol string) ([]*domain.FundamentalsRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.FundamentalsRow
	for _, r := range s.data {
		if r.Symbol == symbol {
			result = append(result, copyFundamentalsRow(r))
		}
	}

	sortFundamentals(result)
	return result, nil
}

// GetPublishedUpTo retrieves rows for a symbol with published_at_ms <= asOf.
func (s *FundamentalsStore) GetPublishedUpTo(_ context.Context, symbol string, asOf int64) ([]*domain.FundamentalsRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.FundamentalsRow
	for _, r := range s.data {
		if r.Symbol == symbol && r.PublishedAtMs <= asOf {
			result = append(result, copyFundamentalsRow(r))
		}
	}

	sortFundamentals(result)
	return result, nil
}

func sortFundamentals(rows []*domain.FundamentalsRow) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].PublishedAtMs != rows[j].PublishedAtMs {
			return rows[i].PublishedAtMs < rows[j].PublishedAtMs
		}
		return rows[i].IngestSeq < rows[j].IngestSeq
	})
}

var _ storage.FundamentalsStore = (*FundamentalsStore)(nil)
