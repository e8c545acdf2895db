package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"market-pit-lab/internal/domain"
	"market-pit-lab/internal/storage"
)

// CorporateActionStore is an in-memory implementation of storage.CorporateActionStore.
type CorporateActionStore struct {
	mu   sync.RWMutex
	data map[string]*domain.CorporateAction // keyed by composite key
}

// NewCorporateActionStore creates a new in-memory corporate action store.
func NewCorporateActionStore() *CorporateActionStore {
	return &CorporateActionStore{
		data: make(map[string]*domain.CorporateAction),
	}
}

// actionKey generates a unique key for a corporate action.
func actionKey(symbol string, effectiveAtMs, ingestSeq int64) string {
	return fmt.Sprintf("%s|%d|%d", symbol, effectiveAtMs, ingestSeq)
}

// InsertBulk adds multiple actions. Fails entire batch on any duplicate.
func (s *CorporateActionStore) InsertBulk(_ context.Context, actions []*domain.CorporateAction) error {
	if len(actions) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(actions))

	for _, a := range actions {
		if a == nil || a.Symbol == "" {
			return storage.ErrInvalidInput
		}
		key := actionKey(a.Symbol, a.EffectiveAtMs, a.IngestSeq)

		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, a := range actions {
		key := actionKey(a.Symbol, a.EffectiveAtMs, a.IngestSeq)
		copy := *a
		s.data[key] = &copy
	}

	return nil
}

// GetBySymbol retrieves all actions for a symbol, ordered by effective
// timestamp ASC then ingest sequence ASC.
func (s *CorporateActionStore) GetBySymbol(_ context.Context, symbol string) ([]*domain.CorporateAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.CorporateAction
	for _, a := range s.data {
		if a.Symbol == symbol {
			copy := *a
			result = append(result, &copy)
		}
	}

	sortActions(result)
	return result, nil
}

// GetEffectiveUpTo retrieves actions for a symbol with effective_at_ms <= asOf.
func (s *CorporateActionStore) GetEffectiveUpTo(_ context.Context, symbol string, asOf int64) ([]*domain.CorporateAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.CorporateAction
	for _, a := range s.data {
		if a.Symbol == symbol && a.EffectiveAtMs <= asOf {
			copy := *a
			result = append(result, &copy)
		}
	}

	sortActions(result)
	return result, nil
}

func sortActions(actions []*domain.CorporateAction) {
	sort.Slice(actions, func(i, j int) bool {
		if actions[i].EffectiveAtMs != actions[j].EffectiveAtMs {
			return actions[i].EffectiveAtMs < actions[j].EffectiveAtMs
		}
		return actions[i].IngestSeq < actions[j].IngestSeq
	})
}

var _ storage.CorporateActionStore = (*CorporateActionStore)(nil)
