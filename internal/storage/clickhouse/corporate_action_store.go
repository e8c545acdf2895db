package clickhouse

import (
	"context"
	"fmt"

	"market-pit-lab/internal/domain"
	"market-pit-lab/internal/storage"
)

// CorporateActionStore implements storage.CorporateActionStore using ClickHouse.
type CorporateActionStore struct {
	conn *Conn
}

// NewCorporateActionStore creates a new CorporateActionStore.
func NewCorporateActionStore(conn *Conn) *CorporateActionStore {
	return &CorporateActionStore{conn: conn}
}

// Compile-time interface check.
var _ storage.CorporateActionStore = (*CorporateActionStore)(nil)

// InsertBulk adds multiple actions. Fails entire batch on duplicate (symbol, effective_at_ms, ingest_seq).
func (s *CorporateActionStore) InsertBulk(ctx context.Context, actions []*domain.CorporateAction) error {
	if len(actions) == 0 {
		return nil
	}

	type key struct {
		symbol        string
		effectiveAtMs int64
		ingestSeq     int64
	}
	seen := make(map[key]struct{})
	for _, a := range actions {
		k := key{a.Symbol, a.EffectiveAtMs, a.IngestSeq}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	for _, a := range actions {
		exists, err := s.exists(ctx, a.Symbol, a.EffectiveAtMs, a.IngestSeq)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO corporate_actions (symbol, effective_at_ms, ingest_seq, action_type, value)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, a := range actions {
		if err := batch.Append(a.Symbol, a.EffectiveAtMs, a.IngestSeq, a.ActionType, a.Value); err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetBySymbol retrieves all actions for a symbol, ordered by effective
// timestamp ASC then ingest sequence ASC.
func (s *CorporateActionStore) GetBySymbol(ctx context.Context, symbol string) ([]*domain.CorporateAction, error) {
	query := `
		SELECT symbol, effective_at_ms, ingest_seq, action_type, value
		FROM corporate_actions
		WHERE symbol = ?
		ORDER BY effective_at_ms ASC, ingest_seq ASC
	`

	rows, err := s.conn.Query(ctx, query, symbol)
	if err != nil {
		return nil, fmt.Errorf("query by symbol: %w", err)
	}
	defer rows.Close()

	return scanActions(rows)
}

// GetEffectiveUpTo retrieves actions for a symbol with effective_at_ms <= asOf.
func (s *CorporateActionStore) GetEffectiveUpTo(ctx context.Context, symbol string, asOf int64) ([]*domain.CorporateAction, error) {
	query := `
		SELECT symbol, effective_at_ms, ingest_seq, action_type, value
		FROM corporate_actions
		WHERE symbol = ? AND effective_at_ms <= ?
		ORDER BY effective_at_ms ASC, ingest_seq ASC
	`

	rows, err := s.conn.Query(ctx, query, symbol, asOf)
	if err != nil {
		return nil, fmt.Errorf("query effective up to: %w", err)
	}
	defer rows.Close()

	return scanActions(rows)
}

// exists checks if an action with the given key exists.
func (s *CorporateActionStore) exists(ctx context.Context, symbol string, effectiveAtMs, ingestSeq int64) (bool, error) {
	query := `
		SELECT count(*) FROM corporate_actions
		WHERE symbol = ? AND effective_at_ms = ? AND ingest_seq = ?
	`

	var count uint64
	err := s.conn.QueryRow(ctx, query, symbol, effectiveAtMs, ingestSeq).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// scanActions scans multiple rows.
func scanActions(rows chRows) ([]*domain.CorporateAction, error) {
	var actions []*domain.CorporateAction

	for rows.Next() {
		var a domain.CorporateAction
		if err := rows.Scan(&a.Symbol, &a.EffectiveAtMs, &a.IngestSeq, &a.ActionType, &a.Value); err != nil {
			return nil, fmt.Errorf("scan corporate action row: %w", err)
		}
		actions = append(actions, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate corporate action rows: %w", err)
	}

	return actions, nil
}
