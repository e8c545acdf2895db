package clickhouse

import (
	"context"
	"fmt"

	"market-pit-lab/internal/domain"
	"market-pit-lab/internal/storage"
)

// RatingStore implements storage.RatingStore using ClickHouse.
type RatingStore struct {
	conn *Conn
}

// NewRatingStore creates a new RatingStore.
func NewRatingStore(conn *Conn) *RatingStore {
	return &RatingStore{conn: conn}
}

// Compile-time interface check.
var _ storage.RatingStore = (*RatingStore)(nil)

// InsertBulk adds multiple events. Fails entire batch on duplicate (symbol, revised_at_ms, ingest_seq).
func (s *RatingStore) InsertBulk(ctx context.Context, events []*domain.RatingEvent) error {
	if len(events) == 0 {
		return nil
	}

	type key struct {
		symbol      string
		revisedAtMs int64
		ingestSeq   int64
	}
	seen := make(map[key]struct{})
	for _, e := range events {
		k := key{e.Symbol, e.RevisedAtMs, e.IngestSeq}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	for _, e := range events {
		exists, err := s.exists(ctx, e.Symbol, e.RevisedAtMs, e.IngestSeq)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO analyst_ratings (symbol, revised_at_ms, ingest_seq, agency, rating)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, e := range events {
		if err := batch.Append(e.Symbol, e.RevisedAtMs, e.IngestSeq, e.Agency, e.Rating); err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetBySymbol retrieves all events for a symbol, ordered by revision
// timestamp ASC then ingest sequence ASC.
func (s *RatingStore) GetBySymbol(ctx context.Context, symbol string) ([]*domain.RatingEvent, error) {
	query := `
		SELECT symbol, revised_at_ms, ingest_seq, agency, rating
		FROM analyst_ratings
		WHERE symbol = ?
		ORDER BY revised_at_ms ASC, ingest_seq ASC
	`

	rows, err := s.conn.Query(ctx, query, symbol)
	if err != nil {
		return nil, fmt.Errorf("query by symbol: %w", err)
	}
	defer rows.Close()

	return scanRatings(rows)
}

// GetRevisedUpTo retrieves events for a symbol with revised_at_ms <= asOf.
func (s *RatingStore) GetRevisedUpTo(ctx context.Context, symbol string, asOf int64) ([]*domain.RatingEvent, error) {
	query := `
		SELECT symbol, revised_at_ms, ingest_seq, agency, rating
		FROM analyst_ratings
		WHERE symbol = ? AND revised_at_ms <= ?
		ORDER BY revised_at_ms ASC, ingest_seq ASC
	`

	rows, err := s.conn.Query(ctx, query, symbol, asOf)
	if err != nil {
		return nil, fmt.Errorf("query revised up to: %w", err)
	}
	defer rows.Close()

	return scanRatings(rows)
}

// exists checks if an event with the given key exists.
func (s *RatingStore) exists(ctx context.Context, symbol string, revisedAtMs, ingestSeq int64) (bool, error) {
	query := `
		SELECT count(*) FROM analyst_ratings
		WHERE symbol = ? AND revised_at_ms = ? AND ingest_seq = ?
	`

	var count uint64
	err := s.conn.QueryRow(ctx, query, symbol, revisedAtMs, ingestSeq).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// scanRatings scans multiple rows.
func scanRatings(rows chRows) ([]*domain.RatingEvent, error) {
	var events []*domain.RatingEvent

	for rows.Next() {
		var e domain.RatingEvent
		if err := rows.Scan(&e.Symbol, &e.RevisedAtMs, &e.IngestSeq, &e.Agency, &e.Rating); err != nil {
			return nil, fmt.Errorf("scan rating row: %w", err)
		}
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rating rows: %w", err)
	}

	return events, nil
}
