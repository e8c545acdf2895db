package clickhouse

import (
	"context"
	"fmt"

	"market-pit-lab/internal/domain"
	"market-pit-lab/internal/storage"
)

// FundamentalsStore implements storage.FundamentalsStore using ClickHouse.
// Fields are stored in a Map(String, Float64) column.
type FundamentalsStore struct {
	conn *Conn
}

// NewFundamentalsStore creates a new FundamentalsStore.
func NewFundamentalsStore(conn *Conn) *FundamentalsStore {
	return &FundamentalsStore{conn: conn}
}

// Compile-time interface check.
var _ storage.FundamentalsStore = (*FundamentalsStore)(nil)

// InsertBulk adds multiple rows. Fails entire batch on duplicate (symbol, published_at_ms, ingest_seq).
func (s *FundamentalsStore) InsertBulk(ctx context.Context, rows []*domain.FundamentalsRow) error {
	if len(rows) == 0 {
		return nil
	}

	type key struct {
		symbol        string
		publishedAtMs int64
		ingestSeq     int64
	}
	seen := make(map[key]struct{})
	for _, r := range rows {
		k := key{r.Symbol, r.PublishedAtMs, r.IngestSeq}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	for _, r := range rows {
		exists, err := s.exists(ctx, r.Symbol, r.PublishedAtMs, r.IngestSeq)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO company_fundamentals (symbol, published_at_ms, ingest_seq, fields)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range rows {
		if err := batch.Append(r.Symbol, r.PublishedAtMs, r.IngestSeq, r.Fields); err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetBySymbol retrieves all rows for a symbol, ordered by publication
// timestamp ASC then ingest sequence ASC.
func (s *FundamentalsStore) GetBySymbol(ctx context.Context, symbol string) ([]*domain.FundamentalsRow, error) {
	query := `
		SELECT symbol, published_at_ms, ingest_seq, fields
		FROM company_fundamentals
		WHERE symbol = ?
		ORDER BY published_at_ms ASC, ingest_seq ASC
	`

	rows, err := s.conn.Query(ctx, query, symbol)
	if err != nil {
		return nil, fmt.Errorf("query by symbol: %w", err)
	}
	defer rows.Close()

	return scanFundamentals(rows)
}

// GetPublishedUpTo retrieves rows for a symbol with published_at_ms <= asOf.
func (s *FundamentalsStore) GetPublishedUpTo(ctx context.Context, symbol string, asOf int64) ([]*domain.FundamentalsRow, error) {
	query := `
		SELECT symbol, published_at_ms, ingest_seq, fields
		FROM company_fundamentals
		WHERE symbol = ? AND published_at_ms <= ?
		ORDER BY published_at_ms ASC, ingest_seq ASC
	`

	rows, err := s.conn.Query(ctx, query, symbol, asOf)
	if err != nil {
		return nil, fmt.Errorf("query published up to: %w", err)
	}
	defer rows.Close()

	return scanFundamentals(rows)
}

// exists checks if a row with the given key exists.
func (s *FundamentalsStore) exists(ctx context.Context, symbol string, publishedAtMs, ingestSeq int64) (bool, error) {
	query := `
		SELECT count(*) FROM company_fundamentals
		WHERE symbol = ? AND published_at_ms = ? AND ingest_seq = ?
	`

	var count uint64
	err := s.conn.QueryRow(ctx, query, symbol, publishedAtMs, ingestSeq).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// scanFundamentals scans multiple rows.
func scanFundamentals(rows chRows) ([]*domain.FundamentalsRow, error) {
	var result []*domain.FundamentalsRow

	for rows.Next() {
		var r domain.FundamentalsRow
		if err := rows.Scan(&r.Symbol, &r.PublishedAtMs, &r.IngestSeq, &r.Fields); err != nil {
			return nil, fmt.Errorf("scan fundamentals row: %w", err)
		}
		result = append(result, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fundamentals rows: %w", err)
	}

	return result, nil
}
