package clickhouse

import (
	"context"
	"fmt"

	"market-pit-lab/internal/domain"
	"market-pit-lab/internal/storage"
)

// FeatureStore implements storage.FeatureStore using ClickHouse.
type FeatureStore struct {
	conn *Conn
}

// NewFeatureStore creates a new FeatureStore.
func NewFeatureStore(conn *Conn) *FeatureStore {
	return &FeatureStore{conn: conn}
}

// Compile-time interface check.
var _ storage.FeatureStore = (*FeatureStore)(nil)

// InsertBulk adds multiple points. Fails entire batch on duplicate (symbol, timestamp_ms, name).
func (s *FeatureStore) InsertBulk(ctx context.Context, points []*domain.FeaturePoint) error {
	if len(points) == 0 {
		return nil
	}

	type key struct {
		symbol      string
		timestampMs int64
		name        string
	}
	seen := make(map[key]struct{})
	for _, p := range points {
		k := key{p.Symbol, p.TimestampMs, p.Name}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	for _, p := range points {
		exists, err := s.exists(ctx, p.Symbol, p.TimestampMs, p.Name)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO market_technicals (symbol, timestamp_ms, name, value)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, p := range points {
		if err := batch.Append(p.Symbol, p.TimestampMs, p.Name, p.Value); err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetBySymbol retrieves all points for a symbol, ordered by timestamp ASC then name ASC.
func (s *FeatureStore) GetBySymbol(ctx context.Context, symbol string) ([]*domain.FeaturePoint, error) {
	query := `
		SELECT symbol, timestamp_ms, name, value
		FROM market_technicals
		WHERE symbol = ?
		ORDER BY timestamp_ms ASC, name ASC
	`

	rows, err := s.conn.Query(ctx, query, symbol)
	if err != nil {
		return nil, fmt.Errorf("query by symbol: %w", err)
	}
	defer rows.Close()

	return scanFeatures(rows)
}

// GetByTimeRange retrieves points for a symbol within [start, end] (inclusive).
func (s *FeatureStore) GetByTimeRange(ctx context.Context, symbol string, start, end int64) ([]*domain.FeaturePoint, error) {
	query := `
		SELECT symbol, timestamp_ms, name, value
		FROM market_technicals
		WHERE symbol = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC, name ASC
	`

	rows, err := s.conn.Query(ctx, query, symbol, start, end)
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	return scanFeatures(rows)
}

// exists checks if a point with the given key exists.
func (s *FeatureStore) exists(ctx context.Context, symbol string, timestampMs int64, name string) (bool, error) {
	query := `
		SELECT count(*) FROM market_technicals
		WHERE symbol = ? AND timestamp_ms = ? AND name = ?
	`

	var count uint64
	err := s.conn.QueryRow(ctx, query, symbol, timestampMs, name).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// scanFeatures scans multiple rows.
func scanFeatures(rows chRows) ([]*domain.FeaturePoint, error) {
	var points []*domain.FeaturePoint

	for rows.Next() {
		var p domain.FeaturePoint
		if err := rows.Scan(&p.Symbol, &p.TimestampMs, &p.Name, &p.Value); err != nil {
			return nil, fmt.Errorf("scan feature row: %w", err)
		}
		points = append(points, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feature rows: %w", err)
	}

	return points, nil
}
