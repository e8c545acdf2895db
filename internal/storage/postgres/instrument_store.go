package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"market-pit-lab/internal/domain"
	"market-pit-lab/internal/storage"
)

// InstrumentStore implements storage.InstrumentStore using PostgreSQL.
type InstrumentStore struct {
	pool *Pool
}

// NewInstrumentStore creates a new InstrumentStore.
func NewInstrumentStore(pool *Pool) *InstrumentStore {
	return &InstrumentStore{pool: pool}
}

// Compile-time interface check.
var _ storage.InstrumentStore = (*InstrumentStore)(nil)

// Insert adds a new instrument. Returns ErrDuplicateKey if symbol exists.
func (s *InstrumentStore) Insert(ctx context.Context, m *domain.InstrumentMaster) error {
	query := `
		INSERT INTO instrument_master (symbol, exchange, active_from_ms, active_to_ms)
		VALUES ($1, $2, $3, $4)
	`

	_, err := s.pool.Exec(ctx, query, m.Symbol, m.Exchange, m.ActiveFromMs, m.ActiveToMs)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert instrument: %w", err)
	}
	return nil
}

// GetBySymbol retrieves an instrument. Returns ErrNotFound if not exists.
func (s *InstrumentStore) GetBySymbol(ctx context.Context, symbol string) (*domain.InstrumentMaster, error) {
	query := `
		SELECT symbol, exchange, active_from_ms, active_to_ms
		FROM instrument_master
		WHERE symbol = $1
	`

	row := s.pool.QueryRow(ctx, query, symbol)
	m, err := scanInstrument(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get instrument by symbol: %w", err)
	}
	return m, nil
}

// GetAll retrieves all instruments, ordered by symbol ASC.
func (s *InstrumentStore) GetAll(ctx context.Context) ([]*domain.InstrumentMaster, error) {
	query := `
		SELECT symbol, exchange, active_from_ms, active_to_ms
		FROM instrument_master
		ORDER BY symbol ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get all instruments: %w", err)
	}
	defer rows.Close()

	var instruments []*domain.InstrumentMaster
	for rows.Next() {
		m, err := scanInstrument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan instrument row: %w", err)
		}
		instruments = append(instruments, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate instrument rows: %w", err)
	}

	return instruments, nil
}

// scanInstrument scans a single row into an InstrumentMaster.
func scanInstrument(row pgx.Row) (*domain.InstrumentMaster, error) {
	var m domain.InstrumentMaster
	err := row.Scan(&m.Symbol, &m.Exchange, &m.ActiveFromMs, &m.ActiveToMs)
	if err != nil {
		return nil, err
	}
	return &m, nil
}
