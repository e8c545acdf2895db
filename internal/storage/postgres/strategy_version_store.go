package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"market-pit-lab/internal/domain"
	"market-pit-lab/internal/storage"
)

// StrategyVersionStore implements storage.StrategyVersionStore using PostgreSQL.
type StrategyVersionStore struct {
	pool *Pool
}

// NewStrategyVersionStore creates a new StrategyVersionStore.
func NewStrategyVersionStore(pool *Pool) *StrategyVersionStore {
	return &StrategyVersionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.StrategyVersionStore = (*StrategyVersionStore)(nil)

// Insert adds a new version. Returns ErrDuplicateKey if version_id exists.
func (s *StrategyVersionStore) Insert(ctx context.Context, v *domain.StrategyVersion) error {
	config, err := json.Marshal(v.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	query := `
		INSERT INTO strategy_versions (version_id, name, kind, config, source_hash)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err = s.pool.Exec(ctx, query, v.VersionID, v.Name, v.Kind, config, v.SourceHash)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert strategy version: %w", err)
	}
	return nil
}

// GetByID retrieves a version by its ID. Returns ErrNotFound if not exists.
func (s *StrategyVersionStore) GetByID(ctx context.Context, versionID string) (*domain.StrategyVersion, error) {
	query := `
		SELECT version_id, name, kind, config, source_hash
		FROM strategy_versions
		WHERE version_id = $1
	`

	row := s.pool.QueryRow(ctx, query, versionID)
	v, err := scanStrategyVersion(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get strategy version by id: %w", err)
	}
	return v, nil
}

// GetByName retrieves all versions of a named strategy, ordered by version_id ASC.
func (s *StrategyVersionStore) GetByName(ctx context.Context, name string) ([]*domain.StrategyVersion, error) {
	query := `
		SELECT version_id, name, kind, config, source_hash
		FROM strategy_versions
		WHERE name = $1
		ORDER BY version_id ASC
	`

	rows, err := s.pool.Query(ctx, query, name)
	if err != nil {
		return nil, fmt.Errorf("get strategy versions by name: %w", err)
	}
	defer rows.Close()

	var versions []*domain.StrategyVersion
	for rows.Next() {
		v, err := scanStrategyVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan strategy version row: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate strategy version rows: %w", err)
	}

	return versions, nil
}

// scanStrategyVersion scans a single row into a StrategyVersion.
func scanStrategyVersion(row pgx.Row) (*domain.StrategyVersion, error) {
	var v domain.StrategyVersion
	var config []byte

	err := row.Scan(&v.VersionID, &v.Name, &v.Kind, &config, &v.SourceHash)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(config, &v.Config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &v, nil
}
