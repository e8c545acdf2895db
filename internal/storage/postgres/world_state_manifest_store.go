package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"market-pit-lab/internal/domain"
	"market-pit-lab/internal/storage"
)

// WorldStateManifestStore implements storage.WorldStateManifestStore using PostgreSQL.
// Universe, dataset versions and the skip report are stored as JSONB.
type WorldStateManifestStore struct {
	pool *Pool
}

// NewWorldStateManifestStore creates a new WorldStateManifestStore.
func NewWorldStateManifestStore(pool *Pool) *WorldStateManifestStore {
	return &WorldStateManifestStore{pool: pool}
}

// Compile-time interface check.
var _ storage.WorldStateManifestStore = (*WorldStateManifestStore)(nil)

// Insert adds a new manifest. Returns ErrDuplicateKey if manifest_id exists.
func (s *WorldStateManifestStore) Insert(ctx context.Context, m *domain.WorldStateManifest) error {
	universe, err := json.Marshal(m.Universe)
	if err != nil {
		return fmt.Errorf("marshal universe: %w", err)
	}
	versions, err := json.Marshal(m.DatasetVersions)
	if err != nil {
		return fmt.Errorf("marshal dataset versions: %w", err)
	}
	skips, err := json.Marshal(m.SkipReport)
	if err != nil {
		return fmt.Errorf("marshal skip report: %w", err)
	}

	query := `
		INSERT INTO world_state_manifests (
			manifest_id, universe, start_date, end_date,
			adjustment_policy, tie_break, dataset_versions, skip_report, row_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = s.pool.Exec(ctx, query,
		m.ManifestID,
		universe,
		m.StartDate,
		m.EndDate,
		string(m.AdjustmentPolicy),
		string(m.TieBreak),
		versions,
		skips,
		m.RowCount,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert world state manifest: %w", err)
	}
	return nil
}

// GetByID retrieves a manifest by its ID. Returns ErrNotFound if not exists.
func (s *WorldStateManifestStore) GetByID(ctx context.Context, manifestID string) (*domain.WorldStateManifest, error) {
	query := `
		SELECT manifest_id, universe, start_date, end_date,
		       adjustment_policy, tie_break, dataset_versions, skip_report, row_count
		FROM world_state_manifests
		WHERE manifest_id = $1
	`

	row := s.pool.QueryRow(ctx, query, manifestID)
	m, err := scanWorldStateManifest(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get world state manifest by id: %w", err)
	}
	return m, nil
}

// GetAll retrieves all manifests, ordered by manifest_id ASC.
func (s *WorldStateManifestStore) GetAll(ctx context.Context) ([]*domain.WorldStateManifest, error) {
	query := `
		SELECT manifest_id, universe, start_date, end_date,
		       adjustment_policy, tie_break, dataset_versions, skip_report, row_count
		FROM world_state_manifests
		ORDER BY manifest_id ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get all world state manifests: %w", err)
	}
	defer rows.Close()

	var manifests []*domain.WorldStateManifest
	for rows.Next() {
		m, err := scanWorldStateManifest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan world state manifest row: %w", err)
		}
		manifests = append(manifests, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate world state manifest rows: %w", err)
	}

	return manifests, nil
}

// scanWorldStateManifest scans a single row into a WorldStateManifest.
func scanWorldStateManifest(row pgx.Row) (*domain.WorldStateManifest, error) {
	var m domain.WorldStateManifest
	var policyStr, tieBreakStr string
	var universe, versions, skips []byte

	err := row.Scan(
		&m.ManifestID,
		&universe,
		&m.StartDate,
		&m.EndDate,
		&policyStr,
		&tieBreakStr,
		&versions,
		&skips,
		&m.RowCount,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(universe, &m.Universe); err != nil {
		return nil, fmt.Errorf("unmarshal universe: %w", err)
	}
	if err := json.Unmarshal(versions, &m.DatasetVersions); err != nil {
		return nil, fmt.Errorf("unmarshal dataset versions: %w", err)
	}
	if err := json.Unmarshal(skips, &m.SkipReport); err != nil {
		return nil, fmt.Errorf("unmarshal skip report: %w", err)
	}

	m.AdjustmentPolicy = domain.AdjustmentPolicy(policyStr)
	m.TieBreak = domain.TieBreak(tieBreakStr)
	return &m, nil
}
