package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"market-pit-lab/internal/domain"
	"market-pit-lab/internal/storage"
)

// RunManifestStore implements storage.RunManifestStore using PostgreSQL.
type RunManifestStore struct {
	pool *Pool
}

// NewRunManifestStore creates a new RunManifestStore.
func NewRunManifestStore(pool *Pool) *RunManifestStore {
	return &RunManifestStore{pool: pool}
}

// Compile-time interface check.
var _ storage.RunManifestStore = (*RunManifestStore)(nil)

// Insert adds a new run manifest. Returns ErrDuplicateKey if run_id exists.
func (s *RunManifestStore) Insert(ctx context.Context, r *domain.RunManifest) error {
	metrics, err := json.Marshal(r.Metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}

	query := `
		INSERT INTO run_manifests (
			run_id, strategy_version_id, world_state_manifest_id,
			seed, engine_version, metrics, metrics_hash
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = s.pool.Exec(ctx, query,
		r.RunID,
		r.StrategyVersionID,
		r.WorldStateManifestID,
		r.Seed,
		r.EngineVersion,
		metrics,
		r.MetricsHash,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert run manifest: %w", err)
	}
	return nil
}

// GetByID retrieves a run manifest by its ID. Returns ErrNotFound if not exists.
func (s *RunManifestStore) GetByID(ctx context.Context, runID string) (*domain.RunManifest, error) {
	query := runManifestSelect + ` WHERE run_id = $1`

	row := s.pool.QueryRow(ctx, query, runID)
	r, err := scanRunManifest(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get run manifest by id: %w", err)
	}
	return r, nil
}

// GetByManifestID retrieves all runs executed against a world-state manifest.
func (s *RunManifestStore) GetByManifestID(ctx context.Context, manifestID string) ([]*domain.RunManifest, error) {
	query := runManifestSelect + ` WHERE world_state_manifest_id = $1 ORDER BY run_id ASC`

	rows, err := s.pool.Query(ctx, query, manifestID)
	if err != nil {
		return nil, fmt.Errorf("get run manifests by manifest id: %w", err)
	}
	defer rows.Close()

	return scanRunManifests(rows)
}

// GetByStrategyVersion retrieves all runs for a strategy version.
func (s *RunManifestStore) GetByStrategyVersion(ctx context.Context, strategyVersionID string) ([]*domain.RunManifest, error) {
	query := runManifestSelect + ` WHERE strategy_version_id = $1 ORDER BY run_id ASC`

	rows, err := s.pool.Query(ctx, query, strategyVersionID)
	if err != nil {
		return nil, fmt.Errorf("get run manifests by strategy version: %w", err)
	}
	defer rows.Close()

	return scanRunManifests(rows)
}

const runManifestSelect = `
	SELECT run_id, strategy_version_id, world_state_manifest_id,
	       seed, engine_version, metrics, metrics_hash
	FROM run_manifests`

// scanRunManifest scans a single row into a RunManifest.
func scanRunManifest(row pgx.Row) (*domain.RunManifest, error) {
	var r domain.RunManifest
	var metrics []byte

	err := row.Scan(
		&r.RunID,
		&r.StrategyVersionID,
		&r.WorldStateManifestID,
		&r.Seed,
		&r.EngineVersion,
		&metrics,
		&r.MetricsHash,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(metrics, &r.Metrics); err != nil {
		return nil, fmt.Errorf("unmarshal metrics: %w", err)
	}
	return &r, nil
}

// scanRunManifests scans multiple rows into a slice of RunManifest.
func scanRunManifests(rows pgx.Rows) ([]*domain.RunManifest, error) {
	var manifests []*domain.RunManifest

	for rows.Next() {
		r, err := scanRunManifest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run manifest row: %w", err)
		}
		manifests = append(manifests, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run manifest rows: %w", err)
	}

	return manifests, nil
}
