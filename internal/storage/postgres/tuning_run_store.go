package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"market-pit-lab/internal/domain"
	"market-pit-lab/internal/storage"
)

// TuningRunStore implements storage.TuningRunStore using PostgreSQL.
// The plan, trials, rejections, leaderboard and sensitivity report are
// stored as JSONB documents.
type TuningRunStore struct {
	pool *Pool
}

// NewTuningRunStore creates a new TuningRunStore.
func NewTuningRunStore(pool *Pool) *TuningRunStore {
	return &TuningRunStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TuningRunStore = (*TuningRunStore)(nil)

// Insert adds a new tuning run. Returns ErrDuplicateKey if tuning_run_id exists.
func (s *TuningRunStore) Insert(ctx context.Context, r *domain.TuningRun) error {
	plan, err := json.Marshal(r.Plan)
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	trials, err := json.Marshal(r.Trials)
	if err != nil {
		return fmt.Errorf("marshal trials: %w", err)
	}
	rejected, err := json.Marshal(r.Rejected)
	if err != nil {
		return fmt.Errorf("marshal rejected: %w", err)
	}
	best, err := json.Marshal(r.Best)
	if err != nil {
		return fmt.Errorf("marshal best: %w", err)
	}
	sensitivity, err := json.Marshal(r.Sensitivity)
	if err != nil {
		return fmt.Errorf("marshal sensitivity: %w", err)
	}

	query := `
		INSERT INTO tuning_runs (
			tuning_run_id, manifest_id, strategy_version_id,
			plan, trials, rejected, best, sensitivity, created_at_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = s.pool.Exec(ctx, query,
		r.TuningRunID,
		r.ManifestID,
		r.StrategyVersionID,
		plan,
		trials,
		rejected,
		best,
		sensitivity,
		r.CreatedAtMs,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert tuning run: %w", err)
	}
	return nil
}

// GetByID retrieves a tuning run by its ID. Returns ErrNotFound if not exists.
func (s *TuningRunStore) GetByID(ctx context.Context, tuningRunID string) (*domain.TuningRun, error) {
	query := tuningRunSelect + ` WHERE tuning_run_id = $1`

	row := s.pool.QueryRow(ctx, query, tuningRunID)
	r, err := scanTuningRun(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get tuning run by id: %w", err)
	}
	return r, nil
}

// GetByManifestID retrieves all tuning runs against a world-state manifest.
func (s *TuningRunStore) GetByManifestID(ctx context.Context, manifestID string) ([]*domain.TuningRun, error) {
	query := tuningRunSelect + ` WHERE manifest_id = $1 ORDER BY tuning_run_id ASC`

	rows, err := s.pool.Query(ctx, query, manifestID)
	if err != nil {
		return nil, fmt.Errorf("get tuning runs by manifest id: %w", err)
	}
	defer rows.Close()

	var runs []*domain.TuningRun
	for rows.Next() {
		r, err := scanTuningRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tuning run row: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tuning run rows: %w", err)
	}

	return runs, nil
}

const tuningRunSelect = `
	SELECT tuning_run_id, manifest_id, strategy_version_id,
	       plan, trials, rejected, best, sensitivity, created_at_ms
	FROM tuning_runs`

// scanTuningRun scans a single row into a TuningRun.
func scanTuningRun(row pgx.Row) (*domain.TuningRun, error) {
	var r domain.TuningRun
	var plan, trials, rejected, best, sensitivity []byte

	err := row.Scan(
		&r.TuningRunID,
		&r.ManifestID,
		&r.StrategyVersionID,
		&plan,
		&trials,
		&rejected,
		&best,
		&sensitivity,
		&r.CreatedAtMs,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(plan, &r.Plan); err != nil {
		return nil, fmt.Errorf("unmarshal plan: %w", err)
	}
	if err := json.Unmarshal(trials, &r.Trials); err != nil {
		return nil, fmt.Errorf("unmarshal trials: %w", err)
	}
	if err := json.Unmarshal(rejected, &r.Rejected); err != nil {
		return nil, fmt.Errorf("unmarshal rejected: %w", err)
	}
	if err := json.Unmarshal(best, &r.Best); err != nil {
		return nil, fmt.Errorf("unmarshal best: %w", err)
	}
	if err := json.Unmarshal(sensitivity, &r.Sensitivity); err != nil {
		return nil, fmt.Errorf("unmarshal sensitivity: %w", err)
	}
	return &r, nil
}
