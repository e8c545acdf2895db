package storage

import (
	"context"

	"market-pit-lab/internal/domain"
)

// InstrumentStore provides access to the instrument master.
type InstrumentStore interface {
	// Insert adds a new instrument. Returns ErrDuplicateKey if symbol exists.
	Insert(ctx context.Context, m *domain.InstrumentMaster) error

	// GetBySymbol retrieves an instrument. Returns ErrNotFound if not exists.
	GetBySymbol(ctx context.Context, symbol string) (*domain.InstrumentMaster, error)

	// GetAll retrieves all instruments, ordered by symbol ASC.
	GetAll(ctx context.Context) ([]*domain.InstrumentMaster, error)
}

// CandleStore provides access to market_ohlcv storage.
type CandleStore interface {
	// InsertBulk adds multiple candles. Fails entire batch on duplicate (symbol, timestamp_ms).
	InsertBulk(ctx context.Context, candles []*domain.Candle) error

	// GetBySymbol retrieves all candles for a symbol, ordered by timestamp ASC.
	GetBySymbol(ctx context.Context, symbol string) ([]*domain.Candle, error)

	// GetByTimeRange retrieves candles for a symbol within [start, end] (inclusive).
	GetByTimeRange(ctx context.Context, symbol string, start, end int64) ([]*domain.Candle, error)
}

// FeatureStore provides access to market_technicals storage.
type FeatureStore interface {
	// InsertBulk adds multiple points. Fails entire batch on duplicate (symbol, timestamp_ms, name).
	InsertBulk(ctx context.Context, points []*domain.FeaturePoint) error

	// GetBySymbol retrieves all points for a symbol, ordered by timestamp ASC then name ASC.
	GetBySymbol(ctx context.Context, symbol string) ([]*domain.FeaturePoint, error)

	// GetByTimeRange retrieves points for a symbol within [start, end] (inclusive).
	GetByTimeRange(ctx context.Context, symbol string, start, end int64) ([]*domain.FeaturePoint, error)
}

// FundamentalsStore provides access to company_fundamentals storage.
// Rows are ordered by publication timestamp ASC then ingest sequence ASC so
// as-of resolution can apply tie-break policies deterministically.
type FundamentalsStore interface {
	// InsertBulk adds multiple rows. Fails entire batch on duplicate (symbol, published_at_ms, ingest_seq).
	InsertBulk(ctx context.Context, rows []*domain.FundamentalsRow) error

	// GetBySymbol retrieves all rows for a symbol.
	GetBySymbol(ctx context.Context, symbol string) ([]*domain.FundamentalsRow, error)

	// GetPublishedUpTo retrieves rows for a symbol with published_at_ms <= asOf.
	GetPublishedUpTo(ctx context.Context, symbol string, asOf int64) ([]*domain.FundamentalsRow, error)
}

// CorporateActionStore provides access to corporate_actions storage.
type CorporateActionStore interface {
	// InsertBulk adds multiple actions. Fails entire batch on duplicate (symbol, effective_at_ms, ingest_seq).
	InsertBulk(ctx context.Context, actions []*domain.CorporateAction) error

	// GetBySymbol retrieves all actions for a symbol, ordered by effective timestamp ASC.
	GetBySymbol(ctx context.Context, symbol string) ([]*domain.CorporateAction, error)

	// GetEffectiveUpTo retrieves actions for a symbol with effective_at_ms <= asOf.
	GetEffectiveUpTo(ctx context.Context, symbol string, asOf int64) ([]*domain.CorporateAction, error)
}

// RatingStore provides access to analyst_ratings storage.
type RatingStore interface {
	// InsertBulk adds multiple events. Fails entire batch on duplicate (symbol, revised_at_ms, ingest_seq).
	InsertBulk(ctx context.Context, events []*domain.RatingEvent) error

	// GetBySymbol retrieves all events for a symbol, ordered by revision timestamp ASC.
	GetBySymbol(ctx context.Context, symbol string) ([]*domain.RatingEvent, error)

	// GetRevisedUpTo retrieves events for a symbol with revised_at_ms <= asOf.
	GetRevisedUpTo(ctx context.Context, symbol string, asOf int64) ([]*domain.RatingEvent, error)
}

// WorldStateManifestStore provides access to world_state_manifests storage.
type WorldStateManifestStore interface {
	// Insert adds a new manifest. Returns ErrDuplicateKey if manifest_id exists.
	Insert(ctx context.Context, m *domain.WorldStateManifest) error

	// GetByID retrieves a manifest by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, manifestID string) (*domain.WorldStateManifest, error)

	// GetAll retrieves all manifests.
	GetAll(ctx context.Context) ([]*domain.WorldStateManifest, error)
}

// RunManifestStore provides access to run_manifests storage.
type RunManifestStore interface {
	// Insert adds a new run manifest. Returns ErrDuplicateKey if run_id exists.
	Insert(ctx context.Context, r *domain.RunManifest) error

	// GetByID retrieves a run manifest by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, runID string) (*domain.RunManifest, error)

	// GetByManifestID retrieves all runs executed against a world-state manifest.
	GetByManifestID(ctx context.Context, manifestID string) ([]*domain.RunManifest, error)

	// GetByStrategyVersion retrieves all runs for a strategy version.
	GetByStrategyVersion(ctx context.Context, strategyVersionID string) ([]*domain.RunManifest, error)
}

// StrategyVersionStore provides access to strategy_versions storage.
type StrategyVersionStore interface {
	// Insert adds a new version. Returns ErrDuplicateKey if version_id exists.
	Insert(ctx context.Context, v *domain.StrategyVersion) error

	// GetByID retrieves a version by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, versionID string) (*domain.StrategyVersion, error)

	// GetByName retrieves all versions of a named strategy.
	GetByName(ctx context.Context, name string) ([]*domain.StrategyVersion, error)
}

// TuningRunStore provides access to tuning_runs storage.
type TuningRunStore interface {
	// Insert adds a new tuning run. Returns ErrDuplicateKey if tuning_run_id exists.
	Insert(ctx context.Context, r *domain.TuningRun) error

	// GetByID retrieves a tuning run by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, tuningRunID string) (*domain.TuningRun, error)

	// GetByManifestID retrieves all tuning runs against a world-state manifest.
	GetByManifestID(ctx context.Context, manifestID string) ([]*domain.TuningRun, error)
}
