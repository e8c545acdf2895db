package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-pit-lab/internal/domain"
	"market-pit-lab/internal/storage"
)

func TestRunManifestStore_RoundTrip(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewRunManifestStore(pool)

	run := &domain.RunManifest{
		RunID:                "run-1",
		StrategyVersionID:    "sv-1",
		WorldStateManifestID: "ws-1",
		Seed:                 42,
		EngineVersion:        "backtest-1.0.0",
		Metrics: domain.BacktestMetrics{
			FinalEquity: 105000,
			TotalReturn: 0.05,
			Sharpe:      1.2,
			MaxDrawdown: -0.08,
			TradeCount:  9,
		},
		MetricsHash: "metrics-hash-1",
	}
	require.NoError(t, store.Insert(ctx, run))

	got, err := store.GetByID(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.Seed)
	assert.Equal(t, 1.2, got.Metrics.Sharpe)
	assert.Equal(t, 9, got.Metrics.TradeCount)
	assert.Equal(t, "metrics-hash-1", got.MetricsHash)
}

func TestRunManifestStore_Lookups(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewRunManifestStore(pool)

	runs := []*domain.RunManifest{
		{RunID: "run-1", StrategyVersionID: "sv-1", WorldStateManifestID: "ws-1", EngineVersion: "e1", MetricsHash: "h1"},
		{RunID: "run-2", StrategyVersionID: "sv-1", WorldStateManifestID: "ws-2", EngineVersion: "e1", MetricsHash: "h2"},
		{RunID: "run-3", StrategyVersionID: "sv-2", WorldStateManifestID: "ws-1", EngineVersion: "e1", MetricsHash: "h3"},
	}
	for _, r := range runs {
		require.NoError(t, store.Insert(ctx, r))
	}

	byManifest, err := store.GetByManifestID(ctx, "ws-1")
	require.NoError(t, err)
	assert.Len(t, byManifest, 2)

	byStrategy, err := store.GetByStrategyVersion(ctx, "sv-1")
	require.NoError(t, err)
	assert.Len(t, byStrategy, 2)
}

func TestRunManifestStore_AppendOnly(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewRunManifestStore(pool)

	run := &domain.RunManifest{RunID: "run-1", StrategyVersionID: "sv-1", WorldStateManifestID: "ws-1", EngineVersion: "e1", MetricsHash: "h1"}
	require.NoError(t, store.Insert(ctx, run))

	err := store.Insert(ctx, run)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}
