package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-pit-lab/internal/domain"
	"market-pit-lab/internal/storage"
)

func TestTuningRunStore_RoundTrip(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTuningRunStore(pool)

	run := &domain.TuningRun{
		TuningRunID:       "tr-1",
		ManifestID:        "ws-1",
		StrategyVersionID: "sv-1",
		Plan: domain.TuningPlan{
			PolicyMode: domain.PolicyAgentDecides,
			RiskMode:   domain.RiskModeBalanced,
			Layers: []domain.LayerStatus{
				{Layer: domain.LayerSignal, Active: true, Reason: "active_with_variable_parameters"},
			},
			Space:           domain.SearchSpace{"short_window": {3, 5, 7}},
			EstimatedTrials: 3,
		},
		Trials: []domain.TrialResult{
			{TrialID: "trial-1", Params: map[string]float64{"short_window": 5}, RunID: "run-1",
				Metrics: domain.BacktestMetrics{Sharpe: 1.1}},
		},
		Rejected: []domain.RejectedCandidate{
			{Params: map[string]float64{"short_window": 20, "long_window": 10}, Reason: "short_window must be less than long_window"},
		},
		Best: []domain.TrialResult{
			{TrialID: "trial-1", Params: map[string]float64{"short_window": 5}, RunID: "run-1"},
		},
		Sensitivity: []domain.SensitivityEntry{
			{Param: "short_window", Status: domain.SensitivityOK, Values: []float64{3, 5, 7}, Objective: []float64{0.9, 1.1, 1.0}, Spread: 0.2},
		},
		CreatedAtMs: 1756400000000,
	}
	require.NoError(t, store.Insert(ctx, run))

	got, err := store.GetByID(ctx, "tr-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RiskModeBalanced, got.Plan.RiskMode)
	assert.Equal(t, []float64{3, 5, 7}, got.Plan.Space["short_window"])
	require.Len(t, got.Trials, 1)
	assert.Equal(t, 1.1, got.Trials[0].Metrics.Sharpe)
	require.Len(t, got.Sensitivity, 1)
	assert.Equal(t, domain.SensitivityOK, got.Sensitivity[0].Status)

	err = store.Insert(ctx, run)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestTuningRunStore_GetByManifestID(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTuningRunStore(pool)

	for _, id := range []string{"tr-1", "tr-2"} {
		require.NoError(t, store.Insert(ctx, &domain.TuningRun{
			TuningRunID: id, ManifestID: "ws-1", StrategyVersionID: "sv-1", CreatedAtMs: 1,
		}))
	}
	require.NoError(t, store.Insert(ctx, &domain.TuningRun{
		TuningRunID: "tr-3", ManifestID: "ws-2", StrategyVersionID: "sv-1", CreatedAtMs: 1,
	}))

	runs, err := store.GetByManifestID(ctx, "ws-1")
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}
