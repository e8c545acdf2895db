package preflight

import (
	"context"
	"errors"
	"math"
	"testing"

	"market-pit-lab/internal/domain"
	"market-pit-lab/internal/storage/memory"
)

func seededEstimator(t *testing.T, symbols []string, barsEach int) *Estimator {
	t.Helper()
	store := memory.NewCandleStore()
	var bars []*domain.Candle
	for _, sym := range symbols {
		for i := 0; i < barsEach; i++ {
			bars = append(bars, &domain.Candle{
				Symbol:      sym,
				TimestampMs: int64(i+1) * 86_400_000,
				Close:       100,
			})
		}
	}
	if err := store.InsertBulk(context.Background(), bars); err != nil {
		t.Fatal(err)
	}
	return NewEstimator(store)
}

func TestEstimateWorldState(t *testing.T) {
	est := seededEstimator(t, []string{"AAPL", "MSFT"}, 250)
	ctx := context.Background()

	seconds, rows, err := est.EstimateWorldState(ctx, []string{"AAPL", "MSFT"}, 0, 300*86_400_000)
	if err != nil {
		t.Fatalf("EstimateWorldState failed: %v", err)
	}
	if rows != 500 {
		t.Errorf("rows = %d, want 500", rows)
	}
	want := 500*worldStateSecondsPerRow + 2*worldStateSecondsPerSym
	if math.Abs(seconds-want) > 1e-12 {
		t.Errorf("seconds = %v, want %v", seconds, want)
	}
}

func TestEstimateErrors(t *testing.T) {
	est := seededEstimator(t, []string{"AAPL"}, 10)
	ctx := context.Background()

	if _, _, err := est.EstimateBacktest(ctx, nil, 0, 1); !errors.Is(err, ErrEmptyUniverse) {
		t.Errorf("expected ErrEmptyUniverse, got %v", err)
	}
	if _, _, err := est.EstimateBacktest(ctx, []string{"ZZZZ"}, 0, 1e15); !errors.Is(err, ErrNoRows) {
		t.Errorf("expected ErrNoRows, got %v", err)
	}
	if _, _, err := est.EstimateCustomCode(ctx, []string{"AAPL"}, 0, 1e15, 0); !errors.Is(err, ErrInvalidComplexity) {
		t.Errorf("expected ErrInvalidComplexity, got %v", err)
	}
	if _, err := EstimateTuning(0, 1); !errors.Is(err, ErrInvalidTrials) {
		t.Errorf("expected ErrInvalidTrials, got %v", err)
	}
	if _, err := EstimateTuning(10, 0); !errors.Is(err, ErrInvalidPerTrial) {
		t.Errorf("expected ErrInvalidPerTrial, got %v", err)
	}
}

func TestEnforceBacktestBudget(t *testing.T) {
	est := seededEstimator(t, []string{"AAPL"}, 10_000)
	ctx := context.Background()
	universe := []string{"AAPL"}

	// 10k rows * 0.0002 = 2s estimate.
	ok, err := est.EnforceBacktestBudget(ctx, universe, 0, 1e15, 5)
	if err != nil {
		t.Fatalf("within-budget request blocked: %v", err)
	}
	if ok.Seconds <= 0 || ok.RowCount != 10_000 {
		t.Errorf("unexpected estimate: %+v", ok)
	}

	_, err = est.EnforceBacktestBudget(ctx, universe, 0, 1e15, 1)
	var be *BudgetExceededError
	if !errors.As(err, &be) {
		t.Fatalf("expected BudgetExceededError, got %v", err)
	}
	if be.Suggestion == "" {
		t.Error("rejection carries no remediation suggestion")
	}
	if be.Estimated <= be.MaxAllowed {
		t.Errorf("rejection numbers inconsistent: %+v", be)
	}

	if _, err := est.EnforceBacktestBudget(ctx, universe, 0, 1e15, 0); !errors.Is(err, ErrInvalidBudget) {
		t.Errorf("expected ErrInvalidBudget, got %v", err)
	}
}

func TestEnforceTuningBudget(t *testing.T) {
	ok, err := EnforceTuningBudget(10, 0.5, 10)
	if err != nil {
		t.Fatalf("within-budget tuning blocked: %v", err)
	}
	if ok.Seconds != 5 {
		t.Errorf("seconds = %v, want 5", ok.Seconds)
	}

	var be *BudgetExceededError
	if _, err := EnforceTuningBudget(100, 0.5, 10); !errors.As(err, &be) {
		t.Fatalf("expected BudgetExceededError, got %v", err)
	}
	if be.Operation != "tuning" {
		t.Errorf("operation = %s", be.Operation)
	}
}

func TestEnforceCustomCodeBudget(t *testing.T) {
	est := seededEstimator(t, []string{"AAPL"}, 1000)
	ctx := context.Background()

	// 1000 rows * 0.00035 * 2.0 = 0.7s.
	ok, err := est.EnforceCustomCodeBudget(ctx, []string{"AAPL"}, 0, 1e15, 2.0, 1)
	if err != nil {
		t.Fatalf("within-budget request blocked: %v", err)
	}
	if math.Abs(ok.Seconds-0.7) > 1e-9 {
		t.Errorf("seconds = %v, want 0.7", ok.Seconds)
	}

	var be *BudgetExceededError
	if _, err := est.EnforceCustomCodeBudget(ctx, []string{"AAPL"}, 0, 1e15, 10, 1); !errors.As(err, &be) {
		t.Fatalf("expected BudgetExceededError, got %v", err)
	}
}
