// Package preflight estimates operation cost before scheduling and blocks
// anything that would blow its budget. Exceeding a ceiling is a structured
// rejection with a remediation, never a silent scope cut.
package preflight

import (
	"context"
	"errors"
	"fmt"

	"market-pit-lab/internal/storage"
)

// Per-row cost coefficients, in seconds.
const (
	backtestSecondsPerRow   = 0.0002
	worldStateSecondsPerRow = 0.0001
	worldStateSecondsPerSym = 0.01
	customCodeSecondsPerRow = 0.00035
)

// Validation errors.
var (
	ErrEmptyUniverse     = errors.New("preflight failed: universe must not be empty")
	ErrNoRows            = errors.New("preflight failed: no rows available for requested range")
	ErrInvalidBudget     = errors.New("max estimated seconds must be positive")
	ErrInvalidTrials     = errors.New("preflight failed: trial count must be positive")
	ErrInvalidPerTrial   = errors.New("preflight failed: per-trial estimate must be positive")
	ErrInvalidComplexity = errors.New("preflight failed: complexity multiplier must be positive")
)

// BudgetExceededError blocks an operation whose estimate is over its
// ceiling. Suggestion always names at least one way to shrink the request.
type BudgetExceededError struct {
	Operation  string
	Estimated  float64
	MaxAllowed float64
	Suggestion string
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("preflight budget exceeded for %s: estimated_seconds=%.2f, max_allowed_seconds=%.2f. %s",
		e.Operation, e.Estimated, e.MaxAllowed, e.Suggestion)
}

// Estimate is an accepted preflight result.
type Estimate struct {
	Operation  string
	Seconds    float64
	MaxAllowed float64
	RowCount   int
}

// Estimator sizes operations against the registry.
type Estimator struct {
	candleStore storage.CandleStore
}

// NewEstimator creates an estimator over the candle registry.
func NewEstimator(candleStore storage.CandleStore) *Estimator {
	return &Estimator{candleStore: candleStore}
}

// countRows totals the OHLCV rows the operation would touch.
func (e *Estimator) countRows(ctx context.Context, universe []string, startMs, endMs int64) (int, error) {
	if len(universe) == 0 {
		return 0, ErrEmptyUniverse
	}
	total := 0
	for _, sym := range universe {
		candles, err := e.candleStore.GetByTimeRange(ctx, sym, startMs, endMs)
		if err != nil {
			return 0, fmt.Errorf("count rows for %s: %w", sym, err)
		}
		total += len(candles)
	}
	if total == 0 {
		return 0, ErrNoRows
	}
	return total, nil
}

// EstimateBacktest sizes one backtest run over the range.
func (e *Estimator) EstimateBacktest(ctx context.Context, universe []string, startMs, endMs int64) (float64, int, error) {
	rows, err := e.countRows(ctx, universe, startMs, endMs)
	if err != nil {
		return 0, 0, err
	}
	return float64(rows) * backtestSecondsPerRow, rows, nil
}

// EstimateWorldState sizes one snapshot build.
func (e *Estimator) EstimateWorldState(ctx context.Context, universe []string, startMs, endMs int64) (float64, int, error) {
	rows, err := e.countRows(ctx, universe, startMs, endMs)
	if err != nil {
		return 0, 0, err
	}
	return float64(rows)*worldStateSecondsPerRow + float64(len(universe))*worldStateSecondsPerSym, rows, nil
}

// EstimateTuning sizes a tuning run from its trial budget.
func EstimateTuning(numTrials int, perTrialSeconds float64) (float64, error) {
	if numTrials <= 0 {
		return 0, ErrInvalidTrials
	}
	if perTrialSeconds <= 0 {
		return 0, ErrInvalidPerTrial
	}
	return float64(numTrials) * perTrialSeconds, nil
}

// EstimateCustomCode sizes an external-strategy run. The complexity
// multiplier scales the per-row cost for code we cannot statically size.
func (e *Estimator) EstimateCustomCode(ctx context.Context, universe []string, startMs, endMs int64, complexity float64) (float64, int, error) {
	if complexity <= 0 {
		return 0, 0, ErrInvalidComplexity
	}
	rows, err := e.countRows(ctx, universe, startMs, endMs)
	if err != nil {
		return 0, 0, err
	}
	return float64(rows) * customCodeSecondsPerRow * complexity, rows, nil
}

// EnforceBacktestBudget blocks a backtest whose estimate is over budget.
func (e *Estimator) EnforceBacktestBudget(ctx context.Context, universe []string, startMs, endMs int64, maxSeconds float64) (*Estimate, error) {
	if maxSeconds <= 0 {
		return nil, ErrInvalidBudget
	}
	seconds, rows, err := e.EstimateBacktest(ctx, universe, startMs, endMs)
	if err != nil {
		return nil, err
	}
	if seconds > maxSeconds {
		return nil, &BudgetExceededError{
			Operation:  "backtest",
			Estimated:  seconds,
			MaxAllowed: maxSeconds,
			Suggestion: "Reduce universe size, shorten date range, or increase granularity.",
		}
	}
	return &Estimate{Operation: "backtest", Seconds: seconds, MaxAllowed: maxSeconds, RowCount: rows}, nil
}

// EnforceWorldStateBudget blocks a snapshot build whose estimate is over
// budget.
func (e *Estimator) EnforceWorldStateBudget(ctx context.Context, universe []string, startMs, endMs int64, maxSeconds float64) (*Estimate, error) {
	if maxSeconds <= 0 {
		return nil, ErrInvalidBudget
	}
	seconds, rows, err := e.EstimateWorldState(ctx, universe, startMs, endMs)
	if err != nil {
		return nil, err
	}
	if seconds > maxSeconds {
		return nil, &BudgetExceededError{
			Operation:  "world_state_build",
			Estimated:  seconds,
			MaxAllowed: maxSeconds,
			Suggestion: "Reduce universe size or date range before the world-state build.",
		}
	}
	return &Estimate{Operation: "world_state_build", Seconds: seconds, MaxAllowed: maxSeconds, RowCount: rows}, nil
}

// EnforceTuningBudget blocks a tuning run whose estimate is over budget.
func EnforceTuningBudget(numTrials int, perTrialSeconds, maxSeconds float64) (*Estimate, error) {
	if maxSeconds <= 0 {
		return nil, ErrInvalidBudget
	}
	seconds, err := EstimateTuning(numTrials, perTrialSeconds)
	if err != nil {
		return nil, err
	}
	if seconds > maxSeconds {
		return nil, &BudgetExceededError{
			Operation:  "tuning",
			Estimated:  seconds,
			MaxAllowed: maxSeconds,
			Suggestion: "Reduce the trial count or per-trial compute complexity.",
		}
	}
	return &Estimate{Operation: "tuning", Seconds: seconds, MaxAllowed: maxSeconds}, nil
}

// EnforceCustomCodeBudget blocks an external-strategy run whose estimate is
// over budget.
func (e *Estimator) EnforceCustomCodeBudget(ctx context.Context, universe []string, startMs, endMs int64, complexity, maxSeconds float64) (*Estimate, error) {
	if maxSeconds <= 0 {
		return nil, ErrInvalidBudget
	}
	seconds, rows, err := e.EstimateCustomCode(ctx, universe, startMs, endMs, complexity)
	if err != nil {
		return nil, err
	}
	if seconds > maxSeconds {
		return nil, &BudgetExceededError{
			Operation:  "custom_code",
			Estimated:  seconds,
			MaxAllowed: maxSeconds,
			Suggestion: "Reduce date range, universe size, or code complexity.",
		}
	}
	return &Estimate{Operation: "custom_code", Seconds: seconds, MaxAllowed: maxSeconds, RowCount: rows}, nil
}
