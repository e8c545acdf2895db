// Package completeness classifies data gaps before a snapshot is assembled.
// Required datasets (instrument master, OHLCV) fail the build on any gap;
// optional datasets degrade to recorded skips. Nothing is ever silently
// filled.
package completeness

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"market-pit-lab/internal/domain"
	"market-pit-lab/internal/storage"
)

// Check represents one completeness criterion.
type Check struct {
	Name      string
	Threshold string
	Actual    string
	Pass      bool
}

// Result contains all checks plus the classified gaps.
type Result struct {
	Checks   []Check
	Critical []string           // fail-fast gaps in required datasets
	Skips    []domain.SkipEntry // non-critical gaps, must carry a reason
	AllPass  bool
}

// IntegrityError reports critical gaps in required datasets.
// A build that hits one must abort; reducing scope is not an option for
// required data.
type IntegrityError struct {
	Gaps        []string
	Remediation string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("data integrity: %d critical gap(s); %s", len(e.Gaps), e.Remediation)
}

// Gap reasons recorded in skip entries and critical errors.
const (
	ReasonMissingOHLCV      = "critical_missing_ohlcv_rows"
	ReasonUnknownSymbol     = "unknown_symbol"
	ReasonInactiveInService = "instrument_inactive_in_range"
	ReasonMissingTechnicals = "missing_technical_rows"
	ReasonNoFundamentals    = "no_fundamentals_published"
	ReasonNoRatings         = "no_ratings_published"
)

// Checker validates dataset completeness for a universe and range.
type Checker struct {
	instrumentStore storage.InstrumentStore
	candleStore     storage.CandleStore
	featureStore    storage.FeatureStore
}

// NewChecker creates a new completeness checker.
func NewChecker(
	instrumentStore storage.InstrumentStore,
	candleStore storage.CandleStore,
	featureStore storage.FeatureStore,
) *Checker {
	return &Checker{
		instrumentStore: instrumentStore,
		candleStore:     candleStore,
		featureStore:    featureStore,
	}
}

// Check validates the universe against the registry for [startMs, endMs].
// requiredFeatures lists the technical names every (symbol, session) is
// expected to carry; gaps there are non-critical.
func (c *Checker) Check(ctx context.Context, universe []string, startMs, endMs int64, requiredFeatures []string) (*Result, error) {
	result := &Result{AllPass: true}

	candlesBySymbol := make(map[string][]*domain.Candle, len(universe))

	// Check 1: every symbol is known and active across the range.
	unknown, inactive, err := c.checkInstruments(ctx, universe, startMs, endMs)
	if err != nil {
		return nil, err
	}
	check1 := Check{
		Name:      "Universe membership",
		Threshold: "all symbols known and active",
		Actual:    fmt.Sprintf("%d unknown, %d inactive", len(unknown), len(inactive)),
		Pass:      len(unknown) == 0 && len(inactive) == 0,
	}
	result.Checks = append(result.Checks, check1)
	for _, sym := range unknown {
		result.Critical = append(result.Critical, fmt.Sprintf("%s: %s", sym, ReasonUnknownSymbol))
	}
	for _, sym := range inactive {
		result.Critical = append(result.Critical, fmt.Sprintf("%s: %s", sym, ReasonInactiveInService))
	}

	// Collect candles and derive the session grid from observed bars.
	sessions := make(map[int64]struct{})
	for _, sym := range universe {
		candles, err := c.candleStore.GetByTimeRange(ctx, sym, startMs, endMs)
		if err != nil {
			return nil, fmt.Errorf("load candles for %s: %w", sym, err)
		}
		candlesBySymbol[sym] = candles
		for _, bar := range candles {
			sessions[bar.TimestampMs] = struct{}{}
		}
	}
	sessionList := make([]int64, 0, len(sessions))
	for ts := range sessions {
		sessionList = append(sessionList, ts)
	}
	sort.Slice(sessionList, func(i, j int) bool { return sessionList[i] < sessionList[j] })

	// Check 2: OHLCV coverage. A symbol missing a bar on a session other
	// symbols traded is a critical gap; so is a symbol with no bars at all.
	missingBars := 0
	for _, sym := range universe {
		have := make(map[int64]struct{}, len(candlesBySymbol[sym]))
		for _, bar := range candlesBySymbol[sym] {
			have[bar.TimestampMs] = struct{}{}
		}
		if len(have) == 0 {
			missingBars += len(sessionList)
			result.Critical = append(result.Critical,
				fmt.Sprintf("%s: %s (no bars in range)", sym, ReasonMissingOHLCV))
			continue
		}
		for _, ts := range sessionList {
			if _, ok := have[ts]; !ok {
				missingBars++
				result.Critical = append(result.Critical,
					fmt.Sprintf("%s: %s (session %d)", sym, ReasonMissingOHLCV, ts))
			}
		}
	}
	result.Checks = append(result.Checks, Check{
		Name:      "OHLCV coverage",
		Threshold: "= 0 missing bars",
		Actual:    fmt.Sprintf("%d", missingBars),
		Pass:      missingBars == 0,
	})

	// Check 3: technical coverage. Missing technicals reduce scope with a
	// recorded reason instead of failing the build.
	missingTech := 0
	for _, sym := range universe {
		features, err := c.featureStore.GetByTimeRange(ctx, sym, startMs, endMs)
		if err != nil {
			return nil, fmt.Errorf("load features for %s: %w", sym, err)
		}
		have := make(map[string]struct{}, len(features))
		for _, f := range features {
			have[featureKey(f.TimestampMs, f.Name)] = struct{}{}
		}
		for _, name := range requiredFeatures {
			gaps := 0
			for _, ts := range sessionList {
				if _, ok := have[featureKey(ts, name)]; !ok {
					gaps++
				}
			}
			if gaps > 0 {
				missingTech += gaps
				result.Skips = append(result.Skips, domain.SkipEntry{
					Symbol:         sym,
					Field:          name,
					FallbackReason: ReasonMissingTechnicals,
					Impact:         fmt.Sprintf("%d of %d sessions lack %s; signal coverage reduced", gaps, len(sessionList), name),
				})
			}
		}
	}
	result.Checks = append(result.Checks, Check{
		Name:      "Technical coverage",
		Threshold: "= 0 missing points (non-critical)",
		Actual:    fmt.Sprintf("%d", missingTech),
		Pass:      missingTech == 0,
	})

	for _, check := range result.Checks {
		if !check.Pass {
			result.AllPass = false
		}
	}
	return result, nil
}

// Err converts critical gaps into an IntegrityError, or nil if none.
func (r *Result) Err() error {
	if len(r.Critical) == 0 {
		return nil
	}
	return &IntegrityError{
		Gaps:        r.Critical,
		Remediation: "backfill the missing market_ohlcv rows or narrow the universe/date range",
	}
}

func (c *Checker) checkInstruments(ctx context.Context, universe []string, startMs, endMs int64) (unknown, inactive []string, err error) {
	for _, sym := range universe {
		inst, err := c.instrumentStore.GetBySymbol(ctx, sym)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				unknown = append(unknown, sym)
				continue
			}
			return nil, nil, fmt.Errorf("load instrument %s: %w", sym, err)
		}
		if !inst.Active(startMs) || !inst.Active(endMs) {
			inactive = append(inactive, sym)
		}
	}
	return unknown, inactive, nil
}

func featureKey(ts int64, name string) string {
	return fmt.Sprintf("%d|%s", ts, name)
}
