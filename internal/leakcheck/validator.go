// Package leakcheck verifies the point-in-time property of an assembled
// snapshot: no frame may carry a row whose publication timestamp exceeds
// the frame's decision timestamp. The validator re-queries the registry
// for every sampled triple instead of trusting the snapshot, so a buggy
// store bound or a doctored frame both surface as violations.
package leakcheck

import (
	"context"
	"fmt"
	"log"
	"sort"

	"market-pit-lab/internal/domain"
	"market-pit-lab/internal/storage"
	"market-pit-lab/internal/worldstate"
)

// LeakDetectedError aborts strict-mode validation. It carries the full
// report so the caller can surface every violation, not just the first.
type LeakDetectedError struct {
	Report *domain.LeakReport
}

func (e *LeakDetectedError) Error() string {
	return fmt.Sprintf("leak check failed: %d violation(s) across %d checked rows (manifest %s)",
		len(e.Report.Violations), e.Report.CheckedRows, e.Report.ManifestID)
}

// Validator checks snapshots for look-ahead leaks against the registry.
type Validator struct {
	candleStore storage.CandleStore
	fundStore   storage.FundamentalsStore
	actionStore storage.CorporateActionStore
	ratingStore storage.RatingStore

	// sampleEveryNth picks every nth day frame; <= 1 checks all of them.
	sampleEveryNth int
	log            *log.Logger
}

// NewValidator creates an exhaustive validator over the given stores.
func NewValidator(
	candleStore storage.CandleStore,
	fundStore storage.FundamentalsStore,
	actionStore storage.CorporateActionStore,
	ratingStore storage.RatingStore,
	logger *log.Logger,
) *Validator {
	return &Validator{
		candleStore:    candleStore,
		fundStore:      fundStore,
		actionStore:    actionStore,
		ratingStore:    ratingStore,
		sampleEveryNth: 1,
		log:            logger,
	}
}

// EveryNth switches the validator from exhaustive checking to sampling
// every nth day frame. n <= 1 restores exhaustive checking.
func (v *Validator) EveryNth(n int) *Validator {
	if n < 1 {
		n = 1
	}
	v.sampleEveryNth = n
	return v
}

// Validate checks every sampled (symbol, decision timestamp) pair of the
// snapshot. In strict mode any violation returns *LeakDetectedError; in
// advisory mode the report is returned and the caller decides.
func (v *Validator) Validate(ctx context.Context, snap *worldstate.Snapshot, strict bool) (*domain.LeakReport, error) {
	report := &domain.LeakReport{
		ManifestID: snap.Manifest.ManifestID,
		StrictMode: strict,
	}

	for i, day := range snap.Days {
		if v.sampleEveryNth > 1 && i%v.sampleEveryNth != 0 {
			continue
		}
		for _, sym := range sortedSymbols(day) {
			if err := v.checkFrame(ctx, sym, day.DecisionTsMs, day.Symbols[sym], report); err != nil {
				return nil, err
			}
		}
	}

	if !report.Pass() {
		v.log.Printf("leak check FAILED: manifest=%s violations=%d checked=%d",
			shortID(report.ManifestID), len(report.Violations), report.CheckedRows)
		if strict {
			return nil, &LeakDetectedError{Report: report}
		}
		return report, nil
	}

	v.log.Printf("leak check passed: manifest=%s checked=%d sampling=every_%d",
		shortID(report.ManifestID), report.CheckedRows, v.sampleEveryNth)
	return report, nil
}

// checkFrame asserts the frame's own rows and the registry's resolution
// for the same pair both respect the decision timestamp.
func (v *Validator) checkFrame(ctx context.Context, sym string, decisionTs int64, frame *worldstate.SymbolFrame, report *domain.LeakReport) error {
	if frame == nil {
		return nil
	}

	if frame.Candle != nil {
		report.CheckedRows++
		if frame.Candle.PublishedAt() > decisionTs {
			report.Violations = append(report.Violations, violation(sym, domain.DatasetCandles, decisionTs, frame.Candle.PublishedAt()))
		}
	}
	if frame.Fundamentals != nil {
		report.CheckedRows++
		if frame.Fundamentals.PublishedAtMs > decisionTs {
			report.Violations = append(report.Violations, violation(sym, domain.DatasetFundamentals, decisionTs, frame.Fundamentals.PublishedAtMs))
		}
	}
	if frame.Rating != nil {
		report.CheckedRows++
		if frame.Rating.RevisedAtMs > decisionTs {
			report.Violations = append(report.Violations, violation(sym, domain.DatasetRatings, decisionTs, frame.Rating.RevisedAtMs))
		}
	}
	for _, action := range frame.Actions {
		report.CheckedRows++
		if action.EffectiveAtMs > decisionTs {
			report.Violations = append(report.Violations, violation(sym, domain.DatasetCorporateActions, decisionTs, action.EffectiveAtMs))
		}
	}

	// Registry re-query: the bounded reads below must only ever return
	// rows published at or before the bound. A store that leaks rows past
	// its bound would poison every snapshot built on top of it.
	funds, err := v.fundStore.GetPublishedUpTo(ctx, sym, decisionTs)
	if err != nil {
		return fmt.Errorf("re-query fundamentals for %s: %w", sym, err)
	}
	for _, row := range funds {
		report.CheckedRows++
		if row.PublishedAtMs > decisionTs {
			report.Violations = append(report.Violations, violation(sym, domain.DatasetFundamentals, decisionTs, row.PublishedAtMs))
		}
	}

	ratings, err := v.ratingStore.GetRevisedUpTo(ctx, sym, decisionTs)
	if err != nil {
		return fmt.Errorf("re-query ratings for %s: %w", sym, err)
	}
	for _, row := range ratings {
		report.CheckedRows++
		if row.RevisedAtMs > decisionTs {
			report.Violations = append(report.Violations, violation(sym, domain.DatasetRatings, decisionTs, row.RevisedAtMs))
		}
	}

	actions, err := v.actionStore.GetEffectiveUpTo(ctx, sym, decisionTs)
	if err != nil {
		return fmt.Errorf("re-query corporate actions for %s: %w", sym, err)
	}
	for _, row := range actions {
		report.CheckedRows++
		if row.EffectiveAtMs > decisionTs {
			report.Violations = append(report.Violations, violation(sym, domain.DatasetCorporateActions, decisionTs, row.EffectiveAtMs))
		}
	}

	return nil
}

func violation(sym, field string, decisionTs, publishedAt int64) domain.LeakViolation {
	return domain.LeakViolation{
		Symbol:        sym,
		Field:         field,
		DecisionTsMs:  decisionTs,
		PublishedAtMs: publishedAt,
	}
}

func sortedSymbols(day *worldstate.DayFrame) []string {
	syms := make([]string, 0, len(day.Symbols))
	for sym := range day.Symbols {
		syms = append(syms, sym)
	}
	sort.Strings(syms)
	return syms
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
