package leakcheck

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"market-pit-lab/internal/domain"
	"market-pit-lab/internal/storage/memory"
	"market-pit-lab/internal/worldstate"
)

type stores struct {
	candles      *memory.CandleStore
	fundamentals *memory.FundamentalsStore
	actions      *memory.CorporateActionStore
	ratings      *memory.RatingStore
}

func newStores() *stores {
	return &stores{
		candles:      memory.NewCandleStore(),
		fundamentals: memory.NewFundamentalsStore(),
		actions:      memory.NewCorporateActionStore(),
		ratings:      memory.NewRatingStore(),
	}
}

func (s *stores) validator() *Validator {
	return NewValidator(s.candles, s.fundamentals, s.actions, s.ratings,
		log.New(io.Discard, "", 0))
}

func day(t *testing.T, date string) int64 {
	t.Helper()
	d, err := domain.ParseDate(date)
	if err != nil {
		t.Fatal(err)
	}
	return domain.DecisionTs(d)
}

func cleanSnapshot(t *testing.T, s *stores) *worldstate.Snapshot {
	t.Helper()
	ctx := context.Background()
	ts1 := day(t, "2025-01-06")
	ts2 := day(t, "2025-01-07")

	bar1 := &domain.Candle{Symbol: "AAPL", TimestampMs: ts1, Close: 100, Volume: 10}
	bar2 := &domain.Candle{Symbol: "AAPL", TimestampMs: ts2, Close: 101, Volume: 10}
	if err := s.candles.InsertBulk(ctx, []*domain.Candle{bar1, bar2}); err != nil {
		t.Fatal(err)
	}
	fund := &domain.FundamentalsRow{Symbol: "AAPL", PublishedAtMs: ts1, IngestSeq: 1, Fields: map[string]float64{"eps": 2.1}}
	if err := s.fundamentals.InsertBulk(ctx, []*domain.FundamentalsRow{fund}); err != nil {
		t.Fatal(err)
	}

	return &worldstate.Snapshot{
		Manifest: &domain.WorldStateManifest{ManifestID: "abcdef0123456789"},
		Days: []*worldstate.DayFrame{
			{
				Date: "2025-01-06", DecisionTsMs: ts1,
				Symbols: map[string]*worldstate.SymbolFrame{
					"AAPL": {Candle: bar1, Fundamentals: fund},
				},
			},
			{
				Date: "2025-01-07", DecisionTsMs: ts2,
				Symbols: map[string]*worldstate.SymbolFrame{
					"AAPL": {Candle: bar2, Fundamentals: fund},
				},
			},
		},
	}
}

func TestValidatePassesCleanSnapshot(t *testing.T) {
	s := newStores()
	snap := cleanSnapshot(t, s)

	report, err := s.validator().Validate(context.Background(), snap, true)
	if err != nil {
		t.Fatalf("Validate failed on clean snapshot: %v", err)
	}
	if !report.Pass() {
		t.Fatalf("clean snapshot reported violations: %+v", report.Violations)
	}
	if report.CheckedRows == 0 {
		t.Error("validator checked zero rows")
	}
	if report.ManifestID != snap.Manifest.ManifestID {
		t.Errorf("report carries wrong manifest ID: %s", report.ManifestID)
	}
}

func TestValidateStrictRejectsFutureRow(t *testing.T) {
	s := newStores()
	snap := cleanSnapshot(t, s)

	// Doctor the first frame: fundamentals published a day after the
	// decision timestamp.
	leaky := &domain.FundamentalsRow{
		Symbol:        "AAPL",
		PublishedAtMs: day(t, "2025-01-07"),
		IngestSeq:     9,
		Fields:        map[string]float64{"eps": 9.9},
	}
	snap.Days[0].Symbols["AAPL"].Fundamentals = leaky

	_, err := s.validator().Validate(context.Background(), snap, true)
	if err == nil {
		t.Fatal("strict validation accepted a future-published row")
	}
	var leakErr *LeakDetectedError
	if !errors.As(err, &leakErr) {
		t.Fatalf("expected LeakDetectedError, got %T: %v", err, err)
	}
	if len(leakErr.Report.Violations) != 1 {
		t.Fatalf("expected exactly 1 violation, got %d: %+v",
			len(leakErr.Report.Violations), leakErr.Report.Violations)
	}
	v := leakErr.Report.Violations[0]
	if v.Symbol != "AAPL" || v.Field != domain.DatasetFundamentals {
		t.Errorf("unexpected violation: %+v", v)
	}
	if v.PublishedAtMs <= v.DecisionTsMs {
		t.Errorf("violation timestamps inconsistent: %+v", v)
	}
}

func TestValidateAdvisoryReturnsReport(t *testing.T) {
	s := newStores()
	snap := cleanSnapshot(t, s)
	snap.Days[0].Symbols["AAPL"].Fundamentals = &domain.FundamentalsRow{
		Symbol: "AAPL", PublishedAtMs: day(t, "2025-01-07"), IngestSeq: 9,
	}

	report, err := s.validator().Validate(context.Background(), snap, false)
	if err != nil {
		t.Fatalf("advisory validation must not fail: %v", err)
	}
	if report.Pass() {
		t.Fatal("advisory report should still carry the violation")
	}
	if report.StrictMode {
		t.Error("report should record advisory mode")
	}
}

func TestValidateEveryNthSkipsFrames(t *testing.T) {
	s := newStores()
	snap := cleanSnapshot(t, s)

	// Leak lives in the second (odd-indexed) frame, sampled out by n=2.
	snap.Days[1].Symbols["AAPL"].Fundamentals = &domain.FundamentalsRow{
		Symbol: "AAPL", PublishedAtMs: day(t, "2025-01-08"), IngestSeq: 9,
	}

	report, err := s.validator().EveryNth(2).Validate(context.Background(), snap, true)
	if err != nil {
		t.Fatalf("sampled validation failed: %v", err)
	}
	if !report.Pass() {
		t.Fatal("every-2nd sampling should not have visited the leaky frame")
	}

	// Exhaustive re-check catches it.
	if _, err := s.validator().Validate(context.Background(), snap, true); err == nil {
		t.Fatal("exhaustive validation missed the leak")
	}
}
