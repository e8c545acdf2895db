package asof

import (
	"testing"
	"time"

	"market-pit-lab/internal/domain"
)

func msAt(date string) int64 {
	day, err := domain.ParseDate(date)
	if err != nil {
		panic(err)
	}
	return domain.DecisionTs(day)
}

func TestFundamentalsAt_PublicationBoundary(t *testing.T) {
	// Quarterly earnings published Dec 31 and Jan 8. A decision on Jan 5
	// must see only the December row.
	rows := []*domain.FundamentalsRow{
		{Symbol: "AAPL", PublishedAtMs: msAt("2024-12-31"), IngestSeq: 1, Fields: map[string]float64{"eps": 2.1}},
		{Symbol: "AAPL", PublishedAtMs: msAt("2025-01-08"), IngestSeq: 2, Fields: map[string]float64{"eps": 2.4}},
	}

	got := FundamentalsAt(msAt("2025-01-05"), rows, domain.LastWriteWins)
	if got == nil {
		t.Fatal("expected a resolved row")
	}
	if eps, _ := got.Field("eps"); eps != 2.1 {
		t.Errorf("resolved future row: eps = %v", eps)
	}

	// On Jan 8 the revision becomes visible.
	got = FundamentalsAt(msAt("2025-01-08"), rows, domain.LastWriteWins)
	if eps, _ := got.Field("eps"); eps != 2.4 {
		t.Errorf("expected revised row at its publication instant, eps = %v", eps)
	}
}

func TestFundamentalsAt_NothingPublishedYet(t *testing.T) {
	rows := []*domain.FundamentalsRow{
		{Symbol: "AAPL", PublishedAtMs: 5000, IngestSeq: 1},
	}

	if got := FundamentalsAt(4999, rows, domain.LastWriteWins); got != nil {
		t.Errorf("expected nil before first publication, got %+v", got)
	}
	if got := FundamentalsAt(1000, nil, domain.LastWriteWins); got != nil {
		t.Error("expected nil for empty history")
	}
}

func TestFundamentalsAt_TieBreak(t *testing.T) {
	rows := []*domain.FundamentalsRow{
		{Symbol: "AAPL", PublishedAtMs: 5000, IngestSeq: 1, Fields: map[string]float64{"eps": 2.1}},
		{Symbol: "AAPL", PublishedAtMs: 5000, IngestSeq: 2, Fields: map[string]float64{"eps": 2.2}},
	}

	lww := FundamentalsAt(6000, rows, domain.LastWriteWins)
	if eps, _ := lww.Field("eps"); eps != 2.2 {
		t.Errorf("last-write-wins picked eps = %v, want 2.2", eps)
	}

	fww := FundamentalsAt(6000, rows, domain.FirstWriteWins)
	if eps, _ := fww.Field("eps"); eps != 2.1 {
		t.Errorf("first-write-wins picked eps = %v, want 2.1", eps)
	}
}

func TestRatingAt(t *testing.T) {
	events := []*domain.RatingEvent{
		{Symbol: "AAPL", RevisedAtMs: 1000, IngestSeq: 1, Agency: "AgencyA", Rating: "hold"},
		{Symbol: "AAPL", RevisedAtMs: 3000, IngestSeq: 2, Agency: "AgencyA", Rating: "buy"},
	}

	got := RatingAt(2000, events, domain.LastWriteWins)
	if got == nil || got.Rating != "hold" {
		t.Errorf("expected hold at ts 2000, got %+v", got)
	}

	if got := RatingAt(500, events, domain.LastWriteWins); got != nil {
		t.Error("expected nil before first revision")
	}
}

func TestActionsThrough(t *testing.T) {
	actions := []*domain.CorporateAction{
		{Symbol: "AAPL", EffectiveAtMs: 1000, IngestSeq: 1, ActionType: domain.ActionTypeSplit, Value: 2},
		{Symbol: "AAPL", EffectiveAtMs: 3000, IngestSeq: 2, ActionType: domain.ActionTypeDividend, Value: 0.5},
	}

	got := ActionsThrough(2000, actions)
	if len(got) != 1 || got[0].ActionType != domain.ActionTypeSplit {
		t.Errorf("expected only the split through ts 2000, got %v", got)
	}

	if got := ActionsThrough(500, actions); len(got) != 0 {
		t.Errorf("expected no actions before first effective ts, got %d", len(got))
	}
}

func TestCandleAt(t *testing.T) {
	candles := []*domain.Candle{
		{Symbol: "AAPL", TimestampMs: 1000, Close: 1},
		{Symbol: "AAPL", TimestampMs: 2000, Close: 2},
	}

	if got := CandleAt(1500, candles); got == nil || got.Close != 1 {
		t.Errorf("expected bar at 1000, got %+v", got)
	}
	if got := CandleAt(500, candles); got != nil {
		t.Error("expected nil before first bar")
	}
}

func TestDecisionTsIsSessionClose(t *testing.T) {
	day, _ := domain.ParseDate("2025-01-05")
	want := time.Date(2025, 1, 5, 21, 0, 0, 0, time.UTC).UnixMilli()
	if got := domain.DecisionTs(day); got != want {
		t.Errorf("DecisionTs = %d, want %d", got, want)
	}
}
