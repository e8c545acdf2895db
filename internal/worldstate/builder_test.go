package worldstate

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"market-pit-lab/internal/completeness"
	"market-pit-lab/internal/domain"
	"market-pit-lab/internal/storage/memory"
)

type fixture struct {
	instruments  *memory.InstrumentStore
	candles      *memory.CandleStore
	features     *memory.FeatureStore
	fundamentals *memory.FundamentalsStore
	actions      *memory.CorporateActionStore
	ratings      *memory.RatingStore
	manifests    *memory.WorldStateManifestStore
}

func newFixture() *fixture {
	return &fixture{
		instruments:  memory.NewInstrumentStore(),
		candles:      memory.NewCandleStore(),
		features:     memory.NewFeatureStore(),
		fundamentals: memory.NewFundamentalsStore(),
		actions:      memory.NewCorporateActionStore(),
		ratings:      memory.NewRatingStore(),
		manifests:    memory.NewWorldStateManifestStore(),
	}
}

func (f *fixture) builder() *Builder {
	return NewBuilder(
		f.instruments, f.candles, f.features,
		f.fundamentals, f.actions, f.ratings, f.manifests,
		log.New(io.Discard, "", 0),
	)
}

func sessionTs(t *testing.T, date string) int64 {
	t.Helper()
	day, err := domain.ParseDate(date)
	if err != nil {
		t.Fatal(err)
	}
	return domain.DecisionTs(day)
}

// seedWeek loads AAPL with five sessions of bars and technicals plus one
// fundamentals row published mid-week.
func seedWeek(t *testing.T, f *fixture) {
	t.Helper()
	ctx := context.Background()

	if err := f.instruments.Insert(ctx, &domain.InstrumentMaster{Symbol: "AAPL", Exchange: "NASDAQ", ActiveFromMs: 0}); err != nil {
		t.Fatal(err)
	}

	dates := []string{"2025-01-06", "2025-01-07", "2025-01-08", "2025-01-09", "2025-01-10"}
	closes := []float64{100, 102, 101, 104, 107}

	var bars []*domain.Candle
	var points []*domain.FeaturePoint
	for i, date := range dates {
		ts := sessionTs(t, date)
		bars = append(bars, &domain.Candle{
			Symbol: "AAPL", TimestampMs: ts,
			Open: closes[i] - 1, High: closes[i] + 1, Low: closes[i] - 2, Close: closes[i], Volume: 1000,
		})
		points = append(points, &domain.FeaturePoint{Symbol: "AAPL", TimestampMs: ts, Name: "sma_short", Value: closes[i]})
	}
	if err := f.candles.InsertBulk(ctx, bars); err != nil {
		t.Fatal(err)
	}
	if err := f.features.InsertBulk(ctx, points); err != nil {
		t.Fatal(err)
	}

	rows := []*domain.FundamentalsRow{
		{Symbol: "AAPL", PublishedAtMs: sessionTs(t, "2025-01-08"), IngestSeq: 1, Fields: map[string]float64{"eps": 2.1}},
	}
	if err := f.fundamentals.InsertBulk(ctx, rows); err != nil {
		t.Fatal(err)
	}
}

func weekRequest() Request {
	return Request{
		Universe:         []string{"AAPL"},
		StartDate:        "2025-01-06",
		EndDate:          "2025-01-10",
		AdjustmentPolicy: domain.AdjustNone,
		TieBreak:         domain.LastWriteWins,
		RequiredFeatures: []string{"sma_short"},
	}
}

func TestBuildProducesOrderedFrames(t *testing.T) {
	f := newFixture()
	seedWeek(t, f)

	snap, err := f.builder().Build(context.Background(), weekRequest())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if len(snap.Days) != 5 {
		t.Fatalf("expected 5 day frames, got %d", len(snap.Days))
	}
	for i := 1; i < len(snap.Days); i++ {
		if snap.Days[i].DecisionTsMs <= snap.Days[i-1].DecisionTsMs {
			t.Fatal("day frames not ordered by decision timestamp")
		}
	}

	frame := snap.Days[0].Symbols["AAPL"]
	if frame.Candle == nil || frame.Candle.Close != 100 {
		t.Errorf("unexpected first-day bar: %+v", frame.Candle)
	}
	if frame.Features["sma_short"] != 100 {
		t.Errorf("unexpected first-day sma_short: %v", frame.Features["sma_short"])
	}
}

func TestBuildFramesArePointInTime(t *testing.T) {
	f := newFixture()
	seedWeek(t, f)

	snap, err := f.builder().Build(context.Background(), weekRequest())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	// Fundamentals published on Jan 8 must be invisible on Jan 6-7 and
	// visible from Jan 8 on.
	for _, day := range snap.Days {
		frame := day.Symbols["AAPL"]
		published := sessionTs(t, "2025-01-08")
		if day.DecisionTsMs < published {
			if frame.Fundamentals != nil {
				t.Errorf("day %s sees fundamentals published later", day.Date)
			}
		} else {
			if frame.Fundamentals == nil {
				t.Errorf("day %s should see the published fundamentals", day.Date)
			}
		}
	}
}

func TestBuildIdempotent(t *testing.T) {
	f := newFixture()
	seedWeek(t, f)

	first, err := f.builder().Build(context.Background(), weekRequest())
	if err != nil {
		t.Fatalf("first build failed: %v", err)
	}
	second, err := f.builder().Build(context.Background(), weekRequest())
	if err != nil {
		t.Fatalf("second build failed: %v", err)
	}

	if first.Manifest.ManifestID != second.Manifest.ManifestID {
		t.Errorf("rebuild produced a different manifest: %s vs %s",
			first.Manifest.ManifestID, second.Manifest.ManifestID)
	}
	for _, name := range []string{domain.DatasetCandles, domain.DatasetFeatures, domain.DatasetFundamentals} {
		if first.Manifest.DatasetHash(name) != second.Manifest.DatasetHash(name) {
			t.Errorf("dataset %s hash changed across rebuilds", name)
		}
	}

	// New data mints a new manifest.
	err = f.candles.InsertBulk(context.Background(), []*domain.Candle{
		{Symbol: "AAPL", TimestampMs: sessionTs(t, "2025-01-09") + 1, Close: 105},
	})
	if err != nil {
		t.Fatal(err)
	}
	third, err := f.builder().Build(context.Background(), weekRequest())
	if err != nil {
		t.Fatalf("third build failed: %v", err)
	}
	if third.Manifest.ManifestID == first.Manifest.ManifestID {
		t.Error("registry change did not change the manifest ID")
	}
}

func TestBuildFailsFastOnCriticalGap(t *testing.T) {
	f := newFixture()
	seedWeek(t, f)
	ctx := context.Background()

	// MSFT is known but has no bars at all.
	if err := f.instruments.Insert(ctx, &domain.InstrumentMaster{Symbol: "MSFT", Exchange: "NASDAQ", ActiveFromMs: 0}); err != nil {
		t.Fatal(err)
	}

	req := weekRequest()
	req.Universe = []string{"AAPL", "MSFT"}

	_, err := f.builder().Build(ctx, req)
	if err == nil {
		t.Fatal("expected integrity error for symbol with no bars")
	}
	var ie *completeness.IntegrityError
	if !errors.As(err, &ie) {
		t.Fatalf("expected IntegrityError, got %T: %v", err, err)
	}

	// Nothing was persisted.
	all, _ := f.manifests.GetAll(ctx)
	if len(all) != 0 {
		t.Errorf("aborted build persisted %d manifests", len(all))
	}
}

func TestBuildRecordsSkipsForMissingTechnicals(t *testing.T) {
	f := newFixture()
	seedWeek(t, f)

	req := weekRequest()
	req.RequiredFeatures = []string{"sma_short", "sma_long"} // sma_long never ingested

	snap, err := f.builder().Build(context.Background(), req)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if len(snap.Manifest.SkipReport) != 1 {
		t.Fatalf("expected 1 skip entry, got %d", len(snap.Manifest.SkipReport))
	}
	skip := snap.Manifest.SkipReport[0]
	if skip.Field != "sma_long" || skip.FallbackReason == "" {
		t.Errorf("unexpected skip entry: %+v", skip)
	}
}

func TestBuildBackAdjustsSplits(t *testing.T) {
	f := newFixture()
	seedWeek(t, f)
	ctx := context.Background()

	// 2:1 split effective Jan 9. Back adjustment halves earlier bars.
	err := f.actions.InsertBulk(ctx, []*domain.CorporateAction{
		{Symbol: "AAPL", EffectiveAtMs: sessionTs(t, "2025-01-09"), IngestSeq: 1, ActionType: domain.ActionTypeSplit, Value: 2},
	})
	if err != nil {
		t.Fatal(err)
	}

	req := weekRequest()
	req.AdjustmentPolicy = domain.AdjustBack

	snap, err := f.builder().Build(ctx, req)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	first := snap.Days[0].Symbols["AAPL"].Candle
	if first.Close != 50 {
		t.Errorf("back adjustment: first close = %v, want 50", first.Close)
	}
	last := snap.Days[4].Symbols["AAPL"].Candle
	if last.Close != 107 {
		t.Errorf("back adjustment must not touch post-split bars, close = %v", last.Close)
	}

	// Raw registry rows are hashed, so the policy does not change dataset
	// hashes, only the manifest identity.
	req2 := weekRequest()
	req2.AdjustmentPolicy = domain.AdjustNone
	snapNone, err := f.builder().Build(ctx, req2)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if snapNone.Manifest.ManifestID == snap.Manifest.ManifestID {
		t.Error("adjustment policy must be part of the manifest identity")
	}
	if snapNone.Manifest.DatasetHash(domain.DatasetCandles) != snap.Manifest.DatasetHash(domain.DatasetCandles) {
		t.Error("dataset hash should pin raw registry rows regardless of policy")
	}
}

func TestBuildValidatesRequest(t *testing.T) {
	f := newFixture()
	seedWeek(t, f)
	ctx := context.Background()

	req := weekRequest()
	req.Universe = nil
	if _, err := f.builder().Build(ctx, req); err != ErrEmptyUniverse {
		t.Errorf("expected ErrEmptyUniverse, got %v", err)
	}

	req = weekRequest()
	req.StartDate, req.EndDate = req.EndDate, req.StartDate
	if _, err := f.builder().Build(ctx, req); err != ErrInvalidRange {
		t.Errorf("expected ErrInvalidRange, got %v", err)
	}

	req = weekRequest()
	req.AdjustmentPolicy = "sideways"
	if _, err := f.builder().Build(ctx, req); err == nil {
		t.Error("expected error for unknown adjustment policy")
	}
}
