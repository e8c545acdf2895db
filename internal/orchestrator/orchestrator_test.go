package orchestrator

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"market-pit-lab/internal/config"
	"market-pit-lab/internal/domain"
	"market-pit-lab/internal/preflight"
	"market-pit-lab/internal/storage/memory"
	"market-pit-lab/internal/tuning"
	"market-pit-lab/internal/worldstate"
)

type stores struct {
	instruments  *memory.InstrumentStore
	candles      *memory.CandleStore
	features     *memory.FeatureStore
	fundamentals *memory.FundamentalsStore
	actions      *memory.CorporateActionStore
	ratings      *memory.RatingStore
	manifests    *memory.WorldStateManifestStore
	runs         *memory.RunManifestStore
	strategies   *memory.StrategyVersionStore
	tunings      *memory.TuningRunStore
}

func newStores() *stores {
	return &stores{
		instruments:  memory.NewInstrumentStore(),
		candles:      memory.NewCandleStore(),
		features:     memory.NewFeatureStore(),
		fundamentals: memory.NewFundamentalsStore(),
		actions:      memory.NewCorporateActionStore(),
		ratings:      memory.NewRatingStore(),
		manifests:    memory.NewWorldStateManifestStore(),
		runs:         memory.NewRunManifestStore(),
		strategies:   memory.NewStrategyVersionStore(),
		tunings:      memory.NewTuningRunStore(),
	}
}

func newOrchestrator(t *testing.T, s *stores, mutate func(*config.Config)) *Orchestrator {
	t.Helper()
	cfg := config.Default()
	cfg.Artifacts.Dir = t.TempDir()
	if mutate != nil {
		mutate(cfg)
	}
	return New(Options{
		InstrumentStore: s.instruments,
		CandleStore:     s.candles,
		FeatureStore:    s.features,
		FundStore:       s.fundamentals,
		ActionStore:     s.actions,
		RatingStore:     s.ratings,
		ManifestStore:   s.manifests,
		RunStore:        s.runs,
		StrategyStore:   s.strategies,
		TuningStore:     s.tunings,
		Config:          cfg,
		Logger:          log.New(io.Discard, "", 0),
	})
}

func sessionTs(t *testing.T, date string) int64 {
	t.Helper()
	day, err := domain.ParseDate(date)
	if err != nil {
		t.Fatal(err)
	}
	return domain.DecisionTs(day)
}

// seedMarket loads AAPL with ten sessions that produce one full crossover
// round trip under a short=2, long=4 configuration.
func seedMarket(t *testing.T, s *stores) {
	t.Helper()
	ctx := context.Background()

	if err := s.instruments.Insert(ctx, &domain.InstrumentMaster{Symbol: "AAPL", Exchange: "NASDAQ", ActiveFromMs: 0}); err != nil {
		t.Fatal(err)
	}

	dates := []string{
		"2025-01-06", "2025-01-07", "2025-01-08", "2025-01-09", "2025-01-10",
		"2025-01-13", "2025-01-14", "2025-01-15", "2025-01-16", "2025-01-17",
	}
	closes := []float64{100, 101, 102, 104, 107, 110, 108, 101, 96, 94}

	var bars []*domain.Candle
	for i, date := range dates {
		ts := sessionTs(t, date)
		bars = append(bars, &domain.Candle{
			Symbol: "AAPL", TimestampMs: ts,
			Open: closes[i] - 1, High: closes[i] + 1, Low: closes[i] - 2, Close: closes[i], Volume: 1000,
		})
	}
	if err := s.candles.InsertBulk(ctx, bars); err != nil {
		t.Fatal(err)
	}
}

func buildRequest() worldstate.Request {
	return worldstate.Request{
		Universe:  []string{"AAPL"},
		StartDate: "2025-01-06",
		EndDate:   "2025-01-17",
	}
}

func strategyConfig() domain.StrategyConfig {
	return domain.StrategyConfig{
		SignalType:     domain.SignalTypeSMACrossover,
		ShortWindow:    2,
		LongWindow:     4,
		MaxPositions:   5,
		CostBps:        10,
		SlippageBps:    5,
		InitialCapital: 10000,
	}
}

func TestBuildWorldStateEndToEnd(t *testing.T) {
	s := newStores()
	seedMarket(t, s)
	o := newOrchestrator(t, s, nil)

	res, err := o.BuildWorldState(context.Background(), buildRequest())
	if err != nil {
		t.Fatalf("BuildWorldState: %v", err)
	}
	if res.Snapshot == nil || len(res.Snapshot.Days) != 10 {
		t.Fatalf("snapshot days = %d, want 10", len(res.Snapshot.Days))
	}
	if !res.LeakReport.Pass() {
		t.Fatalf("leak report failed: %+v", res.LeakReport.Violations)
	}
	if res.FramesPath == "" {
		t.Fatal("expected frames export path")
	}
	if res.Estimate == nil || res.Estimate.RowCount != 10 {
		t.Fatalf("estimate = %+v", res.Estimate)
	}

	stored, err := s.manifests.GetByID(context.Background(), res.Snapshot.Manifest.ManifestID)
	if err != nil {
		t.Fatalf("manifest not persisted: %v", err)
	}
	if stored.RowCount != res.Snapshot.Manifest.RowCount {
		t.Fatal("persisted manifest diverges from returned one")
	}
}

func TestBuildWorldStateEnforcesBudget(t *testing.T) {
	s := newStores()
	seedMarket(t, s)
	o := newOrchestrator(t, s, func(c *config.Config) {
		c.Budgets.MaxWorldStateSeconds = 1e-9
	})

	_, err := o.BuildWorldState(context.Background(), buildRequest())
	var budgetErr *preflight.BudgetExceededError
	if !errors.As(err, &budgetErr) {
		t.Fatalf("err = %v, want BudgetExceededError", err)
	}
	if budgetErr.Suggestion == "" {
		t.Fatal("budget error carries no suggestion")
	}
}

func TestRunBacktestRecordsRun(t *testing.T) {
	s := newStores()
	seedMarket(t, s)
	o := newOrchestrator(t, s, nil)
	ctx := context.Background()

	built, err := o.BuildWorldState(ctx, buildRequest())
	if err != nil {
		t.Fatalf("BuildWorldState: %v", err)
	}

	res, err := o.RunBacktest(ctx, built.Snapshot, "sma-crossover", strategyConfig())
	if err != nil {
		t.Fatalf("RunBacktest: %v", err)
	}
	if res.Result.Metrics.TradeCount != 2 {
		t.Fatalf("trade count = %d, want 2", res.Result.Metrics.TradeCount)
	}
	if res.Artifacts == nil || res.Artifacts.TradeBlotter == "" {
		t.Fatal("expected artifact paths")
	}

	stored, err := s.runs.GetByID(ctx, res.Run.RunID)
	if err != nil {
		t.Fatalf("run manifest not persisted: %v", err)
	}
	if stored.MetricsHash != res.Run.MetricsHash {
		t.Fatal("persisted metrics hash diverges")
	}

	// Replaying the identical run reuses the recorded manifest.
	again, err := o.RunBacktest(ctx, built.Snapshot, "sma-crossover", strategyConfig())
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if again.Run.RunID != res.Run.RunID {
		t.Fatalf("replay run ID %s != %s", again.Run.RunID, res.Run.RunID)
	}
}

func TestRunTuningSweepsPlan(t *testing.T) {
	s := newStores()
	seedMarket(t, s)
	o := newOrchestrator(t, s, nil)
	ctx := context.Background()

	built, err := o.BuildWorldState(ctx, buildRequest())
	if err != nil {
		t.Fatalf("BuildWorldState: %v", err)
	}

	plan, err := o.DeriveTuningPlan(tuning.PlanRequest{
		Config:        strategyConfig(),
		RiskMode:      domain.RiskModeSafe,
		IncludeLayers: []string{domain.LayerSignal},
	})
	if err != nil {
		t.Fatalf("DeriveTuningPlan: %v", err)
	}

	run, err := o.RunTuning(ctx, tuning.Request{
		Snapshot:     built.Snapshot,
		BaseConfig:   strategyConfig(),
		Plan:         plan,
		Target:       tuning.TargetSharpe,
		StrategyName: "sma-crossover",
		Seed:         42,
	})
	if err != nil {
		t.Fatalf("RunTuning: %v", err)
	}
	if len(run.Trials) == 0 {
		t.Fatal("no trials survived")
	}
	if len(run.Best) == 0 {
		t.Fatal("no ranked candidates")
	}

	stored, err := s.tunings.GetByID(ctx, run.TuningRunID)
	if err != nil {
		t.Fatalf("tuning run not persisted: %v", err)
	}
	if len(stored.Trials) != len(run.Trials) {
		t.Fatal("persisted tuning run diverges")
	}
}

func TestRunTuningEnforcesBudget(t *testing.T) {
	s := newStores()
	seedMarket(t, s)
	o := newOrchestrator(t, s, func(c *config.Config) {
		c.Budgets.MaxTuningSeconds = 1e-12
	})
	ctx := context.Background()

	built, err := o.BuildWorldState(ctx, buildRequest())
	if err != nil {
		t.Fatalf("BuildWorldState: %v", err)
	}
	plan, err := o.DeriveTuningPlan(tuning.PlanRequest{
		Config:   strategyConfig(),
		RiskMode: domain.RiskModeSafe,
	})
	if err != nil {
		t.Fatalf("DeriveTuningPlan: %v", err)
	}

	_, err = o.RunTuning(ctx, tuning.Request{
		Snapshot:     built.Snapshot,
		BaseConfig:   strategyConfig(),
		Plan:         plan,
		Target:       tuning.TargetSharpe,
		StrategyName: "sma-crossover",
	})
	var budgetErr *preflight.BudgetExceededError
	if !errors.As(err, &budgetErr) {
		t.Fatalf("err = %v, want BudgetExceededError", err)
	}
}

func TestVerifyCustomCode(t *testing.T) {
	s := newStores()
	seedMarket(t, s)
	o := newOrchestrator(t, s, nil)
	ctx := context.Background()

	built, err := o.BuildWorldState(ctx, buildRequest())
	if err != nil {
		t.Fatalf("BuildWorldState: %v", err)
	}

	exports := map[string]int{"prepare": 2, "generate_signals": 3, "risk_rules": 2}
	hash, est, err := o.VerifyCustomCode(ctx, built.Snapshot, "def prepare(self, cfg): ...", exports)
	if err != nil {
		t.Fatalf("VerifyCustomCode: %v", err)
	}
	if hash == "" || est == nil {
		t.Fatal("expected source hash and estimate")
	}

	_, _, err = o.VerifyCustomCode(ctx, built.Snapshot, "x", map[string]int{"prepare": 1})
	if err == nil {
		t.Fatal("bad exports accepted")
	}
}
