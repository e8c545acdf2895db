package backtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"testing"

	"market-pit-lab/internal/contract"
	"market-pit-lab/internal/domain"
	"market-pit-lab/internal/idhash"
	"market-pit-lab/internal/worldstate"
)

func newEngine() *Engine {
	return NewEngine(log.New(io.Discard, "", 0))
}

// snapshotFor builds a ten-session single-symbol snapshot with the given
// closes, one session per calendar day starting 2025-01-01.
func snapshotFor(symbol string, closes []float64) *worldstate.Snapshot {
	snap := &worldstate.Snapshot{
		Manifest: &domain.WorldStateManifest{
			ManifestID: "test-manifest",
			Universe:   []string{symbol},
		},
	}
	for i, close := range closes {
		date := fmt.Sprintf("2025-01-%02d", i+1)
		day, _ := domain.ParseDate(date)
		ts := domain.DecisionTs(day)
		snap.Days = append(snap.Days, &worldstate.DayFrame{
			Date:         date,
			DecisionTsMs: ts,
			Symbols: map[string]*worldstate.SymbolFrame{
				symbol: {Candle: &domain.Candle{Symbol: symbol, TimestampMs: ts, Close: close, Volume: 1000}},
			},
		})
	}
	return snap
}

func crossoverConfig() domain.StrategyConfig {
	return domain.StrategyConfig{
		SignalType:     domain.SignalTypeSMACrossover,
		ShortWindow:    2,
		LongWindow:     4,
		MaxPositions:   5,
		CostBps:        10,
		InitialCapital: 10000,
	}
}

// Ten daily candles that rise through a crossover and fall back through it.
var tenCloses = []float64{100, 101, 102, 104, 107, 110, 108, 101, 96, 94}

func runOnce(t *testing.T, closes []float64, cfg domain.StrategyConfig) *Result {
	t.Helper()
	res, err := newEngine().Run(context.Background(), snapshotFor("ABC", closes), contract.NewSMACrossover(), cfg)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.State != StateFinalized {
		t.Fatalf("run ended in %s", res.State)
	}
	return res
}

func TestRunDeterministicReplay(t *testing.T) {
	cfg := crossoverConfig()

	first := runOnce(t, tenCloses, cfg)
	second := runOnce(t, tenCloses, cfg)

	if first.Metrics != second.Metrics {
		t.Fatalf("replay diverged:\n  %+v\n  %+v", first.Metrics, second.Metrics)
	}
	h1 := idhash.ComputeMetricsHash(first.Metrics)
	h2 := idhash.ComputeMetricsHash(second.Metrics)
	if h1 != h2 {
		t.Fatalf("metrics hashes differ: %s vs %s", h1, h2)
	}
	if first.Metrics.FinalEquity <= 0 {
		t.Errorf("final equity = %v", first.Metrics.FinalEquity)
	}
	if len(first.Trades) == 0 {
		t.Fatal("crossover scenario produced no trades")
	}
}

func TestRunTradeLifecycle(t *testing.T) {
	res := runOnce(t, tenCloses, crossoverConfig())

	// short=2 long=4 over tenCloses: one cross up on day 4, one cross
	// down on day 8, so exactly one round trip.
	if len(res.Trades) != 1 {
		t.Fatalf("expected 1 round trip, got %d: %+v", len(res.Trades), res.Trades)
	}
	trade := res.Trades[0]
	if trade.EntryCode != contract.ReasonCrossUp {
		t.Errorf("entry code = %s", trade.EntryCode)
	}
	if trade.ExitCode != contract.ReasonCrossDown {
		t.Errorf("exit code = %s", trade.ExitCode)
	}
	if trade.EntryDate != "2025-01-04" || trade.ExitDate != "2025-01-08" {
		t.Errorf("trade dates %s..%s", trade.EntryDate, trade.ExitDate)
	}
	if res.Metrics.TradeCount != 2 {
		t.Errorf("trade count = %d, want 2 (entry + exit)", res.Metrics.TradeCount)
	}
	if len(res.Signals) != len(tenCloses) {
		t.Errorf("signal records = %d, want %d", len(res.Signals), len(tenCloses))
	}
}

func TestRunEndOfWindowLiquidation(t *testing.T) {
	// Monotonically rising closes: the position opened at the crossover is
	// still held when the window ends.
	rising := []float64{100, 101, 102, 104, 107, 110, 113, 117, 121, 126}
	res := runOnce(t, rising, crossoverConfig())

	if len(res.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(res.Trades))
	}
	if res.Trades[0].ExitCode != ExitEndOfWindow {
		t.Errorf("exit code = %s, want %s", res.Trades[0].ExitCode, ExitEndOfWindow)
	}
	if res.Trades[0].PnL <= 0 {
		t.Errorf("rising market round trip lost money: %+v", res.Trades[0])
	}

	// Final equity is all cash after liquidation fees.
	last := res.EquityCurve[len(res.EquityCurve)-1]
	if math.Abs(last.Equity-res.Metrics.FinalEquity) > 1e-9 {
		t.Errorf("equity curve end %v != final equity %v", last.Equity, res.Metrics.FinalEquity)
	}
}

func TestRunFeesReduceEquity(t *testing.T) {
	free := crossoverConfig()
	free.CostBps = 0
	costly := crossoverConfig()
	costly.CostBps = 50

	cheap := runOnce(t, tenCloses, free)
	expensive := runOnce(t, tenCloses, costly)
	if expensive.Metrics.FinalEquity >= cheap.Metrics.FinalEquity {
		t.Errorf("fees did not reduce equity: %v >= %v",
			expensive.Metrics.FinalEquity, cheap.Metrics.FinalEquity)
	}
}

func TestRunValidation(t *testing.T) {
	eng := newEngine()
	ctx := context.Background()

	cfg := crossoverConfig()
	cfg.MaxPositions = 1
	snap := snapshotFor("ABC", tenCloses)
	snap.Manifest.Universe = []string{"ABC", "DEF"}
	if _, err := eng.Run(ctx, snap, contract.NewSMACrossover(), cfg); !errors.Is(err, ErrUniverseTooLarge) {
		t.Errorf("expected ErrUniverseTooLarge, got %v", err)
	}

	cfg = crossoverConfig()
	cfg.InitialCapital = 0
	if _, err := eng.Run(ctx, snapshotFor("ABC", tenCloses), contract.NewSMACrossover(), cfg); !errors.Is(err, ErrNonPositiveCapital) {
		t.Errorf("expected ErrNonPositiveCapital, got %v", err)
	}

	empty := &worldstate.Snapshot{Manifest: &domain.WorldStateManifest{Universe: []string{"ABC"}}}
	if _, err := eng.Run(ctx, empty, contract.NewSMACrossover(), crossoverConfig()); !errors.Is(err, ErrEmptySnapshot) {
		t.Errorf("expected ErrEmptySnapshot, got %v", err)
	}
}

func TestRunAbortsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := newEngine().Run(ctx, snapshotFor("ABC", tenCloses), contract.NewSMACrossover(), crossoverConfig())
	if err == nil {
		t.Fatal("cancelled run did not fail")
	}
	if res.State != StateAborted {
		t.Errorf("state = %s, want %s", res.State, StateAborted)
	}
}

func TestRunAbortsOnContractViolation(t *testing.T) {
	res, err := newEngine().Run(context.Background(), snapshotFor("ABC", tenCloses), malformedStrategy{}, crossoverConfig())
	var cv *contract.ContractViolationError
	if !errors.As(err, &cv) {
		t.Fatalf("expected ContractViolationError, got %v", err)
	}
	if res.State != StateAborted {
		t.Errorf("state = %s, want %s", res.State, StateAborted)
	}
}

// malformedStrategy returns signals with an unknown side.
type malformedStrategy struct{}

func (malformedStrategy) Prepare(domain.StrategyConfig) error { return nil }
func (malformedStrategy) GenerateSignals(*worldstate.DayFrame) ([]contract.Signal, error) {
	return []contract.Signal{{Symbol: "ABC", Side: "short", ReasonCode: "x"}}, nil
}
func (malformedStrategy) RiskRules([]contract.Position) (contract.Constraints, error) {
	return contract.Constraints{}, nil
}

func TestComputeMetrics(t *testing.T) {
	equity := []float64{10000, 10100, 10050, 10200, 9800}

	m, err := ComputeMetrics(equity, 4, 20000)
	if err != nil {
		t.Fatalf("ComputeMetrics failed: %v", err)
	}
	if math.Abs(m.TotalReturn-(-0.02)) > 1e-9 {
		t.Errorf("total return = %v, want -0.02", m.TotalReturn)
	}
	// Peak 10200, trough 9800.
	wantDD := 9800.0/10200.0 - 1.0
	if math.Abs(m.MaxDrawdown-wantDD) > 1e-9 {
		t.Errorf("max drawdown = %v, want %v", m.MaxDrawdown, wantDD)
	}
	if m.TradeCount != 4 {
		t.Errorf("trade count = %d", m.TradeCount)
	}
	if m.Turnover <= 0 {
		t.Errorf("turnover = %v", m.Turnover)
	}

	if _, err := ComputeMetrics([]float64{10000}, 0, 0); !errors.Is(err, ErrTooFewPoints) {
		t.Errorf("expected ErrTooFewPoints, got %v", err)
	}
	if _, err := ComputeMetrics([]float64{10000, -1, 500}, 0, 0); !errors.Is(err, ErrNonPositiveEquity) {
		t.Errorf("expected ErrNonPositiveEquity, got %v", err)
	}

	flat := []float64{10000, 10000, 10000}
	m, err = ComputeMetrics(flat, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if m.Sharpe != 0 {
		t.Errorf("flat equity sharpe = %v, want 0", m.Sharpe)
	}
}
