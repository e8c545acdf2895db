// Package backtest runs one strategy over one immutable snapshot. The
// engine is a state machine; every run walks Initialized -> Preparing ->
// Simulating -> Finalized, or dies in Aborted. Fills are deterministic
// functions of the step's close, so a replay with identical inputs
// reproduces identical metrics.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"log"

	"market-pit-lab/internal/contract"
	"market-pit-lab/internal/domain"
	"market-pit-lab/internal/worldstate"
)

// State is a run's position in the lifecycle.
type State string

// Run states. Finalized and Aborted are terminal.
const (
	StateInitialized State = "initialized"
	StatePreparing   State = "preparing"
	StateSimulating  State = "simulating"
	StateFinalized   State = "finalized"
	StateAborted     State = "aborted"
)

// ExitEndOfWindow marks a position closed by the window end rather than a
// signal.
const ExitEndOfWindow = "end_of_window"

// Validation errors.
var (
	ErrEmptySnapshot      = errors.New("snapshot has no day frames")
	ErrUniverseTooLarge   = errors.New("universe size exceeds max_positions")
	ErrNonPositiveCapital = errors.New("initial capital must be positive")
)

// Trade is one closed round trip.
type Trade struct {
	Symbol     string
	EntryDate  string
	ExitDate   string
	EntryPrice float64
	ExitPrice  float64
	PnL        float64
	EntryCode  string
	ExitCode   string
}

// SignalRecord pins one emitted signal to its session for the audit trail.
type SignalRecord struct {
	Date string
	contract.Signal
}

// EquityPoint is one session of the portfolio equity curve.
type EquityPoint struct {
	Date     string
	Equity   float64
	Drawdown float64
}

// Result is one finalized (or aborted) run.
type Result struct {
	State       State
	Metrics     domain.BacktestMetrics
	EquityCurve []EquityPoint
	Trades      []Trade
	Signals     []SignalRecord
}

// Engine simulates strategies over snapshots.
type Engine struct {
	log *log.Logger
}

// NewEngine creates a simulation engine.
func NewEngine(logger *log.Logger) *Engine {
	return &Engine{log: logger}
}

// ledger is one symbol's slice of the portfolio. Capital is bucketed per
// symbol up front, so one symbol's fills never move a sibling's cash.
type ledger struct {
	initial   float64
	cash      float64
	shares    float64
	lastClose float64
	openTrade *Trade
}

// fill computes one side of a trade: the traded price after slippage and
// the fee on the gross notional.
func fill(close, slippageBps, costBps float64, buy bool) (price, feeRate float64) {
	slip := slippageBps / 10000.0
	if buy {
		price = close * (1 + slip)
	} else {
		price = close * (1 - slip)
	}
	return price, costBps / 10000.0
}

// Run executes one trial. An error from the strategy or a cancelled context
// aborts the run; the returned Result then carries StateAborted and no
// metrics. Nothing is persisted here; recording is the caller's job.
func (e *Engine) Run(ctx context.Context, snap *worldstate.Snapshot, strat contract.Strategy, cfg domain.StrategyConfig) (*Result, error) {
	res := &Result{State: StateInitialized}

	universe := snap.Manifest.Universe
	if len(snap.Days) == 0 || len(universe) == 0 {
		res.State = StateAborted
		return res, ErrEmptySnapshot
	}
	if cfg.MaxPositions > 0 && len(universe) > cfg.MaxPositions {
		res.State = StateAborted
		return res, fmt.Errorf("%w: %d > %d", ErrUniverseTooLarge, len(universe), cfg.MaxPositions)
	}
	if cfg.InitialCapital <= 0 {
		res.State = StateAborted
		return res, ErrNonPositiveCapital
	}

	res.State = StatePreparing
	if err := strat.Prepare(cfg); err != nil {
		res.State = StateAborted
		return res, fmt.Errorf("prepare: %w", err)
	}

	res.State = StateSimulating
	perSymbol := cfg.InitialCapital / float64(len(universe))
	ledgers := make(map[string]*ledger, len(universe))
	for _, sym := range universe {
		ledgers[sym] = &ledger{initial: perSymbol, cash: perSymbol}
	}

	var (
		tradeCount     int
		tradedNotional float64
		equitySeries   []float64
	)

	for _, day := range snap.Days {
		if err := ctx.Err(); err != nil {
			res.State = StateAborted
			return res, fmt.Errorf("simulation cancelled at %s: %w", day.Date, err)
		}

		signals, err := strat.GenerateSignals(day)
		if err != nil {
			res.State = StateAborted
			return res, err
		}
		if err := contract.ValidateSignals(signals); err != nil {
			res.State = StateAborted
			return res, err
		}
		constraints, err := strat.RiskRules(openPositions(universe, ledgers))
		if err != nil {
			res.State = StateAborted
			return res, err
		}

		// Fills in signal-list order; the list order is the tie break.
		for _, sig := range signals {
			led, ok := ledgers[sig.Symbol]
			if !ok {
				continue // signal for a symbol outside the universe
			}
			res.Signals = append(res.Signals, SignalRecord{Date: day.Date, Signal: sig})
			led.lastClose = sig.Close

			switch sig.Side {
			case contract.SideBuy:
				if led.shares > 0 {
					continue
				}
				if constraints.MaxPositions > 0 && countOpen(ledgers) >= constraints.MaxPositions {
					continue
				}
				price, feeRate := fill(sig.Close, cfg.SlippageBps, cfg.CostBps, true)
				gross := led.cash
				if constraints.MaxPositionValue > 0 && gross > constraints.MaxPositionValue {
					gross = constraints.MaxPositionValue
				}
				net := gross - gross*feeRate
				if net <= 0 {
					res.State = StateAborted
					return res, fmt.Errorf("net capital after fees is non-positive for %s", sig.Symbol)
				}
				led.shares = net / price
				led.cash -= gross
				tradeCount++
				tradedNotional += gross
				led.openTrade = &Trade{
					Symbol:     sig.Symbol,
					EntryDate:  day.Date,
					EntryPrice: price,
					EntryCode:  sig.ReasonCode,
				}
			case contract.SideSell:
				if led.shares == 0 {
					continue
				}
				closePosition(res, led, day.Date, sig.Close, sig.ReasonCode, cfg, &tradeCount, &tradedNotional)
			}
		}

		// Mark to market at the step close.
		equity := 0.0
		for _, sym := range universe {
			led := ledgers[sym]
			if frame := day.Symbols[sym]; frame != nil && frame.Candle != nil {
				led.lastClose = frame.Candle.Close
			}
			equity += led.cash + led.shares*led.lastClose
		}
		equitySeries = append(equitySeries, equity)
		res.EquityCurve = append(res.EquityCurve, EquityPoint{Date: day.Date, Equity: equity})
	}

	// Positions still open at the window end are liquidated at the final
	// close; the last equity point reflects the post-liquidation cash.
	lastDay := snap.Days[len(snap.Days)-1]
	for _, sym := range universe {
		led := ledgers[sym]
		if led.shares > 0 {
			closePosition(res, led, lastDay.Date, led.lastClose, ExitEndOfWindow, cfg, &tradeCount, &tradedNotional)
		}
	}
	finalEquity := 0.0
	for _, sym := range universe {
		finalEquity += ledgers[sym].cash
	}
	last := len(equitySeries) - 1
	equitySeries[last] = finalEquity
	res.EquityCurve[last].Equity = finalEquity

	metrics, err := ComputeMetrics(equitySeries, tradeCount, tradedNotional)
	if err != nil {
		res.State = StateAborted
		return res, err
	}
	res.Metrics = metrics
	annotateDrawdowns(res.EquityCurve)
	res.State = StateFinalized

	e.log.Printf("run finalized: days=%d trades=%d final_equity=%.2f sharpe=%.4f",
		len(snap.Days), tradeCount, metrics.FinalEquity, metrics.Sharpe)
	return res, nil
}

// closePosition sells the entire holding at the given close and records the
// round trip against the symbol's initial capital bucket.
func closePosition(res *Result, led *ledger, date string, close float64, reason string, cfg domain.StrategyConfig, tradeCount *int, tradedNotional *float64) {
	price, feeRate := fill(close, cfg.SlippageBps, cfg.CostBps, false)
	gross := led.shares * price
	led.cash += gross - gross*feeRate
	led.shares = 0
	led.lastClose = close
	*tradeCount++
	*tradedNotional += gross

	if led.openTrade != nil {
		trade := *led.openTrade
		trade.ExitDate = date
		trade.ExitPrice = price
		trade.PnL = led.cash - led.initial
		trade.ExitCode = reason
		res.Trades = append(res.Trades, trade)
		led.openTrade = nil
	}
}

func openPositions(universe []string, ledgers map[string]*ledger) []contract.Position {
	var out []contract.Position
	for _, sym := range universe {
		led := ledgers[sym]
		if led.shares > 0 {
			out = append(out, contract.Position{Symbol: sym, Shares: led.shares, Value: led.shares * led.lastClose})
		}
	}
	return out
}

func countOpen(ledgers map[string]*ledger) int {
	n := 0
	for _, led := range ledgers {
		if led.shares > 0 {
			n++
		}
	}
	return n
}

func annotateDrawdowns(curve []EquityPoint) {
	if len(curve) == 0 {
		return
	}
	peak := curve[0].Equity
	for i := range curve {
		if curve[i].Equity > peak {
			peak = curve[i].Equity
		}
		curve[i].Drawdown = curve[i].Equity/peak - 1.0
	}
}
