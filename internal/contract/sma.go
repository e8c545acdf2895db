package contract

import (
	"fmt"
	"math"
	"sort"

	"market-pit-lab/internal/domain"
	"market-pit-lab/internal/worldstate"
)

// SMACrossover is the builtin moving-average crossover strategy. It holds a
// symbol while the short average is above the long average. History is
// accumulated step by step from the frames the engine hands it, never read
// from anywhere else.
type SMACrossover struct {
	short        int
	long         int
	maxPositions int

	closes    map[string][]float64
	prevAbove map[string]bool
}

// NewSMACrossover creates an unprepared crossover strategy.
func NewSMACrossover() *SMACrossover {
	return &SMACrossover{
		closes:    make(map[string][]float64),
		prevAbove: make(map[string]bool),
	}
}

// Prepare validates windows. Pure: no I/O, no stored-data access.
func (s *SMACrossover) Prepare(cfg domain.StrategyConfig) error {
	if cfg.ShortWindow < 1 || cfg.LongWindow < 1 {
		return fmt.Errorf("windows must be positive: short=%d long=%d", cfg.ShortWindow, cfg.LongWindow)
	}
	if cfg.ShortWindow >= cfg.LongWindow {
		return fmt.Errorf("short window %d must be less than long window %d", cfg.ShortWindow, cfg.LongWindow)
	}
	s.short = cfg.ShortWindow
	s.long = cfg.LongWindow
	s.maxPositions = cfg.MaxPositions
	return nil
}

// GenerateSignals folds the step's closes into the rolling history and emits
// one signal per symbol present in the frame, in symbol order.
func (s *SMACrossover) GenerateSignals(frame *worldstate.DayFrame) ([]Signal, error) {
	if s.short == 0 {
		return nil, &ContractViolationError{Function: "generate_signals", Detail: "strategy not prepared"}
	}

	syms := make([]string, 0, len(frame.Symbols))
	for sym, sf := range frame.Symbols {
		if sf != nil && sf.Candle != nil {
			syms = append(syms, sym)
		}
	}
	sort.Strings(syms)

	signals := make([]Signal, 0, len(syms))
	for _, sym := range syms {
		close := frame.Symbols[sym].Candle.Close
		s.closes[sym] = append(s.closes[sym], close)

		shortMA := tailMean(s.closes[sym], s.short)
		longMA := tailMean(s.closes[sym], s.long)

		sig := Signal{Symbol: sym, Close: close, ShortMA: shortMA, LongMA: longMA}
		if math.IsNaN(shortMA) || math.IsNaN(longMA) {
			sig.Side = SideHold
			sig.ReasonCode = ReasonInsufficientHistory
		} else {
			above := shortMA > longMA
			switch {
			case above && !s.prevAbove[sym]:
				sig.Side = SideBuy
				sig.ReasonCode = ReasonCrossUp
			case !above && s.prevAbove[sym]:
				sig.Side = SideSell
				sig.ReasonCode = ReasonCrossDown
			case above:
				sig.Side = SideHold
				sig.ReasonCode = ReasonTrendAbove
			default:
				sig.Side = SideHold
				sig.ReasonCode = ReasonTrendBelow
			}
			s.prevAbove[sym] = above
		}
		signals = append(signals, sig)
	}
	return signals, nil
}

// RiskRules caps open positions at the configured maximum.
func (s *SMACrossover) RiskRules(positions []Position) (Constraints, error) {
	return Constraints{MaxPositions: s.maxPositions}, nil
}

// tailMean averages the last window values, or NaN while history is short.
func tailMean(values []float64, window int) float64 {
	if len(values) < window {
		return math.NaN()
	}
	sum := 0.0
	for _, v := range values[len(values)-window:] {
		sum += v
	}
	return sum / float64(window)
}
