// Package contract defines the three-function interface every strategy
// implements, builtin or externally supplied. The engine only ever hands a
// strategy the current step's frame, so a strategy cannot read ahead no
// matter what it does internally.
package contract

import (
	"errors"
	"fmt"

	"market-pit-lab/internal/domain"
	"market-pit-lab/internal/worldstate"
)

// Signal sides.
const (
	SideBuy  = "buy"
	SideSell = "sell"
	SideHold = "hold"
)

// Signal reason codes.
const (
	ReasonCrossUp             = "sma_cross_up"
	ReasonCrossDown           = "sma_cross_down"
	ReasonTrendAbove          = "trend_above"
	ReasonTrendBelow          = "trend_below"
	ReasonInsufficientHistory = "insufficient_history"
)

// Signal is one per-symbol instruction emitted at a simulation step.
type Signal struct {
	Symbol     string  `json:"symbol"`
	Side       string  `json:"signal"`
	ReasonCode string  `json:"reason_code"`
	Close      float64 `json:"close"`
	ShortMA    float64 `json:"sma_short"`
	LongMA     float64 `json:"sma_long"`
}

// Position is one open holding as seen by risk rules.
type Position struct {
	Symbol string
	Shares float64
	Value  float64
}

// Constraints bound how signals become fills.
type Constraints struct {
	MaxPositions     int     // 0 = unlimited
	MaxPositionValue float64 // per-symbol notional cap, 0 = unlimited
}

// Strategy is the execution contract. Prepare runs once per trial and must
// not perform I/O; GenerateSignals runs once per step and sees only that
// step's frame; RiskRules runs before signals become fills.
type Strategy interface {
	Prepare(cfg domain.StrategyConfig) error
	GenerateSignals(frame *worldstate.DayFrame) ([]Signal, error)
	RiskRules(positions []Position) (Constraints, error)
}

// ContractViolationError reports malformed strategy output. It aborts the
// trial that produced it and nothing else.
type ContractViolationError struct {
	Function string
	Detail   string
}

func (e *ContractViolationError) Error() string {
	return fmt.Sprintf("contract violation in %s: %s", e.Function, e.Detail)
}

// SandboxViolationError reports a resource-limit breach in external code.
// Like a contract violation it is fatal only to its own trial.
type SandboxViolationError struct {
	Limit  string // "timeout", "memory", "cpu", "filesystem"
	Detail string
}

func (e *SandboxViolationError) Error() string {
	return fmt.Sprintf("sandbox violation (%s): %s", e.Limit, e.Detail)
}

// Factory errors.
var (
	ErrMissingSignalType = errors.New("strategy config does not name a signal type")
	ErrUnknownSignalType = errors.New("unknown signal type")
	ErrUnknownKind       = errors.New("unknown strategy kind")
	ErrNoExecutor        = errors.New("external strategy requires a verified isolation executor")
)

// New builds a runnable strategy from a stored version. External strategies
// fail closed: without a verified executor there is no isolation guarantee
// and the code does not run at all.
func New(sv *domain.StrategyVersion, exec Executor) (Strategy, error) {
	switch sv.Kind {
	case domain.StrategyKindBuiltin:
		switch sv.Config.SignalType {
		case "":
			return nil, ErrMissingSignalType
		case domain.SignalTypeSMACrossover:
			return NewSMACrossover(), nil
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownSignalType, sv.Config.SignalType)
		}
	case domain.StrategyKindExternal:
		if exec == nil || !exec.Verified() {
			return nil, ErrNoExecutor
		}
		return newExternalStrategy(sv, exec), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, sv.Kind)
	}
}

// ValidateSignals rejects malformed signal lists before the engine acts on
// them. Used for builtin output in paranoid mode and always for external
// output.
func ValidateSignals(signals []Signal) error {
	for i, s := range signals {
		if s.Symbol == "" {
			return &ContractViolationError{
				Function: "generate_signals",
				Detail:   fmt.Sprintf("signal %d has no symbol", i),
			}
		}
		switch s.Side {
		case SideBuy, SideSell, SideHold:
		default:
			return &ContractViolationError{
				Function: "generate_signals",
				Detail:   fmt.Sprintf("signal %d for %s has unknown side %q", i, s.Symbol, s.Side),
			}
		}
		if s.ReasonCode == "" {
			return &ContractViolationError{
				Function: "generate_signals",
				Detail:   fmt.Sprintf("signal %d for %s has no reason code", i, s.Symbol),
			}
		}
	}
	return nil
}

// requiredExports lists the contract functions external code must export,
// by arity.
var requiredExports = map[string]int{
	"prepare":          2,
	"generate_signals": 3,
	"risk_rules":       2,
}

// ValidateExports checks an external strategy's declared functions against
// the contract. exports maps function name to arity as reported by the
// executor's inspection pass.
func ValidateExports(exports map[string]int) error {
	for name, arity := range requiredExports {
		got, ok := exports[name]
		if !ok {
			return &ContractViolationError{
				Function: name,
				Detail:   "missing required function",
			}
		}
		if got != arity {
			return &ContractViolationError{
				Function: name,
				Detail:   fmt.Sprintf("expected %d args, got %d", arity, got),
			}
		}
	}
	return nil
}
