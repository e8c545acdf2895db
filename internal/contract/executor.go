package contract

import (
	"context"
	"fmt"
	"time"

	"market-pit-lab/internal/domain"
	"market-pit-lab/internal/worldstate"
)

// Contract function names passed to an executor.
const (
	FuncPrepare         = "prepare"
	FuncGenerateSignals = "generate_signals"
	FuncRiskRules       = "risk_rules"
)

// ResourceLimits bound one external contract call.
type ResourceLimits struct {
	Timeout  time.Duration
	MemoryMB int
	CPUSecs  int
}

// DefaultLimits applied when the caller does not override them.
var DefaultLimits = ResourceLimits{
	Timeout:  30 * time.Second,
	MemoryMB: 512,
	CPUSecs:  10,
}

// Call is one invocation of a contract function in isolated code.
// Only the field matching the function is populated; the frame handed to
// generate_signals is the single step's view, never the full snapshot.
type Call struct {
	Function   string
	SourceHash string
	Config     domain.StrategyConfig
	Frame      *worldstate.DayFrame
	Positions  []Position
}

// Result is the isolated code's reply to one call.
type Result struct {
	Exports     map[string]int // prepare only: exported function arities
	Signals     []Signal       // generate_signals only
	Constraints *Constraints   // risk_rules only
}

// Executor runs untrusted strategy code under an isolation guarantee.
// Implementations translate resource breaches into *SandboxViolationError.
// The engine never runs external code except through this interface, and
// refuses to run it at all when Verified reports false.
type Executor interface {
	Verified() bool
	Execute(ctx context.Context, call Call, limits ResourceLimits) (*Result, error)
}

// externalStrategy adapts an Executor to the Strategy interface. Every
// reply is validated before the engine sees it; isolated code gets no
// benefit of the doubt.
type externalStrategy struct {
	version *domain.StrategyVersion
	exec    Executor
	limits  ResourceLimits
}

func newExternalStrategy(sv *domain.StrategyVersion, exec Executor) *externalStrategy {
	return &externalStrategy{version: sv, exec: exec, limits: DefaultLimits}
}

func (s *externalStrategy) Prepare(cfg domain.StrategyConfig) error {
	res, err := s.call(Call{Function: FuncPrepare, Config: cfg})
	if err != nil {
		return err
	}
	return ValidateExports(res.Exports)
}

func (s *externalStrategy) GenerateSignals(frame *worldstate.DayFrame) ([]Signal, error) {
	res, err := s.call(Call{Function: FuncGenerateSignals, Frame: frame})
	if err != nil {
		return nil, err
	}
	if err := ValidateSignals(res.Signals); err != nil {
		return nil, err
	}
	return res.Signals, nil
}

func (s *externalStrategy) RiskRules(positions []Position) (Constraints, error) {
	res, err := s.call(Call{Function: FuncRiskRules, Positions: positions})
	if err != nil {
		return Constraints{}, err
	}
	if res.Constraints == nil {
		return Constraints{}, &ContractViolationError{
			Function: FuncRiskRules,
			Detail:   "no constraints returned",
		}
	}
	return *res.Constraints, nil
}

func (s *externalStrategy) call(call Call) (*Result, error) {
	call.SourceHash = s.version.SourceHash
	ctx, cancel := context.WithTimeout(context.Background(), s.limits.Timeout)
	defer cancel()

	res, err := s.exec.Execute(ctx, call, s.limits)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, &ContractViolationError{
			Function: call.Function,
			Detail:   fmt.Sprintf("executor returned no result for %s", call.Function),
		}
	}
	return res, nil
}
