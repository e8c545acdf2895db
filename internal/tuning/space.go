// Package tuning derives bounded parameter search spaces, runs budgeted
// trial sweeps through the backtest engine, and reports the best candidates
// with a per-parameter sensitivity analysis.
package tuning

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"market-pit-lab/internal/domain"
)

// Tunable parameter names.
const (
	ParamShortWindow  = "short_window"
	ParamLongWindow   = "long_window"
	ParamMaxPositions = "max_positions"
	ParamCostBps      = "cost_bps"
)

// TunableParams is the fixed enumeration order for candidates and reports.
var TunableParams = []string{ParamShortWindow, ParamLongWindow, ParamMaxPositions, ParamCostBps}

// layerParams maps each tuning layer to the parameters it controls.
var layerParams = map[string][]string{
	domain.LayerSignal:    {ParamShortWindow, ParamLongWindow},
	domain.LayerPortfolio: {ParamMaxPositions},
	domain.LayerExecution: {ParamCostBps},
}

// layerOrder keeps plan output deterministic.
var layerOrder = []string{domain.LayerSignal, domain.LayerPortfolio, domain.LayerExecution}

// Layer participation reasons.
const (
	LayerDisabledByPolicy = "disabled_by_layer_policy"
	LayerActiveVariable   = "active_with_variable_parameters"
	LayerActiveFrozen     = "active_but_fully_frozen"
)

// Optimization targets.
const (
	TargetSharpe      = "sharpe"
	TargetCAGR        = "cagr"
	TargetTotalReturn = "total_return"
)

// Derivation errors.
var (
	ErrUnknownRiskMode   = errors.New("unsupported risk mode")
	ErrUnknownPolicyMode = errors.New("unsupported policy mode")
	ErrUnknownLayer      = errors.New("unsupported tuning layer")
	ErrUnknownTarget     = errors.New("optimization target must be one of: sharpe, cagr, total_return")
	ErrLayersRequired    = errors.New("user_selected policy requires at least one include layer")
	ErrNoValidWindows    = errors.New("no valid signal window combinations; at least one short_window must be less than long_window")
)

// widths is the per-risk-mode delta applied around the strategy defaults.
type widths struct {
	short     int
	long      int
	positions int
}

var riskModeWidths = map[domain.RiskMode]widths{
	domain.RiskModeSafe:       {short: 1, long: 2, positions: 0},
	domain.RiskModeBalanced:   {short: 2, long: 4, positions: 1},
	domain.RiskModeAggressive: {short: 4, long: 8, positions: 2},
}

// costBpsDelta is the fixed probe width for the cost parameter; execution
// cost sensitivity does not scale with risk appetite.
const costBpsDelta = 2.0

// DeriveSearchSpace expands the strategy defaults into candidate values per
// tunable parameter, one step below and above each default, clamped to the
// parameter's floor.
func DeriveSearchSpace(cfg domain.StrategyConfig, mode domain.RiskMode) (domain.SearchSpace, error) {
	w, ok := riskModeWidths[mode]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRiskMode, mode)
	}

	return domain.SearchSpace{
		ParamShortWindow: sortedUnique(
			math.Max(1, float64(cfg.ShortWindow-w.short)),
			float64(cfg.ShortWindow),
			float64(cfg.ShortWindow+w.short),
		),
		ParamLongWindow: sortedUnique(
			math.Max(2, float64(cfg.LongWindow-w.long)),
			float64(cfg.LongWindow),
			float64(cfg.LongWindow+w.long),
		),
		ParamMaxPositions: sortedUnique(
			math.Max(1, float64(cfg.MaxPositions-w.positions)),
			float64(cfg.MaxPositions),
			float64(cfg.MaxPositions+w.positions),
		),
		ParamCostBps: sortedUnique(
			math.Max(0, cfg.CostBps-costBpsDelta),
			cfg.CostBps,
			cfg.CostBps+costBpsDelta,
		),
	}, nil
}

// PlanRequest describes one tuning-plan derivation.
type PlanRequest struct {
	Config        domain.StrategyConfig
	RiskMode      domain.RiskMode
	PolicyMode    domain.PolicyMode
	IncludeLayers []string
	FreezeParams  map[string]float64
	Overrides     domain.SearchSpace
}

// DerivePlan derives which layers tune, the effective search space after
// overrides and freezes, and the trial-count estimate. Parameters of
// inactive layers collapse to the strategy default; frozen parameters
// collapse to the frozen value.
func DerivePlan(req PlanRequest) (*domain.TuningPlan, error) {
	if req.PolicyMode == "" {
		req.PolicyMode = domain.PolicyAgentDecides
	}
	if !req.PolicyMode.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicyMode, req.PolicyMode)
	}
	for _, layer := range req.IncludeLayers {
		if _, ok := layerParams[layer]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownLayer, layer)
		}
	}
	if req.PolicyMode == domain.PolicyUserSelected && len(req.IncludeLayers) == 0 {
		return nil, ErrLayersRequired
	}

	space, err := DeriveSearchSpace(req.Config, req.RiskMode)
	if err != nil {
		return nil, err
	}
	for param, values := range req.Overrides {
		normalized, err := normalizeValues(param, values)
		if err != nil {
			return nil, err
		}
		space[param] = normalized
	}

	active := req.IncludeLayers
	if len(active) == 0 {
		active = layerOrder
	}
	activeSet := make(map[string]bool, len(active))
	for _, layer := range active {
		activeSet[layer] = true
	}

	for _, layer := range layerOrder {
		if activeSet[layer] {
			continue
		}
		for _, param := range layerParams[layer] {
			space[param] = []float64{defaultValue(req.Config, param)}
		}
	}
	for param, value := range req.FreezeParams {
		if _, ok := space[param]; !ok {
			return nil, fmt.Errorf("unknown freeze parameter %q", param)
		}
		normalized, err := normalizeValues(param, []float64{value})
		if err != nil {
			return nil, err
		}
		space[param] = normalized
	}

	if !hasValidWindowCombo(space) {
		return nil, ErrNoValidWindows
	}

	var statuses []domain.LayerStatus
	trials := 1
	for _, layer := range layerOrder {
		params := layerParams[layer]
		var tunable, frozen []string
		for _, param := range params {
			if len(space[param]) > 1 {
				tunable = append(tunable, param)
			} else {
				frozen = append(frozen, param)
			}
		}
		reason := LayerDisabledByPolicy
		if activeSet[layer] {
			if len(tunable) > 0 {
				reason = LayerActiveVariable
			} else {
				reason = LayerActiveFrozen
			}
		}
		statuses = append(statuses, domain.LayerStatus{
			Layer:   layer,
			Active:  activeSet[layer],
			Reason:  reason,
			Params:  params,
			Tunable: tunable,
			Frozen:  frozen,
		})
	}
	for _, param := range TunableParams {
		trials *= len(space[param])
	}

	return &domain.TuningPlan{
		PolicyMode:      req.PolicyMode,
		RiskMode:        req.RiskMode,
		Layers:          statuses,
		Space:           space,
		EstimatedTrials: trials,
	}, nil
}

// Score extracts the objective value from run metrics.
func Score(m domain.BacktestMetrics, target string) (float64, error) {
	switch target {
	case TargetSharpe:
		return m.Sharpe, nil
	case TargetCAGR:
		return m.CAGR, nil
	case TargetTotalReturn:
		return m.TotalReturn, nil
	default:
		return 0, fmt.Errorf("%w: got %q", ErrUnknownTarget, target)
	}
}

func normalizeValues(param string, values []float64) ([]float64, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("search space for %s must be non-empty", param)
	}
	out := sortedUnique(values...)
	for _, v := range out {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("search space for %s must be finite, got %v", param, v)
		}
		if param == ParamCostBps {
			if v < 0 {
				return nil, fmt.Errorf("search space for %s cannot be negative", param)
			}
			continue
		}
		if v <= 0 {
			return nil, fmt.Errorf("search space for %s must contain positive values", param)
		}
		if math.Abs(v-math.Round(v)) > 1e-9 {
			return nil, fmt.Errorf("search space for %s must contain integer values, got %v", param, v)
		}
	}
	return out, nil
}

func defaultValue(cfg domain.StrategyConfig, param string) float64 {
	switch param {
	case ParamShortWindow:
		return float64(cfg.ShortWindow)
	case ParamLongWindow:
		return float64(cfg.LongWindow)
	case ParamMaxPositions:
		return float64(cfg.MaxPositions)
	case ParamCostBps:
		return cfg.CostBps
	}
	return 0
}

func hasValidWindowCombo(space domain.SearchSpace) bool {
	for _, short := range space[ParamShortWindow] {
		for _, long := range space[ParamLongWindow] {
			if short < long {
				return true
			}
		}
	}
	return false
}

func sortedUnique(values ...float64) []float64 {
	seen := make(map[float64]struct{}, len(values))
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Float64s(out)
	return out
}
