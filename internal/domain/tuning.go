package domain

// RiskMode controls how wide the derived search space is around the strategy
// defaults.
type RiskMode string

const (
	RiskModeSafe       RiskMode = "safe"
	RiskModeBalanced   RiskMode = "balanced"
	RiskModeAggressive RiskMode = "aggressive"
)

// Valid reports whether the risk mode is one of the known values.
func (m RiskMode) Valid() bool {
	switch m {
	case RiskModeSafe, RiskModeBalanced, RiskModeAggressive:
		return true
	}
	return false
}

// PolicyMode controls who decides which layers participate in tuning.
type PolicyMode string

const (
	PolicyAgentDecides PolicyMode = "agent_decides"
	PolicyUserSelected PolicyMode = "user_selected"
)

// Valid reports whether the policy mode is one of the known values.
func (m PolicyMode) Valid() bool {
	return m == PolicyAgentDecides || m == PolicyUserSelected
}

// Tuning layers group parameters by the part of the pipeline they affect.
const (
	LayerSignal    = "signal"
	LayerPortfolio = "portfolio"
	LayerExecution = "execution"
)

// SearchSpace maps a parameter name to its candidate values, sorted ascending.
type SearchSpace map[string][]float64

// LayerStatus records why a layer is or is not participating in a tuning run.
type LayerStatus struct {
	Layer   string   `json:"layer"`
	Active  bool     `json:"active"`
	Reason  string   `json:"reason"`
	Params  []string `json:"params"`
	Frozen  []string `json:"frozen"`
	Tunable []string `json:"tunable"`
}

// TuningPlan is the derived execution plan for a tuning run: which layers are
// active, the search space, and the estimated trial count.
type TuningPlan struct {
	PolicyMode      PolicyMode    `json:"policy_mode"`
	RiskMode        RiskMode      `json:"risk_mode"`
	Layers          []LayerStatus `json:"layers"`
	Space           SearchSpace   `json:"search_space"`
	EstimatedTrials int           `json:"estimated_trials"`
}

// TrialResult is one completed parameter combination with its run metrics.
type TrialResult struct {
	TrialID string             `json:"trial_id"`
	Params  map[string]float64 `json:"params"`
	RunID   string             `json:"run_id"`
	Metrics BacktestMetrics    `json:"metrics"`
}

// RejectedCandidate is a parameter combination excluded before execution,
// with the constraint that rejected it.
type RejectedCandidate struct {
	Params map[string]float64 `json:"params"`
	Reason string             `json:"reason"`
}

// SensitivityEntry reports how the objective moves when one parameter varies
// with all others held at the best trial's values.
type SensitivityEntry struct {
	Param     string    `json:"param"`
	Status    string    `json:"status"`
	Values    []float64 `json:"values"`
	Objective []float64 `json:"objective"`
	Spread    float64   `json:"spread"`
}

// Sensitivity statuses.
const (
	SensitivityOK                  = "ok"
	SensitivityInsufficientSamples = "insufficient_local_samples"
)

// TuningRun is the persisted record of a full tuning sweep.
type TuningRun struct {
	TuningRunID       string              `json:"tuning_run_id"`
	ManifestID        string              `json:"manifest_id"`
	StrategyVersionID string              `json:"strategy_version_id"`
	Plan              TuningPlan          `json:"plan"`
	Trials            []TrialResult       `json:"trials"`
	Rejected          []RejectedCandidate `json:"rejected"`
	Best              []TrialResult       `json:"best"`
	Sensitivity       []SensitivityEntry  `json:"sensitivity"`
	CreatedAtMs       int64               `json:"created_at_ms"`
}
