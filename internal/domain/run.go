package domain

// BacktestMetrics holds the benchmark-relative performance metrics of one
// finalized backtest run.
type BacktestMetrics struct {
	FinalEquity float64
	TotalReturn float64
	CAGR        float64
	Sharpe      float64
	MaxDrawdown float64 // peak-to-trough, <= 0
	Turnover    float64 // traded notional / average equity
	TradeCount  int
}

// RunManifest is the provenance record of one backtest or tuning trial.
// RunID is content-addressed over the full input set; MetricsHash is the
// canonical hash of the resulting metrics. Replaying with an identical
// manifest must reproduce an identical MetricsHash. Immutable once written.
type RunManifest struct {
	RunID                string
	StrategyVersionID    string
	WorldStateManifestID string
	Seed                 int64
	EngineVersion        string
	Metrics              BacktestMetrics
	MetricsHash          string
}

// Strategy kinds dispatched by strategy-version metadata.
const (
	StrategyKindBuiltin  = "builtin"
	StrategyKindExternal = "external"
)

// StrategyVersion pins one immutable strategy revision. VersionID is
// content-addressed over name, kind and config (or source hash for
// external code), so re-saving an unchanged strategy is idempotent.
type StrategyVersion struct {
	VersionID  string
	Name       string
	Kind       string // StrategyKindBuiltin | StrategyKindExternal
	Config     StrategyConfig
	SourceHash string // external code only
}

// StrategyConfig holds the tunable parameters of a strategy revision.
type StrategyConfig struct {
	SignalType     string // "sma_crossover"
	ShortWindow    int
	LongWindow     int
	MaxPositions   int
	CostBps        float64
	SlippageBps    float64
	InitialCapital float64
}

// Signal type constants.
const SignalTypeSMACrossover = "sma_crossover"
