package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"market-pit-lab/internal/domain"
)

// ComputeRunID derives the backtest run identifier from everything that
// determines its result. Replaying the same strategy version against the same
// world state with the same seed and engine reproduces the same ID.
func ComputeRunID(strategyVersionID, manifestID string, seed int64, engineVersion string) string {
	input := fmt.Sprintf("%s|%s|%d|%s", strategyVersionID, manifestID, seed, engineVersion)
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// ComputeMetricsHash hashes the canonical serialization of a metrics block,
// used to verify replay determinism without comparing field by field.
func ComputeMetricsHash(m domain.BacktestMetrics) string {
	input := fmt.Sprintf("%s|%s|%s|%s|%s|%s|%d",
		formatFloat(m.FinalEquity), formatFloat(m.TotalReturn), formatFloat(m.CAGR),
		formatFloat(m.Sharpe), formatFloat(m.MaxDrawdown), formatFloat(m.Turnover),
		m.TradeCount,
	)
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// ComputeStrategyVersionID derives a strategy version identifier from its
// name, kind, source hash and full config, so re-saving an unchanged
// strategy is idempotent and any config change mints a new version.
func ComputeStrategyVersionID(name, kind, sourceHash string, cfg domain.StrategyConfig) string {
	input := fmt.Sprintf("%s|%s|%s|%s|%d|%d|%d|%s|%s|%s",
		name, kind, sourceHash,
		cfg.SignalType, cfg.ShortWindow, cfg.LongWindow, cfg.MaxPositions,
		formatFloat(cfg.CostBps), formatFloat(cfg.SlippageBps), formatFloat(cfg.InitialCapital),
	)
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// ComputeSourceHash hashes external strategy source code so a changed body
// always produces a new strategy version.
func ComputeSourceHash(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}
