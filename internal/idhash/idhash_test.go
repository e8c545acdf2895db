package idhash

import (
	"testing"

	"market-pit-lab/internal/domain"
)

func TestComputeDatasetHashDeterministic(t *testing.T) {
	rows := []string{
		SerializeCandle(&domain.Candle{Symbol: "AAPL", TimestampMs: 1000, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 100}),
		SerializeCandle(&domain.Candle{Symbol: "AAPL", TimestampMs: 2000, Open: 1.5, High: 2.5, Low: 1, Close: 2, Volume: 200}),
	}

	h1 := ComputeDatasetHash(domain.DatasetCandles, rows)
	h2 := ComputeDatasetHash(domain.DatasetCandles, rows)
	if h1 != h2 {
		t.Errorf("same rows produced different hashes: %s vs %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("expected 64-char hex hash, got %d chars", len(h1))
	}
}

func TestComputeDatasetHashSensitiveToRows(t *testing.T) {
	base := []string{"AAPL|1000|1|2|0.5|1.5|100"}
	changed := []string{"AAPL|1000|1|2|0.5|1.6|100"}

	if ComputeDatasetHash(domain.DatasetCandles, base) == ComputeDatasetHash(domain.DatasetCandles, changed) {
		t.Error("expected different hashes for different row content")
	}
	if ComputeDatasetHash(domain.DatasetCandles, base) == ComputeDatasetHash(domain.DatasetFeatures, base) {
		t.Error("expected different hashes for different dataset names")
	}
}

func TestSerializeFundamentalsFieldOrder(t *testing.T) {
	a := &domain.FundamentalsRow{
		Symbol: "MSFT", PublishedAtMs: 5000, IngestSeq: 1,
		Fields: map[string]float64{"pe_ratio": 30.5, "eps": 2.1},
	}
	b := &domain.FundamentalsRow{
		Symbol: "MSFT", PublishedAtMs: 5000, IngestSeq: 1,
		Fields: map[string]float64{"eps": 2.1, "pe_ratio": 30.5},
	}

	if SerializeFundamentals(a) != SerializeFundamentals(b) {
		t.Error("field insertion order changed the serialization")
	}
}

func TestComputeManifestIDUniverseOrderInsensitive(t *testing.T) {
	versions := []domain.DatasetVersion{
		{DatasetName: domain.DatasetCandles, ContentHash: "abc", RowCount: 10},
		{DatasetName: domain.DatasetFeatures, ContentHash: "def", RowCount: 20},
	}

	id1 := ComputeManifestID([]string{"AAPL", "MSFT"}, "2025-01-01", "2025-01-31",
		domain.AdjustBack, domain.LastWriteWins, versions)
	id2 := ComputeManifestID([]string{"MSFT", "AAPL"}, "2025-01-01", "2025-01-31",
		domain.AdjustBack, domain.LastWriteWins, versions)
	if id1 != id2 {
		t.Error("universe ordering changed the manifest ID")
	}

	reversed := []domain.DatasetVersion{versions[1], versions[0]}
	id3 := ComputeManifestID([]string{"AAPL", "MSFT"}, "2025-01-01", "2025-01-31",
		domain.AdjustBack, domain.LastWriteWins, reversed)
	if id1 != id3 {
		t.Error("dataset version ordering changed the manifest ID")
	}
}

func TestComputeManifestIDSensitiveToPolicy(t *testing.T) {
	versions := []domain.DatasetVersion{{DatasetName: domain.DatasetCandles, ContentHash: "abc", RowCount: 10}}

	id1 := ComputeManifestID([]string{"AAPL"}, "2025-01-01", "2025-01-31",
		domain.AdjustBack, domain.LastWriteWins, versions)
	id2 := ComputeManifestID([]string{"AAPL"}, "2025-01-01", "2025-01-31",
		domain.AdjustNone, domain.LastWriteWins, versions)
	id3 := ComputeManifestID([]string{"AAPL"}, "2025-01-01", "2025-01-31",
		domain.AdjustBack, domain.FirstWriteWins, versions)

	if id1 == id2 {
		t.Error("adjustment policy did not affect the manifest ID")
	}
	if id1 == id3 {
		t.Error("tie-break policy did not affect the manifest ID")
	}
}

func TestComputeRunIDDeterministic(t *testing.T) {
	id1 := ComputeRunID("sv-1", "ws-1", 42, "engine-1.0")
	id2 := ComputeRunID("sv-1", "ws-1", 42, "engine-1.0")
	if id1 != id2 {
		t.Errorf("same inputs produced different run IDs: %s vs %s", id1, id2)
	}
	if ComputeRunID("sv-1", "ws-1", 43, "engine-1.0") == id1 {
		t.Error("seed did not affect the run ID")
	}
	if ComputeRunID("sv-1", "ws-1", 42, "engine-1.1") == id1 {
		t.Error("engine version did not affect the run ID")
	}
}

func TestComputeMetricsHash(t *testing.T) {
	m := domain.BacktestMetrics{
		FinalEquity: 105000, TotalReturn: 0.05, CAGR: 0.12,
		Sharpe: 1.4, MaxDrawdown: 0.08, Turnover: 2.5, TradeCount: 17,
	}
	if ComputeMetricsHash(m) != ComputeMetricsHash(m) {
		t.Error("metrics hash is not deterministic")
	}

	m2 := m
	m2.Sharpe = 1.5
	if ComputeMetricsHash(m) == ComputeMetricsHash(m2) {
		t.Error("metrics hash ignored a changed field")
	}
}

func TestComputeStrategyVersionID(t *testing.T) {
	cfg := domain.StrategyConfig{
		SignalType: domain.SignalTypeSMACrossover,
		ShortWindow: 5, LongWindow: 20, MaxPositions: 3,
		CostBps: 5, SlippageBps: 2, InitialCapital: 100000,
	}

	idA := ComputeStrategyVersionID("sma", domain.StrategyKindBuiltin, "", cfg)
	idB := ComputeStrategyVersionID("sma", domain.StrategyKindBuiltin, "", cfg)
	if idA != idB {
		t.Error("same config produced different strategy version IDs")
	}

	changed := cfg
	changed.ShortWindow = 6
	if ComputeStrategyVersionID("sma", domain.StrategyKindBuiltin, "", changed) == idA {
		t.Error("config values did not affect the strategy version ID")
	}
	if ComputeStrategyVersionID("sma", domain.StrategyKindExternal, "abc", cfg) == idA {
		t.Error("kind and source hash did not affect the strategy version ID")
	}
}
