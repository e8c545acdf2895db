// Package main provides the parameter tuning entry point.
// Executes: plan derivation -> preflight -> trial sweep -> ranking
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"market-pit-lab/internal/config"
	"market-pit-lab/internal/domain"
	"market-pit-lab/internal/orchestrator"
	"market-pit-lab/internal/storage"
	chstore "market-pit-lab/internal/storage/clickhouse"
	"market-pit-lab/internal/storage/memory"
	pgstore "market-pit-lab/internal/storage/postgres"
	"market-pit-lab/internal/tuning"
	"market-pit-lab/internal/worldstate"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to YAML/JSON config file")
	universe := flag.String("universe", "", "Comma-separated symbols (required)")
	startDate := flag.String("start", "", "Start date YYYY-MM-DD (required)")
	endDate := flag.String("end", "", "End date YYYY-MM-DD (required)")
	fixturePath := flag.String("fixture", "", "CSV of candles to load into memory storage")
	strategyName := flag.String("strategy", "sma-crossover", "Strategy name to record trials under")

	// Base strategy parameters
	shortWindow := flag.Int("short-window", 20, "Base short SMA window")
	longWindow := flag.Int("long-window", 50, "Base long SMA window")
	maxPositions := flag.Int("max-positions", 10, "Base maximum concurrent positions")

	// Sweep controls
	riskMode := flag.String("risk-mode", string(domain.RiskModeBalanced), "Risk mode: safe, balanced, aggressive")
	layers := flag.String("layers", "", "Comma-separated layers to tune (empty lets the planner decide)")
	freeze := flag.String("freeze", "", "Comma-separated name=value parameters to hold fixed")
	target := flag.String("target", tuning.TargetSharpe, "Objective: sharpe, cagr, total_return, max_drawdown")
	maxTrials := flag.Int("max-trials", 0, "Trial cap (0 uses the plan estimate)")
	parallelism := flag.Int("parallelism", 4, "Concurrent trials")
	seed := flag.Int64("seed", 42, "Replay seed recorded with each trial")
	maxDrawdownLimit := flag.Float64("max-drawdown-limit", 0, "Reject candidates whose drawdown exceeds this (0 disables)")
	turnoverCap := flag.Int("turnover-cap", 0, "Reject candidates whose turnover exceeds this (0 disables)")

	// Output
	outputJSON := flag.Bool("json", false, "Output as JSON")
	verbose := flag.Bool("verbose", false, "Verbose output")
	flag.Parse()

	logger := log.New(os.Stderr, "[tuning] ", log.LstdFlags)

	if *universe == "" {
		logger.Fatal("--universe is required")
	}
	if *startDate == "" || *endDate == "" {
		logger.Fatal("--start and --end are required")
	}

	cfg := loadConfig(logger, *configPath)

	// Create context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	stores, closeStores := buildStores(ctx, logger, cfg)
	defer closeStores()

	if *fixturePath != "" {
		if cfg.Storage.Backend != "memory" {
			logger.Fatal("--fixture only applies to the memory backend")
		}
		if err := loadFixture(ctx, stores, *fixturePath); err != nil {
			logger.Fatalf("load fixture: %v", err)
		}
	}

	orch := orchestrator.New(orchestrator.Options{
		InstrumentStore: stores.instruments,
		CandleStore:     stores.candles,
		FeatureStore:    stores.features,
		FundStore:       stores.fundamentals,
		ActionStore:     stores.actions,
		RatingStore:     stores.ratings,
		ManifestStore:   stores.manifests,
		RunStore:        stores.runs,
		StrategyStore:   stores.strategies,
		TuningStore:     stores.tunings,
		Config:          cfg,
		Verbose:         *verbose,
		Logger:          logger,
	})

	built, err := orch.BuildWorldState(ctx, worldstate.Request{
		Universe:  splitList(*universe),
		StartDate: *startDate,
		EndDate:   *endDate,
	})
	if err != nil {
		logger.Fatalf("build world state: %v", err)
	}

	baseConfig := domain.StrategyConfig{
		SignalType:     domain.SignalTypeSMACrossover,
		ShortWindow:    *shortWindow,
		LongWindow:     *longWindow,
		MaxPositions:   *maxPositions,
		CostBps:        cfg.CostModel.CostBps,
		SlippageBps:    cfg.CostModel.SlippageBps,
		InitialCapital: cfg.Backtest.InitialCapital,
	}

	frozen, err := parseFreeze(*freeze)
	if err != nil {
		logger.Fatalf("parse --freeze: %v", err)
	}
	planReq := tuning.PlanRequest{
		Config:        baseConfig,
		RiskMode:      domain.RiskMode(*riskMode),
		IncludeLayers: splitList(*layers),
		FreezeParams:  frozen,
	}
	if len(planReq.IncludeLayers) > 0 {
		planReq.PolicyMode = domain.PolicyUserSelected
	}

	plan, err := orch.DeriveTuningPlan(planReq)
	if err != nil {
		logger.Fatalf("derive plan: %v", err)
	}
	logger.Printf("Plan: %d estimated trials across %d layers", plan.EstimatedTrials, len(plan.Layers))

	run, err := orch.RunTuning(ctx, tuning.Request{
		Snapshot:     built.Snapshot,
		BaseConfig:   baseConfig,
		Plan:         plan,
		Target:       *target,
		Constraints:  tuning.Constraints{MaxDrawdownLimit: *maxDrawdownLimit, TurnoverCap: *turnoverCap},
		MaxTrials:    *maxTrials,
		Parallelism:  *parallelism,
		StrategyName: *strategyName,
		Seed:         *seed,
	})
	if err != nil {
		logger.Fatalf("tuning failed: %v", err)
	}

	if *outputJSON {
		output, _ := json.MarshalIndent(run, "", "  ")
		fmt.Println(string(output))
		return
	}
	printRun(run, *target)
}

// storeSet bundles every store the orchestrator needs.
type storeSet struct {
	instruments  storage.InstrumentStore
	candles      storage.CandleStore
	features     storage.FeatureStore
	fundamentals storage.FundamentalsStore
	actions      storage.CorporateActionStore
	ratings      storage.RatingStore
	manifests    storage.WorldStateManifestStore
	runs         storage.RunManifestStore
	strategies   storage.StrategyVersionStore
	tunings      storage.TuningRunStore
}

func loadConfig(logger *log.Logger, path string) *config.Config {
	if path == "" {
		return config.Default()
	}
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	return cfg
}

func buildStores(ctx context.Context, logger *log.Logger, cfg *config.Config) (*storeSet, func()) {
	if cfg.Storage.Backend == "memory" {
		return &storeSet{
			instruments:  memory.NewInstrumentStore(),
			candles:      memory.NewCandleStore(),
			features:     memory.NewFeatureStore(),
			fundamentals: memory.NewFundamentalsStore(),
			actions:      memory.NewCorporateActionStore(),
			ratings:      memory.NewRatingStore(),
			manifests:    memory.NewWorldStateManifestStore(),
			runs:         memory.NewRunManifestStore(),
			strategies:   memory.NewStrategyVersionStore(),
			tunings:      memory.NewTuningRunStore(),
		}, func() {}
	}

	pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
	if err != nil {
		logger.Fatalf("connect to postgres: %v", err)
	}
	conn, err := chstore.NewConn(ctx, cfg.Storage.ClickHouseDSN)
	if err != nil {
		pool.Close()
		logger.Fatalf("connect to clickhouse: %v", err)
	}

	return &storeSet{
			instruments:  pgstore.NewInstrumentStore(pool),
			candles:      chstore.NewCandleStore(conn),
			features:     chstore.NewFeatureStore(conn),
			fundamentals: chstore.NewFundamentalsStore(conn),
			actions:      chstore.NewCorporateActionStore(conn),
			ratings:      chstore.NewRatingStore(conn),
			manifests:    pgstore.NewWorldStateManifestStore(pool),
			runs:         pgstore.NewRunManifestStore(pool),
			strategies:   pgstore.NewStrategyVersionStore(pool),
			tunings:      pgstore.NewTuningRunStore(pool),
		}, func() {
			conn.Close()
			pool.Close()
		}
}

// loadFixture loads daily bars from a CSV with a
// symbol,date,open,high,low,close,volume header.
func loadFixture(ctx context.Context, stores *storeSet, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := csv.NewReader(f)
	if _, err := r.Read(); err != nil {
		return fmt.Errorf("read header: %w", err)
	}

	seen := map[string]bool{}
	var bars []*domain.Candle
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if len(rec) < 7 {
			return fmt.Errorf("row has %d columns, want 7", len(rec))
		}

		day, err := domain.ParseDate(rec[1])
		if err != nil {
			return err
		}
		vals := make([]float64, 5)
		for i := 0; i < 5; i++ {
			if vals[i], err = strconv.ParseFloat(rec[i+2], 64); err != nil {
				return fmt.Errorf("parse %q: %w", rec[i+2], err)
			}
		}

		sym := rec[0]
		if !seen[sym] {
			seen[sym] = true
			if err := stores.instruments.Insert(ctx, &domain.InstrumentMaster{Symbol: sym, ActiveFromMs: 0}); err != nil {
				return err
			}
		}
		bars = append(bars, &domain.Candle{
			Symbol: sym, TimestampMs: domain.DecisionTs(day),
			Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3], Volume: vals[4],
		})
	}
	return stores.candles.InsertBulk(ctx, bars)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// parseFreeze parses "name=value,name=value" into a parameter map.
func parseFreeze(s string) (map[string]float64, error) {
	if s == "" {
		return nil, nil
	}
	out := map[string]float64{}
	for _, pair := range strings.Split(s, ",") {
		name, raw, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			return nil, fmt.Errorf("malformed pair %q, want name=value", pair)
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", raw, err)
		}
		out[name] = v
	}
	return out, nil
}

// printRun outputs a human-readable tuning summary.
func printRun(run *domain.TuningRun, target string) {
	fmt.Println()
	fmt.Println("=== Tuning Run ===")
	fmt.Printf("Tuning Run ID:  %s\n", run.TuningRunID)
	fmt.Printf("Manifest ID:    %s\n", run.ManifestID)
	fmt.Printf("Objective:      %s\n", target)
	fmt.Printf("Trials:         %d ok, %d rejected\n", len(run.Trials), len(run.Rejected))
	fmt.Println()

	fmt.Println("Layers:")
	for _, l := range run.Plan.Layers {
		fmt.Printf("  %-10s active=%-5v %s\n", l.Layer, l.Active, l.Reason)
	}

	fmt.Println()
	fmt.Println("Top candidates:")
	for i, tr := range run.Best {
		fmt.Printf("  %d. sharpe=%.3f return=%.2f%% drawdown=%.2f%% params=%v\n",
			i+1, tr.Metrics.Sharpe, tr.Metrics.TotalReturn*100, tr.Metrics.MaxDrawdown*100, tr.Params)
	}

	if len(run.Rejected) > 0 {
		fmt.Println()
		fmt.Println("Rejections:")
		for _, rej := range run.Rejected {
			fmt.Printf("  %v: %s\n", rej.Params, rej.Reason)
		}
	}

	if len(run.Sensitivity) > 0 {
		fmt.Println()
		fmt.Println("Sensitivity:")
		for _, s := range run.Sensitivity {
			if s.Status != domain.SensitivityOK {
				fmt.Printf("  %-16s %s\n", s.Param, s.Status)
				continue
			}
			fmt.Printf("  %-16s spread=%.4f over %v\n", s.Param, s.Spread, s.Values)
		}
	}
}
