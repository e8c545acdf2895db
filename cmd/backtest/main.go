// Package main provides the backtest entry point.
// Executes: preflight -> assembly -> leak check -> simulation -> recording
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
	"market-pit-lab/internal/worldstate"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to YAML/JSON config file")
	universe := flag.String("universe", "", "Comma-separated symbols (required)")
	startDate := flag.String("start", "", "Start date YYYY-MM-DD (required)")
	endDate := flag.String("end", "", "End date YYYY-MM-DD (required)")
	policy := flag.String("policy", string(domain.AdjustBack), "Adjustment policy: back_adjust, forward_adjust, none")
	strategyName := flag.String("strategy", "sma-crossover", "Strategy name to record under")
	fixturePath := flag.String("fixture", "", "CSV of candles to load into memory storage")

	// Strategy parameters
	shortWindow := flag.Int("short-window", 20, "Short SMA window")
	longWindow := flag.Int("long-window", 50, "Long SMA window")
	maxPositions := flag.Int("max-positions", 10, "Maximum concurrent positions")
	costBps := flag.Float64("cost-bps", -1, "Round-trip cost in bps (default from config)")
	slippageBps := flag.Float64("slippage-bps", -1, "Fill slippage in bps (default from config)")
	capital := flag.Float64("capital", -1, "Initial capital (default from config)")

	// Output
	outputJSON := flag.Bool("json", false, "Output as JSON")
	verbose := flag.Bool("verbose", false, "Verbose output")
	flag.Parse()

	logger := log.New(os.Stderr, "[backtest] ", log.LstdFlags)

	if *universe == "" {
		logger.Fatal("--universe is required")
	}
	if *startDate == "" || *endDate == "" {
		logger.Fatal("--start and --end are required")
	}

	cfg := loadConfig(logger, *configPath)
	if *costBps < 0 {
		*costBps = cfg.CostModel.CostBps
	}
	if *slippageBps < 0 {
		*slippageBps = cfg.CostModel.SlippageBps
	}
	if *capital <= 0 {
		*capital = cfg.Backtest.InitialCapital
	}

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
		Universe:         splitList(*universe),
		StartDate:        *startDate,
		EndDate:          *endDate,
		AdjustmentPolicy: domain.AdjustmentPolicy(*policy),
	})
	if err != nil {
		logger.Fatalf("build world state: %v", err)
	}

	strategyConfig := domain.StrategyConfig{
		SignalType:     domain.SignalTypeSMACrossover,
		ShortWindow:    *shortWindow,
		LongWindow:     *longWindow,
		MaxPositions:   *maxPositions,
		CostBps:        *costBps,
		SlippageBps:    *slippageBps,
		InitialCapital: *capital,
	}

	logger.Printf("Running backtest: %s over %s..%s (short=%d long=%d)",
		*universe, *startDate, *endDate, *shortWindow, *longWindow)

	res, err := orch.RunBacktest(ctx, built.Snapshot, *strategyName, strategyConfig)
	if err != nil {
		logger.Fatalf("backtest failed: %v", err)
	}

	if *outputJSON {
		output, _ := json.MarshalIndent(map[string]any{
			"run":     res.Run,
			"metrics": res.Result.Metrics,
		}, "", "  ")
		fmt.Println(string(output))
		return
	}
	printResult(res)
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

// printResult outputs a human-readable run summary.
func printResult(res *orchestrator.BacktestResult) {
	m := res.Result.Metrics
	fmt.Println()
	fmt.Println("=== Backtest Result ===")
	fmt.Printf("Run ID:         %s\n", res.Run.RunID)
	fmt.Printf("Manifest ID:    %s\n", res.Run.WorldStateManifestID)
	fmt.Printf("Metrics Hash:   %s\n", res.Run.MetricsHash)
	fmt.Println()

	fmt.Println("Metrics:")
	fmt.Printf("  Total Return:   %.2f%%\n", m.TotalReturn*100)
	fmt.Printf("  CAGR:           %.2f%%\n", m.CAGR*100)
	fmt.Printf("  Sharpe:         %.3f\n", m.Sharpe)
	fmt.Printf("  Max Drawdown:   %.2f%%\n", m.MaxDrawdown*100)
	fmt.Printf("  Turnover:       %.3f\n", m.Turnover)
	fmt.Printf("  Trades:         %d\n", m.TradeCount)
	fmt.Println()

	fmt.Println("Trades:")
	for _, t := range res.Result.Trades {
		fmt.Printf("  %-6s %s -> %s  %.2f -> %.2f  pnl %.2f (%s / %s)\n",
			t.Symbol, t.EntryDate, t.ExitDate, t.EntryPrice, t.ExitPrice, t.PnL, t.EntryCode, t.ExitCode)
	}
	if res.Artifacts != nil {
		fmt.Println()
		fmt.Printf("Blotter:        %s\n", res.Artifacts.TradeBlotter)
		fmt.Printf("Signals:        %s\n", res.Artifacts.SignalContext)
		fmt.Printf("Equity curve:   %s\n", res.Artifacts.EquityCurve)
	}
}
