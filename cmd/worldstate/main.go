// Package main provides the world-state assembly entry point.
// Executes: preflight -> assembly -> leak check -> frame export
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"market-pit-lab/internal/config"
	"market-pit-lab/internal/domain"
	"market-pit-lab/internal/observability"
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
	tieBreak := flag.String("tie-break", string(domain.LastWriteWins), "Tie break: last_write_wins, first_write_wins")
	features := flag.String("features", "", "Comma-separated required technical features")
	fixturePath := flag.String("fixture", "", "CSV of candles to load into memory storage")
	serveMetrics := flag.Bool("serve-metrics", false, "Expose Prometheus metrics while running")
	outputJSON := flag.Bool("json", false, "Output manifest as JSON")
	verbose := flag.Bool("verbose", false, "Verbose output")
	flag.Parse()

	logger := log.New(os.Stderr, "[worldstate] ", log.LstdFlags)

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

	if *serveMetrics && cfg.Metrics.Addr != "" {
		go func() {
			http.Handle("/metrics", observability.Handler())
			if err := http.ListenAndServe(cfg.Metrics.Addr, nil); err != nil {
				logger.Printf("metrics endpoint: %v", err)
			}
		}()
	}

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

	req := worldstate.Request{
		Universe:         splitList(*universe),
		StartDate:        *startDate,
		EndDate:          *endDate,
		AdjustmentPolicy: domain.AdjustmentPolicy(*policy),
		TieBreak:         domain.TieBreak(*tieBreak),
		RequiredFeatures: splitList(*features),
	}

	result, err := orch.BuildWorldState(ctx, req)
	if err != nil {
		logger.Fatalf("build failed: %v", err)
	}

	if *outputJSON {
		output, _ := json.MarshalIndent(result.Snapshot.Manifest, "", "  ")
		fmt.Println(string(output))
		return
	}
	printManifest(result)
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

// buildStores wires the configured backend: reference and run metadata in
// Postgres, time series in ClickHouse, or everything in memory.
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
// symbol,date,open,high,low,close,volume header. Each named symbol is
// registered as an active instrument.
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

// printManifest outputs a human-readable build summary.
func printManifest(res *orchestrator.BuildResult) {
	m := res.Snapshot.Manifest
	fmt.Println()
	fmt.Println("=== World State ===")
	fmt.Printf("Manifest ID:      %s\n", m.ManifestID)
	fmt.Printf("Universe:         %s\n", strings.Join(m.Universe, ", "))
	fmt.Printf("Range:            %s .. %s\n", m.StartDate, m.EndDate)
	fmt.Printf("Policy:           %s (ties: %s)\n", m.AdjustmentPolicy, m.TieBreak)
	fmt.Printf("Sessions:         %d\n", len(res.Snapshot.Days))
	fmt.Printf("Rows:             %d\n", m.RowCount)
	fmt.Println()

	fmt.Println("Datasets:")
	for _, dv := range m.DatasetVersions {
		fmt.Printf("  %-16s %s (%d rows)\n", dv.DatasetName, dv.ContentHash[:12], dv.RowCount)
	}
	if len(m.SkipReport) > 0 {
		fmt.Println()
		fmt.Println("Skips:")
		for _, s := range m.SkipReport {
			fmt.Printf("  %s/%s: %s (%s)\n", s.Symbol, s.Field, s.FallbackReason, s.Impact)
		}
	}

	fmt.Println()
	fmt.Printf("Leak check:       %d rows checked, %d violations\n",
		res.LeakReport.CheckedRows, len(res.LeakReport.Violations))
	if res.FramesPath != "" {
		fmt.Printf("Frames exported:  %s\n", res.FramesPath)
	}
}
