// Package main provides the research ledger report entry point.
// Lists recorded world-state manifests with the backtest and tuning runs
// executed against them.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"market-pit-lab/internal/domain"
	"market-pit-lab/internal/storage"
	pgstore "market-pit-lab/internal/storage/postgres"
)

func main() {
	// Parse flags
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string (required)")
	manifestID := flag.String("manifest-id", "", "Restrict the report to one world-state manifest")
	outputJSON := flag.Bool("json", false, "Output as JSON")
	flag.Parse()

	logger := log.New(os.Stderr, "[report] ", log.LstdFlags)

	if *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required")
	}

	ctx := context.Background()
	pool, err := pgstore.NewPool(ctx, *postgresDSN)
	if err != nil {
		logger.Fatalf("connect to postgres: %v", err)
	}
	defer pool.Close()

	manifestStore := pgstore.NewWorldStateManifestStore(pool)
	runStore := pgstore.NewRunManifestStore(pool)
	strategyStore := pgstore.NewStrategyVersionStore(pool)
	tuningStore := pgstore.NewTuningRunStore(pool)

	manifests, err := collectManifests(ctx, manifestStore, *manifestID)
	if err != nil {
		logger.Fatalf("load manifests: %v", err)
	}

	report, err := buildReport(ctx, manifests, runStore, strategyStore, tuningStore)
	if err != nil {
		logger.Fatalf("build report: %v", err)
	}

	if *outputJSON {
		output, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(output))
		return
	}
	printReport(report)
}

func collectManifests(ctx context.Context, store storage.WorldStateManifestStore, manifestID string) ([]*domain.WorldStateManifest, error) {
	if manifestID != "" {
		m, err := store.GetByID(ctx, manifestID)
		if err != nil {
			return nil, err
		}
		return []*domain.WorldStateManifest{m}, nil
	}
	return store.GetAll(ctx)
}

// manifestEntry groups everything recorded against one world state.
type manifestEntry struct {
	Manifest   *domain.WorldStateManifest `json:"manifest"`
	Runs       []runEntry                 `json:"runs"`
	TuningRuns []*domain.TuningRun        `json:"tuning_runs"`
}

// runEntry pairs a run with the strategy version it executed.
type runEntry struct {
	Run      *domain.RunManifest     `json:"run"`
	Strategy *domain.StrategyVersion `json:"strategy"`
}

func buildReport(
	ctx context.Context,
	manifests []*domain.WorldStateManifest,
	runStore storage.RunManifestStore,
	strategyStore storage.StrategyVersionStore,
	tuningStore storage.TuningRunStore,
) ([]manifestEntry, error) {
	var report []manifestEntry
	for _, m := range manifests {
		runs, err := runStore.GetByManifestID(ctx, m.ManifestID)
		if err != nil {
			return nil, fmt.Errorf("runs for %s: %w", m.ManifestID, err)
		}

		entry := manifestEntry{Manifest: m}
		for _, r := range runs {
			sv, err := strategyStore.GetByID(ctx, r.StrategyVersionID)
			if err != nil {
				return nil, fmt.Errorf("strategy %s: %w", r.StrategyVersionID, err)
			}
			entry.Runs = append(entry.Runs, runEntry{Run: r, Strategy: sv})
		}

		entry.TuningRuns, err = tuningStore.GetByManifestID(ctx, m.ManifestID)
		if err != nil {
			return nil, fmt.Errorf("tuning runs for %s: %w", m.ManifestID, err)
		}
		report = append(report, entry)
	}
	return report, nil
}

func printReport(report []manifestEntry) {
	if len(report) == 0 {
		fmt.Println("No world-state manifests recorded.")
		return
	}

	for _, entry := range report {
		m := entry.Manifest
		fmt.Println()
		fmt.Printf("=== Manifest %s ===\n", m.ManifestID)
		fmt.Printf("Universe:   %s\n", strings.Join(m.Universe, ", "))
		fmt.Printf("Range:      %s .. %s (%s)\n", m.StartDate, m.EndDate, m.AdjustmentPolicy)
		fmt.Printf("Rows:       %d (%d skips)\n", m.RowCount, len(m.SkipReport))

		if len(entry.Runs) > 0 {
			fmt.Println()
			fmt.Println("Runs:")
			for _, r := range entry.Runs {
				fmt.Printf("  %s  %s  return=%.2f%% sharpe=%.3f trades=%d\n",
					shortID(r.Run.RunID), r.Strategy.Name,
					r.Run.Metrics.TotalReturn*100, r.Run.Metrics.Sharpe, r.Run.Metrics.TradeCount)
			}
		}

		if len(entry.TuningRuns) > 0 {
			fmt.Println()
			fmt.Println("Tuning runs:")
			for _, tr := range entry.TuningRuns {
				best := "no ranked candidates"
				if len(tr.Best) > 0 {
					best = fmt.Sprintf("best sharpe=%.3f params=%v", tr.Best[0].Metrics.Sharpe, tr.Best[0].Params)
				}
				fmt.Printf("  %s  %d trials, %d rejected, %s\n",
					tr.TuningRunID, len(tr.Trials), len(tr.Rejected), best)
			}
		}
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
