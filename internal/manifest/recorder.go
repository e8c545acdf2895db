// Package manifest records backtest provenance. The recorder is the only
// component that computes run IDs and metrics hashes; everything else
// treats them as opaque strings.
package manifest

import (
	"context"
	"errors"
	"fmt"
	"log"

	"market-pit-lab/internal/domain"
	"market-pit-lab/internal/idhash"
	"market-pit-lab/internal/storage"
)

// EngineVersion is baked into every run ID so behavior changes in the
// simulation engine never collide with runs produced by older code.
const EngineVersion = "pit-lab/1.0.0"

// Recorder writes run manifests and strategy versions, both append-only.
type Recorder struct {
	runStore      storage.RunManifestStore
	strategyStore storage.StrategyVersionStore
	log           *log.Logger
}

// NewRecorder creates a recorder over the control-plane stores.
func NewRecorder(runStore storage.RunManifestStore, strategyStore storage.StrategyVersionStore, logger *log.Logger) *Recorder {
	return &Recorder{runStore: runStore, strategyStore: strategyStore, log: logger}
}

// Record computes the run manifest for one finished run and persists it.
// The manifest is a pure function of the inputs: replaying an identical
// run hits ErrDuplicateKey, which is exactly the idempotence check, and
// the stored manifest is returned unchanged.
func (r *Recorder) Record(ctx context.Context, manifestID, strategyVersionID string, seed int64, metrics domain.BacktestMetrics) (*domain.RunManifest, error) {
	if manifestID == "" || strategyVersionID == "" {
		return nil, storage.ErrInvalidInput
	}

	run := &domain.RunManifest{
		RunID:                idhash.ComputeRunID(strategyVersionID, manifestID, seed, EngineVersion),
		StrategyVersionID:    strategyVersionID,
		WorldStateManifestID: manifestID,
		Seed:                 seed,
		EngineVersion:        EngineVersion,
		Metrics:              metrics,
		MetricsHash:          idhash.ComputeMetricsHash(metrics),
	}

	if err := r.runStore.Insert(ctx, run); err != nil {
		if !errors.Is(err, storage.ErrDuplicateKey) {
			return nil, fmt.Errorf("persist run manifest: %w", err)
		}
		stored, getErr := r.runStore.GetByID(ctx, run.RunID)
		if getErr != nil {
			return nil, fmt.Errorf("load existing run manifest: %w", getErr)
		}
		if stored.MetricsHash != run.MetricsHash {
			// Same inputs, different outcome: the engine is not
			// deterministic, or the registry mutated underneath.
			return nil, fmt.Errorf("run %s replayed with divergent metrics: stored=%s got=%s",
				shortID(run.RunID), stored.MetricsHash, run.MetricsHash)
		}
		r.log.Printf("run %s already recorded, replay verified", shortID(run.RunID))
		return stored, nil
	}

	r.log.Printf("recorded run %s: manifest=%s strategy=%s seed=%d sharpe=%.4f",
		shortID(run.RunID), shortID(manifestID), shortID(strategyVersionID), seed, metrics.Sharpe)
	return run, nil
}

// RegisterStrategy pins a strategy revision and returns its version ID.
// An unchanged strategy maps to the same ID; re-registering is a no-op.
func (r *Recorder) RegisterStrategy(ctx context.Context, name, kind, sourceHash string, cfg domain.StrategyConfig) (*domain.StrategyVersion, error) {
	if name == "" {
		return nil, storage.ErrInvalidInput
	}
	if kind != domain.StrategyKindBuiltin && kind != domain.StrategyKindExternal {
		return nil, fmt.Errorf("%w: unknown strategy kind %q", storage.ErrInvalidInput, kind)
	}
	if kind == domain.StrategyKindExternal && sourceHash == "" {
		return nil, fmt.Errorf("%w: external strategy requires a source hash", storage.ErrInvalidInput)
	}

	sv := &domain.StrategyVersion{
		VersionID:  idhash.ComputeStrategyVersionID(name, kind, sourceHash, cfg),
		Name:       name,
		Kind:       kind,
		Config:     cfg,
		SourceHash: sourceHash,
	}

	if err := r.strategyStore.Insert(ctx, sv); err != nil {
		if !errors.Is(err, storage.ErrDuplicateKey) {
			return nil, fmt.Errorf("persist strategy version: %w", err)
		}
		return r.strategyStore.GetByID(ctx, sv.VersionID)
	}

	r.log.Printf("registered strategy %s: name=%s kind=%s", shortID(sv.VersionID), name, kind)
	return sv, nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
