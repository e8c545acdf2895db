// Package orchestrator provides end-to-end run orchestration.
// It coordinates: preflight -> world-state assembly -> leak check -> backtest -> recording
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"time"

	"market-pit-lab/internal/artifacts"
	"market-pit-lab/internal/backtest"
	"market-pit-lab/internal/config"
	"market-pit-lab/internal/contract"
	"market-pit-lab/internal/domain"
	"market-pit-lab/internal/idhash"
	"market-pit-lab/internal/leakcheck"
	"market-pit-lab/internal/manifest"
	"market-pit-lab/internal/observability"
	"market-pit-lab/internal/preflight"
	"market-pit-lab/internal/storage"
	"market-pit-lab/internal/tuning"
	"market-pit-lab/internal/worldstate"
)

// Orchestrator wires the research pipeline together behind one facade.
type Orchestrator struct {
	// Stores
	instrumentStore storage.InstrumentStore
	candleStore     storage.CandleStore
	featureStore    storage.FeatureStore
	fundStore       storage.FundamentalsStore
	actionStore     storage.CorporateActionStore
	ratingStore     storage.RatingStore
	manifestStore   storage.WorldStateManifestStore
	runStore        storage.RunManifestStore
	strategyStore   storage.StrategyVersionStore
	tuningStore     storage.TuningRunStore

	// Components
	builder   *worldstate.Builder
	validator *leakcheck.Validator
	estimator *preflight.Estimator
	engine    *backtest.Engine
	recorder  *manifest.Recorder
	tuner     *tuning.Runner
	writer    *artifacts.Writer

	cfg     *config.Config
	verbose bool
	logger  *log.Logger
}

// Options for creating Orchestrator.
type Options struct {
	// Required stores
	InstrumentStore storage.InstrumentStore
	CandleStore     storage.CandleStore
	FeatureStore    storage.FeatureStore
	FundStore       storage.FundamentalsStore
	ActionStore     storage.CorporateActionStore
	RatingStore     storage.RatingStore
	ManifestStore   storage.WorldStateManifestStore
	RunStore        storage.RunManifestStore
	StrategyStore   storage.StrategyVersionStore
	TuningStore     storage.TuningRunStore

	// Runtime configuration; nil falls back to config.Default().
	Config *config.Config

	Verbose bool
	Logger  *log.Logger
}

// New creates a new Orchestrator.
func New(opts Options) *Orchestrator {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[orchestrator] ", log.LstdFlags)
	}

	o := &Orchestrator{
		instrumentStore: opts.InstrumentStore,
		candleStore:     opts.CandleStore,
		featureStore:    opts.FeatureStore,
		fundStore:       opts.FundStore,
		actionStore:     opts.ActionStore,
		ratingStore:     opts.RatingStore,
		manifestStore:   opts.ManifestStore,
		runStore:        opts.RunStore,
		strategyStore:   opts.StrategyStore,
		tuningStore:     opts.TuningStore,
		cfg:             cfg,
		verbose:         opts.Verbose,
		logger:          logger,
	}

	o.builder = worldstate.NewBuilder(
		opts.InstrumentStore, opts.CandleStore, opts.FeatureStore,
		opts.FundStore, opts.ActionStore, opts.RatingStore,
		opts.ManifestStore, logger,
	)
	o.validator = leakcheck.NewValidator(
		opts.CandleStore, opts.FundStore, opts.ActionStore, opts.RatingStore, logger,
	)
	o.estimator = preflight.NewEstimator(opts.CandleStore)
	o.engine = backtest.NewEngine(logger)
	o.recorder = manifest.NewRecorder(opts.RunStore, opts.StrategyStore, logger)
	o.tuner = tuning.NewRunner(o.engine, o.recorder, opts.TuningStore, logger)
	if cfg.Artifacts.Enabled {
		o.writer = artifacts.NewWriter(cfg.Artifacts.Dir)
	}
	return o
}

// BuildResult is the outcome of one world-state assembly.
type BuildResult struct {
	Snapshot   *worldstate.Snapshot
	LeakReport *domain.LeakReport
	FramesPath string
	Estimate   *preflight.Estimate
}

// BuildWorldState assembles a snapshot, leak-checks it in strict mode, and
// exports the frames when artifacts are enabled.
func (o *Orchestrator) BuildWorldState(ctx context.Context, req worldstate.Request) (*BuildResult, error) {
	o.log("Phase 1: Sizing world-state build for %d symbols...", len(req.Universe))
	est, err := o.enforceWorldStateBudget(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("phase 1 (preflight) failed: %w", err)
	}
	o.log("  Estimated %.2fs over %d rows", est.Seconds, est.RowCount)

	o.log("Phase 2: Assembling snapshot...")
	start := time.Now()
	snap, err := o.builder.Build(ctx, req)
	if err != nil {
		observability.RecordBuild("failed", string(req.AdjustmentPolicy), 0, time.Since(start).Seconds())
		return nil, fmt.Errorf("phase 2 (assembly) failed: %w", err)
	}
	observability.RecordBuild("ok", string(snap.Manifest.AdjustmentPolicy), snap.Manifest.RowCount, time.Since(start).Seconds())
	observability.RecordSkipEntries(len(snap.Manifest.SkipReport))
	observability.DefaultMetrics.LastSuccessfulBuild.SetToCurrentTime()
	o.log("  Manifest %s: %d sessions, %d skips", snap.Manifest.ManifestID, len(snap.Days), len(snap.Manifest.SkipReport))

	o.log("Phase 3: Leak-checking snapshot...")
	report, err := o.ValidatePIT(ctx, snap, true, 1)
	if err != nil {
		return nil, fmt.Errorf("phase 3 (leak check) failed: %w", err)
	}

	result := &BuildResult{Snapshot: snap, LeakReport: report, Estimate: est}
	if o.writer != nil {
		path, err := o.writer.WriteFrames(snap.Manifest.ManifestID, snap)
		if err != nil {
			return nil, fmt.Errorf("export frames: %w", err)
		}
		result.FramesPath = path
	}
	return result, nil
}

// ValidatePIT runs the leak check on a snapshot. everyNth <= 1 checks every
// session; larger values sample. In strict mode a violation is an error.
func (o *Orchestrator) ValidatePIT(ctx context.Context, snap *worldstate.Snapshot, strict bool, everyNth int) (*domain.LeakReport, error) {
	mode := "advisory"
	if strict {
		mode = "strict"
	}
	start := time.Now()
	report, err := o.validator.EveryNth(everyNth).Validate(ctx, snap, strict)
	if err != nil {
		observability.RecordLeakCheck(mode, "fail", len(snap.Days), 0, time.Since(start).Seconds())
		return nil, err
	}
	result := "pass"
	if !report.Pass() {
		result = "fail"
	}
	observability.RecordLeakCheck(mode, result, report.CheckedRows, len(report.Violations), time.Since(start).Seconds())
	return report, nil
}

// BacktestResult pairs a finalized run with its recorded manifest.
type BacktestResult struct {
	Result    *backtest.Result
	Run       *domain.RunManifest
	Artifacts *artifacts.Paths
}

// RunBacktest executes the built-in strategy over a snapshot, records the
// run manifest, and writes the blotter, signal context, and equity curve.
func (o *Orchestrator) RunBacktest(ctx context.Context, snap *worldstate.Snapshot, name string, cfg domain.StrategyConfig) (*BacktestResult, error) {
	o.log("Phase 1: Sizing backtest...")
	est, err := o.enforceBacktestBudget(ctx, snap)
	if err != nil {
		return nil, fmt.Errorf("phase 1 (preflight) failed: %w", err)
	}
	o.log("  Estimated %.2fs over %d rows", est.Seconds, est.RowCount)

	o.log("Phase 2: Registering strategy version...")
	sv, err := o.recorder.RegisterStrategy(ctx, name, domain.StrategyKindBuiltin, "", cfg)
	if err != nil {
		return nil, fmt.Errorf("phase 2 (register strategy) failed: %w", err)
	}

	o.log("Phase 3: Simulating...")
	strat, err := contract.New(sv, nil)
	if err != nil {
		return nil, fmt.Errorf("phase 3 (strategy) failed: %w", err)
	}
	start := time.Now()
	res, err := o.engine.Run(ctx, snap, strat, cfg)
	if err != nil {
		observability.RecordBacktest(string(backtest.StateAborted), 0, time.Since(start).Seconds())
		return nil, fmt.Errorf("phase 3 (simulation) failed: %w", err)
	}
	observability.RecordBacktest(string(res.State), len(res.Trades), time.Since(start).Seconds())
	observability.DefaultMetrics.LastSuccessfulBacktest.SetToCurrentTime()

	o.log("Phase 4: Recording run manifest...")
	run, err := o.recorder.Record(ctx, snap.Manifest.ManifestID, sv.VersionID, o.cfg.Backtest.Seed, res.Metrics)
	if err != nil {
		return nil, fmt.Errorf("phase 4 (record) failed: %w", err)
	}
	o.log("  Run %s: return %.4f, %d trades", run.RunID, res.Metrics.TotalReturn, res.Metrics.TradeCount)

	out := &BacktestResult{Result: res, Run: run}
	if o.writer != nil {
		paths, err := o.writer.WriteRun(run.RunID, res)
		if err != nil {
			return nil, fmt.Errorf("write artifacts: %w", err)
		}
		out.Artifacts = paths
	}
	return out, nil
}

// DeriveTuningPlan builds a tuning plan from a base config and layer policy.
func (o *Orchestrator) DeriveTuningPlan(req tuning.PlanRequest) (*domain.TuningPlan, error) {
	return tuning.DerivePlan(req)
}

// RunTuning sweeps the plan's search space, recording every surviving trial.
func (o *Orchestrator) RunTuning(ctx context.Context, req tuning.Request) (*domain.TuningRun, error) {
	if req.Plan == nil || req.Snapshot == nil {
		return nil, storage.ErrInvalidInput
	}

	o.log("Phase 1: Sizing tuning run (%d estimated trials)...", req.Plan.EstimatedTrials)
	perTrial, _, err := o.estimateSnapshotBacktest(ctx, req.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("phase 1 (preflight) failed: %w", err)
	}
	est, err := preflight.EnforceTuningBudget(req.Plan.EstimatedTrials, perTrial, o.cfg.Budgets.MaxTuningSeconds)
	observability.RecordBudgetCheck("tuning", perTrial*float64(req.Plan.EstimatedTrials), err != nil)
	if err != nil {
		return nil, fmt.Errorf("phase 1 (preflight) failed: %w", err)
	}
	o.log("  Estimated %.2fs for %d trials", est.Seconds, req.Plan.EstimatedTrials)

	if req.MaxTrials <= 0 {
		req.MaxTrials = req.Plan.EstimatedTrials
	}

	o.log("Phase 2: Sweeping search space...")
	run, err := o.tuner.Run(ctx, req)
	if err != nil {
		observability.RecordTuningRun("failed", 0)
		return nil, fmt.Errorf("phase 2 (sweep) failed: %w", err)
	}
	observability.RecordTuningRun("ok", len(run.Best))
	o.log("Tuning run %s: %d trials, %d rejected, %d ranked",
		run.TuningRunID, len(run.Trials), len(run.Rejected), len(run.Best))
	return run, nil
}

// VerifyCustomCode checks an external strategy body against the export
// contract and sizes its execution, without running anything.
func (o *Orchestrator) VerifyCustomCode(ctx context.Context, snap *worldstate.Snapshot, source string, exports map[string]int) (string, *preflight.Estimate, error) {
	if err := contract.ValidateExports(exports); err != nil {
		return "", nil, err
	}
	m := snap.Manifest
	startMs, endMs, err := dateRangeMs(m.StartDate, m.EndDate)
	if err != nil {
		return "", nil, err
	}
	est, err := o.estimator.EnforceCustomCodeBudget(ctx, m.Universe, startMs, endMs, 1.0, o.cfg.Budgets.MaxCustomCodeSeconds)
	observability.RecordBudgetCheck("custom_code", 0, err != nil)
	if err != nil {
		return "", nil, err
	}
	return idhash.ComputeSourceHash(source), est, nil
}

func (o *Orchestrator) enforceWorldStateBudget(ctx context.Context, req worldstate.Request) (*preflight.Estimate, error) {
	startMs, endMs, err := dateRangeMs(req.StartDate, req.EndDate)
	if err != nil {
		return nil, err
	}
	est, err := o.estimator.EnforceWorldStateBudget(ctx, req.Universe, startMs, endMs, o.cfg.Budgets.MaxWorldStateSeconds)
	observability.RecordBudgetCheck("world_state", estimateSeconds(est), err != nil)
	return est, err
}

func (o *Orchestrator) enforceBacktestBudget(ctx context.Context, snap *worldstate.Snapshot) (*preflight.Estimate, error) {
	m := snap.Manifest
	startMs, endMs, err := dateRangeMs(m.StartDate, m.EndDate)
	if err != nil {
		return nil, err
	}
	est, err := o.estimator.EnforceBacktestBudget(ctx, m.Universe, startMs, endMs, o.cfg.Budgets.MaxBacktestSeconds)
	observability.RecordBudgetCheck("backtest", estimateSeconds(est), err != nil)
	return est, err
}

func (o *Orchestrator) estimateSnapshotBacktest(ctx context.Context, snap *worldstate.Snapshot) (float64, int, error) {
	m := snap.Manifest
	startMs, endMs, err := dateRangeMs(m.StartDate, m.EndDate)
	if err != nil {
		return 0, 0, err
	}
	return o.estimator.EstimateBacktest(ctx, m.Universe, startMs, endMs)
}

func dateRangeMs(startDate, endDate string) (int64, int64, error) {
	start, err := domain.ParseDate(startDate)
	if err != nil {
		return 0, 0, fmt.Errorf("parse start date: %w", err)
	}
	end, err := domain.ParseDate(endDate)
	if err != nil {
		return 0, 0, fmt.Errorf("parse end date: %w", err)
	}
	return start.UnixMilli(), domain.DecisionTs(end), nil
}

func estimateSeconds(est *preflight.Estimate) float64 {
	if est == nil {
		return 0
	}
	return est.Seconds
}

func (o *Orchestrator) log(format string, args ...interface{}) {
	if o.verbose {
		o.logger.Printf(format, args...)
	}
}
