package tuning

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"market-pit-lab/internal/backtest"
	"market-pit-lab/internal/contract"
	"market-pit-lab/internal/domain"
	"market-pit-lab/internal/manifest"
	"market-pit-lab/internal/storage"
	"market-pit-lab/internal/worldstate"
)

// Candidate rejection reasons.
const (
	RejectInvalidWindows    = "invalid_windows_short_must_be_less_than_long"
	RejectMaxPositionsLow   = "max_positions_below_universe_size"
	RejectBacktestFailed    = "backtest_failed"
	RejectDrawdownExceeded  = "max_drawdown_limit_exceeded"
	RejectTurnoverCapBroken = "turnover_cap_exceeded"
)

// topCandidateCount bounds the ranked shortlist in the report.
const topCandidateCount = 5

// Run errors.
var (
	ErrInvalidMaxTrials = errors.New("max trials must be positive")
	ErrNoValidTrials    = errors.New("tuning produced zero valid candidates under active constraints; relax constraints or expand the search space")
)

// Constraints filter completed trials out of the ranking. Zero values mean
// unconstrained.
type Constraints struct {
	MaxDrawdownLimit float64 // rejects |max drawdown| above this
	TurnoverCap      int     // rejects trade counts above this
}

// Request describes one tuning sweep.
type Request struct {
	Snapshot     *worldstate.Snapshot
	BaseConfig   domain.StrategyConfig
	Plan         *domain.TuningPlan
	Target       string
	Constraints  Constraints
	MaxTrials    int
	Parallelism  int // concurrent trials, <= 0 means sequential
	StrategyName string
	Seed         int64
}

// Runner sweeps a search space with isolated backtest trials. Trials share
// only the read-only snapshot; one candidate's failure is recorded and never
// aborts its siblings.
type Runner struct {
	engine   *backtest.Engine
	recorder *manifest.Recorder
	store    storage.TuningRunStore
	log      *log.Logger
}

// NewRunner creates a tuning runner.
func NewRunner(engine *backtest.Engine, recorder *manifest.Recorder, store storage.TuningRunStore, logger *log.Logger) *Runner {
	return &Runner{engine: engine, recorder: recorder, store: store, log: logger}
}

// candidate is one parameter combination in enumeration order.
type candidate struct {
	index  int
	params map[string]float64
}

// trialOutcome is either a scored trial or a rejection.
type trialOutcome struct {
	trial    *domain.TrialResult
	score    float64
	rejected *domain.RejectedCandidate
}

// Run executes the sweep and persists the resulting TuningRun.
func (r *Runner) Run(ctx context.Context, req Request) (*domain.TuningRun, error) {
	if req.MaxTrials <= 0 {
		return nil, ErrInvalidMaxTrials
	}
	if req.Plan == nil {
		return nil, errors.New("tuning request carries no plan")
	}
	if _, err := Score(domain.BacktestMetrics{}, req.Target); err != nil {
		return nil, err
	}

	candidates := enumerate(req.Plan.Space)
	if len(candidates) > req.MaxTrials {
		candidates = candidates[:req.MaxTrials]
	}
	universeSize := len(req.Snapshot.Manifest.Universe)

	outcomes := make([]trialOutcome, len(candidates))
	group, gctx := errgroup.WithContext(ctx)
	if req.Parallelism > 0 {
		group.SetLimit(req.Parallelism)
	} else {
		group.SetLimit(1)
	}

	for _, cand := range candidates {
		group.Go(func() error {
			outcomes[cand.index] = r.runTrial(gctx, req, cand, universeSize)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("tuning cancelled: %w", err)
	}

	var trials []domain.TrialResult
	var scores []float64
	var rejected []domain.RejectedCandidate
	for _, out := range outcomes {
		if out.rejected != nil {
			rejected = append(rejected, *out.rejected)
			continue
		}
		trials = append(trials, *out.trial)
		scores = append(scores, out.score)
	}
	if len(trials) == 0 {
		return nil, ErrNoValidTrials
	}

	ranking := rankByScore(trials, scores)
	top := ranking
	if len(top) > topCandidateCount {
		top = top[:topCandidateCount]
	}
	best := ranking[0]

	run := &domain.TuningRun{
		TuningRunID: ulid.Make().String(),
		ManifestID:  req.Snapshot.Manifest.ManifestID,
		Plan:        *req.Plan,
		Trials:      trials,
		Rejected:    rejected,
		Best:        top,
		Sensitivity: sensitivity(trials, scores, best, req.Target),
		CreatedAtMs: time.Now().UnixMilli(),
	}
	if err := r.store.Insert(ctx, run); err != nil {
		return nil, fmt.Errorf("persist tuning run: %w", err)
	}

	r.log.Printf("tuning run %s: attempted=%d completed=%d rejected=%d best_run=%s",
		run.TuningRunID, len(candidates), len(trials), len(rejected), best.RunID)
	return run, nil
}

// runTrial executes one candidate in isolation. Every failure path returns a
// rejection; nothing escapes to the sweep.
func (r *Runner) runTrial(ctx context.Context, req Request, cand candidate, universeSize int) trialOutcome {
	short := int(cand.params[ParamShortWindow])
	long := int(cand.params[ParamLongWindow])
	maxPositions := int(cand.params[ParamMaxPositions])

	if short >= long {
		return reject(cand, RejectInvalidWindows)
	}
	if universeSize > maxPositions {
		return reject(cand, RejectMaxPositionsLow)
	}

	cfg := req.BaseConfig
	cfg.ShortWindow = short
	cfg.LongWindow = long
	cfg.MaxPositions = maxPositions
	cfg.CostBps = cand.params[ParamCostBps]

	res, err := r.engine.Run(ctx, req.Snapshot, contract.NewSMACrossover(), cfg)
	if err != nil {
		return reject(cand, fmt.Sprintf("%s:%v", RejectBacktestFailed, err))
	}

	m := res.Metrics
	if req.Constraints.MaxDrawdownLimit > 0 && -m.MaxDrawdown > req.Constraints.MaxDrawdownLimit {
		return reject(cand, fmt.Sprintf("%s:%.6f>%.6f", RejectDrawdownExceeded, m.MaxDrawdown, req.Constraints.MaxDrawdownLimit))
	}
	if req.Constraints.TurnoverCap > 0 && m.TradeCount > req.Constraints.TurnoverCap {
		return reject(cand, fmt.Sprintf("%s:%d>%d", RejectTurnoverCapBroken, m.TradeCount, req.Constraints.TurnoverCap))
	}

	sv, err := r.recorder.RegisterStrategy(ctx, req.StrategyName, domain.StrategyKindBuiltin, "", cfg)
	if err != nil {
		return reject(cand, fmt.Sprintf("%s:%v", RejectBacktestFailed, err))
	}
	recorded, err := r.recorder.Record(ctx, req.Snapshot.Manifest.ManifestID, sv.VersionID, req.Seed, m)
	if err != nil {
		return reject(cand, fmt.Sprintf("%s:%v", RejectBacktestFailed, err))
	}

	score, err := Score(m, req.Target)
	if err != nil {
		return reject(cand, fmt.Sprintf("%s:%v", RejectBacktestFailed, err))
	}
	return trialOutcome{
		trial: &domain.TrialResult{
			TrialID: fmt.Sprintf("trial-%d", cand.index+1),
			Params:  cand.params,
			RunID:   recorded.RunID,
			Metrics: m,
		},
		score: score,
	}
}

func reject(cand candidate, reason string) trialOutcome {
	return trialOutcome{rejected: &domain.RejectedCandidate{Params: cand.params, Reason: reason}}
}

// enumerate expands the space into candidates in fixed parameter order, so
// the sweep is deterministic regardless of parallelism.
func enumerate(space domain.SearchSpace) []candidate {
	var out []candidate
	idx := 0
	for _, short := range space[ParamShortWindow] {
		for _, long := range space[ParamLongWindow] {
			for _, maxPos := range space[ParamMaxPositions] {
				for _, cost := range space[ParamCostBps] {
					out = append(out, candidate{
						index: idx,
						params: map[string]float64{
							ParamShortWindow:  short,
							ParamLongWindow:   long,
							ParamMaxPositions: maxPos,
							ParamCostBps:      cost,
						},
					})
					idx++
				}
			}
		}
	}
	return out
}

// rankByScore orders trials best first; ties keep enumeration order.
func rankByScore(trials []domain.TrialResult, scores []float64) []domain.TrialResult {
	order := make([]int, len(trials))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})
	ranked := make([]domain.TrialResult, len(trials))
	for i, idx := range order {
		ranked[i] = trials[idx]
	}
	return ranked
}

// sensitivity reports, per parameter, how the objective moves when that one
// parameter varies while all others stay at the best trial's values.
func sensitivity(trials []domain.TrialResult, scores []float64, best domain.TrialResult, target string) []domain.SensitivityEntry {
	out := make([]domain.SensitivityEntry, 0, len(TunableParams))
	for _, param := range TunableParams {
		var values, objectives []float64
		for i, trial := range trials {
			if !sameContext(trial.Params, best.Params, param) {
				continue
			}
			values = append(values, trial.Params[param])
			objectives = append(objectives, scores[i])
		}
		if len(values) < 2 {
			out = append(out, domain.SensitivityEntry{
				Param:  param,
				Status: domain.SensitivityInsufficientSamples,
			})
			continue
		}
		sortPaired(values, objectives)
		minObj, maxObj := objectives[0], objectives[0]
		for _, o := range objectives[1:] {
			if o < minObj {
				minObj = o
			}
			if o > maxObj {
				maxObj = o
			}
		}
		out = append(out, domain.SensitivityEntry{
			Param:     param,
			Status:    domain.SensitivityOK,
			Values:    values,
			Objective: objectives,
			Spread:    maxObj - minObj,
		})
	}
	return out
}

// sameContext reports whether the trial matches the baseline on every
// parameter except the varied one.
func sameContext(params, baseline map[string]float64, varied string) bool {
	for _, param := range TunableParams {
		if param == varied {
			continue
		}
		if params[param] != baseline[param] {
			return false
		}
	}
	return true
}

func sortPaired(values, objectives []float64) {
	order := make([]int, len(values))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return values[order[a]] < values[order[b]] })
	v2 := make([]float64, len(values))
	o2 := make([]float64, len(objectives))
	for i, idx := range order {
		v2[i] = values[idx]
		o2[i] = objectives[idx]
	}
	copy(values, v2)
	copy(objectives, o2)
}
