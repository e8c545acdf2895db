// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// World-state metrics
	WorldStatesBuilt     *prometheus.CounterVec
	WorldStateBuildTime  *prometheus.HistogramVec
	WorldStateRows       prometheus.Histogram
	CompletenessFailures prometheus.Counter
	SkipEntriesRecorded  prometheus.Counter

	// Leak-check metrics
	LeakChecksRun   *prometheus.CounterVec
	LeakViolations  prometheus.Counter
	LeakCheckTime   prometheus.Histogram
	FramesValidated prometheus.Counter

	// Backtest metrics
	BacktestRunsTotal *prometheus.CounterVec
	BacktestDuration  prometheus.Histogram
	TradesExecuted    prometheus.Counter
	SignalsEmitted    *prometheus.CounterVec
	ReplayMismatches  prometheus.Counter

	// Tuning metrics
	TuningRunsTotal  *prometheus.CounterVec
	TrialsEvaluated  *prometheus.CounterVec
	TrialDuration    prometheus.Histogram
	CandidatesRanked prometheus.Gauge

	// Preflight metrics
	BudgetChecks     *prometheus.CounterVec
	EstimatedCost    *prometheus.HistogramVec
	BudgetRejections *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
	DBConnections   *prometheus.GaugeVec

	// Health metrics
	LastSuccessfulBuild    prometheus.Gauge
	LastSuccessfulBacktest prometheus.Gauge
	UptimeSeconds          prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "market_pit_lab"
	}

	return &Metrics{
		// World-state metrics
		WorldStatesBuilt: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worldstate",
			Name:      "builds_total",
			Help:      "Total number of world-state builds by status",
		}, []string{"status"}),
		WorldStateBuildTime: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worldstate",
			Name:      "build_duration_seconds",
			Help:      "World-state assembly duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"policy"}),
		WorldStateRows: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worldstate",
			Name:      "rows_per_build",
			Help:      "Number of rows assembled per world-state build",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
		}),
		CompletenessFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worldstate",
			Name:      "completeness_failures_total",
			Help:      "Total number of builds aborted by completeness checks",
		}),
		SkipEntriesRecorded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worldstate",
			Name:      "skip_entries_total",
			Help:      "Total number of skip entries recorded in manifests",
		}),

		// Leak-check metrics
		LeakChecksRun: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "leakcheck",
			Name:      "runs_total",
			Help:      "Total number of leak checks by mode and result",
		}, []string{"mode", "result"}),
		LeakViolations: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "leakcheck",
			Name:      "violations_total",
			Help:      "Total number of point-in-time violations detected",
		}),
		LeakCheckTime: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "leakcheck",
			Name:      "duration_seconds",
			Help:      "Leak-check duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		FramesValidated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "leakcheck",
			Name:      "frames_validated_total",
			Help:      "Total number of day frames validated",
		}),

		// Backtest metrics
		BacktestRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "runs_total",
			Help:      "Total number of backtest runs by final state",
		}, []string{"state"}),
		BacktestDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "duration_seconds",
			Help:      "Backtest run duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		TradesExecuted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "trades_total",
			Help:      "Total number of fills executed across runs",
		}),
		SignalsEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "signals_total",
			Help:      "Total number of strategy signals by side",
		}, []string{"side"}),
		ReplayMismatches: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "replay_mismatches_total",
			Help:      "Total number of replays whose metrics diverged from the recorded run",
		}),

		// Tuning metrics
		TuningRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tuning",
			Name:      "runs_total",
			Help:      "Total number of tuning runs by status",
		}, []string{"status"}),
		TrialsEvaluated: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tuning",
			Name:      "trials_total",
			Help:      "Total number of trials by outcome",
		}, []string{"outcome"}),
		TrialDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tuning",
			Name:      "trial_duration_seconds",
			Help:      "Single trial duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		CandidatesRanked: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tuning",
			Name:      "candidates_ranked",
			Help:      "Number of ranked candidates in the most recent tuning run",
		}),

		// Preflight metrics
		BudgetChecks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "preflight",
			Name:      "checks_total",
			Help:      "Total number of budget checks by operation",
		}, []string{"operation"}),
		EstimatedCost: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "preflight",
			Name:      "estimated_cost_units",
			Help:      "Estimated cost units per budget check",
			Buckets:   prometheus.ExponentialBuckets(0.1, 10, 6),
		}, []string{"operation"}),
		BudgetRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "preflight",
			Name:      "rejections_total",
			Help:      "Total number of operations rejected by budget checks",
		}, []string{"operation"}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),
		DBConnections: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "connections",
			Help:      "Number of database connections by state",
		}, []string{"database", "state"}),

		// Health metrics
		LastSuccessfulBuild: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_build_timestamp",
			Help:      "Unix timestamp of last successful world-state build",
		}),
		LastSuccessfulBacktest: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_backtest_timestamp",
			Help:      "Unix timestamp of last finalized backtest run",
		}),
		UptimeSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "uptime_seconds_total",
			Help:      "Total uptime in seconds",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordBuild records a world-state build by status.
func RecordBuild(status, policy string, rows int, seconds float64) {
	DefaultMetrics.WorldStatesBuilt.WithLabelValues(status).Inc()
	DefaultMetrics.WorldStateBuildTime.WithLabelValues(policy).Observe(seconds)
	DefaultMetrics.WorldStateRows.Observe(float64(rows))
}

// RecordCompletenessFailure records a build aborted by its completeness check.
func RecordCompletenessFailure() {
	DefaultMetrics.CompletenessFailures.Inc()
}

// RecordSkipEntries adds recorded skip entries to the running total.
func RecordSkipEntries(n int) {
	DefaultMetrics.SkipEntriesRecorded.Add(float64(n))
}

// RecordLeakCheck records a leak-check outcome.
func RecordLeakCheck(mode, result string, frames, violations int, seconds float64) {
	DefaultMetrics.LeakChecksRun.WithLabelValues(mode, result).Inc()
	DefaultMetrics.FramesValidated.Add(float64(frames))
	DefaultMetrics.LeakViolations.Add(float64(violations))
	DefaultMetrics.LeakCheckTime.Observe(seconds)
}

// RecordBacktest records a finished backtest run.
func RecordBacktest(state string, trades int, seconds float64) {
	DefaultMetrics.BacktestRunsTotal.WithLabelValues(state).Inc()
	DefaultMetrics.TradesExecuted.Add(float64(trades))
	DefaultMetrics.BacktestDuration.Observe(seconds)
}

// RecordSignal increments the signal counter for a side.
func RecordSignal(side string) {
	DefaultMetrics.SignalsEmitted.WithLabelValues(side).Inc()
}

// RecordReplayMismatch records a divergent replay.
func RecordReplayMismatch() {
	DefaultMetrics.ReplayMismatches.Inc()
}

// RecordTrial records a single tuning trial outcome.
func RecordTrial(outcome string, seconds float64) {
	DefaultMetrics.TrialsEvaluated.WithLabelValues(outcome).Inc()
	DefaultMetrics.TrialDuration.Observe(seconds)
}

// RecordTuningRun records a completed tuning run.
func RecordTuningRun(status string, ranked int) {
	DefaultMetrics.TuningRunsTotal.WithLabelValues(status).Inc()
	DefaultMetrics.CandidatesRanked.Set(float64(ranked))
}

// RecordBudgetCheck records a preflight budget check.
func RecordBudgetCheck(operation string, estimated float64, rejected bool) {
	DefaultMetrics.BudgetChecks.WithLabelValues(operation).Inc()
	DefaultMetrics.EstimatedCost.WithLabelValues(operation).Observe(estimated)
	if rejected {
		DefaultMetrics.BudgetRejections.WithLabelValues(operation).Inc()
	}
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
