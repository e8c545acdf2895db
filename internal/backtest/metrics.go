package backtest

import (
	"errors"
	"math"

	"market-pit-lab/internal/domain"
)

// tradingDaysPerYear is the annualization base for CAGR and Sharpe.
const tradingDaysPerYear = 252.0

// Metric errors.
var (
	ErrTooFewPoints      = errors.New("need at least 2 equity points to compute metrics")
	ErrNonPositiveEquity = errors.New("equity became non-positive; metrics invalid")
)

// ComputeMetrics derives run metrics from a daily equity series.
// Sharpe uses population standard deviation of daily returns and is 0 when
// the returns are flat. Turnover is traded notional over average equity.
func ComputeMetrics(equity []float64, tradeCount int, tradedNotional float64) (domain.BacktestMetrics, error) {
	if len(equity) < 2 {
		return domain.BacktestMetrics{}, ErrTooFewPoints
	}

	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] <= 0 {
			return domain.BacktestMetrics{}, ErrNonPositiveEquity
		}
		returns = append(returns, (equity[i]-equity[i-1])/equity[i-1])
	}

	initial := equity[0]
	final := equity[len(equity)-1]
	totalReturn := final/initial - 1.0

	years := float64(len(equity)-1) / tradingDaysPerYear
	if years < 1.0/tradingDaysPerYear {
		years = 1.0 / tradingDaysPerYear
	}
	cagr := math.Pow(final/initial, 1.0/years) - 1.0

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))
	stdDev := math.Sqrt(variance)
	sharpe := 0.0
	if stdDev != 0 {
		sharpe = mean / stdDev * math.Sqrt(tradingDaysPerYear)
	}

	peak := equity[0]
	maxDrawdown := 0.0
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if dd := v/peak - 1.0; dd < maxDrawdown {
			maxDrawdown = dd
		}
	}

	avgEquity := 0.0
	for _, v := range equity {
		avgEquity += v
	}
	avgEquity /= float64(len(equity))
	turnover := 0.0
	if avgEquity > 0 {
		turnover = tradedNotional / avgEquity
	}

	return domain.BacktestMetrics{
		FinalEquity: final,
		TotalReturn: totalReturn,
		CAGR:        cagr,
		Sharpe:      sharpe,
		MaxDrawdown: maxDrawdown,
		Turnover:    turnover,
		TradeCount:  tradeCount,
	}, nil
}
