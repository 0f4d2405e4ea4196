package types

import "github.com/shopspring/decimal"

// BacktestMetrics is the fixed set of performance metrics computed by C4
// from a trade list and its equity curve.
type BacktestMetrics struct {
	TotalTrades   int
	SampleSize    int // trades surviving the min-trade filter; used for tie-breaks
	WinRate       decimal.Decimal
	NetProfitPct  decimal.Decimal
	Sharpe        decimal.Decimal
	Sortino       decimal.Decimal
	Calmar        decimal.Decimal
	MaxDrawdown   decimal.Decimal
	AvgWinPct     decimal.Decimal
	AvgLossPct    decimal.Decimal
	// ProfitFactor is gross profit / gross loss (sum of winning PnLPct over
	// sum of |losing PnLPct|). The viability gate's primary profitability
	// threshold; unlike WinRate it rewards reward:risk asymmetry, so a
	// 35%-win-rate system with 3:1 winners can still clear it.
	ProfitFactor decimal.Decimal
}

// Score returns the named objective metric as a float64, used by the
// optimizer to rank trials. Unknown objective names score NegativeSentinel
// so they never win a comparison.
func (m BacktestMetrics) Score(objective string) float64 {
	switch objective {
	case "sharpe":
		f, _ := m.Sharpe.Float64()
		return f
	case "sortino":
		f, _ := m.Sortino.Float64()
		return f
	case "calmar":
		f, _ := m.Calmar.Float64()
		return f
	case "net_profit_pct":
		f, _ := m.NetProfitPct.Float64()
		return f
	case "win_rate":
		f, _ := m.WinRate.Float64()
		return f
	case "profit_factor":
		f, _ := m.ProfitFactor.Float64()
		return f
	default:
		return NegativeSentinel
	}
}

// NegativeSentinel is the score assigned to trials that must never win a
// best-so-far comparison: zero-trade backtests and unrecognized objectives.
const NegativeSentinel = -1e18

// BacktestResult is the full output of one C4 run.
type BacktestResult struct {
	Trades      []Trade
	Metrics     BacktestMetrics
	EquityCurve []EquityCurvePoint
}

// ZeroTradeResult returns the well-formed, defined-default result required
// by C4's zero-trade safety invariant: no exception escapes, and the
// sentinel score guarantees optimizers discard it.
func ZeroTradeResult() BacktestResult {
	return BacktestResult{
		Trades: nil,
		Metrics: BacktestMetrics{
			TotalTrades:  0,
			SampleSize:   0,
			WinRate:      decimal.Zero,
			NetProfitPct: decimal.Zero,
			Sharpe:       decimal.NewFromFloat(NegativeSentinel),
			Sortino:      decimal.NewFromFloat(NegativeSentinel),
			Calmar:       decimal.Zero,
			MaxDrawdown:  decimal.Zero,
			AvgWinPct:    decimal.Zero,
			AvgLossPct:   decimal.Zero,
			ProfitFactor: decimal.Zero,
		},
		EquityCurve: nil,
	}
}

// MonteCarloResult is the bootstrap-resampling validation artifact produced
// when a job's run_validation flag is set (SPEC_FULL.md §12).
type MonteCarloResult struct {
	Iterations      int
	MedianReturnPct decimal.Decimal
	P5ReturnPct     decimal.Decimal
	P95ReturnPct    decimal.Decimal
	MedianMaxDD     decimal.Decimal
	ProbabilityRuin decimal.Decimal
}

// WalkForwardResult is the in-sample/out-of-sample degradation check
// produced when run_validation is set (SPEC_FULL.md §12).
type WalkForwardResult struct {
	Folds              int
	AvgInSampleScore   float64
	AvgOutSampleScore  float64
	Degradation        float64 // (IS - OOS) / |IS|
}
