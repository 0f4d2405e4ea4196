package backtester

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/training-core/pkg/types"
)

// ComputeMetrics derives C4's performance metrics from a completed trade
// list and its equity curve, mirroring the donor calculator's statistics
// but annualizing by the series' own bars-per-year instead of a fixed
// 252-day assumption, since trades can close on any supported timeframe.
func ComputeMetrics(trades []types.Trade, equity []types.EquityCurvePoint, bars []types.Bar, minTradesForScore int) types.BacktestMetrics {
	if len(trades) == 0 {
		return types.ZeroTradeResult().Metrics
	}

	var wins, losses int
	var sumWin, sumLoss decimal.Decimal
	returns := make([]float64, len(trades))
	for i, t := range trades {
		f, _ := t.PnLPct.Float64()
		returns[i] = f
		if t.PnLPct.GreaterThan(decimal.Zero) {
			wins++
			sumWin = sumWin.Add(t.PnLPct)
		} else if t.PnLPct.LessThan(decimal.Zero) {
			losses++
			sumLoss = sumLoss.Add(t.PnLPct.Abs())
		}
	}

	total := len(trades)
	winRate := decimal.NewFromInt(int64(wins)).Div(decimal.NewFromInt(int64(total)))

	var avgWin, avgLoss decimal.Decimal
	if wins > 0 {
		avgWin = sumWin.Div(decimal.NewFromInt(int64(wins)))
	}
	if losses > 0 {
		avgLoss = sumLoss.Div(decimal.NewFromInt(int64(losses)))
	}

	netProfit := decimal.NewFromInt(1)
	for _, t := range trades {
		netProfit = netProfit.Mul(decimal.NewFromInt(1).Add(t.PnLPct))
	}
	netProfitPct := netProfit.Sub(decimal.NewFromInt(1))

	annualization := annualizationFactor(bars)

	avgReturn := mean(returns)
	stdev := stdDev(returns)
	sharpe := decimal.Zero
	if stdev > 0 {
		sharpe = decimal.NewFromFloat(avgReturn / stdev * math.Sqrt(annualization))
	}

	downside := downsideDeviation(returns)
	sortino := decimal.Zero
	if downside > 0 {
		sortino = decimal.NewFromFloat(avgReturn / downside * math.Sqrt(annualization))
	}

	maxDD := maxDrawdown(equity)

	annualizedReturn := decimal.NewFromFloat(avgReturn * annualization)
	calmar := decimal.Zero
	if !maxDD.IsZero() {
		calmar = annualizedReturn.Div(maxDD)
	}

	sampleSize := total
	if total < minTradesForScore {
		sampleSize = 0
		sharpe = decimal.NewFromFloat(types.NegativeSentinel)
		sortino = decimal.NewFromFloat(types.NegativeSentinel)
	}

	// Gross profit / gross loss. A loss-free run (sumLoss == 0) is treated
	// as maximally viable rather than divided by zero.
	var profitFactor decimal.Decimal
	switch {
	case sumLoss.IsZero() && sumWin.GreaterThan(decimal.Zero):
		profitFactor = decimal.NewFromInt(1000)
	case sumLoss.GreaterThan(decimal.Zero):
		profitFactor = sumWin.Div(sumLoss)
	default:
		profitFactor = decimal.Zero
	}

	return types.BacktestMetrics{
		TotalTrades:  total,
		SampleSize:   sampleSize,
		WinRate:      winRate,
		NetProfitPct: netProfitPct,
		Sharpe:       sharpe,
		Sortino:      sortino,
		Calmar:       calmar,
		MaxDrawdown:  maxDD,
		AvgWinPct:    avgWin,
		AvgLossPct:   avgLoss,
		ProfitFactor: profitFactor,
	}
}

// annualizationFactor uses the series' own timeframe to match sharpe's
// annualization to bars-per-year, rather than assuming daily bars.
func annualizationFactor(bars []types.Bar) float64 {
	if len(bars) < 2 {
		return 252
	}
	secs := bars[1].Timestamp - bars[0].Timestamp
	if secs <= 0 {
		return 252
	}
	return float64(365*24*60*60) / float64(secs)
}

func maxDrawdown(equity []types.EquityCurvePoint) decimal.Decimal {
	if len(equity) == 0 {
		return decimal.Zero
	}
	var maxDD decimal.Decimal
	peak := equity[0].Equity
	for _, p := range equity {
		if p.Equity.GreaterThan(peak) {
			peak = p.Equity
		}
		if !peak.IsZero() {
			dd := peak.Sub(p.Equity).Div(peak)
			if dd.GreaterThan(maxDD) {
				maxDD = dd
			}
		}
	}
	return maxDD
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	var sumSquares float64
	for _, v := range values {
		diff := v - m
		sumSquares += diff * diff
	}
	return math.Sqrt(sumSquares / float64(len(values)-1))
}

func downsideDeviation(returns []float64) float64 {
	var negative []float64
	for _, r := range returns {
		if r < 0 {
			negative = append(negative, r)
		}
	}
	if len(negative) == 0 {
		return 0
	}
	return stdDev(negative)
}
