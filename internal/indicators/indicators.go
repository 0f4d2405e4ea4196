// Package indicators computes the technical indicators the training core
// enriches bars with and the strategies consume: Wilder's ATR, a simple
// moving average, and RSI. Smoothing follows the same incremental,
// decimal-safe style as the donor strategy package's RSI implementation.
package indicators

import (
	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/training-core/pkg/types"
)

// TrueRange computes max(high-low, |high-prevClose|, |low-prevClose|).
func TrueRange(bar types.Bar, prevClose decimal.Decimal, hasPrev bool) decimal.Decimal {
	hl := bar.High.Sub(bar.Low)
	if !hasPrev {
		return hl
	}
	hc := bar.High.Sub(prevClose).Abs()
	lc := bar.Low.Sub(prevClose).Abs()
	tr := hl
	if hc.GreaterThan(tr) {
		tr = hc
	}
	if lc.GreaterThan(tr) {
		tr = lc
	}
	return tr
}

// EnrichATR14 computes Wilder's 14-period ATR for every bar in series and
// returns a new slice; bars before the 14th (where ATR is undefined) are
// left unenriched (HasATR() == false).
func EnrichATR14(bars []types.Bar) []types.Bar {
	const period = 14
	out := make([]types.Bar, len(bars))
	copy(out, bars)
	if len(out) < period {
		return out
	}

	var sumTR decimal.Decimal
	for i := 0; i < period; i++ {
		hasPrev := i > 0
		var prevClose decimal.Decimal
		if hasPrev {
			prevClose = out[i-1].Close
		}
		sumTR = sumTR.Add(TrueRange(out[i], prevClose, hasPrev))
	}
	atr := sumTR.Div(decimal.NewFromInt(period))
	out[period-1] = out[period-1].WithATR(atr)

	periodDec := decimal.NewFromInt(period)
	for i := period; i < len(out); i++ {
		tr := TrueRange(out[i], out[i-1].Close, true)
		atr = atr.Mul(periodDec.Sub(decimal.NewFromInt(1))).Add(tr).Div(periodDec)
		out[i] = out[i].WithATR(atr)
	}
	return out
}

// EnrichSMA20 computes a trailing 20-period simple moving average of
// Close for every bar in series; bars before the 20th are left
// unenriched.
func EnrichSMA20(bars []types.Bar) []types.Bar {
	const period = 20
	out := make([]types.Bar, len(bars))
	copy(out, bars)
	if len(out) < period {
		return out
	}

	var sum decimal.Decimal
	for i := 0; i < period; i++ {
		sum = sum.Add(out[i].Close)
	}
	periodDec := decimal.NewFromInt(period)
	out[period-1] = out[period-1].WithSMA(sum.Div(periodDec))

	for i := period; i < len(out); i++ {
		sum = sum.Add(out[i].Close).Sub(out[i-period].Close)
		out[i] = out[i].WithSMA(sum.Div(periodDec))
	}
	return out
}

// Enrich applies both ATR(14) and SMA(20) enrichment, then drops the
// leading bars where either indicator remains undefined, per C1's
// contract ("leading bars where the indicator is undefined are dropped").
func Enrich(bars []types.Bar) []types.Bar {
	out := EnrichSMA20(EnrichATR14(bars))
	firstValid := 0
	for i, b := range out {
		if b.HasATR() && b.HasSMA() {
			firstValid = i
			break
		}
		firstValid = i + 1
	}
	if firstValid >= len(out) {
		return nil
	}
	return out[firstValid:]
}

// TrailingMeanVolume returns the mean volume of the `window` bars
// preceding index i (exclusive of i itself). Used by the liquidity-sweep
// strategy's volume-confirmation check.
func TrailingMeanVolume(bars []types.Bar, i, window int) decimal.Decimal {
	start := i - window
	if start < 0 {
		start = 0
	}
	if start >= i {
		return decimal.Zero
	}
	var sum decimal.Decimal
	n := 0
	for j := start; j < i; j++ {
		sum = sum.Add(bars[j].Volume)
		n++
	}
	if n == 0 {
		return decimal.Zero
	}
	return sum.Div(decimal.NewFromInt(int64(n)))
}

// RSISeries computes Wilder-smoothed RSI(period) over closes, mirroring
// the donor's incremental smoothed-average technique. Entries before the
// period-th are zero.
func RSISeries(bars []types.Bar, period int) []decimal.Decimal {
	out := make([]decimal.Decimal, len(bars))
	if len(bars) < period+1 {
		return out
	}

	var avgGain, avgLoss decimal.Decimal
	var sumGain, sumLoss decimal.Decimal
	for i := 1; i <= period; i++ {
		change := bars[i].Close.Sub(bars[i-1].Close)
		if change.GreaterThan(decimal.Zero) {
			sumGain = sumGain.Add(change)
		} else {
			sumLoss = sumLoss.Add(change.Abs())
		}
	}
	periodDec := decimal.NewFromInt(int64(period))
	avgGain = sumGain.Div(periodDec)
	avgLoss = sumLoss.Div(periodDec)
	out[period] = rsiFromAvg(avgGain, avgLoss)

	for i := period + 1; i < len(bars); i++ {
		change := bars[i].Close.Sub(bars[i-1].Close)
		var gain, loss decimal.Decimal
		if change.GreaterThan(decimal.Zero) {
			gain = change
		} else {
			loss = change.Abs()
		}
		avgGain = avgGain.Mul(periodDec.Sub(decimal.NewFromInt(1))).Add(gain).Div(periodDec)
		avgLoss = avgLoss.Mul(periodDec.Sub(decimal.NewFromInt(1))).Add(loss).Div(periodDec)
		out[i] = rsiFromAvg(avgGain, avgLoss)
	}
	return out
}

func rsiFromAvg(avgGain, avgLoss decimal.Decimal) decimal.Decimal {
	if avgLoss.IsZero() {
		return decimal.NewFromInt(100)
	}
	rs := avgGain.Div(avgLoss)
	return decimal.NewFromInt(100).Sub(decimal.NewFromInt(100).Div(decimal.NewFromInt(1).Add(rs)))
}
