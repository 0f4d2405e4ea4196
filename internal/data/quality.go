// Package data implements C1 (fetch) and C2 (clean): reading bar series
// from the market_data relation and filtering them down per a declarative
// FilterConfig, in the donor quality package's validate-then-report style.
package data

import (
	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/training-core/pkg/types"
)

// Clean applies FilterConfig to bars, dropping rows that fail any enabled
// rule. It never reorders or imputes — only drops — and returns the
// filtered series alongside a statistics record.
func Clean(bars []types.Bar, cfg types.FilterConfig) ([]types.Bar, types.FilterStats) {
	stats := types.FilterStats{
		OriginalCount:   len(bars),
		RemovedByReason: map[types.FilterReason]int{},
	}

	if !cfg.EnableFiltering {
		stats.FilteredCount = len(bars)
		stats.QualityScore = 100
		return bars, stats
	}

	minVol := decimal.NewFromFloat(cfg.MinVolumeThreshold)
	minMove := decimal.NewFromFloat(cfg.MinPriceMovementPct)

	out := make([]types.Bar, 0, len(bars))
	for _, b := range bars {
		if reason, drop := dropReason(b, cfg, minVol, minMove); drop {
			stats.RemovedByReason[reason]++
			continue
		}
		out = append(out, b)
	}

	stats.FilteredCount = len(out)
	stats.QualityScore = qualityScore(stats)
	return out, stats
}

// dropReason evaluates the filter rules in priority order: zero/low
// volume, then flat candle (unless the high-volume-single-price
// exception applies), then micro price movement.
func dropReason(b types.Bar, cfg types.FilterConfig, minVol, minMove decimal.Decimal) (types.FilterReason, bool) {
	if cfg.MinVolumeThreshold > 0 && b.Volume.LessThan(minVol) {
		if b.Volume.IsZero() {
			return types.ReasonZeroVolume, true
		}
		return types.ReasonLowVolume, true
	}

	isFlat := b.Open.Equal(b.High) && b.High.Equal(b.Low) && b.Low.Equal(b.Close)
	if cfg.FilterFlatCandles && isFlat {
		highVolumeException := cfg.PreserveHighVolumeSinglePrice && b.Volume.GreaterThan(decimal.NewFromInt(1))
		if !highVolumeException {
			return types.ReasonFlatCandle, true
		}
	}

	if cfg.MinPriceMovementPct > 0 && !b.Close.IsZero() {
		move := b.High.Sub(b.Low).Div(b.Close)
		if move.LessThan(minMove) {
			return types.ReasonMicroMove, true
		}
	}

	return "", false
}

// qualityScore summarizes the clean as a 0..100 fraction retained.
func qualityScore(s types.FilterStats) float64 {
	if s.OriginalCount == 0 {
		return 100
	}
	return 100 * float64(s.FilteredCount) / float64(s.OriginalCount)
}
