package types

// FilterConfig is C2's declarative bar-cleaning configuration (SPEC_FULL.md
// §4.2). The zero value disables filtering (EnableFiltering = false).
type FilterConfig struct {
	EnableFiltering                bool    `json:"enable_filtering"`
	MinVolumeThreshold             float64 `json:"min_volume_threshold"`
	MinPriceMovementPct            float64 `json:"min_price_movement_pct"`
	FilterFlatCandles              bool    `json:"filter_flat_candles"`
	PreserveHighVolumeSinglePrice  bool    `json:"preserve_high_volume_single_price"`
}

// DefaultFilterConfig returns filtering disabled (pass-through).
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{EnableFiltering: false}
}

// FilterReason names why a bar was dropped by the cleaner.
type FilterReason string

const (
	ReasonZeroVolume    FilterReason = "zero_volume"
	ReasonLowVolume     FilterReason = "low_volume"
	ReasonMicroMove     FilterReason = "micro_move"
	ReasonFlatCandle    FilterReason = "flat_candle"
)

// FilterStats is C2's output statistics record.
type FilterStats struct {
	OriginalCount   int
	FilteredCount   int
	RemovedByReason map[FilterReason]int
	QualityScore    float64 // 0..100
}
