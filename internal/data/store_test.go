package data_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/training-core/internal/data"
	"github.com/atlas-desktop/training-core/pkg/types"
)

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func flatBar(ts int64, price, volume float64) types.Bar {
	return types.Bar{Timestamp: ts, Open: dec(price), High: dec(price), Low: dec(price), Close: dec(price), Volume: dec(volume)}
}

func TestCleanPassThroughWhenDisabled(t *testing.T) {
	bars := []types.Bar{flatBar(1, 100, 0)}
	out, stats := data.Clean(bars, types.DefaultFilterConfig())
	if len(out) != 1 {
		t.Fatalf("expected pass-through, got %d bars", len(out))
	}
	if stats.QualityScore != 100 {
		t.Fatalf("expected quality 100, got %v", stats.QualityScore)
	}
}

func TestCleanDropsLowVolume(t *testing.T) {
	cfg := types.FilterConfig{EnableFiltering: true, MinVolumeThreshold: 10}
	bars := []types.Bar{
		{Timestamp: 1, Open: dec(100), High: dec(101), Low: dec(99), Close: dec(100), Volume: dec(5)},
		{Timestamp: 2, Open: dec(100), High: dec(101), Low: dec(99), Close: dec(100), Volume: dec(20)},
	}
	out, stats := data.Clean(bars, cfg)
	if len(out) != 1 {
		t.Fatalf("expected 1 surviving bar, got %d", len(out))
	}
	if stats.RemovedByReason[types.ReasonLowVolume] != 1 {
		t.Fatalf("expected 1 low_volume removal, got %d", stats.RemovedByReason[types.ReasonLowVolume])
	}
	if stats.OriginalCount != 2 || stats.FilteredCount != 1 {
		t.Fatalf("count invariant broken: %+v", stats)
	}
}

func TestCleanFlatCandleException(t *testing.T) {
	cfg := types.FilterConfig{EnableFiltering: true, FilterFlatCandles: true, PreserveHighVolumeSinglePrice: true}
	bars := []types.Bar{
		flatBar(1, 100, 0.1), // dropped: flat, low volume
		flatBar(2, 100, 5.0), // preserved: flat but high volume
	}
	out, stats := data.Clean(bars, cfg)
	if len(out) != 1 || !out[0].Volume.Equal(dec(5.0)) {
		t.Fatalf("expected only the high-volume flat bar to survive, got %+v", out)
	}
	if stats.RemovedByReason[types.ReasonFlatCandle] != 1 {
		t.Fatalf("expected 1 flat_candle removal, got %+v", stats.RemovedByReason)
	}
}

func TestCleanMicroMove(t *testing.T) {
	cfg := types.FilterConfig{EnableFiltering: true, MinPriceMovementPct: 0.01}
	bars := []types.Bar{
		{Timestamp: 1, Open: dec(100), High: dec(100.05), Low: dec(99.98), Close: dec(100), Volume: dec(10)},
		{Timestamp: 2, Open: dec(100), High: dec(105), Low: dec(95), Close: dec(100), Volume: dec(10)},
	}
	out, stats := data.Clean(bars, cfg)
	if len(out) != 1 {
		t.Fatalf("expected 1 surviving bar, got %d", len(out))
	}
	if stats.RemovedByReason[types.ReasonMicroMove] != 1 {
		t.Fatalf("expected 1 micro_move removal, got %+v", stats.RemovedByReason)
	}
}

func TestCleanNeverReordersOrImputes(t *testing.T) {
	cfg := types.FilterConfig{EnableFiltering: true, MinVolumeThreshold: 1}
	bars := []types.Bar{
		flatBar(1, 100, 10),
		flatBar(2, 100, 0),
		flatBar(3, 100, 10),
	}
	out, _ := data.Clean(bars, cfg)
	if len(out) != 2 || out[0].Timestamp != 1 || out[1].Timestamp != 3 {
		t.Fatalf("expected order-preserving drop of ts=2, got %+v", out)
	}
}
