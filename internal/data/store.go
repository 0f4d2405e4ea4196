package data

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/training-core/internal/indicators"
	"github.com/atlas-desktop/training-core/pkg/errs"
	"github.com/atlas-desktop/training-core/pkg/types"
)

// Store is C1's fetch path: the market_data relation behind a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps an already-connected pool. The pool is owned by the
// caller (worker main), not closed here.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Fetch reads the most recent lookbackCandles bars for (symbol, exchange,
// timeframe), applies C2 filtering, and enriches with ATR(14)/SMA(20).
// Fails with InsufficientData if the post-filter, post-enrichment length
// falls below max(lookbackCandles*0.5, minRequired).
func (s *Store) Fetch(ctx context.Context, symbol, exchange string, tf types.Timeframe, lookbackCandles int, filter types.FilterConfig, minRequired int) (types.BarSeries, types.FilterStats, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT timestamp, open, high, low, close, volume
		FROM market_data
		WHERE symbol = $1 AND exchange = $2 AND timeframe = $3
		ORDER BY timestamp DESC
		LIMIT $4`, symbol, exchange, string(tf), lookbackCandles)
	if err != nil {
		return types.BarSeries{}, types.FilterStats{}, &errs.SystemError{Component: "data.Store.Fetch", Cause: err}
	}
	defer rows.Close()

	var desc []types.Bar
	for rows.Next() {
		var ts int64
		var o, h, l, c, v decimal.Decimal
		if err := rows.Scan(&ts, &o, &h, &l, &c, &v); err != nil {
			return types.BarSeries{}, types.FilterStats{}, &errs.SystemError{Component: "data.Store.Fetch", Cause: err}
		}
		desc = append(desc, types.Bar{Timestamp: ts, Open: o, High: h, Low: l, Close: c, Volume: v})
	}
	if err := rows.Err(); err != nil {
		return types.BarSeries{}, types.FilterStats{}, &errs.SystemError{Component: "data.Store.Fetch", Cause: err}
	}

	bars := reverse(desc)

	cleaned, stats := Clean(bars, filter)
	enriched := indicators.Enrich(cleaned)

	want := lookbackCandles / 2
	if minRequired > want {
		want = minRequired
	}
	if len(enriched) < want {
		return types.BarSeries{}, stats, &errs.InsufficientDataError{
			Have: len(enriched), Want: want,
			Reason: fmt.Sprintf("post-filter/enrichment bar count for %s/%s/%s", symbol, exchange, tf),
		}
	}

	return types.BarSeries{Symbol: symbol, Exchange: exchange, Timeframe: tf, Bars: enriched}, stats, nil
}

func reverse(bars []types.Bar) []types.Bar {
	out := make([]types.Bar, len(bars))
	for i, b := range bars {
		out[len(bars)-1-i] = b
	}
	return out
}
