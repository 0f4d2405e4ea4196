// Viability gating supplements the core backtest with a pass/fail quality
// check over a trained configuration's metrics, in the donor viability
// checker's threshold-comparison style, trimmed to the metrics C4 actually
// produces.
package backtester

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/training-core/pkg/types"
)

// ViabilityThresholds are the minimum metric requirements a trained
// configuration must clear to be marked viable.
type ViabilityThresholds struct {
	MinSharpeRatio  decimal.Decimal
	MaxDrawdown     decimal.Decimal
	MinProfitFactor decimal.Decimal
	MinTrades       int
}

// DefaultViabilityThresholds returns conservative defaults grounded on the
// same Sharpe/drawdown/profit-factor bands the donor used for live-readiness.
func DefaultViabilityThresholds() ViabilityThresholds {
	return ViabilityThresholds{
		MinSharpeRatio:  decimal.NewFromFloat(0.5),
		MaxDrawdown:     decimal.NewFromFloat(0.20),
		MinProfitFactor: decimal.NewFromFloat(1.5),
		MinTrades:       30,
	}
}

// ViabilityReport is the outcome of gating one trained configuration.
type ViabilityReport struct {
	IsViable bool
	Issues   []string
}

// CheckViability compares metrics against thresholds, returning every
// unmet requirement; IsViable is true only when none are unmet.
func CheckViability(metrics types.BacktestMetrics, thresholds ViabilityThresholds) ViabilityReport {
	var issues []string

	if metrics.Sharpe.LessThan(thresholds.MinSharpeRatio) {
		issues = append(issues, fmt.Sprintf("sharpe %s below minimum %s", metrics.Sharpe.String(), thresholds.MinSharpeRatio.String()))
	}
	if metrics.MaxDrawdown.GreaterThan(thresholds.MaxDrawdown) {
		issues = append(issues, fmt.Sprintf("max drawdown %s exceeds maximum %s", metrics.MaxDrawdown.String(), thresholds.MaxDrawdown.String()))
	}
	if metrics.ProfitFactor.LessThan(thresholds.MinProfitFactor) {
		issues = append(issues, fmt.Sprintf("profit factor %s below minimum %s", metrics.ProfitFactor.String(), thresholds.MinProfitFactor.String()))
	}
	if metrics.TotalTrades < thresholds.MinTrades {
		issues = append(issues, fmt.Sprintf("trade count %d below minimum %d", metrics.TotalTrades, thresholds.MinTrades))
	}

	return ViabilityReport{IsViable: len(issues) == 0, Issues: issues}
}
