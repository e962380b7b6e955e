// Package optimization fans the simulator out over a parameter grid on a
// bounded worker pool and aggregates compact summary rows per combination.
package optimization

import (
	"github.com/marketgrid/signalbench/internal/domain"
)

// Combination is one cell of the parameter grid. A nil TakeProfitPct means
// no profit target for that cell.
type Combination struct {
	HoldingPeriodDays int      `json:"holding_period_days"`
	StopLossPct       float64  `json:"stop_loss_pct"`
	TakeProfitPct     *float64 `json:"take_profit_pct"`
}

// ExitRules maps the combination onto simulator exit rules.
func (c Combination) ExitRules() domain.ExitRules {
	return domain.ExitRules{
		HoldingPeriodDays: c.HoldingPeriodDays,
		StopLossPct:       c.StopLossPct,
		TakeProfitPct:     c.TakeProfitPct,
	}
}

// Combinations expands the grid into its Cartesian product in deterministic
// order: holding period outermost, then stop loss, then take profit. An empty
// take-profit axis contributes a single "no target" value.
func Combinations(grid domain.ParamGrid) []Combination {
	takeProfits := make([]*float64, 0, len(grid.TakeProfits))
	if len(grid.TakeProfits) == 0 {
		takeProfits = append(takeProfits, nil)
	} else {
		for i := range grid.TakeProfits {
			takeProfits = append(takeProfits, &grid.TakeProfits[i])
		}
	}

	combos := make([]Combination, 0, len(grid.HoldingPeriods)*len(grid.StopLosses)*len(takeProfits))
	for _, hp := range grid.HoldingPeriods {
		for _, sl := range grid.StopLosses {
			for _, tp := range takeProfits {
				combos = append(combos, Combination{
					HoldingPeriodDays: hp,
					StopLossPct:       sl,
					TakeProfitPct:     tp,
				})
			}
		}
	}
	return combos
}
