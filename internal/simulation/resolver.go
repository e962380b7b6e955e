// Package simulation contains the per-signal trade state machine: exit
// resolution against forward bars and the portfolio-level simulator that
// drives it over a chronological signal stream.
package simulation

import (
	"github.com/marketgrid/signalbench/internal/domain"
)

// Outcome describes where and why a trade exits.
type Outcome struct {
	ExitIndex int
	ExitPrice float64
	Reason    domain.ExitReason
}

// ResolveExit scans forward from the entry bar and returns the first-touching
// exit. Entry price is the close of the entry bar. Stop and target exits use
// the threshold price (the bar is assumed to have traded through it); time
// exits use the closing price of the last bar in the window.
//
// Within a single bar the stop check precedes the take-profit check.
// Intraday ordering is indeterminate in daily data; resolving to the stop is
// the conservative choice.
//
// Returns false when the trade cannot be opened: no forward bars exist after
// the entry index.
func ResolveExit(
	bars []domain.Bar,
	entryIndex int,
	holdingPeriod int,
	stopLossPct float64,
	takeProfitPct *float64,
	direction domain.Direction,
) (Outcome, bool) {
	if entryIndex < 0 || entryIndex >= len(bars)-1 || holdingPeriod < 1 {
		return Outcome{}, false
	}

	entry := bars[entryIndex].Close
	hasTarget := takeProfitPct != nil

	var stopPrice, targetPrice float64
	if direction == domain.Long {
		stopPrice = entry * (1 - stopLossPct/100)
		if hasTarget {
			targetPrice = entry * (1 + *takeProfitPct/100)
		}
	} else {
		stopPrice = entry * (1 + stopLossPct/100)
		if hasTarget {
			targetPrice = entry * (1 - *takeProfitPct/100)
		}
	}

	// Window is capped at the last available bar.
	last := entryIndex + holdingPeriod
	if last > len(bars)-1 {
		last = len(bars) - 1
	}

	for i := entryIndex + 1; i <= last; i++ {
		bar := bars[i]

		if direction == domain.Long {
			if bar.Low <= stopPrice {
				return Outcome{ExitIndex: i, ExitPrice: stopPrice, Reason: domain.ExitStopLoss}, true
			}
			if hasTarget && bar.High >= targetPrice {
				return Outcome{ExitIndex: i, ExitPrice: targetPrice, Reason: domain.ExitTakeProfit}, true
			}
		} else {
			if bar.High >= stopPrice {
				return Outcome{ExitIndex: i, ExitPrice: stopPrice, Reason: domain.ExitStopLoss}, true
			}
			if hasTarget && bar.Low <= targetPrice {
				return Outcome{ExitIndex: i, ExitPrice: targetPrice, Reason: domain.ExitTakeProfit}, true
			}
		}
	}

	// Neither threshold touched within the window.
	return Outcome{ExitIndex: last, ExitPrice: bars[last].Close, Reason: domain.ExitTimeExit}, true
}
