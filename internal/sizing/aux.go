package sizing

import (
	"github.com/marketgrid/signalbench/internal/domain"
	"github.com/marketgrid/signalbench/pkg/formulas"
)

// atrHistoryBars bounds how much history feeds the ATR calculation.
const atrHistoryBars = 30

// ComputeAux derives the price-history inputs the policy needs at an entry
// bar. Policies that take no history return a zero Aux. Short history yields
// zero fields, which the policy floors absorb.
func ComputeAux(policy domain.SizingPolicy, bars []domain.Bar, entryIndex int) Aux {
	switch policy.Method {
	case domain.SizingVolatilityTarget:
		window := policy.RealizedVolWindow
		if window <= 0 {
			window = domain.DefaultRealizedVolWindow
		}
		return Aux{RealizedVol: realizedVol(bars, entryIndex, window)}

	case domain.SizingAtrBased:
		window := policy.AtrWindow
		if window <= 0 {
			window = domain.DefaultAtrWindow
		}
		return Aux{Atr: atr(bars, entryIndex, window)}

	default:
		return Aux{}
	}
}

// realizedVol returns the annualized volatility of the closes in the window
// ending at the entry bar.
func realizedVol(bars []domain.Bar, entryIndex, window int) float64 {
	start := entryIndex - window + 1
	if start < 0 {
		start = 0
	}
	closes := make([]float64, 0, entryIndex-start+1)
	for i := start; i <= entryIndex && i < len(bars); i++ {
		closes = append(closes, bars[i].Close)
	}
	return formulas.AnnualizedVolatility(formulas.CalculateReturns(closes))
}

// atr returns the ATR over the most recent bars ending at the entry bar.
func atr(bars []domain.Bar, entryIndex, window int) float64 {
	start := entryIndex - atrHistoryBars + 1
	if start < 0 {
		start = 0
	}

	n := entryIndex - start + 1
	highs := make([]float64, 0, n)
	lows := make([]float64, 0, n)
	closes := make([]float64, 0, n)
	for i := start; i <= entryIndex && i < len(bars); i++ {
		highs = append(highs, bars[i].High)
		lows = append(lows, bars[i].Low)
		closes = append(closes, bars[i].Close)
	}

	return formulas.Atr(highs, lows, closes, window)
}
