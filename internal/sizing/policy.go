// Package sizing implements the position-sizing policies. Each policy produces
// a raw share count; a policy-independent cap pipeline then applies portfolio
// and leverage constraints so no variant can bypass them.
package sizing

import (
	"math"

	"github.com/rs/zerolog"

	"github.com/marketgrid/signalbench/internal/domain"
)

const (
	// equalWeightFraction is the fixed portfolio fraction for EqualWeight.
	equalWeightFraction = 0.02
	// realizedVolFloor prevents volatility targeting from exploding position
	// size in quiet markets.
	realizedVolFloor = 0.20
	// atrFloorFraction of entry price bounds the ATR denominator.
	atrFloorFraction = 0.02
	// kellyCap limits the Kelly fraction to a quarter of the portfolio.
	kellyCap = 0.25
	// kellyFallbackFraction applies when Kelly parameters are missing or
	// pathological.
	kellyFallbackFraction = 0.02
)

// Aux supplies price-history derived inputs a policy may need.
// Zero values are valid: the policy floors handle missing history.
type Aux struct {
	RealizedVol float64 // annualized volatility of recent closes
	Atr         float64 // average true range in price units
}

// Shares computes the whole-unit position size for one entry.
//
// The raw count from the policy variant passes through the cap pipeline:
//  1. never exceed portfolioValue/entryPrice, even with leverage
//  2. without leverage, return 0 when no capital remains
//  3. truncate toward zero, clamp at 0
//
// A positive count is an intent, not a fill: the simulator refuses the whole
// trade if its notional does not fit the remaining capital. Positions are
// never downsized to fit.
func Shares(
	policy domain.SizingPolicy,
	entryPrice float64,
	portfolioValue float64,
	openNotional float64,
	allowLeverage bool,
	aux Aux,
	log zerolog.Logger,
) int64 {
	if entryPrice <= 0 || portfolioValue <= 0 {
		return 0
	}

	raw := rawShares(policy, entryPrice, portfolioValue, aux, log)

	// Full-portfolio cap applies to every policy.
	if maxShares := portfolioValue / entryPrice; raw > maxShares {
		raw = maxShares
	}

	if !allowLeverage && portfolioValue-openNotional <= 0 {
		return 0
	}

	if raw < 0 || math.IsNaN(raw) || math.IsInf(raw, 0) {
		return 0
	}
	return int64(raw)
}

// rawShares dispatches on the policy variant.
func rawShares(
	policy domain.SizingPolicy,
	entryPrice float64,
	portfolioValue float64,
	aux Aux,
	log zerolog.Logger,
) float64 {
	switch policy.Method {
	case domain.SizingEqualWeight:
		return equalWeightFraction * portfolioValue / entryPrice

	case domain.SizingFixedNotional:
		if policy.Amount <= 0 {
			return 0
		}
		return policy.Amount / entryPrice

	case domain.SizingPercentRisk:
		if policy.RiskPct <= 0 || policy.StopAssumptionPct <= 0 {
			return 0
		}
		riskBudget := portfolioValue * policy.RiskPct / 100
		return riskBudget / (entryPrice * policy.StopAssumptionPct)

	case domain.SizingVolatilityTarget:
		if policy.TargetAnnualVol <= 0 {
			return 0
		}
		vol := aux.RealizedVol
		if vol < realizedVolFloor {
			vol = realizedVolFloor
		}
		return portfolioValue * policy.TargetAnnualVol / vol / entryPrice

	case domain.SizingAtrBased:
		if policy.RiskPct <= 0 {
			return 0
		}
		atr := aux.Atr
		if floor := entryPrice * atrFloorFraction; atr < floor {
			atr = floor
		}
		riskBudget := portfolioValue * policy.RiskPct / 100
		return riskBudget / (2 * atr)

	case domain.SizingKellyCriterion:
		f := kellyFraction(policy, log)
		return f * portfolioValue / entryPrice

	default:
		return 0
	}
}

// kellyFraction computes the capped Kelly fraction, falling back to 2% when
// parameters are missing or the average loss is non-positive.
func kellyFraction(policy domain.SizingPolicy, log zerolog.Logger) float64 {
	if policy.AvgLossPct <= 0 || policy.AvgWinPct <= 0 || policy.WinRatePct <= 0 {
		log.Warn().
			Float64("win_rate_pct", policy.WinRatePct).
			Float64("avg_win_pct", policy.AvgWinPct).
			Float64("avg_loss_pct", policy.AvgLossPct).
			Msg("Kelly parameters missing or pathological, using fallback fraction")
		return kellyFallbackFraction
	}

	b := policy.AvgWinPct / policy.AvgLossPct
	p := policy.WinRatePct / 100
	f := (b*p - (1 - p)) / b

	if f < 0 {
		return 0
	}
	if f > kellyCap {
		return kellyCap
	}
	return f
}
