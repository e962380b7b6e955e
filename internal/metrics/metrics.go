// Package metrics derives performance statistics from a completed trade log:
// return, win rate, drawdown, Sharpe, Calmar, profit factor, leverage stats,
// and the equity and invested-capital curves. All reductions stream over the
// trade sequence; there is no intermediate tabular representation.
package metrics

import (
	"math"

	"github.com/marketgrid/signalbench/internal/domain"
	"github.com/marketgrid/signalbench/pkg/formulas"
)

// DefaultRiskFreeRate is the annual risk-free rate used when none is configured.
const DefaultRiskFreeRate = 0.06

// tradingDaysPerYear annualizes per-trade returns.
const tradingDaysPerYear = 252

// PerformanceMetrics aggregates everything derived from one trade log.
type PerformanceMetrics struct {
	TotalReturnPct      float64 `json:"total_return_pct"`
	TotalPnL            float64 `json:"total_pnl"`
	FinalPortfolioValue float64 `json:"final_portfolio_value"`

	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRatePct    float64 `json:"win_rate_pct"`

	AvgWinPct       float64 `json:"avg_win_pct"`
	AvgLossPct      float64 `json:"avg_loss_pct"`
	AvgWinCurrency  float64 `json:"avg_win_currency"`
	AvgLossCurrency float64 `json:"avg_loss_currency"`

	ProfitFactor   Float   `json:"profit_factor"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	SharpeRatio    float64 `json:"sharpe_ratio"`
	CalmarRatio    float64 `json:"calmar_ratio"`

	AvgPositionSize float64 `json:"avg_position_size"`
	MinPositionSize float64 `json:"min_position_size"`
	MaxPositionSize float64 `json:"max_position_size"`

	Leverage LeverageStats `json:"leverage"`

	EquityCurve          []EquityPoint  `json:"equity_curve"`
	InvestedCapitalCurve []CapitalPoint `json:"invested_capital_curve"`
}

// Compute derives all metrics from a trade log.
// riskFreeRate is annual; pass 0 to use DefaultRiskFreeRate.
func Compute(trades []domain.Trade, initialCapital float64, riskFreeRate float64) *PerformanceMetrics {
	if riskFreeRate == 0 {
		riskFreeRate = DefaultRiskFreeRate
	}

	m := &PerformanceMetrics{
		TotalTrades:         len(trades),
		FinalPortfolioValue: initialCapital,
	}

	if len(trades) == 0 {
		m.EquityCurve = []EquityPoint{}
		m.InvestedCapitalCurve = []CapitalPoint{}
		return m
	}

	var (
		totalPnL  float64
		grossWin  float64
		grossLoss float64
		winPcts   []float64
		lossPcts  []float64
		winCcy    []float64
		lossCcy   []float64
		notionals = make([]float64, len(trades))
	)

	for i, t := range trades {
		totalPnL += t.PnL
		notionals[i] = t.Notional

		switch {
		case t.PnLPct > 0:
			m.WinningTrades++
			grossWin += t.PnL
			winPcts = append(winPcts, t.PnLPct)
			winCcy = append(winCcy, t.PnL)
		case t.PnLPct < 0:
			m.LosingTrades++
			grossLoss += math.Abs(t.PnL)
			lossPcts = append(lossPcts, t.PnLPct)
			lossCcy = append(lossCcy, t.PnL)
		}
	}

	m.TotalPnL = totalPnL
	m.FinalPortfolioValue = initialCapital + totalPnL
	if initialCapital != 0 {
		m.TotalReturnPct = totalPnL / initialCapital * 100
	}

	m.WinRatePct = float64(m.WinningTrades) / float64(len(trades)) * 100
	m.AvgWinPct = formulas.Mean(winPcts)
	m.AvgLossPct = formulas.Mean(lossPcts)
	m.AvgWinCurrency = formulas.Mean(winCcy)
	m.AvgLossCurrency = formulas.Mean(lossCcy)

	switch {
	case grossWin == 0:
		m.ProfitFactor = 0
	case grossLoss == 0:
		m.ProfitFactor = Float(math.Inf(1))
	default:
		m.ProfitFactor = Float(grossWin / grossLoss)
	}

	m.MaxDrawdownPct = maxDrawdownPct(trades, initialCapital)
	m.SharpeRatio = sharpeRatio(trades, initialCapital, riskFreeRate)

	if m.MaxDrawdownPct != 0 {
		m.CalmarRatio = m.TotalReturnPct / math.Abs(m.MaxDrawdownPct)
	}

	m.AvgPositionSize = formulas.Mean(notionals)
	m.MinPositionSize, m.MaxPositionSize = minMax(notionals)

	m.Leverage = computeLeverageStats(trades)
	m.EquityCurve = EquityCurve(trades, initialCapital)
	m.InvestedCapitalCurve = InvestedCapitalCurve(trades)

	return m
}

// maxDrawdownPct runs a running maximum over the cumulative equity series and
// returns the deepest deviation as a percentage (negative or zero).
func maxDrawdownPct(trades []domain.Trade, initialCapital float64) float64 {
	equity := initialCapital
	runningMax := initialCapital
	minDrawdown := 0.0

	for _, t := range trades {
		equity += t.PnL
		if equity > runningMax {
			runningMax = equity
		}
		if runningMax > 0 {
			dd := (equity - runningMax) / runningMax
			if dd < minDrawdown {
				minDrawdown = dd
			}
		}
	}

	return minDrawdown * 100
}

// sharpeRatio annualizes per-trade returns against the risk-free rate.
// Returns 0 with fewer than 2 trades or zero dispersion.
func sharpeRatio(trades []domain.Trade, initialCapital, riskFreeRate float64) float64 {
	if len(trades) < 2 || initialCapital == 0 {
		return 0
	}

	returns := make([]float64, len(trades))
	for i, t := range trades {
		returns[i] = t.PnL / initialCapital
	}

	sd := formulas.StdDev(returns)
	if sd == 0 {
		return 0
	}

	excess := formulas.Mean(returns) - riskFreeRate/tradingDaysPerYear
	return excess / sd * math.Sqrt(tradingDaysPerYear)
}

func minMax(data []float64) (float64, float64) {
	if len(data) == 0 {
		return 0, 0
	}
	min, max := data[0], data[0]
	for _, v := range data[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}
