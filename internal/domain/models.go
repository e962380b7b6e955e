// Package domain defines the core data model for the backtesting engine:
// bars, instruments, signals, sizing policies, exit rules, and trades.
// The domain layer is pure and has no infrastructure dependencies.
package domain

import (
	"fmt"
	"time"
)

// DayOrdinal is an integer day count from the Unix epoch (UTC).
// Days need not be consecutive; gaps are normal for trading calendars.
type DayOrdinal int64

// dayDuration is the length of one ordinal step.
const dayDuration = 24 * time.Hour

// Time converts the ordinal to midnight UTC of that day.
func (d DayOrdinal) Time() time.Time {
	return time.Unix(int64(d)*86400, 0).UTC()
}

// DayFromTime converts a timestamp to its UTC day ordinal.
func DayFromTime(t time.Time) DayOrdinal {
	return DayOrdinal(t.UTC().Unix() / 86400)
}

// ParseDay parses a YYYY-MM-DD date string into a day ordinal.
func ParseDay(s string) (DayOrdinal, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return 0, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DayFromTime(t), nil
}

// MarshalJSON serializes the ordinal as its ISO date string.
func (d DayOrdinal) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.Time().Format("2006-01-02") + `"`), nil
}

// UnmarshalJSON accepts both the ISO string form and a raw ordinal, so
// cached payloads from either era round-trip.
func (d *DayOrdinal) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' {
		parsed, err := ParseDay(s[1 : len(s)-1])
		if err != nil {
			return err
		}
		*d = parsed
		return nil
	}
	var n int64
	if _, err := fmt.Sscan(s, &n); err != nil {
		return fmt.Errorf("invalid day ordinal %s", s)
	}
	*d = DayOrdinal(n)
	return nil
}

// Bar is one period's OHLCV for one instrument.
type Bar struct {
	Day    DayOrdinal `json:"day"`
	Open   float64    `json:"open"`
	High   float64    `json:"high"`
	Low    float64    `json:"low"`
	Close  float64    `json:"close"`
	Volume float64    `json:"volume"`
}

// Instrument holds the date-sorted bar history for one ticker.
// Bars are strictly increasing by day, no duplicates.
type Instrument struct {
	Ticker string
	Bars   []Bar
}

// Signal is an instruction to open a position in a ticker on or after a day.
type Signal struct {
	Ticker string     `json:"ticker"`
	Day    DayOrdinal `json:"day"`
}

// Direction of all positions within one simulation.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// Valid reports whether the direction is a known value.
func (d Direction) Valid() bool {
	return d == Long || d == Short
}

// ExitReason classifies why a position was closed.
type ExitReason string

const (
	ExitStopLoss   ExitReason = "stop_loss"
	ExitTakeProfit ExitReason = "take_profit"
	ExitTimeExit   ExitReason = "time_exit"
	ExitNoData     ExitReason = "no_data"
)

// SizingMethod selects a position-sizing policy variant.
type SizingMethod string

const (
	SizingEqualWeight      SizingMethod = "equal_weight"
	SizingFixedNotional    SizingMethod = "fixed_amount"
	SizingPercentRisk      SizingMethod = "percent_risk"
	SizingVolatilityTarget SizingMethod = "volatility_target"
	SizingAtrBased         SizingMethod = "atr_based"
	SizingKellyCriterion   SizingMethod = "kelly_criterion"
)

// Valid reports whether the method is a known value.
func (m SizingMethod) Valid() bool {
	switch m {
	case SizingEqualWeight, SizingFixedNotional, SizingPercentRisk,
		SizingVolatilityTarget, SizingAtrBased, SizingKellyCriterion:
		return true
	}
	return false
}

// Default windows for the sizing policies that consume price history.
const (
	DefaultRealizedVolWindow = 60
	DefaultAtrWindow         = 14
)

// SizingPolicy is a tagged variant: Method selects which parameter set applies.
// Unused fields are ignored by the dispatcher.
type SizingPolicy struct {
	Method SizingMethod `json:"method"`

	// FixedNotional
	Amount float64 `json:"amount,omitempty"`

	// PercentRisk and AtrBased
	RiskPct           float64 `json:"risk_pct,omitempty"`
	StopAssumptionPct float64 `json:"stop_assumption_pct,omitempty"`

	// VolatilityTarget
	TargetAnnualVol   float64 `json:"target_annual_vol,omitempty"`
	RealizedVolWindow int     `json:"realized_vol_window,omitempty"`

	// AtrBased
	AtrWindow int `json:"atr_window,omitempty"`

	// KellyCriterion
	WinRatePct float64 `json:"win_rate_pct,omitempty"`
	AvgWinPct  float64 `json:"avg_win_pct,omitempty"`
	AvgLossPct float64 `json:"avg_loss_pct,omitempty"`
}

// ExitRules govern when an open position is closed.
// Percentages are positive and relative to entry price.
// A nil TakeProfitPct disables the take-profit leg.
type ExitRules struct {
	HoldingPeriodDays int      `json:"holding_period_days"`
	StopLossPct       float64  `json:"stop_loss_pct"`
	TakeProfitPct     *float64 `json:"take_profit_pct,omitempty"`
}

// SimulationConfig fully parameterizes one simulation run.
type SimulationConfig struct {
	Direction             Direction    `json:"direction"`
	ExitRules             ExitRules    `json:"exit_rules"`
	Sizing                SizingPolicy `json:"sizing"`
	InitialCapital        float64      `json:"initial_capital"`
	AllowLeverage         bool         `json:"allow_leverage"`
	OneTradePerInstrument bool         `json:"one_trade_per_instrument"`
}

// Trade is one completed round trip emitted by the simulator.
type Trade struct {
	Ticker              string     `json:"ticker"`
	Direction           Direction  `json:"direction"`
	EntryDay            DayOrdinal `json:"entry_day"`
	EntryPrice          float64    `json:"entry_price"`
	ExitDay             DayOrdinal `json:"exit_day"`
	ExitPrice           float64    `json:"exit_price"`
	Shares              int64      `json:"shares"`
	Notional            float64    `json:"notional"`
	PnL                 float64    `json:"pnl"`
	PnLPct              float64    `json:"pnl_pct"`
	ExitReason          ExitReason `json:"exit_reason"`
	DaysHeld            int        `json:"days_held"`
	PortfolioValueAfter float64    `json:"portfolio_value_after"`
	LeverageAtEntry     float64    `json:"leverage_at_entry"`
}

// SimulationResult is the full output of one simulation run.
type SimulationResult struct {
	Trades              []Trade  `json:"trades"`
	FinalPortfolioValue float64  `json:"final_portfolio_value"`
	LeverageWarnings    []string `json:"leverage_warnings,omitempty"`
}

// ParamGrid spans the optimizer's Cartesian product.
// An empty TakeProfits means a single disabled take-profit.
type ParamGrid struct {
	HoldingPeriods []int     `json:"holding_period"`
	StopLosses     []float64 `json:"stop_loss"`
	TakeProfits    []float64 `json:"take_profit"`
}
