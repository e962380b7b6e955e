package server

import (
	"fmt"
	"math"
	"time"

	"github.com/marketgrid/signalbench/internal/domain"
	"github.com/marketgrid/signalbench/internal/metrics"
	"github.com/marketgrid/signalbench/internal/optimization"
	"github.com/marketgrid/signalbench/internal/pricing"
)

// SignalInput is one entry signal on the wire.
type SignalInput struct {
	Ticker string `json:"ticker"`
	Date   string `json:"date"`
}

// BarInput is one OHLCV bar on the wire.
type BarInput struct {
	Ticker string  `json:"ticker"`
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// RunRequest is the POST /run payload.
type RunRequest struct {
	SignalsData           []SignalInput          `json:"signals_data"`
	OHLCVData             []BarInput             `json:"ohlcv_data"`
	InitialCapital        float64                `json:"initial_capital"`
	StopLoss              float64                `json:"stop_loss"`
	TakeProfit            *float64               `json:"take_profit"`
	HoldingPeriod         int                    `json:"holding_period"`
	SignalType            string                 `json:"signal_type"`
	PositionSizing        string                 `json:"position_sizing"`
	SizingParams          map[string]interface{} `json:"sizing_params"`
	AllowLeverage         bool                   `json:"allow_leverage"`
	OneTradePerInstrument bool                   `json:"one_trade_per_instrument"`
}

// OptimizeRequest is the POST /optimize payload: a run plus parameter ranges.
type OptimizeRequest struct {
	RunRequest
	ParamRanges ParamRanges `json:"param_ranges"`
}

// ParamRanges is the wire form of the optimization grid.
type ParamRanges struct {
	HoldingPeriod []int     `json:"holding_period"`
	StopLoss      []float64 `json:"stop_loss"`
	TakeProfit    []float64 `json:"take_profit"`
}

// MonitoringInfo rides on run responses.
type MonitoringInfo struct {
	ExecutionID string `json:"execution_id"`
	CacheHit    bool   `json:"cache_hit"`
	FromCache   bool   `json:"from_cache"`
}

// RunResponse is the POST /run reply.
type RunResponse struct {
	Trades           []domain.Trade              `json:"trades"`
	Performance      *metrics.PerformanceMetrics `json:"performance_metrics"`
	EquityCurve      []metrics.EquityPoint       `json:"equity_curve"`
	Summary          string                      `json:"summary"`
	ExecutionTime    float64                     `json:"execution_time"`
	SignalsProcessed int                         `json:"signals_processed"`
	Monitoring       MonitoringInfo              `json:"monitoring"`
}

// OptimizeResponse is the POST /optimize reply.
type OptimizeResponse struct {
	BestParams       *optimization.Combination   `json:"best_params"`
	BestPerformance  *metrics.PerformanceMetrics `json:"best_performance"`
	AllResults       []optimization.Row          `json:"all_results"`
	ExecutionTime    float64                     `json:"execution_time"`
	SignalsProcessed int                         `json:"signals_processed"`
	Monitoring       MonitoringInfo              `json:"monitoring"`
}

// validationError is surfaced as a 422.
type validationError struct {
	msg string
}

func (e *validationError) Error() string { return e.msg }

func invalidf(format string, args ...interface{}) error {
	return &validationError{msg: fmt.Sprintf(format, args...)}
}

// Validate checks the request shape before any engine work.
func (r *RunRequest) Validate() error {
	if len(r.SignalsData) == 0 {
		return invalidf("signals_data must not be empty")
	}
	if len(r.OHLCVData) == 0 {
		return invalidf("ohlcv_data must not be empty")
	}
	if r.InitialCapital <= 0 || !isFinite(r.InitialCapital) {
		return invalidf("initial_capital must be a positive finite number")
	}
	if r.HoldingPeriod < 1 {
		return invalidf("holding_period must be at least 1")
	}
	if r.StopLoss < 0 || !isFinite(r.StopLoss) {
		return invalidf("stop_loss must be a non-negative finite number")
	}
	if r.TakeProfit != nil && (*r.TakeProfit <= 0 || !isFinite(*r.TakeProfit)) {
		return invalidf("take_profit must be a positive finite number")
	}
	if !domain.Direction(r.SignalType).Valid() {
		return invalidf("signal_type must be %q or %q", domain.Long, domain.Short)
	}
	if !domain.SizingMethod(r.PositionSizing).Valid() {
		return invalidf("unknown position_sizing %q", r.PositionSizing)
	}
	for key, value := range r.SizingParams {
		if f, ok := value.(float64); ok && !isFinite(f) {
			return invalidf("sizing_params.%s must be finite", key)
		}
	}
	return nil
}

// Validate additionally checks the grid axes.
func (r *OptimizeRequest) Validate() error {
	if err := r.RunRequest.Validate(); err != nil {
		return err
	}
	if len(r.ParamRanges.HoldingPeriod) == 0 {
		return invalidf("param_ranges.holding_period must not be empty")
	}
	if len(r.ParamRanges.StopLoss) == 0 {
		return invalidf("param_ranges.stop_loss must not be empty")
	}
	for _, hp := range r.ParamRanges.HoldingPeriod {
		if hp < 1 {
			return invalidf("param_ranges.holding_period values must be at least 1")
		}
	}
	for _, sl := range r.ParamRanges.StopLoss {
		if sl < 0 || !isFinite(sl) {
			return invalidf("param_ranges.stop_loss values must be non-negative finite numbers")
		}
	}
	for _, tp := range r.ParamRanges.TakeProfit {
		if tp <= 0 || !isFinite(tp) {
			return invalidf("param_ranges.take_profit values must be positive finite numbers")
		}
	}
	return nil
}

// Signals converts the wire signals into domain signals.
func (r *RunRequest) Signals() ([]domain.Signal, error) {
	out := make([]domain.Signal, len(r.SignalsData))
	for i, s := range r.SignalsData {
		if s.Ticker == "" {
			return nil, invalidf("signals_data[%d].ticker must not be empty", i)
		}
		day, err := domain.ParseDay(s.Date)
		if err != nil {
			return nil, invalidf("signals_data[%d].date %q: not an ISO date", i, s.Date)
		}
		out[i] = domain.Signal{Ticker: s.Ticker, Day: day}
	}
	return out, nil
}

// Bars converts the wire OHLCV rows into ticker-tagged bars.
func (r *RunRequest) Bars() ([]pricing.TickerBar, error) {
	out := make([]pricing.TickerBar, len(r.OHLCVData))
	for i, b := range r.OHLCVData {
		if b.Ticker == "" {
			return nil, invalidf("ohlcv_data[%d].ticker must not be empty", i)
		}
		day, err := domain.ParseDay(b.Date)
		if err != nil {
			return nil, invalidf("ohlcv_data[%d].date %q: not an ISO date", i, b.Date)
		}
		for _, v := range []float64{b.Open, b.High, b.Low, b.Close} {
			if !isFinite(v) || v <= 0 {
				return nil, invalidf("ohlcv_data[%d]: OHLC fields must be positive finite numbers", i)
			}
		}
		out[i] = pricing.TickerBar{
			Ticker: b.Ticker,
			Bar: domain.Bar{
				Day:    day,
				Open:   b.Open,
				High:   b.High,
				Low:    b.Low,
				Close:  b.Close,
				Volume: b.Volume,
			},
		}
	}
	return out, nil
}

// SimulationConfig assembles the engine configuration from the request.
func (r *RunRequest) SimulationConfig() domain.SimulationConfig {
	return domain.SimulationConfig{
		InitialCapital: r.InitialCapital,
		Direction:      domain.Direction(r.SignalType),
		ExitRules: domain.ExitRules{
			HoldingPeriodDays: r.HoldingPeriod,
			StopLossPct:       r.StopLoss,
			TakeProfitPct:     r.TakeProfit,
		},
		Sizing:                r.SizingPolicy(),
		AllowLeverage:         r.AllowLeverage,
		OneTradePerInstrument: r.OneTradePerInstrument,
	}
}

// SizingPolicy maps position_sizing plus sizing_params onto the policy struct.
// Missing params stay zero; the policies handle their own fallbacks.
func (r *RunRequest) SizingPolicy() domain.SizingPolicy {
	p := domain.SizingPolicy{Method: domain.SizingMethod(r.PositionSizing)}
	params := r.SizingParams

	p.Amount = floatParam(params, "amount", "fixed_amount")
	p.RiskPct = floatParam(params, "risk_pct", "risk_percent")
	p.StopAssumptionPct = floatParam(params, "stop_assumption_pct")
	p.TargetAnnualVol = floatParam(params, "target_annual_vol", "target_volatility")
	p.RealizedVolWindow = intParam(params, "realized_vol_window", "vol_window")
	p.AtrWindow = intParam(params, "atr_window")
	p.WinRatePct = floatParam(params, "win_rate_pct", "win_rate")
	p.AvgWinPct = floatParam(params, "avg_win_pct", "avg_win")
	p.AvgLossPct = floatParam(params, "avg_loss_pct", "avg_loss")

	return p
}

// Grid assembles the optimization grid from the ranges.
func (r *OptimizeRequest) Grid() domain.ParamGrid {
	return domain.ParamGrid{
		HoldingPeriods: r.ParamRanges.HoldingPeriod,
		StopLosses:     r.ParamRanges.StopLoss,
		TakeProfits:    r.ParamRanges.TakeProfit,
	}
}

// FingerprintParams is the canonical parameter record for cache keying.
// Every field that changes the result must appear here.
func (r *RunRequest) FingerprintParams() map[string]interface{} {
	params := map[string]interface{}{
		"initial_capital":          r.InitialCapital,
		"stop_loss":                r.StopLoss,
		"take_profit":              r.TakeProfit,
		"holding_period":           float64(r.HoldingPeriod),
		"signal_type":              r.SignalType,
		"position_sizing":          r.PositionSizing,
		"sizing_params":            r.SizingParams,
		"allow_leverage":           r.AllowLeverage,
		"one_trade_per_instrument": r.OneTradePerInstrument,
	}
	return params
}

// FingerprintParams extends the run record with the grid axes.
func (r *OptimizeRequest) FingerprintParams() map[string]interface{} {
	params := r.RunRequest.FingerprintParams()

	hps := make([]interface{}, len(r.ParamRanges.HoldingPeriod))
	for i, hp := range r.ParamRanges.HoldingPeriod {
		hps[i] = float64(hp)
	}
	sls := make([]interface{}, len(r.ParamRanges.StopLoss))
	for i, sl := range r.ParamRanges.StopLoss {
		sls[i] = sl
	}
	tps := make([]interface{}, len(r.ParamRanges.TakeProfit))
	for i, tp := range r.ParamRanges.TakeProfit {
		tps[i] = tp
	}
	params["param_ranges"] = map[string]interface{}{
		"holding_period": hps,
		"stop_loss":      sls,
		"take_profit":    tps,
	}
	return params
}

// summaryText renders the human-readable run summary, including any
// degradation notes from skipped subsystems.
func summaryText(m *metrics.PerformanceMetrics, warnings []string, degradations []string, elapsed time.Duration) string {
	s := fmt.Sprintf(
		"%d trades, %.2f%% return, %.1f%% win rate, final portfolio %.2f (%.0fms)",
		m.TotalTrades, m.TotalReturnPct, m.WinRatePct, m.FinalPortfolioValue,
		float64(elapsed)/float64(time.Millisecond),
	)
	if len(warnings) > 0 {
		s += fmt.Sprintf("; %d leverage warnings", len(warnings))
	}
	for _, d := range degradations {
		s += "; " + d
	}
	return s
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func floatParam(params map[string]interface{}, keys ...string) float64 {
	for _, key := range keys {
		if v, ok := params[key]; ok {
			if f, ok := v.(float64); ok {
				return f
			}
		}
	}
	return 0
}

func intParam(params map[string]interface{}, keys ...string) int {
	return int(floatParam(params, keys...))
}
