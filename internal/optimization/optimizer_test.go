package optimization

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketgrid/signalbench/internal/domain"
	"github.com/marketgrid/signalbench/internal/metrics"
	"github.com/marketgrid/signalbench/internal/pricing"
	"github.com/marketgrid/signalbench/internal/simulation"
)

func testIndex(t *testing.T) *pricing.Index {
	t.Helper()
	bars := []pricing.TickerBar{
		{Ticker: "X", Bar: domain.Bar{Day: 1, Open: 100, High: 100, Low: 99, Close: 100}},
		{Ticker: "X", Bar: domain.Bar{Day: 2, Open: 110, High: 112, Low: 100, Close: 110}},
		{Ticker: "X", Bar: domain.Bar{Day: 3, Open: 118, High: 120, Low: 108, Close: 118}},
	}
	idx, err := pricing.Build(bars, zerolog.Nop())
	require.NoError(t, err)
	return idx
}

func testConfig() domain.SimulationConfig {
	return domain.SimulationConfig{
		Direction:      domain.Long,
		InitialCapital: 100000,
		Sizing:         domain.SizingPolicy{Method: domain.SizingEqualWeight},
	}
}

func TestCombinations_CartesianOrder(t *testing.T) {
	grid := domain.ParamGrid{
		HoldingPeriods: []int{3, 5},
		StopLosses:     []float64{2, 5},
		TakeProfits:    []float64{10},
	}

	combos := Combinations(grid)
	require.Len(t, combos, 4)

	assert.Equal(t, 3, combos[0].HoldingPeriodDays)
	assert.Equal(t, 2.0, combos[0].StopLossPct)
	assert.Equal(t, 3, combos[1].HoldingPeriodDays)
	assert.Equal(t, 5.0, combos[1].StopLossPct)
	assert.Equal(t, 5, combos[2].HoldingPeriodDays)
	require.NotNil(t, combos[0].TakeProfitPct)
	assert.Equal(t, 10.0, *combos[0].TakeProfitPct)
}

func TestCombinations_EmptyTakeProfits(t *testing.T) {
	grid := domain.ParamGrid{
		HoldingPeriods: []int{3},
		StopLosses:     []float64{5},
	}

	combos := Combinations(grid)
	require.Len(t, combos, 1)
	assert.Nil(t, combos[0].TakeProfitPct, "Empty take-profit axis yields a single no-target cell")
}

func TestRun_SingleCellParity(t *testing.T) {
	idx := testIndex(t)
	baseCfg := testConfig()
	signals := []domain.Signal{{Ticker: "X", Day: 1}}
	grid := domain.ParamGrid{
		HoldingPeriods: []int{3},
		StopLosses:     []float64{5},
		TakeProfits:    []float64{10},
	}

	report := New(idx, 4, 0.06, zerolog.Nop()).Run(context.Background(), signals, baseCfg, grid)
	require.Len(t, report.Results, 1)
	require.Empty(t, report.Results[0].Error)

	// Stand-alone run of the identical cell.
	cfg := baseCfg
	cfg.ExitRules = report.Results[0].Params.ExitRules()
	standalone := simulation.New(idx, cfg, zerolog.Nop()).Run(signals)
	standaloneMetrics := metrics.Compute(standalone.Trades, cfg.InitialCapital, 0.06)

	row := report.Results[0]
	assert.Equal(t, len(standalone.Trades), row.Trades)
	assert.Equal(t, standaloneMetrics.TotalTrades, row.Metrics.TotalTrades)
	assert.InDelta(t, standaloneMetrics.TotalPnL, row.Metrics.TotalPnL, 1e-10)
	assert.InDelta(t, standaloneMetrics.TotalReturnPct, row.Metrics.TotalReturnPct, 1e-10)
	assert.InDelta(t, standaloneMetrics.WinRatePct, row.Metrics.WinRatePct, 1e-10)
	assert.InDelta(t, standaloneMetrics.FinalPortfolioValue, row.Metrics.FinalPortfolioValue, 1e-10)
}

func TestRun_GridShapeAndBest(t *testing.T) {
	idx := testIndex(t)
	signals := []domain.Signal{{Ticker: "X", Day: 1}}
	grid := domain.ParamGrid{
		HoldingPeriods: []int{3},
		StopLosses:     []float64{5},
		TakeProfits:    []float64{0.5, 10}, // tiny target exits at +0.5%, full target at +10%
	}

	report := New(idx, 2, 0, zerolog.Nop()).Run(context.Background(), signals, testConfig(), grid)

	require.Len(t, report.Results, 2)
	assert.Equal(t, 2, report.Completed)
	assert.Equal(t, 0, report.Failed)

	require.NotNil(t, report.Best)
	require.NotNil(t, report.Best.Params.TakeProfitPct)
	assert.Equal(t, 10.0, *report.Best.Params.TakeProfitPct, "The wider target earns more on this path")
}

func TestRun_EmptyGrid(t *testing.T) {
	report := New(testIndex(t), 2, 0, zerolog.Nop()).Run(
		context.Background(), nil, testConfig(), domain.ParamGrid{})
	assert.Empty(t, report.Results)
	assert.Nil(t, report.Best)
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	grid := domain.ParamGrid{
		HoldingPeriods: []int{3, 5, 7},
		StopLosses:     []float64{5},
	}
	report := New(testIndex(t), 2, 0, zerolog.Nop()).Run(
		ctx, []domain.Signal{{Ticker: "X", Day: 1}}, testConfig(), grid)

	require.Len(t, report.Results, 3)
	assert.Equal(t, 3, report.Failed, "Cells never started after cancellation are marked failed")
	for _, row := range report.Results {
		assert.NotEmpty(t, row.Error)
	}
}

func TestRun_DeterministicAcrossWorkerCounts(t *testing.T) {
	idx := testIndex(t)
	signals := []domain.Signal{{Ticker: "X", Day: 1}}
	grid := domain.ParamGrid{
		HoldingPeriods: []int{2, 3},
		StopLosses:     []float64{2, 5},
		TakeProfits:    []float64{8, 10},
	}

	serial := New(idx, 1, 0, zerolog.Nop()).Run(context.Background(), signals, testConfig(), grid)
	parallel := New(idx, 8, 0, zerolog.Nop()).Run(context.Background(), signals, testConfig(), grid)

	require.Equal(t, len(serial.Results), len(parallel.Results))
	for i := range serial.Results {
		assert.Equal(t, serial.Results[i].Params, parallel.Results[i].Params)
		assert.Equal(t, serial.Results[i].Trades, parallel.Results[i].Trades)
		assert.InDelta(t,
			serial.Results[i].Metrics.TotalReturnPct,
			parallel.Results[i].Metrics.TotalReturnPct, 1e-12)
	}
	assert.Equal(t, serial.Best.Params, parallel.Best.Params)
}

func TestWorkerCount(t *testing.T) {
	o := New(testIndex(t), 100, 0, zerolog.Nop())
	assert.LessOrEqual(t, o.workerCount(1000), maxPoolWorkers)
	assert.Equal(t, 1, o.workerCount(1), "Never more workers than cells")

	unbounded := New(testIndex(t), 0, 0, zerolog.Nop())
	assert.GreaterOrEqual(t, unbounded.workerCount(100), 1)
}
