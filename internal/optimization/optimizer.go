package optimization

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/marketgrid/signalbench/internal/domain"
	"github.com/marketgrid/signalbench/internal/metrics"
	"github.com/marketgrid/signalbench/internal/pricing"
	"github.com/marketgrid/signalbench/internal/simulation"
)

// maxPoolWorkers bounds the pool regardless of configuration or core count.
const maxPoolWorkers = 8

// Row is the compact summary for one grid cell. Metrics is nil when the cell
// failed; Error carries the failure.
type Row struct {
	Params  Combination                 `json:"params"`
	Metrics *metrics.PerformanceMetrics `json:"performance,omitempty"`
	Trades  int                         `json:"total_trades"`
	Error   string                      `json:"error,omitempty"`
}

// Report is the aggregated outcome of a grid run.
type Report struct {
	Results   []Row `json:"results"`
	Best      *Row  `json:"best,omitempty"`
	Completed int   `json:"completed"`
	Failed    int   `json:"failed"`
}

// Optimizer runs the simulator across every cell of a parameter grid.
// Each worker owns its simulator; the price index is shared read-only.
type Optimizer struct {
	idx          *pricing.Index
	maxWorkers   int
	riskFreeRate float64
	log          zerolog.Logger

	progress atomic.Int64
}

// New creates an optimizer. maxWorkers <= 0 means "as many as the host
// allows" within the pool bound.
func New(idx *pricing.Index, maxWorkers int, riskFreeRate float64, log zerolog.Logger) *Optimizer {
	return &Optimizer{
		idx:          idx,
		maxWorkers:   maxWorkers,
		riskFreeRate: riskFreeRate,
		log:          log.With().Str("component", "optimizer").Logger(),
	}
}

// Progress returns the number of grid cells finished so far (monotonic
// within one Run).
func (o *Optimizer) Progress() int64 {
	return o.progress.Load()
}

// Run evaluates every combination of the grid against the signals and returns
// one summary row per cell, in grid order. Workers check ctx between cells;
// cells never started after cancellation are marked failed.
func (o *Optimizer) Run(
	ctx context.Context,
	signals []domain.Signal,
	baseCfg domain.SimulationConfig,
	grid domain.ParamGrid,
) *Report {
	combos := Combinations(grid)
	o.progress.Store(0)

	if len(combos) == 0 {
		return &Report{Results: []Row{}}
	}

	workers := o.workerCount(len(combos))
	o.log.Info().
		Int("combinations", len(combos)).
		Int("workers", workers).
		Msg("Starting grid optimization")

	jobs := make(chan job, len(combos))
	results := make(chan result, len(combos))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.worker(ctx, jobs, results, signals, baseCfg)
		}()
	}

	for idx, combo := range combos {
		jobs <- job{index: idx, combo: combo}
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	rows := make([]Row, len(combos))
	for res := range results {
		rows[res.index] = res.row
	}

	report := &Report{Results: rows}
	for i := range rows {
		if rows[i].Error != "" {
			report.Failed++
			continue
		}
		report.Completed++
		// Grid order is the lexicographic order of the parameter tuple, so
		// strict > gives the deterministic tie-break.
		if report.Best == nil || rows[i].Metrics.TotalReturnPct > report.Best.Metrics.TotalReturnPct {
			report.Best = &rows[i]
		}
	}

	o.log.Info().
		Int("completed", report.Completed).
		Int("failed", report.Failed).
		Msg("Grid optimization finished")

	return report
}

type job struct {
	index int
	combo Combination
}

type result struct {
	index int
	row   Row
}

func (o *Optimizer) worker(
	ctx context.Context,
	jobs <-chan job,
	results chan<- result,
	signals []domain.Signal,
	baseCfg domain.SimulationConfig,
) {
	for j := range jobs {
		// Cancellation is checked between cells, never inside one.
		if err := ctx.Err(); err != nil {
			results <- result{index: j.index, row: Row{Params: j.combo, Error: err.Error()}}
			o.progress.Add(1)
			continue
		}

		results <- result{index: j.index, row: o.evaluate(j.combo, signals, baseCfg)}
		o.progress.Add(1)
	}
}

// evaluate runs one cell. A panicking simulation is captured as a failed row
// so the rest of the grid still completes.
func (o *Optimizer) evaluate(
	combo Combination,
	signals []domain.Signal,
	baseCfg domain.SimulationConfig,
) (row Row) {
	row.Params = combo

	defer func() {
		if r := recover(); r != nil {
			row.Metrics = nil
			row.Error = fmt.Sprintf("simulation panic: %v", r)
			o.log.Error().
				Interface("params", combo).
				Str("panic", fmt.Sprint(r)).
				Msg("Grid cell failed")
		}
	}()

	cfg := baseCfg
	cfg.ExitRules = combo.ExitRules()

	sim := simulation.New(o.idx, cfg, o.log)
	simResult := sim.Run(signals)

	row.Metrics = metrics.Compute(simResult.Trades, cfg.InitialCapital, o.riskFreeRate)
	row.Trades = len(simResult.Trades)
	return row
}

// workerCount sizes the pool: configured maximum, host cores minus one, the
// hard pool bound, and never more workers than cells.
func (o *Optimizer) workerCount(jobs int) int {
	workers := o.maxWorkers
	if workers <= 0 {
		workers = maxPoolWorkers
	}
	if cores := runtime.NumCPU() - 1; cores >= 1 && workers > cores {
		workers = cores
	}
	if workers > maxPoolWorkers {
		workers = maxPoolWorkers
	}
	if workers > jobs {
		workers = jobs
	}
	if workers < 1 {
		workers = 1
	}
	return workers
}
