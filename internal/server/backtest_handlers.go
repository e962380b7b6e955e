package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketgrid/signalbench/internal/domain"
	"github.com/marketgrid/signalbench/internal/metrics"
	"github.com/marketgrid/signalbench/internal/optimization"
	"github.com/marketgrid/signalbench/internal/pricing"
	"github.com/marketgrid/signalbench/internal/resultcache"
	"github.com/marketgrid/signalbench/internal/simulation"
	"github.com/marketgrid/signalbench/internal/utils"
)

// handleRun executes a single backtest.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	timer := utils.StartTimer("run_backtest", s.log)
	start := time.Now()

	var req RunRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	exec := s.tracker.Track(r.Header.Get(headerUserID), r.Header.Get(headerCorrelationID))

	signals, err := req.Signals()
	if err != nil {
		exec.Fail(err)
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	bars, err := req.Bars()
	if err != nil {
		exec.Fail(err)
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	exec.LogBacktestStart(len(signals), req.FingerprintParams())

	idx, err := pricing.Build(bars, s.log)
	if err != nil {
		exec.Fail(err)
		s.writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("invalid price data: %v", err))
		return
	}

	fingerprint := resultcache.Fingerprint(signals, req.FingerprintParams())

	var degradations []string
	if cached, ok := s.cacheGet(r, fingerprint); ok {
		var resp RunResponse
		if err := json.Unmarshal(cached, &resp); err == nil {
			resp.ExecutionTime = time.Since(start).Seconds()
			resp.Monitoring = MonitoringInfo{ExecutionID: exec.ID(), CacheHit: true, FromCache: true}
			exec.SetCacheHit(true)
			exec.LogBacktestComplete(len(resp.Trades), resp.Performance)
			exec.Complete()
			timer.Done()
			s.writeJSON(w, http.StatusOK, resp)
			return
		}
		s.log.Warn().Str("fingerprint", fingerprint).Msg("Cached result undecodable, recomputing")
	}
	if !s.cache.Enabled() {
		degradations = append(degradations, "result cache unavailable")
	}

	cfg := req.SimulationConfig()
	result, simErr := runSimulation(func() *simulationOutput {
		sim := simulation.New(idx, cfg, s.log)
		simResult := sim.Run(signals)
		return &simulationOutput{
			result:  simResult,
			metrics: metrics.Compute(simResult.Trades, cfg.InitialCapital, s.cfg.RiskFreeRate),
		}
	})
	if simErr != nil {
		exec.Fail(simErr)
		s.writeError(w, http.StatusInternalServerError, simErr.Error())
		return
	}

	elapsed := time.Since(start)
	resp := RunResponse{
		Trades:           result.result.Trades,
		Performance:      result.metrics,
		EquityCurve:      result.metrics.EquityCurve,
		Summary:          summaryText(result.metrics, result.result.LeverageWarnings, degradations, elapsed),
		ExecutionTime:    elapsed.Seconds(),
		SignalsProcessed: len(signals),
		Monitoring:       MonitoringInfo{ExecutionID: exec.ID()},
	}

	s.cacheSet(r, fingerprint, resp, resultcache.ClassStandard)

	exec.LogBacktestComplete(len(resp.Trades), result.metrics)
	exec.Complete()
	timer.Done()

	s.writeJSON(w, http.StatusOK, resp)
}

// handleOptimize runs the simulator over a parameter grid.
func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	timer := utils.StartTimer("run_optimization", s.log)
	start := time.Now()

	var req OptimizeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	exec := s.tracker.Track(r.Header.Get(headerUserID), r.Header.Get(headerCorrelationID))

	signals, err := req.Signals()
	if err != nil {
		exec.Fail(err)
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	bars, err := req.Bars()
	if err != nil {
		exec.Fail(err)
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	exec.LogBacktestStart(len(signals), req.FingerprintParams())

	idx, err := pricing.Build(bars, s.log)
	if err != nil {
		exec.Fail(err)
		s.writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("invalid price data: %v", err))
		return
	}

	fingerprint := resultcache.Fingerprint(signals, req.FingerprintParams())

	if cached, ok := s.cacheGet(r, fingerprint); ok {
		var resp OptimizeResponse
		if err := json.Unmarshal(cached, &resp); err == nil {
			resp.ExecutionTime = time.Since(start).Seconds()
			resp.Monitoring = MonitoringInfo{ExecutionID: exec.ID(), CacheHit: true, FromCache: true}
			exec.SetCacheHit(true)
			exec.Complete()
			timer.Done()
			s.writeJSON(w, http.StatusOK, resp)
			return
		}
		s.log.Warn().Str("fingerprint", fingerprint).Msg("Cached result undecodable, recomputing")
	}

	opt := optimization.New(idx, s.cfg.MaxWorkers, s.cfg.RiskFreeRate, s.log)
	report := opt.Run(r.Context(), signals, req.SimulationConfig(), req.Grid())

	elapsed := time.Since(start)
	resp := OptimizeResponse{
		AllResults:       report.Results,
		ExecutionTime:    elapsed.Seconds(),
		SignalsProcessed: len(signals),
		Monitoring:       MonitoringInfo{ExecutionID: exec.ID()},
	}
	if report.Best != nil {
		resp.BestParams = &report.Best.Params
		resp.BestPerformance = report.Best.Metrics
	}

	s.cacheSet(r, fingerprint, resp, resultcache.ClassOptimization)

	trades := 0
	if report.Best != nil {
		trades = report.Best.Trades
	}
	exec.LogBacktestComplete(trades, resp.BestPerformance)
	exec.Complete()
	timer.Done(func(e *zerolog.Event) *zerolog.Event {
		return e.Int("combinations", len(report.Results)).Int("failed", report.Failed)
	})

	s.writeJSON(w, http.StatusOK, resp)
}

type simulationOutput struct {
	result  *domain.SimulationResult
	metrics *metrics.PerformanceMetrics
}

// runSimulation converts an engine panic into an error so the handler can
// answer with a 500 instead of tearing the connection down.
func runSimulation(fn func() *simulationOutput) (out *simulationOutput, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("simulation failed: %v", r)
		}
	}()
	return fn(), nil
}

// cacheGet wraps the cache read with operation timing for the monitor.
func (s *Server) cacheGet(r *http.Request, key string) (json.RawMessage, bool) {
	if !s.cfg.CacheEnabled {
		return nil, false
	}
	opStart := time.Now()
	payload, hit := s.cache.Get(r.Context(), key)
	s.tracker.RecordCacheOp("get", time.Since(opStart), hit)
	return payload, hit
}

// cacheSet wraps the cache write with operation timing for the monitor.
func (s *Server) cacheSet(r *http.Request, key string, value interface{}, class string) {
	if !s.cfg.CacheEnabled {
		return
	}
	opStart := time.Now()
	s.cache.Set(r.Context(), key, value, class)
	s.tracker.RecordCacheOp("set", time.Since(opStart), false)
}
