package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketgrid/signalbench/internal/config"
	"github.com/marketgrid/signalbench/internal/monitor"
	"github.com/marketgrid/signalbench/internal/resultcache"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := &config.Config{
		DataDir:       t.TempDir(),
		Port:          0,
		MaxWorkers:    2,
		RiskFreeRate:  0.06,
		CacheEnabled:  true,
		RetentionDays: 30,
	}

	cache := resultcache.Open(cfg.DataDir, time.Second, 1, zerolog.Nop())
	t.Cleanup(func() { cache.Close() })

	return New(Deps{
		Config:  cfg,
		Log:     zerolog.Nop(),
		Cache:   cache,
		Tracker: monitor.NewTracker(100, zerolog.Nop()),
		Sampler: monitor.NewHealthSampler(time.Hour, 10, zerolog.Nop()),
	})
}

// takeProfitRunBody is the single-long-take-profit scenario on the wire.
func takeProfitRunBody() map[string]interface{} {
	return map[string]interface{}{
		"signals_data": []map[string]interface{}{
			{"ticker": "X", "date": "2023-01-02"},
		},
		"ohlcv_data": []map[string]interface{}{
			{"ticker": "X", "date": "2023-01-02", "open": 100, "high": 100, "low": 99, "close": 100, "volume": 1000},
			{"ticker": "X", "date": "2023-01-03", "open": 110, "high": 112, "low": 100, "close": 110, "volume": 1000},
			{"ticker": "X", "date": "2023-01-04", "open": 118, "high": 120, "low": 108, "close": 118, "volume": 1000},
		},
		"initial_capital": 100000,
		"stop_loss":       5.0,
		"take_profit":     10.0,
		"holding_period":  3,
		"signal_type":     "long",
		"position_sizing": "equal_weight",
	}
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "healthy", payload["status"])
	assert.NotEmpty(t, payload["timestamp"])
}

func TestRun_TakeProfitScenario(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/run", takeProfitRunBody(), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp RunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	require.Len(t, resp.Trades, 1)
	trade := resp.Trades[0]
	assert.Equal(t, int64(20), trade.Shares)
	assert.InDelta(t, 110.0, trade.ExitPrice, 1e-9)
	assert.InDelta(t, 200.0, trade.PnL, 1e-9)

	require.NotNil(t, resp.Performance)
	assert.InDelta(t, 0.2, resp.Performance.TotalReturnPct, 1e-9)
	assert.InDelta(t, 100200.0, resp.Performance.FinalPortfolioValue, 1e-9)

	assert.Equal(t, 1, resp.SignalsProcessed)
	assert.NotEmpty(t, resp.Monitoring.ExecutionID)
	assert.False(t, resp.Monitoring.FromCache)
	assert.NotEmpty(t, resp.Summary)
	require.Len(t, resp.EquityCurve, 1)
	assert.Equal(t, "2023-01-03", resp.EquityCurve[0].Date)
}

func TestRun_SecondCallServedFromCache(t *testing.T) {
	s := newTestServer(t)

	first := doJSON(t, s, http.MethodPost, "/run", takeProfitRunBody(), nil)
	require.Equal(t, http.StatusOK, first.Code)

	second := doJSON(t, s, http.MethodPost, "/run", takeProfitRunBody(), nil)
	require.Equal(t, http.StatusOK, second.Code)

	var resp RunResponse
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &resp))
	assert.True(t, resp.Monitoring.FromCache)
	assert.True(t, resp.Monitoring.CacheHit)
	require.Len(t, resp.Trades, 1)
	assert.InDelta(t, 200.0, resp.Trades[0].PnL, 1e-9)
}

func TestRun_ValidationFailures(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		mutate func(body map[string]interface{})
	}{
		{"empty signals", func(b map[string]interface{}) { b["signals_data"] = []map[string]interface{}{} }},
		{"empty bars", func(b map[string]interface{}) { b["ohlcv_data"] = []map[string]interface{}{} }},
		{"zero capital", func(b map[string]interface{}) { b["initial_capital"] = 0 }},
		{"bad holding period", func(b map[string]interface{}) { b["holding_period"] = 0 }},
		{"unknown direction", func(b map[string]interface{}) { b["signal_type"] = "diagonal" }},
		{"unknown sizing", func(b map[string]interface{}) { b["position_sizing"] = "martingale" }},
		{"negative stop", func(b map[string]interface{}) { b["stop_loss"] = -1 }},
		{"bad date", func(b map[string]interface{}) {
			b["signals_data"] = []map[string]interface{}{{"ticker": "X", "date": "02/01/2023"}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := takeProfitRunBody()
			tt.mutate(body)

			rec := doJSON(t, s, http.MethodPost, "/run", body, nil)
			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

			var payload map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
			assert.NotEmpty(t, payload["detail"])
		})
	}
}

func TestRun_MalformedJSON(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/run", bytes.NewBufferString("{nope"))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestRun_DuplicateBarDays(t *testing.T) {
	s := newTestServer(t)

	body := takeProfitRunBody()
	body["ohlcv_data"] = []map[string]interface{}{
		{"ticker": "X", "date": "2023-01-02", "open": 100, "high": 100, "low": 99, "close": 100, "volume": 1},
		{"ticker": "X", "date": "2023-01-02", "open": 101, "high": 101, "low": 99, "close": 101, "volume": 1},
	}

	rec := doJSON(t, s, http.MethodPost, "/run", body, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestOptimize_SingleCellMatchesRun(t *testing.T) {
	s := newTestServer(t)

	runRec := doJSON(t, s, http.MethodPost, "/run", takeProfitRunBody(), nil)
	require.Equal(t, http.StatusOK, runRec.Code)
	var runResp RunResponse
	require.NoError(t, json.Unmarshal(runRec.Body.Bytes(), &runResp))

	body := takeProfitRunBody()
	body["param_ranges"] = map[string]interface{}{
		"holding_period": []int{3},
		"stop_loss":      []float64{5.0},
		"take_profit":    []float64{10.0},
	}

	rec := doJSON(t, s, http.MethodPost, "/optimize", body, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp OptimizeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	require.Len(t, resp.AllResults, 1)
	require.NotNil(t, resp.BestPerformance)
	assert.Equal(t, runResp.Performance.TotalTrades, resp.BestPerformance.TotalTrades)
	assert.InDelta(t, runResp.Performance.TotalReturnPct, resp.BestPerformance.TotalReturnPct, 1e-10)
	assert.InDelta(t, runResp.Performance.TotalPnL, resp.BestPerformance.TotalPnL, 1e-10)
	require.NotNil(t, resp.BestParams)
	assert.Equal(t, 3, resp.BestParams.HoldingPeriodDays)
}

func TestOptimize_ValidatesRanges(t *testing.T) {
	s := newTestServer(t)

	body := takeProfitRunBody()
	body["param_ranges"] = map[string]interface{}{
		"holding_period": []int{},
		"stop_loss":      []float64{5.0},
	}

	rec := doJSON(t, s, http.MethodPost, "/optimize", body, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestMonitoringEndpoints(t *testing.T) {
	s := newTestServer(t)

	// Seed one execution with a user header.
	rec := doJSON(t, s, http.MethodPost, "/run", takeProfitRunBody(), map[string]string{
		"X-User-ID":        "alice",
		"X-Correlation-ID": "corr-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var runResp RunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runResp))
	assert.Equal(t, "corr-1", runResp.Monitoring.ExecutionID)

	rec = doJSON(t, s, http.MethodGet, "/monitoring/execution/corr-1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var record monitor.ExecutionRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.Equal(t, "alice", record.UserID)
	assert.Equal(t, monitor.StatusCompleted, record.Status)
	assert.Equal(t, 1, record.SignalsCount)

	rec = doJSON(t, s, http.MethodGet, "/monitoring/execution/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/monitoring/user/alice", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var activity struct {
		Executions []monitor.ExecutionRecord `json:"executions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &activity))
	assert.Len(t, activity.Executions, 1)

	rec = doJSON(t, s, http.MethodGet, "/monitoring/active", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/monitoring/analytics?days=7", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var agg monitor.AggregatedStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &agg))
	assert.Equal(t, 1, agg.Total)

	rec = doJSON(t, s, http.MethodGet, "/monitoring/cache", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/monitoring/stats", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/monitoring/export", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "executions.json")

	rec = doJSON(t, s, http.MethodGet, "/monitoring/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMonitoringCleanup(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodDelete, "/monitoring/data?days=7", nil, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "Cleanup without confirm is refused")

	rec = doJSON(t, s, http.MethodDelete, "/monitoring/data?confirm=true&days=7", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, float64(7), payload["days"])
}

func TestCacheEndpoints(t *testing.T) {
	s := newTestServer(t)

	require.Equal(t, http.StatusOK, doJSON(t, s, http.MethodPost, "/run", takeProfitRunBody(), nil).Code)

	rec := doJSON(t, s, http.MethodGet, "/cache/stats", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats resultcache.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.True(t, stats.Enabled)
	assert.Equal(t, int64(1), stats.Sets)

	rec = doJSON(t, s, http.MethodDelete, "/cache?pattern=*", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cleared map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cleared))
	assert.Equal(t, float64(1), cleared["removed"])
}

func TestRun_LeverageWarningInSummary(t *testing.T) {
	s := newTestServer(t)

	body := map[string]interface{}{
		"signals_data": []map[string]interface{}{
			{"ticker": "X", "date": "2023-01-02"},
			{"ticker": "Y", "date": "2023-01-02"},
		},
		"ohlcv_data":      flatWire("X", 5),
		"initial_capital": 1000,
		"stop_loss":       5.0,
		"holding_period":  2,
		"signal_type":     "long",
		"position_sizing": "fixed_amount",
		"sizing_params":   map[string]interface{}{"amount": 600},
	}
	body["ohlcv_data"] = append(body["ohlcv_data"].([]map[string]interface{}), flatWire("Y", 5)...)

	rec := doJSON(t, s, http.MethodPost, "/run", body, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp RunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Trades, 1)
	assert.Contains(t, resp.Summary, "leverage warning")
}

func TestBackupEndpoints_Unconfigured(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/backup", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/backup/list", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func flatWire(ticker string, days int) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, days)
	for i := 0; i < days; i++ {
		out = append(out, map[string]interface{}{
			"ticker": ticker,
			"date":   fmt.Sprintf("2023-01-%02d", 2+i),
			"open":   100, "high": 100, "low": 100, "close": 100, "volume": 1000,
		})
	}
	return out
}
