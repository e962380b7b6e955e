// Package monitor provides runtime telemetry: per-execution tracking with
// bounded history, rolling cache-operation counters, and a background health
// sampler. Everything lives in memory; the monitor never blocks or fails the
// request paths it observes.
package monitor

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"
)

const (
	// DefaultHistoryLimit bounds the execution history ring.
	DefaultHistoryLimit = 10000
	// bytesPerMB converts RSS readings.
	bytesPerMB = 1024 * 1024
)

// Execution statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ExecutionRecord is the persisted view of one tracked execution.
type ExecutionRecord struct {
	ID            string                 `json:"id"`
	UserID        string                 `json:"user_id,omitempty"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Status        string                 `json:"status"`
	StartTime     time.Time              `json:"start_time"`
	EndTime       *time.Time             `json:"end_time,omitempty"`
	DurationMs    float64                `json:"duration_ms"`
	SignalsCount  int                    `json:"signals_count"`
	TradesCount   int                    `json:"trades_count"`
	Parameters    map[string]interface{} `json:"parameters,omitempty"`
	Metrics       interface{}            `json:"performance_metrics,omitempty"`
	CacheHit      bool                   `json:"cache_hit"`
	MemoryMB      float64                `json:"memory_mb"`
	CPUPct        float64                `json:"cpu_pct"`
	ErrorMessage  string                 `json:"error_message,omitempty"`
}

// Execution is an in-flight tracking scope handed to the request path.
// Exactly one of Complete or Fail must be called.
type Execution struct {
	tracker *Tracker
	record  *ExecutionRecord
}

// ID returns the execution identifier.
func (e *Execution) ID() string { return e.record.ID }

// LogBacktestStart attaches the input shape and request parameters.
func (e *Execution) LogBacktestStart(signalsCount int, params map[string]interface{}) {
	e.tracker.mu.Lock()
	e.record.SignalsCount = signalsCount
	e.record.Parameters = params
	e.tracker.mu.Unlock()
}

// LogBacktestComplete attaches the output shape and performance summary.
func (e *Execution) LogBacktestComplete(tradesCount int, metrics interface{}) {
	e.tracker.mu.Lock()
	e.record.TradesCount = tradesCount
	e.record.Metrics = metrics
	e.tracker.mu.Unlock()
}

// SetCacheHit marks the execution as served from cache.
func (e *Execution) SetCacheHit(hit bool) {
	e.tracker.mu.Lock()
	e.record.CacheHit = hit
	e.tracker.mu.Unlock()
}

// Complete closes the scope successfully.
func (e *Execution) Complete() {
	e.tracker.finish(e.record, "")
}

// Fail closes the scope with an error message.
func (e *Execution) Fail(err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	e.tracker.finish(e.record, msg)
}

// cacheOpStats accumulates rolling cache-operation counters per kind.
type cacheOpStats struct {
	Count       int64   `json:"count"`
	Hits        int64   `json:"hits"`
	TotalTimeMs float64 `json:"total_time_ms"`
}

// Tracker records executions into a bounded in-memory ring plus per-user
// activity, and keeps rolling cache-operation counters.
type Tracker struct {
	historyLimit int
	log          zerolog.Logger
	proc         *process.Process

	mu       sync.Mutex
	history  []*ExecutionRecord // oldest first, capped at historyLimit
	active   map[string]*ExecutionRecord
	byUser   map[string][]*ExecutionRecord
	cacheOps map[string]*cacheOpStats
}

// NewTracker creates a tracker. historyLimit <= 0 uses the default.
func NewTracker(historyLimit int, log zerolog.Logger) *Tracker {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		proc = nil
	}

	return &Tracker{
		historyLimit: historyLimit,
		log:          log.With().Str("component", "execution_tracker").Logger(),
		proc:         proc,
		history:      make([]*ExecutionRecord, 0, 256),
		active:       make(map[string]*ExecutionRecord),
		byUser:       make(map[string][]*ExecutionRecord),
		cacheOps: map[string]*cacheOpStats{
			"get": {},
			"set": {},
		},
	}
}

// Track opens an execution scope and captures the resource baseline.
// A caller-supplied correlation id becomes the execution id.
func (t *Tracker) Track(userID, correlationID string) *Execution {
	id := correlationID
	if id == "" {
		id = uuid.New().String()
	}

	record := &ExecutionRecord{
		ID:            id,
		UserID:        userID,
		CorrelationID: correlationID,
		Status:        StatusRunning,
		StartTime:     time.Now(),
	}
	record.MemoryMB, record.CPUPct = t.resourceSnapshot()

	t.mu.Lock()
	t.active[record.ID] = record
	t.mu.Unlock()

	t.log.Debug().
		Str("execution_id", record.ID).
		Str("user_id", userID).
		Msg("Execution started")

	return &Execution{tracker: t, record: record}
}

func (t *Tracker) finish(record *ExecutionRecord, errMsg string) {
	end := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	record.EndTime = &end
	record.DurationMs = float64(end.Sub(record.StartTime)) / float64(time.Millisecond)
	if errMsg != "" {
		record.Status = StatusFailed
		record.ErrorMessage = errMsg
	} else {
		record.Status = StatusCompleted
	}

	delete(t.active, record.ID)

	t.history = append(t.history, record)
	if len(t.history) > t.historyLimit {
		t.history = t.history[len(t.history)-t.historyLimit:]
	}

	if record.UserID != "" {
		t.byUser[record.UserID] = append(t.byUser[record.UserID], record)
	}
}

// RecordCacheOp updates the rolling counters for one cache operation.
// kind is "get" or "set"; hit only applies to gets.
func (t *Tracker) RecordCacheOp(kind string, duration time.Duration, hit bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats, ok := t.cacheOps[kind]
	if !ok {
		return
	}
	stats.Count++
	stats.TotalTimeMs += float64(duration) / float64(time.Millisecond)
	if hit {
		stats.Hits++
	}
}

// ExecutionSummary returns the record for id, searching active then history.
func (t *Tracker) ExecutionSummary(id string) (*ExecutionRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if record, ok := t.active[id]; ok {
		copied := *record
		return &copied, true
	}
	for i := len(t.history) - 1; i >= 0; i-- {
		if t.history[i].ID == id {
			copied := *t.history[i]
			return &copied, true
		}
	}
	return nil, false
}

// ActiveExecutions returns snapshots of in-flight executions.
func (t *Tracker) ActiveExecutions() []ExecutionRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]ExecutionRecord, 0, len(t.active))
	for _, record := range t.active {
		out = append(out, *record)
	}
	return out
}

// AggregatedStats summarizes completed executions within a trailing window.
type AggregatedStats struct {
	WindowDays    int     `json:"window_days"`
	Total         int     `json:"total"`
	Completed     int     `json:"completed"`
	Failed        int     `json:"failed"`
	CacheHits     int     `json:"cache_hits"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
	TotalSignals  int     `json:"total_signals"`
	TotalTrades   int     `json:"total_trades"`
}

// Aggregated reduces history over the last days.
func (t *Tracker) Aggregated(days int) AggregatedStats {
	cutoff := time.Now().AddDate(0, 0, -days)

	t.mu.Lock()
	defer t.mu.Unlock()

	stats := AggregatedStats{WindowDays: days}
	var totalDuration float64

	for _, record := range t.history {
		if record.StartTime.Before(cutoff) {
			continue
		}
		stats.Total++
		totalDuration += record.DurationMs
		stats.TotalSignals += record.SignalsCount
		stats.TotalTrades += record.TradesCount
		if record.Status == StatusFailed {
			stats.Failed++
		} else {
			stats.Completed++
		}
		if record.CacheHit {
			stats.CacheHits++
		}
	}

	if stats.Total > 0 {
		stats.AvgDurationMs = totalDuration / float64(stats.Total)
	}
	return stats
}

// UserActivity returns the most recent executions, newest first. Empty
// userID means all users.
func (t *Tracker) UserActivity(userID string, limit int) []ExecutionRecord {
	if limit <= 0 {
		limit = 50
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var source []*ExecutionRecord
	if userID != "" {
		source = t.byUser[userID]
	} else {
		source = t.history
	}

	out := make([]ExecutionRecord, 0, limit)
	for i := len(source) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, *source[i])
	}
	return out
}

// CachePerformance returns rolling cache counters keyed by operation kind,
// plus the derived hit rate.
func (t *Tracker) CachePerformance() map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	get := *t.cacheOps["get"]
	set := *t.cacheOps["set"]

	hitRate := 0.0
	if get.Count > 0 {
		hitRate = float64(get.Hits) / float64(get.Count) * 100
	}
	avgGet := 0.0
	if get.Count > 0 {
		avgGet = get.TotalTimeMs / float64(get.Count)
	}
	avgSet := 0.0
	if set.Count > 0 {
		avgSet = set.TotalTimeMs / float64(set.Count)
	}

	return map[string]interface{}{
		"get":             get,
		"set":             set,
		"hit_rate_pct":    hitRate,
		"avg_get_time_ms": avgGet,
		"avg_set_time_ms": avgSet,
	}
}

// Export serializes history and active executions. Only "json" is supported.
func (t *Tracker) Export(format string) ([]byte, error) {
	if format != "" && format != "json" {
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}

	t.mu.Lock()
	snapshot := struct {
		ExportedAt time.Time          `json:"exported_at"`
		Active     []*ExecutionRecord `json:"active"`
		History    []*ExecutionRecord `json:"history"`
	}{
		ExportedAt: time.Now(),
		History:    append([]*ExecutionRecord(nil), t.history...),
	}
	for _, record := range t.active {
		snapshot.Active = append(snapshot.Active, record)
	}
	t.mu.Unlock()

	return json.MarshalIndent(snapshot, "", "  ")
}

// Cleanup drops history and per-user activity older than days. Returns the
// number of records removed.
func (t *Tracker) Cleanup(days int) int {
	cutoff := time.Now().AddDate(0, 0, -days)

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0

	kept := t.history[:0]
	for _, record := range t.history {
		if record.StartTime.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, record)
	}
	t.history = kept

	for userID, records := range t.byUser {
		keptUser := records[:0]
		for _, record := range records {
			if !record.StartTime.Before(cutoff) {
				keptUser = append(keptUser, record)
			}
		}
		if len(keptUser) == 0 {
			delete(t.byUser, userID)
		} else {
			t.byUser[userID] = keptUser
		}
	}

	if removed > 0 {
		t.log.Info().Int("removed", removed).Int("days", days).Msg("Execution history pruned")
	}
	return removed
}

// resourceSnapshot reads the process RSS and CPU. Best-effort.
func (t *Tracker) resourceSnapshot() (memMB, cpuPct float64) {
	if t.proc == nil {
		return 0, 0
	}
	if memInfo, err := t.proc.MemoryInfo(); err == nil && memInfo != nil {
		memMB = float64(memInfo.RSS) / bytesPerMB
	}
	if pct, err := t.proc.CPUPercent(); err == nil {
		cpuPct = pct
	}
	return memMB, cpuPct
}
