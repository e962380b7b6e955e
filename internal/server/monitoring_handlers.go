package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// handleMonitoringHealth returns the latest sample plus recent history.
func (s *Server) handleMonitoringHealth(w http.ResponseWriter, r *http.Request) {
	latest, ok := s.sampler.Latest()
	payload := map[string]interface{}{
		"sampling": ok,
		"history":  s.sampler.History(),
	}
	if ok {
		payload["latest"] = latest
	}
	s.writeJSON(w, http.StatusOK, payload)
}

// handleMonitoringCache returns rolling cache-operation counters.
func (s *Server) handleMonitoringCache(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.tracker.CachePerformance())
}

// handleMonitoringActive lists in-flight executions.
func (s *Server) handleMonitoringActive(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"active": s.tracker.ActiveExecutions(),
	})
}

// handleMonitoringAnalytics aggregates execution history over ?days (default 7).
func (s *Server) handleMonitoringAnalytics(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 7)
	s.writeJSON(w, http.StatusOK, s.tracker.Aggregated(days))
}

// handleMonitoringStats combines execution aggregates with cache state.
func (s *Server) handleMonitoringStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"executions": s.tracker.Aggregated(queryInt(r, "days", 30)),
		"cache":      s.cache.Stats(r.Context()),
	})
}

// handleMonitoringExport streams the full telemetry snapshot.
func (s *Server) handleMonitoringExport(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	data, err := s.tracker.Export(format)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="executions.json"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to write export")
	}
}

// handleMonitoringExecution returns one execution by id.
func (s *Server) handleMonitoringExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	record, ok := s.tracker.ExecutionSummary(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "execution not found")
		return
	}
	s.writeJSON(w, http.StatusOK, record)
}

// handleMonitoringUser returns recent activity for one user.
func (s *Server) handleMonitoringUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	limit := queryInt(r, "limit", 50)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":    userID,
		"executions": s.tracker.UserActivity(userID, limit),
	})
}

// handleMonitoringCleanup prunes telemetry older than ?days. Requires
// ?confirm=true.
func (s *Server) handleMonitoringCleanup(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("confirm") != "true" {
		s.writeError(w, http.StatusUnprocessableEntity, "cleanup requires confirm=true")
		return
	}

	days := queryInt(r, "days", s.cfg.RetentionDays)
	if days < 1 {
		s.writeError(w, http.StatusUnprocessableEntity, "days must be at least 1")
		return
	}

	removed := s.tracker.Cleanup(days)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"removed": removed,
		"days":    days,
	})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
