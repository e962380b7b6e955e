package server

import (
	"net/http"
)

// handleCacheStats returns cache counters and backend state.
func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.cache.Stats(r.Context()))
}

// handleCacheClear removes entries matching ?pattern (SQL LIKE syntax, with
// "*" accepted as a wildcard). No pattern clears everything.
func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")
	if pattern == "*" {
		pattern = ""
	}

	removed, err := s.cache.Clear(r.Context(), pattern)
	if err != nil {
		// Cache failures degrade, they never fail the request.
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"removed": 0,
			"warning": err.Error(),
		})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{"removed": removed})
}
