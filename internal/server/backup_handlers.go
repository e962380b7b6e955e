package server

import (
	"net/http"
)

// handleBackupCreate snapshots the cache database and uploads it. 503 when
// no backup target is configured.
func (s *Server) handleBackupCreate(w http.ResponseWriter, r *http.Request) {
	if s.backup == nil {
		s.writeError(w, http.StatusServiceUnavailable, "backups are not configured")
		return
	}

	if err := s.backup.CreateAndUpload(r.Context()); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "uploaded"})
}

// handleBackupList returns the stored backups, newest first.
func (s *Server) handleBackupList(w http.ResponseWriter, r *http.Request) {
	if s.backup == nil {
		s.writeError(w, http.StatusServiceUnavailable, "backups are not configured")
		return
	}

	backups, err := s.backup.ListBackups(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"backups": backups})
}
