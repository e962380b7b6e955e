// Package server provides the HTTP surface: backtest execution, grid
// optimization, cache administration, and the monitoring read-outs.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/marketgrid/signalbench/internal/config"
	"github.com/marketgrid/signalbench/internal/monitor"
	"github.com/marketgrid/signalbench/internal/reliability"
	"github.com/marketgrid/signalbench/internal/resultcache"
)

// requestTimeout bounds one HTTP request end to end; a large optimization
// grid is the slowest expected path.
const requestTimeout = 120 * time.Second

// Correlation headers.
const (
	headerUserID        = "X-User-ID"
	headerCorrelationID = "X-Correlation-ID"
)

// Deps carries the wired subsystems.
type Deps struct {
	Config  *config.Config
	Log     zerolog.Logger
	Cache   *resultcache.Cache
	Tracker *monitor.Tracker
	Sampler *monitor.HealthSampler
	Backup  *reliability.BackupService // nil when backups are not configured
}

// Server is the HTTP server.
type Server struct {
	router  *chi.Mux
	server  *http.Server
	cfg     *config.Config
	log     zerolog.Logger
	cache   *resultcache.Cache
	tracker *monitor.Tracker
	sampler *monitor.HealthSampler
	backup  *reliability.BackupService
}

// New builds the server with middleware and routes configured.
func New(deps Deps) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		cfg:     deps.Config,
		log:     deps.Log.With().Str("component", "server").Logger(),
		cache:   deps.Cache,
		tracker: deps.Tracker,
		sampler: deps.Sampler,
		backup:  deps.Backup,
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", deps.Config.Port),
		Handler: s.router,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(requestTimeout))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", headerUserID, headerCorrelationID},
		AllowCredentials: false,
		MaxAge:           300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Post("/run", s.handleRun)
	s.router.Post("/optimize", s.handleOptimize)

	s.router.Get("/cache/stats", s.handleCacheStats)
	s.router.Delete("/cache", s.handleCacheClear)

	s.router.Post("/backup", s.handleBackupCreate)
	s.router.Get("/backup/list", s.handleBackupList)

	s.router.Route("/monitoring", func(r chi.Router) {
		r.Get("/health", s.handleMonitoringHealth)
		r.Get("/cache", s.handleMonitoringCache)
		r.Get("/active", s.handleMonitoringActive)
		r.Get("/analytics", s.handleMonitoringAnalytics)
		r.Get("/stats", s.handleMonitoringStats)
		r.Get("/export", s.handleMonitoringExport)
		r.Get("/execution/{id}", s.handleMonitoringExecution)
		r.Get("/user/{user_id}", s.handleMonitoringUser)
		r.Delete("/data", s.handleMonitoringCleanup)
	})
}

// Start runs the HTTP listener. Blocks until shutdown or failure.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Router exposes the handler tree, used by tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// loggingMiddleware logs one line per HTTP request.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode response")
	}
}

// writeError emits the {detail: ...} error shape.
func (s *Server) writeError(w http.ResponseWriter, status int, detail string) {
	s.writeJSON(w, status, map[string]string{"detail": detail})
}

// decodeJSON parses the request body into dst, mapping failures to a
// validation error.
func decodeJSON(r *http.Request, dst interface{}) error {
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(dst); err != nil {
		return invalidf("malformed JSON body: %v", err)
	}
	return nil
}
