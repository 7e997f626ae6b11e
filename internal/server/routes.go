package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - analysis submission
	mux.HandleFunc("/api/analyze", s.app.AnalyzeHandler.AnalyzeHandler)

	// API routes - job polling and management
	mux.HandleFunc("/api/task_status/", s.app.JobHandler.TaskStatusHandler)
	mux.HandleFunc("/api/jobs", s.app.JobHandler.ListJobsHandler)
	mux.HandleFunc("/api/jobs/", s.handleJobRoutes) // /{id}/cancel, /{id}/report

	// API routes - verification cache
	mux.HandleFunc("/api/cache/clear-unverified", s.app.CacheHandler.ClearUnverifiedHandler)
	mux.HandleFunc("/api/cache/stats", s.app.CacheHandler.StatsHandler)

	// API routes - system
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleJobRoutes dispatches /api/jobs/{id}/... subpaths.
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case strings.HasSuffix(path, "/cancel"):
		s.app.JobHandler.CancelJobHandler(w, r)
	case strings.HasSuffix(path, "/report"):
		s.app.JobHandler.ReportHandler(w, r)
	default:
		s.app.APIHandler.NotFoundHandler(w, r)
	}
}
