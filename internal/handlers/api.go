package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/casestrainer/internal/common"
	"github.com/ternarybob/casestrainer/internal/interfaces"
)

// APIHandler serves health, version and fallthrough routes.
type APIHandler struct {
	storage interfaces.StorageManager
	queue   interfaces.QueueManager
	logger  arbor.ILogger
}

func NewAPIHandler(storage interfaces.StorageManager, queue interfaces.QueueManager, logger arbor.ILogger) *APIHandler {
	return &APIHandler{
		storage: storage,
		queue:   queue,
		logger:  logger,
	}
}

// VersionHandler returns version information
func (h *APIHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"version":    common.GetVersion(),
		"build":      common.GetBuild(),
		"git_commit": common.GetGitCommit(),
	})
}

// HealthHandler probes storage and queue and reports healthy or degraded.
// The endpoint always answers 200 so load balancers read the body, not the
// status code.
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "healthy"
	checks := map[string]string{"storage": "ok", "queue": "ok"}

	if _, err := h.storage.CacheStorage().Stats(ctx); err != nil {
		h.logger.Warn().Err(err).Msg("Health probe: storage check failed")
		checks["storage"] = err.Error()
		status = "degraded"
	}
	if _, err := h.queue.Length(ctx); err != nil {
		h.logger.Warn().Err(err).Msg("Health probe: queue check failed")
		checks["queue"] = err.Error()
		status = "degraded"
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":  status,
		"version": common.GetVersion(),
		"checks":  checks,
	})
}

// NotFoundHandler handles 404 errors with JSON response
func (h *APIHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusNotFound, map[string]interface{}{
		"error":   "Not Found",
		"path":    r.URL.Path,
		"message": "The requested endpoint does not exist",
	})
}
