package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/casestrainer/internal/interfaces"
	"github.com/ternarybob/casestrainer/internal/models"
)

// CacheHandler exposes verification-cache operations.
type CacheHandler struct {
	storage interfaces.StorageManager
	logger  arbor.ILogger
}

func NewCacheHandler(storage interfaces.StorageManager, logger arbor.ILogger) *CacheHandler {
	return &CacheHandler{storage: storage, logger: logger}
}

// ClearUnverifiedHandler handles POST /api/cache/clear-unverified. Verified
// entries survive; only negative results are dropped so they can be retried
// against the backend.
func (h *CacheHandler) ClearUnverifiedHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	cleared, err := h.storage.CacheStorage().ClearNamespace(r.Context(), models.CacheNamespaceUnverified)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to clear unverified cache")
		WriteError(w, http.StatusInternalServerError, "failed to clear cache")
		return
	}

	h.logger.Info().Int("cleared", cleared).Msg("Unverified cache cleared")
	WriteJSON(w, http.StatusOK, map[string]int{"cleared": cleared})
}

// StatsHandler handles GET /api/cache/stats.
func (h *CacheHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	stats, err := h.storage.CacheStorage().Stats(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to read cache stats")
		WriteError(w, http.StatusInternalServerError, "failed to read cache stats")
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}
