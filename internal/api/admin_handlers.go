package api

import (
	"log"
	"net/http"

	"github.com/earthring/zonesync/internal/performance"
)

// AdminZoneStore is the bulk zone maintenance used by admins.
// *database.ZoneStorage implements it.
type AdminZoneStore interface {
	CountZones() (int64, error)
	DeleteAllZones(restartIDs bool) (int64, error)
}

// AdminHandlers handles admin operations
type AdminHandlers struct {
	zones    AdminZoneStore
	editor   *EditorHandlers
	hub      *EditorHub
	profiler *performance.Profiler
}

// NewAdminHandlers creates a new AdminHandlers instance. profiler may be nil.
func NewAdminHandlers(zones AdminZoneStore, editor *EditorHandlers, hub *EditorHub, profiler *performance.Profiler) *AdminHandlers {
	return &AdminHandlers{
		zones:    zones,
		editor:   editor,
		hub:      hub,
		profiler: profiler,
	}
}

// GetZoneCount handles GET /api/admin/zones/count
func (h *AdminHandlers) GetZoneCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.zones.CountZones()
	if err != nil {
		log.Printf("[Admin] Error counting zones: %v", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to count zones")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"count":   count,
	})
}

// ResetAllZones handles DELETE /api/admin/zones/reset?restart_ids=true|false
// restart_ids=true truncates the table so new zones start again at id 1.
func (h *AdminHandlers) ResetAllZones(w http.ResponseWriter, r *http.Request) {
	restartIDs := r.URL.Query().Get("restart_ids") == "true"

	mode := "delete"
	if restartIDs {
		mode = "truncate (restart ids)"
	}
	log.Printf("[Admin] Resetting all zones (mode: %s)...", mode)

	deletedCount, err := h.zones.DeleteAllZones(restartIDs)
	if err != nil {
		log.Printf("[Admin] Error resetting zones: %v", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to reset zones database")
		return
	}

	log.Printf("[Admin] Deleted %d zones (mode: %s)", deletedCount, mode)
	h.hub.BroadcastZoneEvent("zones_reset", 0)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"message":       "All zones deleted successfully",
		"deleted_count": deletedCount,
		"mode":          mode,
	})
}

// GetSyncStats handles GET /api/admin/sync-stats
func (h *AdminHandlers) GetSyncStats(w http.ResponseWriter, r *http.Request) {
	completed, totals := h.editor.Stats()
	response := map[string]interface{}{
		"active_editors":     h.hub.Count(),
		"sessions_completed": completed,
		"totals":             totals,
		"profiling":          h.profiler != nil,
	}
	if h.profiler != nil {
		response["profiler"] = h.profiler.Snapshot()
	}
	writeJSON(w, http.StatusOK, response)
}

// ResetSyncStats handles DELETE /api/admin/sync-stats
func (h *AdminHandlers) ResetSyncStats(w http.ResponseWriter, r *http.Request) {
	if h.profiler != nil {
		h.profiler.LogReport()
		h.profiler.Reset()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Sync timings reset",
	})
}
