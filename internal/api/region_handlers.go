package api

import (
	"log"
	"net/http"
	"time"

	"github.com/earthring/zonesync/internal/auth"
	"github.com/earthring/zonesync/internal/database"
)

// RegionLister reads the selectable province and district hierarchy.
type RegionLister interface {
	ListProvinces() ([]database.Province, error)
}

// RegionHandlers serves the region catalog to the map.
type RegionHandlers struct {
	regions RegionLister
}

// NewRegionHandlers creates a new RegionHandlers instance.
func NewRegionHandlers(regions RegionLister) *RegionHandlers {
	return &RegionHandlers{regions: regions}
}

// ListRegions handles GET /api/regions
func (h *RegionHandlers) ListRegions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	provinces, err := h.regions.ListProvinces()
	if err != nil {
		log.Printf("[Regions] Failed to list provinces: %v", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to load regions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"provinces": provinces,
	})
}

// SetupRegionRoutes registers the region catalog route.
func SetupRegionRoutes(mux *http.ServeMux, handlers *RegionHandlers, mw *auth.Middleware, limits *RateLimiter) {
	rateLimit := limits.PerUser("regions", 300, 1*time.Minute)
	mux.Handle("/api/regions", mw.Authenticate(rateLimit(http.HandlerFunc(handlers.ListRegions))))
}
