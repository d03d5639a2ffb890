package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/earthring/zonesync/internal/auth"
)

// SetupZoneRoutes registers zone management routes.
// A nil limits keeps rate limit counters in memory.
func SetupZoneRoutes(mux *http.ServeMux, handlers *ZoneHandlers, mw *auth.Middleware, limits *RateLimiter) {
	userRateLimit := limits.PerUser("zones", 200, 1*time.Minute)

	zoneHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/api/zones")
		path = strings.Trim(path, "/")

		if r.Method == http.MethodPost && path == "" {
			handlers.CreateZone(w, r)
			return
		}
		if r.Method == http.MethodGet && path == "" {
			handlers.ListZones(w, r)
			return
		}

		id, err := parseID(path)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid zone ID")
			return
		}

		switch r.Method {
		case http.MethodGet:
			handlers.GetZone(w, r, id)
		case http.MethodPut:
			handlers.UpdateZone(w, r, id)
		case http.MethodDelete:
			handlers.DeleteZone(w, r, id)
		default:
			respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Authenticate first so the limiter can key on the user
	protected := mw.Authenticate(userRateLimit(mw.RequireRole(auth.RoleEditor)(zoneHandler)))

	mux.Handle("/api/zones/", protected)
	mux.Handle("/api/zones", protected)
}
