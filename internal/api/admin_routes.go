package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/earthring/zonesync/internal/auth"
)

// SetupAdminRoutes registers admin management routes.
func SetupAdminRoutes(mux *http.ServeMux, handlers *AdminHandlers, mw *auth.Middleware, limits *RateLimiter) {
	userRateLimit := limits.PerUser("admin", 10, 1*time.Minute) // Lower rate limit for admin operations

	adminHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/api/admin")
		path = strings.Trim(path, "/")

		switch {
		case r.Method == http.MethodGet && path == "zones/count":
			handlers.GetZoneCount(w, r)
		case r.Method == http.MethodDelete && path == "zones/reset":
			handlers.ResetAllZones(w, r)
		case r.Method == http.MethodGet && path == "sync-stats":
			handlers.GetSyncStats(w, r)
		case r.Method == http.MethodDelete && path == "sync-stats":
			handlers.ResetSyncStats(w, r)
		default:
			http.NotFound(w, r)
		}
	})

	protected := mw.Authenticate(userRateLimit(mw.RequireRole(auth.RoleAdmin)(adminHandler)))

	mux.Handle("/api/admin/", protected)
	mux.Handle("/api/admin", protected)
}
