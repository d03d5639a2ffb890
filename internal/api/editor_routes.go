package api

import (
	"net/http"
)

// SetupEditorRoutes registers the zone editor websocket. Authentication
// happens inside the handler because browsers cannot set headers on a
// websocket handshake.
func SetupEditorRoutes(mux *http.ServeMux, handlers *EditorHandlers, rateLimit string, limits *RateLimiter) {
	limit := limits.Formatted("editor", rateLimit)
	mux.Handle("/ws/zone-editor", limit(http.HandlerFunc(handlers.HandleWebSocket)))
}
