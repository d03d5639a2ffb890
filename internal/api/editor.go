package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/earthring/zonesync/internal/auth"
	"github.com/earthring/zonesync/internal/config"
	"github.com/earthring/zonesync/internal/database"
	"github.com/earthring/zonesync/internal/lifecycle"
	"github.com/earthring/zonesync/internal/metrics"
	"github.com/earthring/zonesync/internal/performance"
	"github.com/earthring/zonesync/internal/selection"
	"github.com/earthring/zonesync/internal/surface"
	"github.com/earthring/zonesync/internal/syncctl"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
)

var errConnectionClosed = errors.New("connection closed")

// Server message types.
const (
	MessageSession         = "session"
	MessageState           = "state"
	MessageCommand         = "command"
	MessageSubmitted       = "submitted"
	MessageValidationError = "validation_error"
	MessagePong            = "pong"
)

// EditorHandlers serves the zone editor websocket. Every connection gets its
// own remote surface and a single editing session on it.
type EditorHandlers struct {
	store      ZoneStore
	hub        *EditorHub
	jwtService *auth.JWTService
	profiler   *performance.Profiler
	validate   *validator.Validate
	upgrader   websocket.Upgrader

	maxMessageSize int64
	pongWait       time.Duration
	writeWait      time.Duration

	mu        sync.Mutex
	completed int64
	totals    syncctl.Stats
}

// NewEditorHandlers creates the editor websocket handlers. profiler may be
// nil.
func NewEditorHandlers(store ZoneStore, hub *EditorHub, jwtService *auth.JWTService, cfg *config.Config, profiler *performance.Profiler) *EditorHandlers {
	return &EditorHandlers{
		store:      store,
		hub:        hub,
		jwtService: jwtService,
		profiler:   profiler,
		validate:   validator.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originAllowed(cfg.Server.AllowedOrigins),
		},
		maxMessageSize: cfg.Editor.MaxMessageSize,
		pongWait:       cfg.Editor.PongWait,
		writeWait:      cfg.Editor.WriteWait,
	}
}

// HandleWebSocket handles GET /ws/zone-editor?zone_id=
func (h *EditorHandlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token, err := auth.ExtractToken(r)
	if err != nil {
		log.Printf("[Editor] WebSocket authentication failed: %v", err)
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}
	claims, err := h.jwtService.ValidateAccessToken(token)
	if err != nil {
		log.Printf("[Editor] WebSocket token validation failed: %v", err)
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}
	if claims.Role != auth.RoleEditor && claims.Role != auth.RoleAdmin {
		http.Error(w, "Insufficient permissions", http.StatusForbidden)
		return
	}

	var zone *database.Zone
	if raw := r.URL.Query().Get("zone_id"); raw != "" {
		id, err := parseID(raw)
		if err != nil {
			http.Error(w, "Invalid zone ID", http.StatusBadRequest)
			return
		}
		zone, err = h.store.GetZoneByID(id)
		if err != nil {
			log.Printf("[Editor] Failed to load zone %d: %v", id, err)
			http.Error(w, "Failed to load zone", http.StatusInternalServerError)
			return
		}
		if zone == nil {
			http.Error(w, "Zone not found", http.StatusNotFound)
			return
		}
	}

	requestedVersions := r.Header.Get("Sec-WebSocket-Protocol")
	selectedVersion := negotiateVersion(requestedVersions)
	if selectedVersion == "" {
		log.Printf("[Editor] WebSocket version negotiation failed: requested=%s", requestedVersions)
		http.Error(w, "Unsupported protocol version", http.StatusBadRequest)
		return
	}
	responseHeaders := http.Header{}
	if requestedVersions != "" {
		responseHeaders.Set("Sec-WebSocket-Protocol", selectedVersion)
	}

	conn, err := h.upgrader.Upgrade(w, r, responseHeaders)
	if err != nil {
		log.Printf("[Editor] WebSocket upgrade failed: %v", err)
		return
	}

	editorConn := newEditorConnection(conn, h.hub, claims.UserID, claims.Username, selectedVersion)
	if !h.hub.add(editorConn) {
		_ = conn.Close()
		return
	}

	go editorConn.writePump(h.pongWait*9/10, h.writeWait)
	go h.serveSession(editorConn, zone)
}

// Stats returns the number of finished sessions and their summed controller
// counters.
func (h *EditorHandlers) Stats() (int64, syncctl.Stats) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.completed, h.totals
}

func (h *EditorHandlers) recordSession(stats syncctl.Stats) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.completed++
	h.totals.Processed += stats.Processed
	h.totals.Propagations += stats.Propagations
	h.totals.Dropped += stats.Dropped
	h.totals.Ignored += stats.Ignored
	h.totals.Rejected += stats.Rejected
	h.totals.RenderFailures += stats.RenderFailures
	metrics.ObserveOutcomes(stats.Processed, stats.Propagations, stats.Dropped, stats.Ignored, stats.Rejected, stats.RenderFailures)
}

// serveSession runs one editing session for the lifetime of conn. The
// session is released before the connection is unregistered so the final
// cleanup commands are still flushed to the client.
func (h *EditorHandlers) serveSession(conn *EditorConnection, zone *database.Zone) {
	defer h.hub.remove(conn)

	remote := surface.NewRemote(func(cmd surface.Command) error {
		return conn.sendMessage(MessageCommand, "", cmd)
	})
	recorder := metrics.SyncRecorder{}
	if h.profiler != nil {
		recorder.Next = h.profiler
	}
	manager := lifecycle.NewManager(remote, syncctl.WithRecorder(recorder))

	seed := selection.State{}
	es := &editorSession{handlers: h, conn: conn, remote: remote}
	if zone != nil {
		seed = zone.Selection()
		es.zoneID = zone.ID
	}

	err := manager.WithSession(seed, func(s *lifecycle.Session) error {
		es.session = s
		metrics.EditorSessionsTotal.Inc()
		metrics.EditorSessionsActive.Inc()
		defer metrics.EditorSessionsActive.Dec()

		unsubscribe := s.Model().Subscribe(func(change selection.Change) {
			es.sendState(change.State)
		})
		defer unsubscribe()

		if err := conn.sendMessage(MessageSession, "", map[string]interface{}{
			"session_id": s.ID,
			"zone_id":    es.zoneID,
		}); err != nil {
			return err
		}
		es.sendState(s.Model().Snapshot())

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = s.Run(ctx)
		}()
		defer func() {
			cancel()
			<-done
			h.recordSession(s.Controller().Stats())
		}()

		conn.readPump(h.maxMessageSize, h.pongWait, es.handleMessage)
		return nil
	})
	if err != nil {
		log.Printf("[Editor] Session for user %d ended with error: %v", conn.userID, err)
	}
}

type editorSession struct {
	handlers *EditorHandlers
	conn     *EditorConnection
	remote   *surface.Remote
	session  *lifecycle.Session

	// zoneID is only touched on the controller goroutine once Run starts.
	zoneID int64
}

// statePayload is the model as the client sees it.
type statePayload struct {
	selection.Payload
	Exclusivity selection.Exclusivity `json:"exclusivity"`
	Modality    string                `json:"modality"`
}

type idsData struct {
	IDs []selection.RegionID `json:"ids"`
}

type featureData struct {
	Feature selection.Feature `json:"feature"`
}

type featuresData struct {
	Features []selection.Feature `json:"features"`
}

type submitData struct {
	Name string `json:"name" validate:"max=255"`
}

func (es *editorSession) sendState(state selection.State) {
	err := es.conn.sendMessage(MessageState, "", statePayload{
		Payload:     selection.NewPayload(state),
		Exclusivity: selection.Evaluate(state),
		Modality:    state.Modality().String(),
	})
	if err != nil && !errors.Is(err, errConnectionClosed) {
		log.Printf("[Editor] Failed to send state: %v", err)
	}
}

// handleMessage routes a client message. It runs on the read pump.
func (es *editorSession) handleMessage(msg *WebSocketMessage) {
	switch msg.Type {
	case "ping":
		if err := es.conn.sendMessage(MessagePong, msg.ID, map[string]string{"status": "ok"}); err != nil {
			log.Printf("[Editor] Failed to send pong: %v", err)
		}

	case "selection_changed":
		var data idsData
		if es.decode(msg, &data) {
			es.remote.HandleClient(surface.SelectionChanged{IDs: data.IDs})
		}
	case "geometry_created":
		var data featureData
		if es.decode(msg, &data) {
			es.remote.HandleClient(surface.GeometryCreated{Feature: data.Feature})
		}
	case "geometry_edited":
		var data featuresData
		if es.decode(msg, &data) {
			es.remote.HandleClient(surface.GeometryEdited{Features: data.Features})
		}
	case "geometry_deleted":
		var data featuresData
		if es.decode(msg, &data) {
			es.remote.HandleClient(surface.GeometryDeleted{Features: data.Features})
		}

	case "set_districts":
		var data idsData
		if es.decode(msg, &data) {
			es.session.Controller().Post(syncctl.SetDistricts{IDs: data.IDs, Done: es.hostEditResult(msg.ID)})
		}
	case "set_polygon":
		var data featuresData
		if es.decode(msg, &data) {
			es.session.Controller().Post(syncctl.SetPolygon{Features: data.Features, Done: es.hostEditResult(msg.ID)})
		}

	case "clear_selection":
		es.session.Controller().Post(syncctl.ClearSelection{})

	case "submit":
		var data submitData
		if !es.decode(msg, &data) {
			return
		}
		if err := es.handlers.validate.Struct(data); err != nil {
			es.conn.sendError(msg.ID, requestValidationMessage(err), "InvalidRequest")
			return
		}
		es.session.Controller().Post(syncctl.Exec{Fn: func(*selection.Model) {
			es.submit(msg.ID, data.Name)
		}})

	default:
		es.conn.sendError(msg.ID, "Unknown message type: "+msg.Type, "UnknownMessageType")
	}
}

func (es *editorSession) decode(msg *WebSocketMessage, target interface{}) bool {
	if len(msg.Data) == 0 {
		es.conn.sendError(msg.ID, "Missing message data", "InvalidMessageFormat")
		return false
	}
	if err := json.Unmarshal(msg.Data, target); err != nil {
		es.conn.sendError(msg.ID, "Invalid message data", "InvalidMessageFormat")
		return false
	}
	return true
}

// hostEditResult reports a refused host edit back to the client.
func (es *editorSession) hostEditResult(id string) func(error) {
	return func(err error) {
		if err == nil {
			return
		}
		code := "InvalidSelection"
		switch {
		case errors.Is(err, selection.ErrCardinality):
			code = "Cardinality"
		case errors.Is(err, syncctl.ErrLocked):
			code = "SelectionLocked"
		}
		es.conn.sendError(id, err.Error(), code)
	}
}

// submit validates and persists the session's selection. It runs on the
// controller goroutine.
func (es *editorSession) submit(id, name string) {
	defer es.handlers.profiler.Start("editor.submit").End()

	payload, err := es.session.Submit()
	if err != nil {
		es.sendSubmitError(id, err)
		return
	}

	store := es.handlers.store
	var zone *database.Zone
	event := "zone_updated"
	if es.zoneID == 0 {
		if name == "" {
			es.conn.sendError(id, "Name: is required", "InvalidRequest")
			return
		}
		zone, err = store.CreateZone(&database.ZoneCreateInput{Name: name, Selection: payload})
		event = "zone_created"
	} else {
		input := database.ZoneUpdateInput{Selection: &payload}
		if name != "" {
			input.Name = &name
		}
		zone, err = store.UpdateZone(es.zoneID, input)
	}
	if err != nil {
		es.sendSubmitError(id, err)
		return
	}

	es.zoneID = zone.ID
	log.Printf("[Editor] Session %d saved zone %d (%s)", es.session.ID, zone.ID, zone.Selection().Modality())
	if err := es.conn.sendMessage(MessageSubmitted, id, zone); err != nil {
		log.Printf("[Editor] Failed to send submit result: %v", err)
	}
	metrics.ZonesSubmittedTotal.WithLabelValues(event).Inc()
	es.handlers.hub.BroadcastZoneEvent(event, zone.ID)
}

func (es *editorSession) sendSubmitError(id string, err error) {
	var ve *selection.ValidationError
	switch {
	case errors.As(err, &ve):
		if sendErr := es.conn.sendMessage(MessageValidationError, id, validationResponse{
			Error:  "ValidationError",
			Fields: ve.Fields,
		}); sendErr != nil {
			log.Printf("[Editor] Failed to send validation error: %v", sendErr)
		}
	case errors.Is(err, database.ErrZoneNotFound):
		es.conn.sendError(id, "Zone not found", "NotFound")
	default:
		log.Printf("[Editor] Failed to save zone: %v", err)
		es.conn.sendError(id, "Failed to save zone", "InternalError")
	}
}
