package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/earthring/zonesync/internal/auth"
	"github.com/earthring/zonesync/internal/database"
	"github.com/earthring/zonesync/internal/performance"
	"github.com/earthring/zonesync/internal/selection"
	"github.com/earthring/zonesync/internal/surface"
	"github.com/earthring/zonesync/internal/testutil"
	"github.com/gorilla/websocket"
)

type editorTestServer struct {
	server   *httptest.Server
	store    *memoryZoneStore
	hub      *EditorHub
	handlers *EditorHandlers
	profiler *performance.Profiler
	token    string
}

func setupEditorServer(t *testing.T) *editorTestServer {
	t.Helper()
	cfg := testConfig()
	jwtService := auth.NewJWTService(cfg)
	store := newMemoryZoneStore()
	profiler := performance.NewProfiler(true)

	ctx, cancel := context.WithCancel(context.Background())
	hub := NewEditorHub()
	go hub.Run(ctx)

	handlers := NewEditorHandlers(store, hub, jwtService, cfg, profiler)
	mux := http.NewServeMux()
	SetupEditorRoutes(mux, handlers, cfg.Editor.RateLimit, NewRateLimiter(nil))
	server := httptest.NewServer(mux)

	t.Cleanup(func() {
		server.Close()
		cancel()
	})

	return &editorTestServer{
		server:   server,
		store:    store,
		hub:      hub,
		handlers: handlers,
		profiler: profiler,
		token:    testToken(t, jwtService, auth.RoleEditor),
	}
}

func (s *editorTestServer) url(query string) string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws/zone-editor?" + query
}

// serverMessage decodes both regular and error frames.
type serverMessage struct {
	Type  string          `json:"type"`
	ID    string          `json:"id"`
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
	Code  string          `json:"code"`
}

type editorClient struct {
	t       *testing.T
	conn    *websocket.Conn
	pending []serverMessage
}

func (s *editorTestServer) dial(t *testing.T, query string) *editorClient {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(s.url("token="+s.token+query), nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial failed (status %d): %v", status, err)
	}
	client := &editorClient{t: t, conn: conn}
	t.Cleanup(func() { _ = conn.Close() })
	return client
}

func (c *editorClient) send(msgType, id string, data interface{}) {
	c.t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		c.t.Fatalf("failed to encode %s data: %v", msgType, err)
	}
	if err := c.conn.WriteJSON(WebSocketMessage{Type: msgType, ID: id, Data: raw}); err != nil {
		c.t.Fatalf("failed to send %s: %v", msgType, err)
	}
}

func (c *editorClient) next() serverMessage {
	c.t.Helper()
	for len(c.pending) == 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
			c.t.Fatalf("failed to set read deadline: %v", err)
		}
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			c.t.Fatalf("failed to read message: %v", err)
		}
		for _, line := range bytes.Split(frame, []byte{'\n'}) {
			var msg serverMessage
			if err := json.Unmarshal(line, &msg); err != nil {
				c.t.Fatalf("failed to decode %q: %v", line, err)
			}
			c.pending = append(c.pending, msg)
		}
	}
	msg := c.pending[0]
	c.pending = c.pending[1:]
	return msg
}

// waitFor reads until a message of msgType satisfying match arrives.
func (c *editorClient) waitFor(msgType string, match func(serverMessage) bool) serverMessage {
	c.t.Helper()
	for {
		msg := c.next()
		if msg.Type == msgType && (match == nil || match(msg)) {
			return msg
		}
	}
}

func (c *editorClient) waitForCommand(cmdType string) surface.Command {
	c.t.Helper()
	var cmd surface.Command
	c.waitFor(MessageCommand, func(msg serverMessage) bool {
		cmd = surface.Command{}
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			c.t.Fatalf("failed to decode command: %v", err)
		}
		return cmd.Type == cmdType
	})
	return cmd
}

type stateMessage struct {
	DistrictIDs   []int64               `json:"districtIds"`
	CustomPolygon []selection.Feature   `json:"customPolygon"`
	Exclusivity   selection.Exclusivity `json:"exclusivity"`
	Modality      string                `json:"modality"`
}

func (c *editorClient) waitForState(match func(stateMessage) bool) stateMessage {
	c.t.Helper()
	var state stateMessage
	c.waitFor(MessageState, func(msg serverMessage) bool {
		state = stateMessage{}
		if err := json.Unmarshal(msg.Data, &state); err != nil {
			c.t.Fatalf("failed to decode state: %v", err)
		}
		return match == nil || match(state)
	})
	return state
}

func hasDistrict(id int64) func(stateMessage) bool {
	return func(s stateMessage) bool {
		return len(s.DistrictIDs) == 1 && s.DistrictIDs[0] == id
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEditor_NewSessionStartsEmpty(t *testing.T) {
	srv := setupEditorServer(t)
	client := srv.dial(t, "")

	enabled := client.waitForCommand(surface.CommandEnableDrawing)
	if enabled.Enabled == nil || !*enabled.Enabled {
		t.Fatalf("expected drawing enabled, got %+v", enabled)
	}

	session := client.waitFor(MessageSession, nil)
	var info struct {
		SessionID int64 `json:"session_id"`
		ZoneID    int64 `json:"zone_id"`
	}
	if err := json.Unmarshal(session.Data, &info); err != nil {
		t.Fatalf("failed to decode session: %v", err)
	}
	if info.SessionID != 1 || info.ZoneID != 0 {
		t.Fatalf("unexpected session info %+v", info)
	}

	state := client.waitForState(nil)
	if state.Modality != "empty" || state.Exclusivity.Locked {
		t.Fatalf("expected empty unlocked state, got %+v", state)
	}
	if state.DistrictIDs == nil || state.CustomPolygon == nil {
		t.Fatal("expected empty lists rather than null")
	}
}

func TestEditor_DistrictClickLocksDrawing(t *testing.T) {
	srv := setupEditorServer(t)
	client := srv.dial(t, "")
	client.waitForState(nil)

	client.send("selection_changed", "1", idsData{IDs: []selection.RegionID{7}})

	cmd := client.waitForCommand(surface.CommandEnableDrawing)
	if cmd.Enabled == nil || *cmd.Enabled {
		t.Fatalf("expected drawing disabled, got %+v", cmd)
	}
	state := client.waitForState(hasDistrict(7))
	if state.Modality != "district_selected" || !state.Exclusivity.HasDistrict {
		t.Fatalf("unexpected state %+v", state)
	}
}

func TestEditor_MultiSelectKeepsLastClick(t *testing.T) {
	srv := setupEditorServer(t)
	client := srv.dial(t, "")
	client.waitForState(nil)

	client.send("selection_changed", "", idsData{IDs: []selection.RegionID{3, 9}})

	cmd := client.waitForCommand(surface.CommandApplySelection)
	if len(cmd.IDs) != 1 || cmd.IDs[0] != 9 {
		t.Fatalf("expected surface narrowed to [9], got %v", cmd.IDs)
	}
	client.waitForState(hasDistrict(9))
}

func TestEditor_RejectsGeometryWhileDistrictSelected(t *testing.T) {
	srv := setupEditorServer(t)
	client := srv.dial(t, "")
	client.waitForState(nil)

	client.send("selection_changed", "", idsData{IDs: []selection.RegionID{7}})
	client.waitForState(hasDistrict(7))

	client.send("geometry_created", "", featureData{Feature: testutil.SquareFeature("shape-1")})
	cmd := client.waitForCommand(surface.CommandSetDrawnFeatures)
	if len(cmd.Features) != 0 {
		t.Fatalf("expected the drawn layer to be emptied, got %v", cmd.Features)
	}

	// The model still holds only the district
	client.send("submit", "s1", submitData{Name: "Harbor"})
	submitted := client.waitFor(MessageSubmitted, nil)
	var zone database.Zone
	if err := json.Unmarshal(submitted.Data, &zone); err != nil {
		t.Fatalf("failed to decode zone: %v", err)
	}
	if len(zone.DistrictIDs) != 1 || len(zone.CustomPolygon) != 0 {
		t.Fatalf("expected district-only zone, got %+v", zone)
	}
}

func TestEditor_DrawnPolygonDisablesDistricts(t *testing.T) {
	srv := setupEditorServer(t)
	client := srv.dial(t, "")
	client.waitForState(nil)

	client.send("geometry_created", "", featureData{Feature: testutil.SquareFeature("shape-1")})

	cmd := client.waitForCommand(surface.CommandSetInteractive)
	if cmd.Enabled == nil || *cmd.Enabled {
		t.Fatalf("expected district selection disabled, got %+v", cmd)
	}
	state := client.waitForState(func(s stateMessage) bool { return len(s.CustomPolygon) == 1 })
	if state.Modality != "custom_drawn" {
		t.Fatalf("expected custom_drawn, got %q", state.Modality)
	}
}

func TestEditor_SubmitCreatesZone(t *testing.T) {
	srv := setupEditorServer(t)
	client := srv.dial(t, "")
	client.waitForState(nil)

	client.send("selection_changed", "", idsData{IDs: []selection.RegionID{42}})
	client.waitForState(hasDistrict(42))

	client.send("submit", "s1", submitData{Name: "Old Town"})
	submitted := client.waitFor(MessageSubmitted, nil)
	if submitted.ID != "s1" {
		t.Errorf("expected reply id s1, got %q", submitted.ID)
	}

	zone := srv.store.get(1)
	if zone == nil {
		t.Fatal("expected zone to be stored")
	}
	if zone.Name != "Old Town" || len(zone.DistrictIDs) != 1 || zone.DistrictIDs[0] != 42 {
		t.Fatalf("unexpected stored zone %+v", zone)
	}

	event := client.waitFor("zone_event", nil)
	if !strings.Contains(string(event.Data), "zone_created") {
		t.Errorf("expected zone_created broadcast, got %s", event.Data)
	}

	// A second submit updates the zone created by the first
	client.send("selection_changed", "", idsData{IDs: []selection.RegionID{}})
	client.waitForState(func(s stateMessage) bool { return len(s.DistrictIDs) == 0 })
	client.send("geometry_created", "", featureData{Feature: testutil.SquareFeature("shape-1")})
	client.waitForState(func(s stateMessage) bool { return len(s.CustomPolygon) == 1 })
	client.send("submit", "s2", submitData{})
	client.waitFor(MessageSubmitted, func(msg serverMessage) bool { return msg.ID == "s2" })

	if n, _ := srv.store.CountZones(); n != 1 {
		t.Fatalf("expected 1 zone, got %d", n)
	}
	zone = srv.store.get(1)
	if len(zone.DistrictIDs) != 0 || len(zone.CustomPolygon) != 1 || zone.Name != "Old Town" {
		t.Fatalf("expected zone switched to polygon, got %+v", zone)
	}
}

func TestEditor_EmptySubmitFailsValidation(t *testing.T) {
	srv := setupEditorServer(t)
	client := srv.dial(t, "")
	client.waitForState(nil)

	client.send("submit", "s1", submitData{Name: "Nothing"})
	msg := client.waitFor(MessageValidationError, nil)

	var resp validationResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		t.Fatalf("failed to decode validation error: %v", err)
	}
	for _, field := range []selection.Field{selection.FieldDistricts, selection.FieldPolygon} {
		issues := resp.Fields[field]
		if len(issues) == 0 || issues[0].Code != selection.CodeMissingSelection {
			t.Errorf("expected MissingSelection on %s, got %v", field, issues)
		}
	}
	if n, _ := srv.store.CountZones(); n != 0 {
		t.Errorf("expected nothing stored, got %d", n)
	}
}

func TestEditor_SubmitNewZoneRequiresName(t *testing.T) {
	srv := setupEditorServer(t)
	client := srv.dial(t, "")
	client.waitForState(nil)

	client.send("selection_changed", "", idsData{IDs: []selection.RegionID{1}})
	client.waitForState(hasDistrict(1))
	client.send("submit", "s1", submitData{})

	msg := client.waitFor("error", nil)
	if msg.Code != "InvalidRequest" || msg.ID != "s1" {
		t.Fatalf("unexpected error %+v", msg)
	}
}

func TestEditor_SetDistrictsRejectsCardinality(t *testing.T) {
	srv := setupEditorServer(t)
	client := srv.dial(t, "")
	client.waitForState(nil)

	client.send("set_districts", "h1", idsData{IDs: []selection.RegionID{1, 2}})
	msg := client.waitFor("error", nil)
	if msg.Code != "Cardinality" || msg.ID != "h1" {
		t.Fatalf("unexpected error %+v", msg)
	}

	client.send("set_districts", "h2", idsData{IDs: []selection.RegionID{5}})
	cmd := client.waitForCommand(surface.CommandApplySelection)
	if len(cmd.IDs) != 1 || cmd.IDs[0] != 5 {
		t.Fatalf("expected host edit pushed to the surface, got %v", cmd.IDs)
	}
}

func TestEditor_SetDistrictsRefusedWhilePolygonDrawn(t *testing.T) {
	srv := setupEditorServer(t)
	if _, err := srv.store.CreateZone(&database.ZoneCreateInput{Name: "Park", Selection: testutil.PolygonPayload("shape-1")}); err != nil {
		t.Fatalf("CreateZone failed: %v", err)
	}

	client := srv.dial(t, "&zone_id=1")
	client.waitForState(func(s stateMessage) bool { return s.Modality == "custom_drawn" })

	client.send("set_districts", "h1", idsData{IDs: []selection.RegionID{3}})
	msg := client.waitFor("error", nil)
	if msg.Code != "SelectionLocked" || msg.ID != "h1" {
		t.Fatalf("unexpected error %+v", msg)
	}

	// Clearing the polygon unlocks district selection.
	client.send("set_polygon", "h2", featuresData{Features: []selection.Feature{}})
	client.waitForState(func(s stateMessage) bool { return s.Modality == "empty" })
	client.send("set_districts", "h3", idsData{IDs: []selection.RegionID{3}})
	state := client.waitForState(hasDistrict(3))
	if len(state.CustomPolygon) != 0 {
		t.Fatalf("expected polygon cleared, got %v", state.CustomPolygon)
	}
}

func TestEditor_SetPolygonRefusedWhileDistrictSelected(t *testing.T) {
	srv := setupEditorServer(t)
	client := srv.dial(t, "")
	client.waitForState(nil)

	client.send("selection_changed", "", idsData{IDs: []selection.RegionID{4}})
	client.waitForState(hasDistrict(4))

	client.send("set_polygon", "h1", featuresData{Features: []selection.Feature{testutil.SquareFeature("p1")}})
	msg := client.waitFor("error", nil)
	if msg.Code != "SelectionLocked" || msg.ID != "h1" {
		t.Fatalf("unexpected error %+v", msg)
	}

	client.send("submit", "s1", submitData{Name: "North"})
	client.waitFor(MessageSubmitted, nil)
	stored := srv.store.get(1)
	if len(stored.DistrictIDs) != 1 || stored.DistrictIDs[0] != 4 || len(stored.CustomPolygon) != 0 {
		t.Fatalf("expected only district 4 stored, got %+v", stored)
	}
	if _, ok := srv.profiler.Get("editor.submit"); !ok {
		t.Error("expected submit timing in the profiler")
	}
}

func TestEditor_ClearSelection(t *testing.T) {
	srv := setupEditorServer(t)
	client := srv.dial(t, "")
	client.waitForState(nil)

	client.send("selection_changed", "", idsData{IDs: []selection.RegionID{6}})
	client.waitForState(hasDistrict(6))

	client.send("clear_selection", "c1", nil)
	state := client.waitForState(func(s stateMessage) bool { return s.Modality == "empty" })
	if state.Exclusivity.Locked {
		t.Fatalf("expected unlocked state, got %+v", state.Exclusivity)
	}
	client.waitForCommand(surface.CommandClearSelection)
}

func TestEditor_EditSessionHydratesPolygon(t *testing.T) {
	srv := setupEditorServer(t)
	zone, err := srv.store.CreateZone(&database.ZoneCreateInput{Name: "Park", Selection: testutil.PolygonPayload("shape-9")})
	if err != nil {
		t.Fatalf("CreateZone failed: %v", err)
	}

	client := srv.dial(t, "&zone_id=1")
	cmd := client.waitForCommand(surface.CommandDrawFeature)
	if len(cmd.Features) != 1 || cmd.Features[0].ID != "shape-9" {
		t.Fatalf("expected persisted feature drawn, got %v", cmd.Features)
	}
	state := client.waitForState(nil)
	if state.Modality != "custom_drawn" {
		t.Fatalf("expected custom_drawn, got %q", state.Modality)
	}

	client.send("submit", "s1", submitData{Name: "Park West"})
	client.waitFor(MessageSubmitted, nil)
	if stored := srv.store.get(zone.ID); stored.Name != "Park West" || len(stored.CustomPolygon) != 1 {
		t.Fatalf("expected zone updated in place, got %+v", stored)
	}
}

func TestEditor_HandshakeErrors(t *testing.T) {
	srv := setupEditorServer(t)

	tests := []struct {
		name   string
		query  string
		status int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"invalid token", "token=not-a-token", http.StatusUnauthorized},
		{"unknown zone", "token=" + srv.token + "&zone_id=99", http.StatusNotFound},
		{"bad zone id", "token=" + srv.token + "&zone_id=abc", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(srv.url(tt.query), nil)
			if err == nil {
				t.Fatal("expected handshake to fail")
			}
			if resp == nil || resp.StatusCode != tt.status {
				t.Fatalf("expected status %d, got %v", tt.status, resp)
			}
		})
	}
}

func TestEditor_UnknownMessageAndPing(t *testing.T) {
	srv := setupEditorServer(t)
	client := srv.dial(t, "")
	client.waitForState(nil)

	client.send("teleport", "x1", map[string]string{})
	msg := client.waitFor("error", nil)
	if msg.Code != "UnknownMessageType" {
		t.Fatalf("expected UnknownMessageType, got %+v", msg)
	}

	client.send("ping", "p1", map[string]string{})
	pong := client.waitFor(MessagePong, nil)
	if pong.ID != "p1" {
		t.Fatalf("expected pong for p1, got %q", pong.ID)
	}
}

func TestEditor_DisconnectReleasesSession(t *testing.T) {
	srv := setupEditorServer(t)
	client := srv.dial(t, "")
	client.waitForState(nil)

	client.send("selection_changed", "", idsData{IDs: []selection.RegionID{7}})
	client.waitForState(hasDistrict(7))

	eventually(t, "connection registered", func() bool { return srv.hub.Count() == 1 })
	if err := client.conn.Close(); err != nil {
		t.Fatalf("failed to close client: %v", err)
	}

	eventually(t, "session recorded", func() bool {
		completed, _ := srv.handlers.Stats()
		return completed == 1
	})
	eventually(t, "connection unregistered", func() bool { return srv.hub.Count() == 0 })

	_, totals := srv.handlers.Stats()
	if totals.Propagations == 0 {
		t.Errorf("expected propagations to be counted, got %+v", totals)
	}
	if _, ok := srv.profiler.Get("sync.surface_selection_changed"); !ok {
		t.Error("expected controller timings in the profiler")
	}
}
