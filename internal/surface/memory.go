package surface

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/earthring/zonesync/internal/selection"
)

// ErrDrawingDisabled is returned by Draw while the drawing tool is off.
var ErrDrawingDisabled = errors.New("drawing tool is disabled")

// Call records one programmatic write made against a Memory surface.
type Call struct {
	Method   string
	IDs      []selection.RegionID
	Features []selection.Feature
	Enabled  bool
}

// Memory is an in-process Surface. It keeps highlighted districts and drawn
// layers in memory and emits events to its sink on user input. With Echo set
// it also emits events for programmatic writes, as most map widgets do.
type Memory struct {
	mu          sync.Mutex
	selected    []selection.RegionID
	drawn       []selection.Feature
	interactive bool
	drawing     bool
	sink        EventSink
	calls       []Call
	noLog       bool
	nextID      int

	// Echo makes programmatic selection and geometry writes re-emit events.
	Echo bool
}

// NewMemory builds an empty, interactive surface with drawing enabled.
func NewMemory() *Memory {
	return &Memory{
		interactive: true,
		drawing:     true,
	}
}

// Attach replaces the event sink.
func (m *Memory) Attach(sink EventSink) {
	m.mu.Lock()
	m.sink = sink
	m.mu.Unlock()
}

func (m *Memory) CurrentSelection() []selection.RegionID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return selection.CloneIDs(m.selected)
}

func (m *Memory) ApplySelection(ids []selection.RegionID) {
	m.mu.Lock()
	m.record(Call{Method: "ApplySelection", IDs: selection.CloneIDs(ids)})
	m.selected = selection.CloneIDs(ids)
	sink, echo := m.sink, m.Echo
	m.mu.Unlock()

	if echo {
		emit(sink, SelectionChanged{IDs: selection.CloneIDs(ids)})
	}
}

func (m *Memory) ClearSelection() {
	m.mu.Lock()
	m.record(Call{Method: "ClearSelection"})
	had := len(m.selected) > 0
	m.selected = nil
	sink, echo := m.sink, m.Echo
	m.mu.Unlock()

	if echo && had {
		emit(sink, SelectionChanged{IDs: []selection.RegionID{}})
	}
}

func (m *Memory) SetInteractive(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(Call{Method: "SetInteractive", Enabled: enabled})
	m.interactive = enabled
}

// Interactive reports whether user clicks currently change the selection.
func (m *Memory) Interactive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interactive
}

func (m *Memory) DrawnFeatures() []selection.Feature {
	m.mu.Lock()
	defer m.mu.Unlock()
	return selection.CloneFeatures(m.drawn)
}

func (m *Memory) SetDrawnFeatures(features []selection.Feature) {
	m.mu.Lock()
	m.record(Call{Method: "SetDrawnFeatures", Features: selection.CloneFeatures(features)})
	m.drawn = selection.CloneFeatures(features)
	sink, echo := m.sink, m.Echo
	m.mu.Unlock()

	if echo {
		emit(sink, GeometryEdited{Features: selection.CloneFeatures(features)})
	}
}

func (m *Memory) ClearDrawnFeatures() {
	m.mu.Lock()
	m.record(Call{Method: "ClearDrawnFeatures"})
	removed := m.drawn
	m.drawn = nil
	sink, echo := m.sink, m.Echo
	m.mu.Unlock()

	if echo && len(removed) > 0 {
		emit(sink, GeometryDeleted{Features: removed})
	}
}

func (m *Memory) DrawFeature(feature selection.Feature) error {
	if err := checkRenderable(feature); err != nil {
		return err
	}
	m.mu.Lock()
	m.record(Call{Method: "DrawFeature", Features: selection.CloneFeatures([]selection.Feature{feature})})
	m.drawn = append(m.drawn, selection.CloneFeatures([]selection.Feature{feature})...)
	sink, echo := m.sink, m.Echo
	m.mu.Unlock()

	if echo {
		emit(sink, GeometryCreated{Feature: feature})
	}
	return nil
}

func (m *Memory) EnableDrawing(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(Call{Method: "EnableDrawing", Enabled: enabled})
	m.drawing = enabled
}

// DrawingEnabled reports whether the drawing tool is on.
func (m *Memory) DrawingEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drawing
}

// Click simulates the user toggling a district on the map. Clicks are
// ignored while the surface is not interactive.
func (m *Memory) Click(id selection.RegionID) bool {
	m.mu.Lock()
	if !m.interactive {
		m.mu.Unlock()
		return false
	}
	next := make([]selection.RegionID, 0, len(m.selected)+1)
	found := false
	for _, existing := range m.selected {
		if existing == id {
			found = true
			continue
		}
		next = append(next, existing)
	}
	if !found {
		next = append(next, id)
	}
	m.selected = next
	sink := m.sink
	m.mu.Unlock()

	emit(sink, SelectionChanged{IDs: selection.CloneIDs(next)})
	return true
}

// Draw simulates the user finishing a new shape. A feature id is assigned
// when the geometry arrives without one.
func (m *Memory) Draw(feature selection.Feature) (selection.Feature, error) {
	m.mu.Lock()
	if !m.drawing {
		m.mu.Unlock()
		return selection.Feature{}, ErrDrawingDisabled
	}
	if feature.ID == "" {
		m.nextID++
		feature.ID = fmt.Sprintf("drawn-%d", m.nextID)
	}
	feature = selection.CloneFeatures([]selection.Feature{feature})[0]
	m.drawn = append(m.drawn, feature)
	sink := m.sink
	m.mu.Unlock()

	emit(sink, GeometryCreated{Feature: feature})
	return feature, nil
}

// Edit simulates the user moving the vertices of an existing shape.
func (m *Memory) Edit(feature selection.Feature) bool {
	m.mu.Lock()
	changed := m.replaceLocked(feature)
	sink := m.sink
	m.mu.Unlock()

	if changed {
		emit(sink, GeometryEdited{Features: []selection.Feature{feature}})
	}
	return changed
}

// Delete simulates the user removing a shape by id.
func (m *Memory) Delete(featureID string) bool {
	m.mu.Lock()
	removed, ok := m.removeLocked(featureID)
	sink := m.sink
	m.mu.Unlock()

	if ok {
		emit(sink, GeometryDeleted{Features: []selection.Feature{removed}})
	}
	return ok
}

// Calls returns the programmatic writes recorded so far.
func (m *Memory) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// CallCount counts recorded writes of one method.
func (m *Memory) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// ResetCalls forgets the recorded writes.
func (m *Memory) ResetCalls() {
	m.mu.Lock()
	m.calls = nil
	m.mu.Unlock()
}

func (m *Memory) record(c Call) {
	if m.noLog {
		return
	}
	m.calls = append(m.calls, c)
}

func (m *Memory) replaceLocked(feature selection.Feature) bool {
	for i, existing := range m.drawn {
		if existing.ID != feature.ID {
			continue
		}
		if existing.Equal(feature) {
			return false
		}
		m.drawn[i] = selection.CloneFeatures([]selection.Feature{feature})[0]
		return true
	}
	return false
}

func (m *Memory) removeLocked(featureID string) (selection.Feature, bool) {
	for i, existing := range m.drawn {
		if existing.ID == featureID {
			m.drawn = append(m.drawn[:i:i], m.drawn[i+1:]...)
			return existing, true
		}
	}
	return selection.Feature{}, false
}

// removeFeatureLocked removes f by id, or an identical unnamed feature when
// f has no id.
func (m *Memory) removeFeatureLocked(f selection.Feature) (selection.Feature, bool) {
	if f.ID != "" {
		return m.removeLocked(f.ID)
	}
	for i, existing := range m.drawn {
		if existing.Equal(f) {
			m.drawn = append(m.drawn[:i:i], m.drawn[i+1:]...)
			return existing, true
		}
	}
	return selection.Feature{}, false
}

func emit(sink EventSink, e Event) {
	if sink != nil {
		sink(e)
	}
}

// checkRenderable accepts any GeoJSON polygonal geometry object.
func checkRenderable(feature selection.Feature) error {
	if len(feature.Geometry) == 0 {
		return &RenderError{FeatureID: feature.ID, Reason: "geometry is empty"}
	}
	var geom struct {
		Type        string          `json:"type"`
		Coordinates json.RawMessage `json:"coordinates"`
	}
	if err := json.Unmarshal(feature.Geometry, &geom); err != nil {
		return &RenderError{FeatureID: feature.ID, Reason: err.Error()}
	}
	if geom.Type != "Polygon" && geom.Type != "MultiPolygon" {
		return &RenderError{FeatureID: feature.ID, Reason: fmt.Sprintf("unsupported geometry type %q", geom.Type)}
	}
	if len(geom.Coordinates) == 0 {
		return &RenderError{FeatureID: feature.ID, Reason: "coordinates are missing"}
	}
	return nil
}

var _ Surface = (*Memory)(nil)
