package surface

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/earthring/zonesync/internal/selection"
)

func square(id string) selection.Feature {
	return selection.Feature{
		ID:       id,
		Geometry: json.RawMessage(`{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]}`),
	}
}

type eventLog struct {
	events []Event
}

func (l *eventLog) sink(e Event) {
	l.events = append(l.events, e)
}

func TestMemory_ClickTogglesSelection(t *testing.T) {
	m := NewMemory()
	log := &eventLog{}
	m.Attach(log.sink)

	m.Click(3)
	m.Click(5)
	m.Click(3)

	if got := m.CurrentSelection(); !selection.IDsEqual(got, []selection.RegionID{5}) {
		t.Fatalf("expected [5], got %v", got)
	}
	if len(log.events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(log.events))
	}
	last, ok := log.events[2].(SelectionChanged)
	if !ok || !selection.IDsEqual(last.IDs, []selection.RegionID{5}) {
		t.Fatalf("unexpected last event %#v", log.events[2])
	}
}

func TestMemory_NonInteractiveIgnoresClicks(t *testing.T) {
	m := NewMemory()
	log := &eventLog{}
	m.Attach(log.sink)
	m.SetInteractive(false)

	if m.Click(1) {
		t.Fatal("expected click to be ignored")
	}
	if len(log.events) != 0 || len(m.CurrentSelection()) != 0 {
		t.Fatalf("expected no change, got events=%v selection=%v", log.events, m.CurrentSelection())
	}
}

func TestMemory_DrawRespectsDrawingTool(t *testing.T) {
	m := NewMemory()
	m.EnableDrawing(false)
	if _, err := m.Draw(square("")); !errors.Is(err, ErrDrawingDisabled) {
		t.Fatalf("expected ErrDrawingDisabled, got %v", err)
	}

	m.EnableDrawing(true)
	f, err := m.Draw(square(""))
	if err != nil {
		t.Fatalf("Draw failed: %v", err)
	}
	if f.ID == "" {
		t.Fatal("expected an id to be assigned")
	}
	if len(m.DrawnFeatures()) != 1 {
		t.Fatalf("expected one drawn feature, got %d", len(m.DrawnFeatures()))
	}
}

func TestMemory_EchoOnlyWhenEnabled(t *testing.T) {
	m := NewMemory()
	log := &eventLog{}
	m.Attach(log.sink)

	m.ApplySelection([]selection.RegionID{1})
	if len(log.events) != 0 {
		t.Fatalf("expected no echo, got %v", log.events)
	}

	m.Echo = true
	m.ApplySelection([]selection.RegionID{2})
	m.ClearSelection()
	if len(log.events) != 2 {
		t.Fatalf("expected 2 echoes, got %d", len(log.events))
	}
	if m.CallCount("ApplySelection") != 2 || m.CallCount("ClearSelection") != 1 {
		t.Fatalf("unexpected calls %v", m.Calls())
	}
}

func TestMemory_DrawFeatureRejectsUnrenderable(t *testing.T) {
	tests := []struct {
		name    string
		feature selection.Feature
	}{
		{"empty geometry", selection.Feature{ID: "a"}},
		{"not json", selection.Feature{ID: "b", Geometry: json.RawMessage(`{`)}},
		{"point", selection.Feature{ID: "c", Geometry: json.RawMessage(`{"type":"Point","coordinates":[0,0]}`)}},
		{"no coordinates", selection.Feature{ID: "d", Geometry: json.RawMessage(`{"type":"Polygon"}`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMemory()
			err := m.DrawFeature(tt.feature)
			var renderErr *RenderError
			if !errors.As(err, &renderErr) {
				t.Fatalf("expected RenderError, got %v", err)
			}
			if renderErr.FeatureID != tt.feature.ID {
				t.Errorf("expected feature id %q, got %q", tt.feature.ID, renderErr.FeatureID)
			}
			if len(m.DrawnFeatures()) != 0 {
				t.Error("expected nothing drawn")
			}
		})
	}
}

func TestMemory_EditAndDelete(t *testing.T) {
	m := NewMemory()
	log := &eventLog{}
	m.Attach(log.sink)
	m.SetDrawnFeatures([]selection.Feature{square("a")})

	moved := selection.Feature{ID: "a", Geometry: json.RawMessage(`{"type":"Polygon","coordinates":[[[0,0],[2,0],[2,2],[0,2],[0,0]]]}`)}
	if !m.Edit(moved) {
		t.Fatal("expected edit to apply")
	}
	if m.Edit(moved) {
		t.Fatal("expected identical edit to be a no-op")
	}
	if !m.Delete("a") || m.Delete("a") {
		t.Fatal("expected exactly one delete to apply")
	}
	if len(log.events) != 2 {
		t.Fatalf("expected edit and delete events, got %v", log.events)
	}
}

func TestRemote_ForwardsWritesAsCommands(t *testing.T) {
	var sent []Command
	r := NewRemote(func(cmd Command) error {
		sent = append(sent, cmd)
		return nil
	})

	r.ApplySelection([]selection.RegionID{4})
	r.EnableDrawing(false)
	if err := r.DrawFeature(square("a")); err != nil {
		t.Fatalf("DrawFeature failed: %v", err)
	}
	if err := r.DrawFeature(selection.Feature{ID: "bad"}); err == nil {
		t.Fatal("expected unrenderable feature to fail")
	}

	if len(sent) != 3 {
		t.Fatalf("expected 3 commands, got %+v", sent)
	}
	if sent[0].Type != CommandApplySelection || !selection.IDsEqual(sent[0].IDs, []selection.RegionID{4}) {
		t.Errorf("unexpected first command %+v", sent[0])
	}
	if sent[1].Type != CommandEnableDrawing || sent[1].Enabled == nil || *sent[1].Enabled {
		t.Errorf("unexpected second command %+v", sent[1])
	}
	if sent[2].Type != CommandDrawFeature || len(sent[2].Features) != 1 {
		t.Errorf("unexpected third command %+v", sent[2])
	}
	if !selection.IDsEqual(r.CurrentSelection(), []selection.RegionID{4}) || len(r.DrawnFeatures()) != 1 {
		t.Error("expected mirror to track writes")
	}
}

func TestRemote_HandleClientAbsorbsEchoes(t *testing.T) {
	r := NewRemote(nil)
	log := &eventLog{}
	r.Attach(log.sink)

	r.ApplySelection([]selection.RegionID{4})
	if r.HandleClient(SelectionChanged{IDs: []selection.RegionID{4}}) {
		t.Fatal("expected echo of our own write to be absorbed")
	}
	if !r.HandleClient(SelectionChanged{IDs: []selection.RegionID{4, 6}}) {
		t.Fatal("expected a real click to be forwarded")
	}

	r.SetDrawnFeatures([]selection.Feature{square("a")})
	if r.HandleClient(GeometryCreated{Feature: square("a")}) {
		t.Fatal("expected echo of drawn feature to be absorbed")
	}
	if !r.HandleClient(GeometryCreated{Feature: square("b")}) {
		t.Fatal("expected new feature to be forwarded")
	}
	if r.HandleClient(GeometryDeleted{Features: []selection.Feature{square("zzz")}}) {
		t.Fatal("expected delete of unknown feature to be absorbed")
	}
	if !r.HandleClient(GeometryDeleted{Features: []selection.Feature{square("a")}}) {
		t.Fatal("expected delete to be forwarded")
	}

	if len(log.events) != 3 {
		t.Fatalf("expected 3 forwarded events, got %d", len(log.events))
	}
}

func TestRemote_UnnamedFeaturesAreNotReplaced(t *testing.T) {
	r := NewRemote(nil)
	log := &eventLog{}
	r.Attach(log.sink)

	first := selection.Feature{Geometry: json.RawMessage(`{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}`)}
	second := selection.Feature{Geometry: json.RawMessage(`{"type":"Polygon","coordinates":[[[5,5],[6,5],[6,6],[5,5]]]}`)}
	r.SetDrawnFeatures([]selection.Feature{first})

	if !r.HandleClient(GeometryCreated{Feature: second}) {
		t.Fatal("expected new unnamed feature to be forwarded")
	}
	if drawn := r.DrawnFeatures(); len(drawn) != 2 {
		t.Fatalf("expected both unnamed features kept, got %v", drawn)
	}

	if !r.HandleClient(GeometryDeleted{Features: []selection.Feature{first}}) {
		t.Fatal("expected delete of an unnamed feature to be forwarded")
	}
	drawn := r.DrawnFeatures()
	if len(drawn) != 1 || !drawn[0].Equal(second) {
		t.Fatalf("expected only the second feature left, got %v", drawn)
	}
}

func TestRemote_IgnoresClicksWhileNotInteractive(t *testing.T) {
	r := NewRemote(nil)
	log := &eventLog{}
	r.Attach(log.sink)
	r.SetInteractive(false)

	if r.HandleClient(SelectionChanged{IDs: []selection.RegionID{1}}) {
		t.Fatal("expected click to be dropped")
	}
	if len(r.CurrentSelection()) != 0 {
		t.Fatal("expected mirror selection unchanged")
	}
}

func TestEventName(t *testing.T) {
	tests := map[string]Event{
		"selection_changed": SelectionChanged{},
		"geometry_created":  GeometryCreated{},
		"geometry_edited":   GeometryEdited{},
		"geometry_deleted":  GeometryDeleted{},
	}
	for want, e := range tests {
		if got := EventName(e); got != want {
			t.Errorf("EventName(%T) = %q, want %q", e, got, want)
		}
	}
}
