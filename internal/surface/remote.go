package surface

import (
	"log"

	"github.com/earthring/zonesync/internal/selection"
)

// Command types pushed to a remote map client.
const (
	CommandApplySelection     = "apply_selection"
	CommandClearSelection     = "clear_selection"
	CommandSetInteractive     = "set_interactive"
	CommandSetDrawnFeatures   = "set_drawn_features"
	CommandClearDrawnFeatures = "clear_drawn_features"
	CommandDrawFeature        = "draw_feature"
	CommandEnableDrawing      = "enable_drawing"
)

// Command is a programmatic surface write forwarded to a remote client.
type Command struct {
	Type     string               `json:"type"`
	IDs      []selection.RegionID `json:"ids,omitempty"`
	Features []selection.Feature  `json:"features,omitempty"`
	Enabled  *bool                `json:"enabled,omitempty"`
}

// CommandSender delivers a command to the remote client.
type CommandSender func(Command) error

// Remote fronts a map that lives in another process (a browser over a
// websocket). It keeps a local mirror so queries answer synchronously and
// forwards every write as a Command. Client events that do not change the
// mirror are our own writes coming back and are absorbed.
type Remote struct {
	mirror *Memory
	send   CommandSender
}

// NewRemote builds a remote surface sending commands through send.
func NewRemote(send CommandSender) *Remote {
	mirror := NewMemory()
	mirror.noLog = true
	return &Remote{mirror: mirror, send: send}
}

func (r *Remote) Attach(sink EventSink) { r.mirror.Attach(sink) }

func (r *Remote) CurrentSelection() []selection.RegionID { return r.mirror.CurrentSelection() }

func (r *Remote) DrawnFeatures() []selection.Feature { return r.mirror.DrawnFeatures() }

func (r *Remote) ApplySelection(ids []selection.RegionID) {
	r.mirror.ApplySelection(ids)
	r.forward(Command{Type: CommandApplySelection, IDs: selection.CloneIDs(ids)})
}

func (r *Remote) ClearSelection() {
	r.mirror.ClearSelection()
	r.forward(Command{Type: CommandClearSelection})
}

func (r *Remote) SetInteractive(enabled bool) {
	r.mirror.SetInteractive(enabled)
	r.forward(Command{Type: CommandSetInteractive, Enabled: &enabled})
}

func (r *Remote) SetDrawnFeatures(features []selection.Feature) {
	r.mirror.SetDrawnFeatures(features)
	r.forward(Command{Type: CommandSetDrawnFeatures, Features: selection.CloneFeatures(features)})
}

func (r *Remote) ClearDrawnFeatures() {
	r.mirror.ClearDrawnFeatures()
	r.forward(Command{Type: CommandClearDrawnFeatures})
}

func (r *Remote) DrawFeature(feature selection.Feature) error {
	if err := r.mirror.DrawFeature(feature); err != nil {
		return err
	}
	r.forward(Command{Type: CommandDrawFeature, Features: []selection.Feature{feature}})
	return nil
}

func (r *Remote) EnableDrawing(enabled bool) {
	r.mirror.EnableDrawing(enabled)
	r.forward(Command{Type: CommandEnableDrawing, Enabled: &enabled})
}

// HandleClient applies an event reported by the remote client to the mirror
// and forwards it to the sink only when it changed something. It reports
// whether the event was forwarded.
func (r *Remote) HandleClient(e Event) bool {
	m := r.mirror
	m.mu.Lock()
	changed := false
	switch ev := e.(type) {
	case SelectionChanged:
		if m.interactive && !selection.IDsEqual(m.selected, ev.IDs) {
			m.selected = selection.CloneIDs(ev.IDs)
			changed = true
		}
	case GeometryCreated:
		if !containsFeature(m.drawn, ev.Feature) {
			if ev.Feature.ID != "" {
				m.removeLocked(ev.Feature.ID)
			}
			m.drawn = append(m.drawn, selection.CloneFeatures([]selection.Feature{ev.Feature})...)
			changed = true
		}
	case GeometryEdited:
		for _, f := range ev.Features {
			if m.replaceLocked(f) {
				changed = true
			}
		}
	case GeometryDeleted:
		for _, f := range ev.Features {
			if _, ok := m.removeFeatureLocked(f); ok {
				changed = true
			}
		}
	}
	sink := m.sink
	m.mu.Unlock()

	if !changed {
		return false
	}
	emit(sink, e)
	return true
}

func (r *Remote) forward(cmd Command) {
	if r.send == nil {
		return
	}
	if err := r.send(cmd); err != nil {
		log.Printf("[Surface] Failed to send %s command: %v", cmd.Type, err)
	}
}

func containsFeature(list []selection.Feature, f selection.Feature) bool {
	for _, existing := range list {
		if existing.Equal(f) {
			return true
		}
	}
	return false
}

var _ Surface = (*Remote)(nil)
