package syncctl

import (
	"github.com/earthring/zonesync/internal/selection"
	"github.com/earthring/zonesync/internal/surface"
)

// Message is a unit of work for the controller's queue.
type Message interface {
	Kind() string
}

// ModelDistrictsChanged is posted when the model's district field changed.
type ModelDistrictsChanged struct {
	IDs []selection.RegionID
}

// ModelPolygonChanged is posted when the model's polygon field changed,
// including when a persisted zone is loaded for editing.
type ModelPolygonChanged struct {
	Features []selection.Feature
}

// SurfaceSelectionChanged carries a surface selection event.
type SurfaceSelectionChanged struct {
	IDs []selection.RegionID
}

// SurfaceGeometryCreated carries a newly drawn shape.
type SurfaceGeometryCreated struct {
	Feature selection.Feature
}

// SurfaceGeometryEdited carries edited shapes.
type SurfaceGeometryEdited struct {
	Features []selection.Feature
}

// SurfaceGeometryDeleted carries removed shapes.
type SurfaceGeometryDeleted struct {
	Features []selection.Feature
}

// Exec runs Fn against the model on the consumer goroutine, after any
// guarded step in progress. It is never dropped by the guard. Selection
// edits should use SetDistricts and SetPolygon, which enforce exclusivity.
type Exec struct {
	Fn func(*selection.Model)
}

// SetDistricts is a host edit of the district field, such as a checkbox
// toggle. Done, if set, receives ErrLocked when a polygon or another
// district excludes the request, selection.ErrCardinality for more than one
// id, or nil.
type SetDistricts struct {
	IDs  []selection.RegionID
	Done func(error)
}

// SetPolygon is a host edit of the polygon field. Done behaves as for
// SetDistricts.
type SetPolygon struct {
	Features []selection.Feature
	Done     func(error)
}

// ClearSelection is a host edit emptying both fields, such as a "start
// over" button.
type ClearSelection struct{}

func (m SetDistricts) reply(err error) {
	if m.Done != nil {
		m.Done(err)
	}
}

func (m SetPolygon) reply(err error) {
	if m.Done != nil {
		m.Done(err)
	}
}

// isHostMessage reports whether msg comes from the host rather than from
// the surface or the model. Host messages are never echoes.
func isHostMessage(msg Message) bool {
	switch msg.(type) {
	case Exec, SetDistricts, SetPolygon, ClearSelection, hydrate:
		return true
	}
	return false
}

// hydrate pushes the whole model onto the surface.
type hydrate struct{}

// guardRelease reopens the guard. It is enqueued after every propagate step
// so that echoes produced by the step are consumed first.
type guardRelease struct{}

func (ModelDistrictsChanged) Kind() string   { return "model_districts_changed" }
func (ModelPolygonChanged) Kind() string     { return "model_polygon_changed" }
func (SurfaceSelectionChanged) Kind() string { return "surface_selection_changed" }
func (SurfaceGeometryCreated) Kind() string  { return "surface_geometry_created" }
func (SurfaceGeometryEdited) Kind() string   { return "surface_geometry_edited" }
func (SurfaceGeometryDeleted) Kind() string  { return "surface_geometry_deleted" }
func (Exec) Kind() string                    { return "exec" }
func (SetDistricts) Kind() string            { return "set_districts" }
func (SetPolygon) Kind() string              { return "set_polygon" }
func (ClearSelection) Kind() string          { return "clear_selection" }
func (hydrate) Kind() string                 { return "hydrate" }
func (guardRelease) Kind() string            { return "guard_release" }

// FromSurfaceEvent converts a surface event into a controller message.
func FromSurfaceEvent(e surface.Event) (Message, bool) {
	switch ev := e.(type) {
	case surface.SelectionChanged:
		return SurfaceSelectionChanged{IDs: selection.CloneIDs(ev.IDs)}, true
	case surface.GeometryCreated:
		return SurfaceGeometryCreated{Feature: ev.Feature}, true
	case surface.GeometryEdited:
		return SurfaceGeometryEdited{Features: selection.CloneFeatures(ev.Features)}, true
	case surface.GeometryDeleted:
		return SurfaceGeometryDeleted{Features: selection.CloneFeatures(ev.Features)}, true
	default:
		return nil, false
	}
}
