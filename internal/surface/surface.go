// Package surface defines the contract between the zone editor core and the
// interactive map that displays districts and drawn shapes.
package surface

import (
	"fmt"

	"github.com/earthring/zonesync/internal/selection"
)

// Surface is the imperative map display. Programmatic writes may cause the
// implementation to emit events back to its sink; callers are expected to
// treat those as echoes.
type Surface interface {
	CurrentSelection() []selection.RegionID
	// ApplySelection highlights exactly ids, clearing prior highlighting.
	ApplySelection(ids []selection.RegionID)
	ClearSelection()
	// SetInteractive toggles whether user clicks change the selection.
	SetInteractive(enabled bool)

	DrawnFeatures() []selection.Feature
	SetDrawnFeatures(features []selection.Feature)
	ClearDrawnFeatures()
	// DrawFeature adds one feature to the drawn layer. It fails with a
	// *RenderError when the feature cannot be displayed.
	DrawFeature(feature selection.Feature) error
	EnableDrawing(enabled bool)

	// Attach replaces the event sink. A nil sink detaches.
	Attach(sink EventSink)
}

// EventSink receives surface events.
type EventSink func(Event)

// Event is one of SelectionChanged, GeometryCreated, GeometryEdited or
// GeometryDeleted.
type Event interface {
	eventName() string
}

// SelectionChanged reports the full set of highlighted districts after a
// user click.
type SelectionChanged struct {
	IDs []selection.RegionID
}

// GeometryCreated reports a newly drawn shape.
type GeometryCreated struct {
	Feature selection.Feature
}

// GeometryEdited reports the shapes whose vertices were moved.
type GeometryEdited struct {
	Features []selection.Feature
}

// GeometryDeleted reports the shapes removed by the user.
type GeometryDeleted struct {
	Features []selection.Feature
}

func (SelectionChanged) eventName() string { return "selection_changed" }
func (GeometryCreated) eventName() string  { return "geometry_created" }
func (GeometryEdited) eventName() string   { return "geometry_edited" }
func (GeometryDeleted) eventName() string  { return "geometry_deleted" }

// EventName returns the wire name of an event.
func EventName(e Event) string {
	return e.eventName()
}

// RenderError is returned by DrawFeature for a feature the surface cannot
// display, typically malformed persisted geometry.
type RenderError struct {
	FeatureID string
	Reason    string
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("failed to render feature %q: %s", e.FeatureID, e.Reason)
}
