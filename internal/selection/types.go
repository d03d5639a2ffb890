package selection

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// RegionID identifies an administrative district. Only equality is meaningful.
type RegionID int64

// Feature is an opaque drawn shape. Geometry holds the GeoJSON geometry
// object as received from the surface; it is carried, never inspected.
type Feature struct {
	ID       string          `json:"id,omitempty"`
	Geometry json.RawMessage `json:"geometry" validate:"required"`
}

type featureJSON struct {
	Type       string          `json:"type"`
	ID         string          `json:"id,omitempty"`
	Geometry   json.RawMessage `json:"geometry"`
	Properties json.RawMessage `json:"properties"`
}

// MarshalJSON encodes the feature as a GeoJSON Feature.
func (f Feature) MarshalJSON() ([]byte, error) {
	geometry := f.Geometry
	if len(geometry) == 0 {
		geometry = json.RawMessage("null")
	}
	return json.Marshal(featureJSON{
		Type:       "Feature",
		ID:         f.ID,
		Geometry:   geometry,
		Properties: json.RawMessage("{}"),
	})
}

// UnmarshalJSON accepts a GeoJSON Feature. String and numeric ids are both
// kept as strings.
func (f *Feature) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type     string          `json:"type"`
		ID       json.RawMessage `json:"id"`
		Geometry json.RawMessage `json:"geometry"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to decode feature: %w", err)
	}
	if raw.Type != "" && raw.Type != "Feature" {
		return fmt.Errorf("unexpected GeoJSON type %q, want Feature", raw.Type)
	}
	f.ID = ""
	if len(raw.ID) > 0 && string(raw.ID) != "null" {
		var id string
		if err := json.Unmarshal(raw.ID, &id); err != nil {
			id = string(raw.ID)
		}
		f.ID = id
	}
	f.Geometry = nil
	if len(raw.Geometry) > 0 && string(raw.Geometry) != "null" {
		f.Geometry = append(json.RawMessage(nil), raw.Geometry...)
	}
	return nil
}

// Equal reports whether two features carry the same id and geometry bytes.
func (f Feature) Equal(other Feature) bool {
	return f.ID == other.ID && bytes.Equal(f.Geometry, other.Geometry)
}

// State is a snapshot of the zone selection.
type State struct {
	DistrictIDs     []RegionID `json:"districtIds"`
	PolygonFeatures []Feature  `json:"polygonFeatures"`
}

// Modality names which selection mechanism is currently active.
type Modality int

const (
	ModalityEmpty Modality = iota
	ModalityDistrict
	ModalityCustom
	// ModalityConflict only appears when both fields were populated outside
	// the controller.
	ModalityConflict
)

func (m Modality) String() string {
	switch m {
	case ModalityEmpty:
		return "empty"
	case ModalityDistrict:
		return "district_selected"
	case ModalityCustom:
		return "custom_drawn"
	case ModalityConflict:
		return "conflict"
	default:
		return fmt.Sprintf("modality(%d)", int(m))
	}
}

// Modality derives the active selection modality.
func (s State) Modality() Modality {
	ex := Evaluate(s)
	switch {
	case ex.HasDistrict && ex.HasCustom:
		return ModalityConflict
	case ex.HasDistrict:
		return ModalityDistrict
	case ex.HasCustom:
		return ModalityCustom
	default:
		return ModalityEmpty
	}
}

// Clone returns a deep copy of the state.
func (s State) Clone() State {
	return State{
		DistrictIDs:     CloneIDs(s.DistrictIDs),
		PolygonFeatures: CloneFeatures(s.PolygonFeatures),
	}
}

// CloneIDs copies ids, always returning a non-nil slice.
func CloneIDs(ids []RegionID) []RegionID {
	out := make([]RegionID, len(ids))
	copy(out, ids)
	return out
}

// CloneFeatures deep-copies features, always returning a non-nil slice.
func CloneFeatures(features []Feature) []Feature {
	out := make([]Feature, len(features))
	for i, f := range features {
		out[i] = Feature{ID: f.ID, Geometry: append(json.RawMessage(nil), f.Geometry...)}
	}
	return out
}

// IDsEqual compares two id lists in order.
func IDsEqual(a, b []RegionID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// FeaturesEqual compares two feature lists in order.
func FeaturesEqual(a, b []Feature) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}
