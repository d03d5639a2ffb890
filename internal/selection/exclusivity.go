package selection

// Exclusivity is the derived lock state used to drive UI affordances and
// to gate controller decisions.
type Exclusivity struct {
	HasDistrict bool `json:"hasDistrict"`
	HasCustom   bool `json:"hasCustom"`
	Locked      bool `json:"locked"`
}

// Evaluate computes the exclusivity flags for a snapshot. It has no side
// effects.
func Evaluate(s State) Exclusivity {
	hasDistrict := len(s.DistrictIDs) > 0
	hasCustom := len(s.PolygonFeatures) > 0
	return Exclusivity{
		HasDistrict: hasDistrict,
		HasCustom:   hasCustom,
		Locked:      hasDistrict || hasCustom,
	}
}

// DrawingEnabled reports whether the surface drawing tool may create a new
// shape.
func (e Exclusivity) DrawingEnabled() bool {
	return !e.Locked
}

// SelectionInteractive reports whether district clicks may change the
// selection. A drawn polygon makes district selection impossible.
func (e Exclusivity) SelectionInteractive() bool {
	return !e.HasCustom
}

// DistrictSelectable reports whether the district with the given id may be
// toggled by the host UI. Once a district is chosen only that one stays
// enabled so it can be cleared.
func (e Exclusivity) DistrictSelectable(s State, id RegionID) bool {
	if e.HasCustom {
		return false
	}
	if !e.HasDistrict {
		return true
	}
	for _, selected := range s.DistrictIDs {
		if selected == id {
			return true
		}
	}
	return false
}
