package selection

// Payload is the body sent to the zone create/update endpoint.
type Payload struct {
	DistrictIDs   []int64   `json:"districtIds"`
	CustomPolygon []Feature `json:"customPolygon"`
}

// NewPayload converts a selection into its submission form. Empty fields are
// encoded as [] rather than null.
func NewPayload(s State) Payload {
	p := Payload{
		DistrictIDs:   make([]int64, 0, len(s.DistrictIDs)),
		CustomPolygon: CloneFeatures(s.PolygonFeatures),
	}
	for _, id := range s.DistrictIDs {
		p.DistrictIDs = append(p.DistrictIDs, int64(id))
	}
	return p
}

// State converts a persisted or submitted payload back into a selection,
// used to seed edit sessions.
func (p Payload) State() State {
	s := State{
		DistrictIDs:     make([]RegionID, 0, len(p.DistrictIDs)),
		PolygonFeatures: CloneFeatures(p.CustomPolygon),
	}
	for _, id := range p.DistrictIDs {
		s.DistrictIDs = append(s.DistrictIDs, RegionID(id))
	}
	return s
}
