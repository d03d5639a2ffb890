package selection

import (
	"errors"
	"fmt"
)

// ErrCardinality is returned when a write would hold more than one district
// or more than one polygon.
var ErrCardinality = errors.New("selection holds at most one district and one polygon")

// Field identifies one of the two observable selection fields.
type Field string

const (
	FieldDistricts Field = "districtIds"
	FieldPolygon   Field = "customPolygon"
)

// Change is delivered to observers after a field changed.
type Change struct {
	Field Field
	State State
}

// Observer is notified synchronously after every model change.
type Observer func(Change)

// Model is the reactive selection store for one editing session.
// It is not safe for concurrent use; the owning session serialises access.
type Model struct {
	state     State
	observers map[int]Observer
	order     []int
	nextID    int
}

// NewModel builds a model seeded with an existing selection.
func NewModel(seed State) (*Model, error) {
	if err := checkCardinality(seed.DistrictIDs, seed.PolygonFeatures); err != nil {
		return nil, err
	}
	return &Model{
		state:     seed.Clone(),
		observers: make(map[int]Observer),
	}, nil
}

// Snapshot returns a deep copy of the current state.
func (m *Model) Snapshot() State {
	return m.state.Clone()
}

// Exclusivity evaluates the current state.
func (m *Model) Exclusivity() Exclusivity {
	return Evaluate(m.state)
}

// Subscribe registers an observer and returns a function removing it.
func (m *Model) Subscribe(obs Observer) func() {
	id := m.nextID
	m.nextID++
	m.observers[id] = obs
	m.order = append(m.order, id)
	return func() {
		if _, ok := m.observers[id]; !ok {
			return
		}
		delete(m.observers, id)
		for i, v := range m.order {
			if v == id {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
	}
}

// SetDistricts replaces the district selection. Writing an equal value is a
// no-op and notifies nobody.
func (m *Model) SetDistricts(ids []RegionID) (bool, error) {
	if len(ids) > 1 {
		return false, fmt.Errorf("set %d districts: %w", len(ids), ErrCardinality)
	}
	if IDsEqual(m.state.DistrictIDs, ids) {
		return false, nil
	}
	m.state.DistrictIDs = CloneIDs(ids)
	m.notify(FieldDistricts)
	return true, nil
}

// SetPolygon replaces the drawn polygon. Writing an equal value is a no-op.
func (m *Model) SetPolygon(features []Feature) (bool, error) {
	if len(features) > 1 {
		return false, fmt.Errorf("set %d polygon features: %w", len(features), ErrCardinality)
	}
	if FeaturesEqual(m.state.PolygonFeatures, features) {
		return false, nil
	}
	m.state.PolygonFeatures = CloneFeatures(features)
	m.notify(FieldPolygon)
	return true, nil
}

// Reset clears both fields.
func (m *Model) Reset() {
	if _, err := m.SetDistricts(nil); err != nil {
		panic(err) // unreachable: empty input
	}
	if _, err := m.SetPolygon(nil); err != nil {
		panic(err)
	}
}

func (m *Model) notify(field Field) {
	// Copy so observers may unsubscribe while being notified.
	ids := append([]int(nil), m.order...)
	for _, id := range ids {
		obs, ok := m.observers[id]
		if !ok {
			continue
		}
		obs(Change{Field: field, State: m.state.Clone()})
	}
}

func checkCardinality(ids []RegionID, features []Feature) error {
	if len(ids) > 1 || len(features) > 1 {
		return fmt.Errorf("seed with %d districts and %d features: %w", len(ids), len(features), ErrCardinality)
	}
	return nil
}
