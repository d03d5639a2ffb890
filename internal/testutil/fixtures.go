package testutil

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/earthring/zonesync/internal/selection"
)

// RandomString generates a random string of specified length
func RandomString(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, length)
	seed := time.Now().UnixNano()
	for i := range b {
		seed = seed*1103515245 + 12345 // Simple LCG
		idx := int(seed % int64(len(charset)))
		if idx < 0 {
			idx = -idx
		}
		b[i] = charset[idx]
	}
	return string(b)
}

// RandomZoneName generates a unique-looking zone name
func RandomZoneName() string {
	return "Test Zone " + RandomString(6)
}

// SquareGeometry returns a closed GeoJSON polygon with its corner at (x, y).
func SquareGeometry(x, y, size float64) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(
		`{"type":"Polygon","coordinates":[[[%g,%g],[%g,%g],[%g,%g],[%g,%g],[%g,%g]]]}`,
		x, y, x+size, y, x+size, y+size, x, y+size, x, y,
	))
}

// SquareFeature returns a drawn feature wrapping SquareGeometry.
func SquareFeature(id string) selection.Feature {
	return selection.Feature{ID: id, Geometry: SquareGeometry(0, 0, 1)}
}

// DistrictPayload builds a submission payload selecting one district.
func DistrictPayload(id int64) selection.Payload {
	return selection.NewPayload(selection.State{DistrictIDs: []selection.RegionID{selection.RegionID(id)}})
}

// PolygonPayload builds a submission payload with one drawn polygon.
func PolygonPayload(featureID string) selection.Payload {
	return selection.NewPayload(selection.State{PolygonFeatures: []selection.Feature{SquareFeature(featureID)}})
}
