package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/earthring/zonesync/internal/selection"
	"github.com/lib/pq"
)

// ErrZoneNotFound is returned when a zone id does not exist.
var ErrZoneNotFound = errors.New("zone not found")

// Zone is a stored delivery zone. Exactly one of DistrictIDs and
// CustomPolygon holds a single entry.
type Zone struct {
	ID            int64               `json:"id"`
	Name          string              `json:"name"`
	DistrictIDs   []int64             `json:"districtIds"`
	CustomPolygon []selection.Feature `json:"customPolygon"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// Selection returns the zone's selection, used to seed an edit session.
func (z *Zone) Selection() selection.State {
	return z.Payload().State()
}

// Payload returns the zone's selection in submission form.
func (z *Zone) Payload() selection.Payload {
	return selection.Payload{
		DistrictIDs:   append([]int64{}, z.DistrictIDs...),
		CustomPolygon: selection.CloneFeatures(z.CustomPolygon),
	}
}

// ZoneCreateInput contains the fields required to create a zone.
type ZoneCreateInput struct {
	Name      string
	Selection selection.Payload
}

// ZoneUpdateInput describes the fields that can be updated on a zone.
// A nil field means "leave unchanged".
type ZoneUpdateInput struct {
	Name      *string
	Selection *selection.Payload
}

// ZoneStorage provides delivery zone persistence helpers.
type ZoneStorage struct {
	db *sql.DB
}

// NewZoneStorage creates a new ZoneStorage instance.
func NewZoneStorage(db *sql.DB) *ZoneStorage {
	return &ZoneStorage{db: db}
}

const zoneColumns = `id, name, district_ids, custom_polygon, created_at, updated_at`

// CreateZone validates and inserts a new zone.
func (s *ZoneStorage) CreateZone(input *ZoneCreateInput) (*Zone, error) {
	if input == nil {
		return nil, fmt.Errorf("input cannot be nil")
	}
	if err := validateZoneName(input.Name); err != nil {
		return nil, err
	}
	if err := selection.Validate(input.Selection.State()); err != nil {
		return nil, err
	}

	polygon, err := encodePolygon(input.Selection.CustomPolygon)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO delivery_zones (name, district_ids, custom_polygon)
		VALUES ($1, $2, $3)
		RETURNING ` + zoneColumns
	row := s.db.QueryRow(query, strings.TrimSpace(input.Name), pq.Array(districtIDs(input.Selection)), polygon)
	zone, err := scanZone(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create zone: %w", err)
	}
	return zone, nil
}

// GetZoneByID returns a zone or nil when it does not exist.
func (s *ZoneStorage) GetZoneByID(id int64) (*Zone, error) {
	if id <= 0 {
		return nil, fmt.Errorf("invalid zone id: %d", id)
	}

	row := s.db.QueryRow(`SELECT `+zoneColumns+` FROM delivery_zones WHERE id = $1`, id)
	zone, err := scanZone(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get zone %d: %w", id, err)
	}
	return zone, nil
}

// ListZones returns zones ordered by id.
func (s *ZoneStorage) ListZones(limit, offset int) ([]Zone, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(`SELECT `+zoneColumns+` FROM delivery_zones ORDER BY id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list zones: %w", err)
	}
	defer rows.Close()

	zones := make([]Zone, 0)
	for rows.Next() {
		zone, err := scanZone(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan zone: %w", err)
		}
		zones = append(zones, *zone)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate zones: %w", err)
	}
	return zones, nil
}

// UpdateZone updates the provided fields for a zone. A new selection replaces
// both columns so the stored zone never carries both modalities.
func (s *ZoneStorage) UpdateZone(id int64, input ZoneUpdateInput) (*Zone, error) {
	if id <= 0 {
		return nil, fmt.Errorf("invalid zone id: %d", id)
	}

	setClauses := make([]string, 0, 4)
	args := make([]interface{}, 0, 4)
	argIdx := 1

	if input.Name != nil {
		if err := validateZoneName(*input.Name); err != nil {
			return nil, err
		}
		setClauses = append(setClauses, fmt.Sprintf("name = $%d", argIdx))
		args = append(args, strings.TrimSpace(*input.Name))
		argIdx++
	}

	if input.Selection != nil {
		if err := selection.Validate(input.Selection.State()); err != nil {
			return nil, err
		}
		polygon, err := encodePolygon(input.Selection.CustomPolygon)
		if err != nil {
			return nil, err
		}
		setClauses = append(setClauses,
			fmt.Sprintf("district_ids = $%d", argIdx),
			fmt.Sprintf("custom_polygon = $%d", argIdx+1),
		)
		args = append(args, pq.Array(districtIDs(*input.Selection)), polygon)
		argIdx += 2
	}

	if len(setClauses) == 0 {
		zone, err := s.GetZoneByID(id)
		if err == nil && zone == nil {
			return nil, fmt.Errorf("update zone %d: %w", id, ErrZoneNotFound)
		}
		return zone, err
	}

	setClauses = append(setClauses, "updated_at = CURRENT_TIMESTAMP")
	query := fmt.Sprintf(`
		UPDATE delivery_zones
		SET %s
		WHERE id = $%d
		RETURNING %s
	`, strings.Join(setClauses, ", "), argIdx, zoneColumns)
	args = append(args, id)

	zone, err := scanZone(s.db.QueryRow(query, args...))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("update zone %d: %w", id, ErrZoneNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update zone %d: %w", id, err)
	}
	return zone, nil
}

// DeleteZone removes a zone by id.
func (s *ZoneStorage) DeleteZone(id int64) error {
	if id <= 0 {
		return fmt.Errorf("invalid zone id: %d", id)
	}

	result, err := s.db.Exec(`DELETE FROM delivery_zones WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete zone: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("delete zone %d: %w", id, ErrZoneNotFound)
	}
	return nil
}

// CountZones returns the number of stored delivery zones.
func (s *ZoneStorage) CountZones() (int64, error) {
	var count int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM delivery_zones`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count zones: %w", err)
	}
	return count, nil
}

// DeleteAllZones removes every delivery zone and returns how many were
// deleted. With restartIDs the table is truncated and ids start again at 1.
func (s *ZoneStorage) DeleteAllZones(restartIDs bool) (int64, error) {
	if restartIDs {
		// TRUNCATE reports no row count
		count, err := s.CountZones()
		if err != nil {
			count = 0
		}
		if _, err := s.db.Exec(`TRUNCATE delivery_zones RESTART IDENTITY`); err != nil {
			return 0, fmt.Errorf("failed to truncate zones: %w", err)
		}
		return count, nil
	}

	result, err := s.db.Exec(`DELETE FROM delivery_zones`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete all zones: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}

// Helper to scan a zone from a scanner.
type zoneScanner interface {
	Scan(dest ...interface{}) error
}

func scanZone(scanner zoneScanner) (*Zone, error) {
	var z Zone
	var ids pq.Int64Array
	var polygon sql.NullString

	err := scanner.Scan(
		&z.ID,
		&z.Name,
		&ids,
		&polygon,
		&z.CreatedAt,
		&z.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	z.DistrictIDs = []int64(ids)
	if z.DistrictIDs == nil {
		z.DistrictIDs = []int64{}
	}
	z.CustomPolygon = []selection.Feature{}
	if polygon.Valid && polygon.String != "" && polygon.String != "null" {
		if err := json.Unmarshal([]byte(polygon.String), &z.CustomPolygon); err != nil {
			return nil, fmt.Errorf("failed to decode custom polygon for zone %d: %w", z.ID, err)
		}
	}
	return &z, nil
}

func districtIDs(p selection.Payload) []int64 {
	if p.DistrictIDs == nil {
		return []int64{}
	}
	return p.DistrictIDs
}

func encodePolygon(features []selection.Feature) (string, error) {
	if features == nil {
		features = []selection.Feature{}
	}
	data, err := json.Marshal(features)
	if err != nil {
		return "", fmt.Errorf("failed to encode custom polygon: %w", err)
	}
	return string(data), nil
}

func validateZoneName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("zone name cannot be empty")
	}
	if len(name) > 255 {
		return fmt.Errorf("zone name too long: %d characters (max 255)", len(name))
	}
	return nil
}
