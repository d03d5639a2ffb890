package database

import (
	"database/sql"
	"fmt"
)

// District is a selectable administrative region.
type District struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Province groups the districts shown together on the map.
type Province struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	Districts []District `json:"districts"`
}

// RegionCatalog reads the province and district hierarchy.
type RegionCatalog struct {
	db *sql.DB
}

// NewRegionCatalog creates a new RegionCatalog instance.
func NewRegionCatalog(db *sql.DB) *RegionCatalog {
	return &RegionCatalog{db: db}
}

// ListProvinces returns every province with its districts, both ordered by
// id. Provinces without districts are included with an empty list.
func (c *RegionCatalog) ListProvinces() ([]Province, error) {
	rows, err := c.db.Query(`
		SELECT p.id, p.name, d.id, d.name
		FROM provinces p
		LEFT JOIN districts d ON d.province_id = p.id
		ORDER BY p.id, d.id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query provinces: %w", err)
	}
	defer rows.Close()

	provinces := make([]Province, 0)
	for rows.Next() {
		var provinceID int64
		var provinceName string
		var districtID sql.NullInt64
		var districtName sql.NullString
		if err := rows.Scan(&provinceID, &provinceName, &districtID, &districtName); err != nil {
			return nil, fmt.Errorf("failed to scan region row: %w", err)
		}

		if n := len(provinces); n == 0 || provinces[n-1].ID != provinceID {
			provinces = append(provinces, Province{
				ID:        provinceID,
				Name:      provinceName,
				Districts: []District{},
			})
		}
		if districtID.Valid {
			p := &provinces[len(provinces)-1]
			p.Districts = append(p.Districts, District{ID: districtID.Int64, Name: districtName.String})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate regions: %w", err)
	}
	return provinces, nil
}

// CreateProvince inserts a province and returns its id.
func (c *RegionCatalog) CreateProvince(name string) (int64, error) {
	var id int64
	if err := c.db.QueryRow(`INSERT INTO provinces (name) VALUES ($1) RETURNING id`, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to create province: %w", err)
	}
	return id, nil
}

// CreateDistrict inserts a district under provinceID and returns its id.
func (c *RegionCatalog) CreateDistrict(provinceID int64, name string) (int64, error) {
	var id int64
	err := c.db.QueryRow(
		`INSERT INTO districts (province_id, name) VALUES ($1, $2) RETURNING id`,
		provinceID, name,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create district: %w", err)
	}
	return id, nil
}
