package database

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// RegionSeed is a region catalog file:
//
//	provinces:
//	  - name: Coast
//	    districts: [Harbor, Old Town]
type RegionSeed struct {
	Provinces []ProvinceSeed `yaml:"provinces"`
}

// ProvinceSeed is one province and the names of its districts.
type ProvinceSeed struct {
	Name      string   `yaml:"name"`
	Districts []string `yaml:"districts"`
}

// SeedResult counts the rows a seed inserted. Existing rows are left alone.
type SeedResult struct {
	Provinces int `json:"provinces"`
	Districts int `json:"districts"`
}

// ParseRegionSeed decodes and checks a YAML region catalog. Unknown keys,
// blank names and duplicates are rejected.
func ParseRegionSeed(data []byte) (*RegionSeed, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var seed RegionSeed
	if err := dec.Decode(&seed); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("region seed is empty")
		}
		return nil, fmt.Errorf("failed to parse region seed: %w", err)
	}
	if len(seed.Provinces) == 0 {
		return nil, fmt.Errorf("region seed has no provinces")
	}

	provinces := make(map[string]bool, len(seed.Provinces))
	for i := range seed.Provinces {
		p := &seed.Provinces[i]
		p.Name = strings.TrimSpace(p.Name)
		if p.Name == "" {
			return nil, fmt.Errorf("province %d has no name", i+1)
		}
		if provinces[p.Name] {
			return nil, fmt.Errorf("duplicate province %q", p.Name)
		}
		provinces[p.Name] = true

		districts := make(map[string]bool, len(p.Districts))
		for j, name := range p.Districts {
			name = strings.TrimSpace(name)
			if name == "" {
				return nil, fmt.Errorf("province %q: district %d has no name", p.Name, j+1)
			}
			if districts[name] {
				return nil, fmt.Errorf("province %q: duplicate district %q", p.Name, name)
			}
			districts[name] = true
			p.Districts[j] = name
		}
	}
	return &seed, nil
}

// Seed inserts every province and district in seed that does not exist yet,
// in one transaction.
func (c *RegionCatalog) Seed(seed *RegionSeed) (SeedResult, error) {
	var result SeedResult

	tx, err := c.db.Begin()
	if err != nil {
		return result, fmt.Errorf("failed to begin seed transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, p := range seed.Provinces {
		provinceID, created, err := findOrCreate(tx,
			`SELECT id FROM provinces WHERE name = $1`,
			`INSERT INTO provinces (name) VALUES ($1) RETURNING id`,
			p.Name,
		)
		if err != nil {
			return result, fmt.Errorf("province %q: %w", p.Name, err)
		}
		if created {
			result.Provinces++
		}

		for _, name := range p.Districts {
			_, created, err := findOrCreate(tx,
				`SELECT id FROM districts WHERE province_id = $2 AND name = $1`,
				`INSERT INTO districts (name, province_id) VALUES ($1, $2) RETURNING id`,
				name, provinceID,
			)
			if err != nil {
				return result, fmt.Errorf("district %q: %w", name, err)
			}
			if created {
				result.Districts++
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return SeedResult{}, fmt.Errorf("failed to commit seed: %w", err)
	}
	return result, nil
}

func findOrCreate(tx *sql.Tx, selectQuery, insertQuery string, args ...interface{}) (int64, bool, error) {
	var id int64
	err := tx.QueryRow(selectQuery, args...).Scan(&id)
	if err == nil {
		return id, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, fmt.Errorf("lookup failed: %w", err)
	}
	if err := tx.QueryRow(insertQuery, args...).Scan(&id); err != nil {
		return 0, false, fmt.Errorf("insert failed: %w", err)
	}
	return id, true, nil
}
