package database

import (
	"database/sql"
	"fmt"
	"log"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS provinces (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(255) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS districts (
		id BIGSERIAL PRIMARY KEY,
		province_id BIGINT NOT NULL REFERENCES provinces(id) ON DELETE CASCADE,
		name VARCHAR(255) NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_districts_province ON districts(province_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_provinces_name ON provinces(name)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_districts_province_name ON districts(province_id, name)`,
	`CREATE TABLE IF NOT EXISTS delivery_zones (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		district_ids BIGINT[] NOT NULL DEFAULT '{}',
		custom_polygon JSONB NOT NULL DEFAULT '[]',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
}

// EnsureSchema creates the service tables if they do not exist.
func EnsureSchema(db *sql.DB) error {
	for i, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement %d failed: %w", i+1, err)
		}
	}
	log.Printf("[Database] Schema ready (%d statements)", len(schemaStatements))
	return nil
}
