package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"time"

	"github.com/earthring/zonesync/internal/config"
	"github.com/earthring/zonesync/internal/database"
	_ "github.com/lib/pq"
)

// main loads a YAML region catalog into the database. Provinces and
// districts that already exist are skipped, so the file can be re-applied.
func main() {
	file := flag.String("file", "regions.yaml", "YAML region catalog to load")
	flag.Parse()
	log.SetPrefix("[Seed] ")

	data, err := os.ReadFile(*file)
	if err != nil {
		log.Fatalf("Failed to read %s: %v", *file, err)
	}
	seed, err := database.ParseRegionSeed(data)
	if err != nil {
		log.Fatalf("Invalid region catalog %s: %v", *file, err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.DatabaseURL())
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if err := database.EnsureSchema(db); err != nil {
		log.Fatalf("Failed to prepare schema: %v", err)
	}

	result, err := database.NewRegionCatalog(db).Seed(seed)
	if err != nil {
		log.Fatalf("Seed failed: %v", err)
	}
	log.Printf("Inserted %d provinces and %d districts from %s", result.Provinces, result.Districts, *file)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rdb, err := database.OpenRedis(ctx, &cfg.Redis)
	if err != nil {
		log.Printf("Warning: region cache not invalidated: %v", err)
		return
	}
	if rdb != nil {
		defer rdb.Close()
		if err := database.NewRegionCache(nil, rdb, cfg.Redis.RegionCacheTTL).Invalidate(ctx); err != nil {
			log.Printf("Warning: %v", err)
		}
	}
}
