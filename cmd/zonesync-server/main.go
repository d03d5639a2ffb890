package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/earthring/zonesync/internal/api"
	"github.com/earthring/zonesync/internal/auth"
	"github.com/earthring/zonesync/internal/config"
	"github.com/earthring/zonesync/internal/database"
	"github.com/earthring/zonesync/internal/metrics"
	"github.com/earthring/zonesync/internal/performance"
	_ "github.com/lib/pq"
	limiter "github.com/ulule/limiter/v3"
)

// main starts the delivery zone sync server.
// It wires the zone REST API, the region catalog and the zone editor
// websocket, then listens until interrupted.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if cfg.Logging.OutputPath != "" && cfg.Logging.OutputPath != "stdout" {
		logFile, err := os.OpenFile(cfg.Logging.OutputPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.Fatalf("Failed to open log file: %v", err)
		}
		defer logFile.Close()
		log.SetOutput(logFile)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	db, err := sql.Open("postgres", cfg.Database.DatabaseURL())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxConnections)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	if err := database.EnsureSchema(db); err != nil {
		return err
	}

	var profiler *performance.Profiler
	if cfg.Editor.Profiling {
		profiler = performance.NewProfiler(true)
		defer profiler.LogReport()
	}

	var regions database.RegionSource = database.NewRegionCatalog(db)
	var limiterStore limiter.Store
	rdb, err := database.OpenRedis(ctx, &cfg.Redis)
	switch {
	case err != nil:
		log.Printf("Warning: %v; rate limits and regions stay in process", err)
	case rdb != nil:
		defer rdb.Close()
		if limiterStore, err = api.NewRedisLimiterStore(rdb); err != nil {
			return err
		}
		regions = database.NewRegionCache(regions, rdb, cfg.Redis.RegionCacheTTL)
		log.Printf("Using Redis at %s for rate limits and the region cache", cfg.Redis.Addr)
	}
	limits := api.NewRateLimiter(limiterStore)

	jwtService := auth.NewJWTService(cfg)
	mw := auth.NewMiddleware(jwtService)

	hub := api.NewEditorHub()
	go hub.Run(ctx)

	zones := database.NewZoneStorage(db)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.Handle("/metrics", limits.PerIP("metrics", 60, 1*time.Minute)(metrics.Handler()))

	api.SetupZoneRoutes(mux, api.NewZoneHandlers(zones, hub.BroadcastZoneEvent), mw, limits)
	api.SetupRegionRoutes(mux, api.NewRegionHandlers(regions), mw, limits)

	editor := api.NewEditorHandlers(zones, hub, jwtService, cfg, profiler)
	api.SetupEditorRoutes(mux, editor, cfg.Editor.RateLimit, limits)
	api.SetupAdminRoutes(mux, api.NewAdminHandlers(zones, editor, hub, profiler), mw, limits)

	handler := api.CORSMiddleware(cfg.Server.AllowedOrigins)(auth.SecurityHeadersMiddleware(mux))

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Zone sync server starting on %s (environment=%s)", server.Addr, cfg.Server.Environment)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Printf("Shutting down zone sync server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// healthHandler responds to health check requests.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","service":"zonesync-server"}`)
}
