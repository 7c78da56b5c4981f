package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/simulator"
	"github.com/example/ride-dispatch/internal/storage"
)

func main() {
	cfg, err := config.LoadSimulatorConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	var pool geo.Pool
	if cfg.RedisAddr != "" {
		pool = geo.NewRedisPool(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
	} else {
		idx := geo.NewIndex()
		seedDrivers(idx)
		pool = idx
	}

	var store storage.RideStore
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Warn("postgres unavailable, falling back to memory store", "error", err)
		} else {
			if cfg.RunMigrations {
				if b, err := os.ReadFile(filepath.Join("migrations", "001_create_rides.sql")); err == nil {
					if err := ps.Migrate(string(b)); err != nil {
						logger.Error("migration failed", "error", err)
					} else {
						logger.Info("migration applied", "file", "001_create_rides.sql")
					}
				}
			}
			store = ps
		}
	}
	if store == nil {
		store = storage.NewMemoryStore()
	}

	var events *ingest.EventProducer
	if len(cfg.KafkaBrokers) > 0 {
		events = ingest.NewEventProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer events.Close()
	}

	hub := simulator.NewHub(pool, store, cfg, logging.Component(logger, "hub"))
	hub.Events = events
	srv := simulator.NewServer(hub, logging.Component(logger, "http"))

	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("dispatch simulator listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	logger.Info("shut down")
}

// seedDrivers puts a small scripted fleet around downtown San Francisco
// so the simulator answers requests out of the box.
func seedDrivers(idx *geo.Index) {
	for _, d := range []models.Driver{
		{ID: "d-001", Name: "Jenny Wilson", Rating: 4.9, Vehicle: "Toyota Prius", Plate: "GR 678-UVWX", Loc: models.Coordinate{Latitude: 37.7870, Longitude: -122.4310}, Online: true},
		{ID: "d-002", Name: "Marcus Reed", Rating: 4.7, Vehicle: "Honda Civic", Plate: "KL 221-ABCD", Loc: models.Coordinate{Latitude: 37.7912, Longitude: -122.4290}, Online: true},
		{ID: "d-003", Name: "Priya Nair", Rating: 4.8, Vehicle: "Hyundai Ioniq", Plate: "MN 914-EFGH", Loc: models.Coordinate{Latitude: 37.7844, Longitude: -122.4391}, Online: true},
		{ID: "d-004", Name: "Tom Alvarez", Rating: 4.5, Vehicle: "Kia Niro", Plate: "QP 550-IJKL", Loc: models.Coordinate{Latitude: 37.7798, Longitude: -122.4205}, Online: true},
	} {
		idx.Upsert(d)
	}
}
