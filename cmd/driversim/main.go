package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shuttle-realtime/internal/config"
	"shuttle-realtime/internal/db"
	"shuttle-realtime/internal/logging"
	"shuttle-realtime/internal/metrics"
	"shuttle-realtime/internal/sim"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		logging.New("shuttle-driversim", "INFO").Error("config error", "error", err)
		return 1
	}
	log := logging.New("shuttle-driversim", cfg.LogLevel)
	slog.SetDefault(log)

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sqlDB, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Error("db open error", "error", err)
		return 1
	}
	defer sqlDB.Close()
	if err := db.Ping(ctx, sqlDB); err != nil {
		log.Error("db ping error", "error", err)
		return 1
	}

	// Metrics setup
	var mcol *metrics.Collector
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector()
		mcol.SetSimulatorSettings(cfg.SpeedMultiplier, cfg.PublishInterval, cfg.TripsRefreshInterval, cfg.PreloadHorizon)
		srv := mcol.Serve(cfg.MetricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	store := db.NewTripStore(sqlDB)
	drivers := sim.GatewayDrivers(cfg.GatewayURL, cfg.ReconnectDelay, log.With("component", "driver"))

	// Fetch today's trips and start the drivers already on the road
	now := time.Now().In(cfg.Location)
	trips, err := store.ActiveTrips(ctx, now)
	if err != nil {
		log.Error("fetch active trips error", "error", err)
		return 1
	}
	if len(trips) == 0 {
		log.Info("no active trips", "date", now.Format("2006-01-02"))
	}
	mgr := sim.NewManager(store, drivers, cfg.PublishInterval, cfg.SpeedMultiplier, cfg.Location, cfg.TripsRefreshInterval, cfg.PreloadHorizon, mcol, log.With("component", "sim"))
	mgr.Start(ctx, trips)
	// Periodic refresher launches trips as they become active
	mgr.StartRefresher(ctx)

	<-ctx.Done()
	mgr.Stop()
	log.Info("shutdown complete")
	return 0
}
