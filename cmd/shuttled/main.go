package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"shuttle-realtime/internal/broker"
	"shuttle-realtime/internal/config"
	"shuttle-realtime/internal/db"
	"shuttle-realtime/internal/gateway"
	"shuttle-realtime/internal/livefeed"
	"shuttle-realtime/internal/logging"
	"shuttle-realtime/internal/metrics"
	"shuttle-realtime/internal/publisher"
	"shuttle-realtime/internal/realtime"
	"shuttle-realtime/internal/server"
)

func main() {
	os.Exit(run())
}

// run returns the exit code once every deferred cleanup has run.
func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", "error", err)
		return 1
	}
	log := logging.New("shuttle-realtime", cfg.LogLevel)
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

	mcol := metrics.NewCollector()

	// Optional NATS mirror of outbound trip events
	var mirror realtime.Mirror
	if cfg.NATSURL != "" {
		pub, err := publisher.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubjectPrefix, cfg.LogNATSSubjects, wrapPublisherMetrics(mcol), log.With("component", "nats"))
		if err != nil {
			log.Error("nats error", "error", err)
			return 1
		}
		defer pub.Close()
		mirror = pub
	}

	router := realtime.NewRouter(log.With("component", "router"), mirror, mcol.Router())
	ws := gateway.NewHandler(router, log.With("component", "gateway"), gateway.Options{
		PingInterval: cfg.PingInterval,
		PongTimeout:  cfg.PongTimeout,
		SendBuffer:   cfg.SendBuffer,
	}, mcol.Gateway())
	feed := livefeed.NewHandler(db.NewTripStore(sqlDB), cfg.SnapshotInterval, log.With("component", "livefeed"), mcol.LiveFeed())

	var wg sync.WaitGroup
	if cfg.AMQPURL != "" {
		consumer := broker.NewConsumer(broker.Options{
			URL:        cfg.AMQPURL,
			Exchange:   cfg.AMQPExchange,
			Queue:      cfg.AMQPQueue,
			Prefetch:   cfg.AMQPPrefetch,
			RetryDelay: cfg.ReconnectDelay,
		}, router, log.With("component", "amqp"), mcol.Broker())
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = consumer.Run(ctx)
		}()
	}

	srv := server.New(cfg.HTTPAddr, router, ws, feed, mcol.Handler(), log.With("component", "http"))
	if err := srv.Run(ctx); err != nil {
		log.Error("server error", "error", err)
		cancel()
		wg.Wait()
		return 1
	}
	wg.Wait()
	log.Info("shutdown complete")
	return 0
}

// wrapPublisherMetrics adapts our Collector to the PublisherMetrics interface.
func wrapPublisherMetrics(c *metrics.Collector) publisher.PublisherMetrics {
	if c == nil {
		return nil
	}
	return &pubMetrics{c: c}
}

type pubMetrics struct{ c *metrics.Collector }

func (p *pubMetrics) NATSPublishedInc()              { p.c.NATSPublished.Inc() }
func (p *pubMetrics) NATSPublishErrInc()             { p.c.NATSPublishErrs.Inc() }
func (p *pubMetrics) PublishObserve(d time.Duration) { p.c.PublishDuration.Observe(d.Seconds()) }
func (p *pubMetrics) NATSSetConnected(b bool) {
	if b {
		p.c.NATSConnected.Set(1)
	} else {
		p.c.NATSConnected.Set(0)
	}
}
