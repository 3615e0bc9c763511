package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"shuttle-realtime/internal/broker"
	"shuttle-realtime/internal/gateway"
	"shuttle-realtime/internal/livefeed"
	"shuttle-realtime/internal/realtime"
	"shuttle-realtime/internal/shuttle"
)

type Collector struct {
	reg *prometheus.Registry

	// Gateway and router
	Connections    prometheus.Gauge
	DriverSessions prometheus.Gauge
	WatchedTrips   prometheus.Gauge
	Subscriptions  prometheus.Gauge

	InboundEvents   *prometheus.CounterVec // event label
	MalformedFrames prometheus.Counter
	Broadcasts      *prometheus.CounterVec // event label
	Deliveries      *prometheus.CounterVec // event label
	DroppedSends    *prometheus.CounterVec // event label
	Notifications   *prometheus.CounterVec // type label

	// Live trip feed
	SSEClients       prometheus.Gauge
	SnapshotErrors   prometheus.Counter
	SnapshotDuration prometheus.Histogram

	// Event mirror
	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge
	PublishDuration prometheus.Histogram

	// CRUD mutation feed
	AMQPConsumed  *prometheus.CounterVec // routing_key label
	AMQPRejected  prometheus.Counter
	AMQPConnected prometheus.Gauge

	// Driver simulator
	ActiveTrips     prometheus.Gauge
	ScheduledTrips  prometheus.Gauge
	TripsStarted    prometheus.Counter
	TripsFinished   prometheus.Counter
	TripsScheduled  prometheus.Counter
	TickDuration    prometheus.Histogram
	SpeedMultiplier prometheus.Gauge
	PublishInterval prometheus.Gauge // seconds
	RefreshInterval prometheus.Gauge // seconds
	PreloadMinutes  prometheus.Gauge
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shuttle_ws_connections",
			Help: "Open WebSocket connections.",
		}),
		DriverSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shuttle_driver_sessions",
			Help: "Drivers with a registered connection.",
		}),
		WatchedTrips: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shuttle_watched_trips",
			Help: "Trips with at least one subscriber.",
		}),
		Subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shuttle_trip_subscriptions",
			Help: "Total trip subscriptions across all trips.",
		}),
		InboundEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shuttle_inbound_events_total",
			Help: "Inbound WebSocket events by name.",
		}, []string{"event"}),
		MalformedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shuttle_malformed_frames_total",
			Help: "Inbound frames that could not be decoded.",
		}),
		Broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shuttle_broadcasts_total",
			Help: "Outbound events fanned out, by name.",
		}, []string{"event"}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shuttle_deliveries_total",
			Help: "Events handed to a connection send buffer, by name.",
		}, []string{"event"}),
		DroppedSends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shuttle_dropped_sends_total",
			Help: "Events dropped because a connection buffer was full, by name.",
		}, []string{"event"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shuttle_notifications_total",
			Help: "Passenger notifications dispatched, by trip status.",
		}, []string{"type"}),
		SSEClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shuttle_live_feed_clients",
			Help: "Open live trip SSE streams.",
		}),
		SnapshotErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shuttle_live_feed_snapshot_errors_total",
			Help: "Live trip snapshots that failed to load.",
		}),
		SnapshotDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "shuttle_live_feed_snapshot_duration_seconds",
			Help:    "Duration to load a live trip snapshot.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shuttle_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shuttle_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shuttle_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "shuttle_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		AMQPConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shuttle_amqp_consumed_total",
			Help: "CRUD mutation messages relayed, by routing key.",
		}, []string{"routing_key"}),
		AMQPRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shuttle_amqp_rejected_total",
			Help: "CRUD mutation messages rejected as malformed.",
		}),
		AMQPConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shuttle_amqp_connected",
			Help: "1 if the RabbitMQ consumer is attached, 0 otherwise.",
		}),
		ActiveTrips: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simulator_active_trips",
			Help: "Number of currently simulated drivers.",
		}),
		ScheduledTrips: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simulator_scheduled_trips",
			Help: "Number of trips scheduled to start soon.",
		}),
		TripsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_trips_started_total",
			Help: "Total trips started.",
		}),
		TripsFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_trips_finished_total",
			Help: "Total trips finished.",
		}),
		TripsScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_trips_scheduled_total",
			Help: "Total trips scheduled for future start.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "simulator_tick_duration_seconds",
			Help:    "Duration of simulation tick computations.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		SpeedMultiplier: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simulator_speed_multiplier",
			Help: "Current speed multiplier.",
		}),
		PublishInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simulator_publish_interval_seconds",
			Help: "Location publish interval in seconds.",
		}),
		RefreshInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simulator_refresh_interval_seconds",
			Help: "Trips refresh interval in seconds.",
		}),
		PreloadMinutes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simulator_preload_horizon_minutes",
			Help: "Preload horizon in minutes.",
		}),
	}

	reg.MustRegister(
		c.Connections, c.DriverSessions, c.WatchedTrips, c.Subscriptions,
		c.InboundEvents, c.MalformedFrames, c.Broadcasts, c.Deliveries, c.DroppedSends, c.Notifications,
		c.SSEClients, c.SnapshotErrors, c.SnapshotDuration,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected, c.PublishDuration,
		c.AMQPConsumed, c.AMQPRejected, c.AMQPConnected,
		c.ActiveTrips, c.ScheduledTrips, c.TripsStarted, c.TripsFinished, c.TripsScheduled,
		c.TickDuration, c.SpeedMultiplier, c.PublishInterval, c.RefreshInterval, c.PreloadMinutes,
	)

	return c
}

// SetSimulatorSettings records the static simulator configuration.
func (c *Collector) SetSimulatorSettings(speedMultiplier float64, publishInterval, refreshInterval, preloadHorizon time.Duration) {
	c.SpeedMultiplier.Set(speedMultiplier)
	c.PublishInterval.Set(publishInterval.Seconds())
	c.RefreshInterval.Set(refreshInterval.Seconds())
	c.PreloadMinutes.Set(preloadHorizon.Minutes())
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	log.Printf("metrics listening on %s", addr)
	return srv
}

// Router adapts the collector to the realtime.Metrics interface.
func (c *Collector) Router() realtime.Metrics {
	if c == nil {
		return nil
	}
	return routerMetrics{c: c}
}

type routerMetrics struct{ c *Collector }

func (m routerMetrics) Broadcast(event string, delivered, dropped int) {
	m.c.Broadcasts.WithLabelValues(event).Inc()
	if delivered > 0 {
		m.c.Deliveries.WithLabelValues(event).Add(float64(delivered))
	}
	if dropped > 0 {
		m.c.DroppedSends.WithLabelValues(event).Add(float64(dropped))
	}
}

func (m routerMetrics) Notified(status shuttle.Status) {
	m.c.Notifications.WithLabelValues(string(status)).Inc()
}

func (m routerMetrics) Registry(st realtime.RegistryStats) {
	m.c.DriverSessions.Set(float64(st.DriverSessions))
	m.c.WatchedTrips.Set(float64(st.WatchedTrips))
	m.c.Subscriptions.Set(float64(st.Subscriptions))
}

// Gateway adapts the collector to gateway.Metrics.
func (c *Collector) Gateway() gateway.Metrics {
	if c == nil {
		return nil
	}
	return gatewayMetrics{c: c}
}

type gatewayMetrics struct{ c *Collector }

func (m gatewayMetrics) ConnOpened()          { m.c.Connections.Inc() }
func (m gatewayMetrics) ConnClosed()          { m.c.Connections.Dec() }
func (m gatewayMetrics) Inbound(event string) { m.c.InboundEvents.WithLabelValues(event).Inc() }
func (m gatewayMetrics) Malformed()           { m.c.MalformedFrames.Inc() }

func (c *Collector) LiveFeed() livefeed.Metrics {
	if c == nil {
		return nil
	}
	return feedMetrics{c: c}
}

type feedMetrics struct{ c *Collector }

func (m feedMetrics) ClientOpened() { m.c.SSEClients.Inc() }
func (m feedMetrics) ClientClosed() { m.c.SSEClients.Dec() }
func (m feedMetrics) Snapshot(d time.Duration, err error) {
	m.c.SnapshotDuration.Observe(d.Seconds())
	if err != nil {
		m.c.SnapshotErrors.Inc()
	}
}

func (c *Collector) Broker() broker.Metrics {
	if c == nil {
		return nil
	}
	return brokerMetrics{c: c}
}

type brokerMetrics struct{ c *Collector }

func (m brokerMetrics) Consumed(routingKey string) { m.c.AMQPConsumed.WithLabelValues(routingKey).Inc() }
func (m brokerMetrics) Rejected()                  { m.c.AMQPRejected.Inc() }
func (m brokerMetrics) SetConnected(connected bool) {
	if connected {
		m.c.AMQPConnected.Set(1)
	} else {
		m.c.AMQPConnected.Set(0)
	}
}
