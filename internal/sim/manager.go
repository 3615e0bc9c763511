package sim

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"shuttle-realtime/internal/client"
	"shuttle-realtime/internal/db"
	mmetrics "shuttle-realtime/internal/metrics"
	"shuttle-realtime/internal/realtime"
	"shuttle-realtime/internal/shuttle"
)

// Source lists the trips to drive and their routes.
type Source interface {
	ActiveTrips(ctx context.Context, now time.Time) ([]shuttle.ActiveTrip, error)
	RoutePoints(ctx context.Context, routeID string) ([]shuttle.RoutePoint, error)
}

// Manager runs one simulated driver per active trip, starting trips as they
// become active and preloading those due within the horizon.
type Manager struct {
	src             Source
	drivers         DriverFactory
	publishInterval time.Duration
	speedMultiplier float64
	tz              *time.Location
	refreshInterval time.Duration
	preloadHorizon  time.Duration
	metrics         *mmetrics.Collector
	log             *slog.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc // tripID -> cancel
	wg      sync.WaitGroup

	refreshCancel context.CancelFunc
	refreshWG     sync.WaitGroup

	scheduled   map[string]context.CancelFunc // tripID -> cancel (not yet started)
	scheduledWG sync.WaitGroup
}

func NewManager(src Source, drivers DriverFactory, publishInterval time.Duration, speedMultiplier float64, tz *time.Location, refreshInterval time.Duration, preloadHorizon time.Duration, metrics *mmetrics.Collector, log *slog.Logger) *Manager {
	if speedMultiplier <= 0 {
		speedMultiplier = 1
	}
	return &Manager{
		src:             src,
		drivers:         drivers,
		publishInterval: publishInterval,
		speedMultiplier: speedMultiplier,
		tz:              tz,
		refreshInterval: refreshInterval,
		preloadHorizon:  preloadHorizon,
		metrics:         metrics,
		log:             log,
		running:         make(map[string]context.CancelFunc),
		scheduled:       make(map[string]context.CancelFunc),
	}
}

func (m *Manager) Start(ctx context.Context, trips []shuttle.ActiveTrip) {
	now := time.Now().In(m.tz)
	for _, t := range trips {
		if now.Before(t.StartTime) || now.After(t.EndTime) {
			continue // only start currently active trips
		}
		m.startTrip(ctx, t)
	}
}

func (m *Manager) startTrip(parent context.Context, t shuttle.ActiveTrip) {
	m.mu.Lock()
	if _, exists := m.running[t.TripID]; exists {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(parent)
	m.running[t.TripID] = cancel
	m.wg.Add(1)
	if m.metrics != nil {
		m.metrics.TripsStarted.Inc()
		m.metrics.ActiveTrips.Set(float64(len(m.running)))
	}
	m.mu.Unlock()

	m.log.Info("starting trip", "trip_id", t.TripID, "route_id", t.RouteID, "departure", t.StartTime.Format(time.RFC3339))
	go func() {
		defer m.wg.Done()
		if err := m.runTrip(ctx, t); err != nil && !errors.Is(err, context.Canceled) {
			m.log.Error("trip simulation failed", "trip_id", t.TripID, "error", err)
		}
		m.mu.Lock()
		delete(m.running, t.TripID)
		if m.metrics != nil {
			m.metrics.TripsFinished.Inc()
			m.metrics.ActiveTrips.Set(float64(len(m.running)))
		}
		m.mu.Unlock()
		cancel()
	}()
}

func (m *Manager) runTrip(ctx context.Context, t shuttle.ActiveTrip) error {
	pts, err := m.src.RoutePoints(ctx, t.RouteID)
	if err != nil {
		return err
	}
	if len(pts) == 0 {
		// Without stops, we cannot simulate geographic position. Skip.
		m.log.Warn("trip has no route stops, skipping", "trip_id", t.TripID, "route_id", t.RouteID)
		return nil
	}
	cum := db.CumDistances(pts)
	totalDist := cum[len(cum)-1]

	times, dists := buildSchedule(t.StartTime, t.EndTime, totalDist)

	drv := m.drivers(t)
	drvCtx, stopDriver := context.WithCancel(ctx)
	drvDone := make(chan struct{})
	go func() {
		defer close(drvDone)
		_ = drv.Run(drvCtx)
	}()
	defer func() {
		stopDriver()
		<-drvDone
	}()

	tick := time.NewTicker(m.publishInterval)
	defer tick.Stop()

	driverID := driverIDFor(t)
	var (
		lastPosTime time.Time
		lastLat     float64
		lastLon     float64
		sent        shuttle.Status
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-tick.C:
			tickStart := time.Now()
			if now.Before(t.StartTime) {
				continue
			}
			// Scale time progression by speedMultiplier relative to real wall-clock
			elapsed := now.Sub(t.StartTime).Seconds() * m.speedMultiplier
			targetAbs := t.StartTime.Add(time.Duration(elapsed * float64(time.Second)))
			if targetAbs.After(t.EndTime) {
				targetAbs = t.EndTime
			}
			targetDist := interpolateDistAtTime(times, dists, targetAbs)
			lat, lon, bearing := db.InterpolateRoute(pts, cum, targetDist)

			speed := 0.0
			if !lastPosTime.IsZero() {
				if dt := now.Sub(lastPosTime).Seconds(); dt > 0 {
					speed = db.Haversine(lastLat, lastLon, lat, lon) / dt * 3.6
				}
			}
			lastPosTime = now
			lastLat, lastLon = lat, lon

			status := phaseAt(progressOf(targetDist, totalDist))
			if !targetAbs.Before(t.EndTime) {
				status = shuttle.StatusCompleted
			}

			if err := drv.Emit(realtime.EventDriverLocation, shuttle.DriverLocation{
				DriverID:  driverID,
				TripID:    t.TripID,
				Latitude:  lat,
				Longitude: lon,
				Heading:   bearing,
				Speed:     speed,
				Timestamp: now.UTC(),
			}); err != nil && !errors.Is(err, client.ErrNotConnected) {
				m.log.Warn("location emit failed", "trip_id", t.TripID, "error", err)
			}

			if status != sent {
				current, next := db.StopsAround(pts, cum, targetDist)
				u := shuttle.TripUpdate{
					TripID:      t.TripID,
					Status:      status,
					CurrentStop: optional(current),
					NextStop:    optional(next),
					ETA:         etaMinutes(targetAbs, t.EndTime, m.speedMultiplier),
				}
				if err := drv.Emit(realtime.EventDriverTripUpdate, u); err == nil {
					m.log.Info("trip status changed", "trip_id", t.TripID, "status", status)
					sent = status
				} else if !errors.Is(err, client.ErrNotConnected) {
					m.log.Warn("status emit failed", "trip_id", t.TripID, "error", err)
				}
			}
			if m.metrics != nil {
				m.metrics.TickDuration.Observe(time.Since(tickStart).Seconds())
			}
			if sent == shuttle.StatusCompleted {
				m.log.Info("finished trip", "trip_id", t.TripID, "at", now.Format(time.RFC3339))
				return nil
			}
		}
	}
}

// boardingDwell is how long a trip sits at its first stop before moving.
const boardingDwell = 2 * time.Minute

// arrivingProgress is the share of the route after which a trip is arriving.
const arrivingProgress = 0.9

// buildSchedule constructs a time->distance schedule: a boarding dwell at the
// first stop, then constant progress until the scheduled arrival.
func buildSchedule(start, end time.Time, totalDist float64) ([]time.Time, []float64) {
	span := end.Sub(start)
	if span <= 0 {
		return []time.Time{start}, []float64{totalDist}
	}
	dwell := boardingDwell
	if dwell > span/4 {
		dwell = span / 4
	}
	return []time.Time{start, start.Add(dwell), end}, []float64{0, 0, totalDist}
}

func interpolateDistAtTime(times []time.Time, dists []float64, at time.Time) float64 {
	n := len(times)
	if n == 0 {
		return 0
	}
	if !at.After(times[0]) {
		return dists[0]
	}
	if !at.Before(times[n-1]) {
		return dists[n-1]
	}
	// find segment i s.t. times[i] <= at < times[i+1]
	i := 0
	for i+1 < n && at.After(times[i+1]) {
		i++
	}
	if i+1 >= n {
		return dists[n-1]
	}
	t0, t1 := times[i], times[i+1]
	d0, d1 := dists[i], dists[i+1]
	dt := t1.Sub(t0)
	if dt <= 0 {
		return d0
	}
	frac := float64(at.Sub(t0)) / float64(dt)
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return d0 + (d1-d0)*frac
}

func progressOf(dist, total float64) float64 {
	if total <= 0 {
		return 1
	}
	return dist / total
}

// phaseAt maps route progress to the status a driver reports.
func phaseAt(progress float64) shuttle.Status {
	switch {
	case progress >= 1:
		return shuttle.StatusCompleted
	case progress >= arrivingProgress:
		return shuttle.StatusArriving
	case progress > 0:
		return shuttle.StatusInTransit
	default:
		return shuttle.StatusBoarding
	}
}

// etaMinutes is the wall-clock time left until the scheduled arrival.
func etaMinutes(at, end time.Time, speedMultiplier float64) *int {
	left := end.Sub(at).Minutes() / speedMultiplier
	if left < 0 {
		left = 0
	}
	eta := int(math.Ceil(left))
	return &eta
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (m *Manager) Stop() {
	if m.refreshCancel != nil {
		m.refreshCancel()
	}
	m.refreshWG.Wait()
	// cancel scheduled starts
	m.mu.Lock()
	for _, cancel := range m.scheduled {
		cancel()
	}
	m.scheduled = make(map[string]context.CancelFunc)
	m.mu.Unlock()
	m.scheduledWG.Wait()
	m.mu.Lock()
	for _, cancel := range m.running {
		cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// StartRefresher launches a background loop that periodically fetches active trips
// and starts drivers for newly active trips.
func (m *Manager) StartRefresher(parent context.Context) {
	if m.refreshInterval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	m.refreshCancel = cancel
	m.refreshWG.Add(1)
	go func() {
		defer m.refreshWG.Done()
		// immediate refresh on start
		if err := m.RefreshActive(ctx); err != nil {
			m.log.Error("refresh active trips", "error", err)
		}
		ticker := time.NewTicker(m.refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.RefreshActive(ctx); err != nil {
					m.log.Error("refresh active trips", "error", err)
				}
			}
		}
	}()
}

// RefreshActive queries the source for today's trips, starts those inside
// their window and schedules those departing within the preload horizon.
func (m *Manager) RefreshActive(ctx context.Context) error {
	now := time.Now().In(m.tz)
	trips, err := m.src.ActiveTrips(ctx, now)
	if err != nil {
		return err
	}
	for _, t := range trips {
		if now.After(t.EndTime) {
			continue
		}
		if now.Before(t.StartTime) {
			if m.preloadHorizon > 0 && t.StartTime.Sub(now) <= m.preloadHorizon {
				m.scheduleTrip(ctx, t)
			}
			continue
		}
		m.startTrip(ctx, t)
	}
	return nil
}

func (m *Manager) scheduleTrip(parent context.Context, t shuttle.ActiveTrip) {
	m.mu.Lock()
	if _, running := m.running[t.TripID]; running {
		m.mu.Unlock()
		return
	}
	if _, exists := m.scheduled[t.TripID]; exists {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(parent)
	m.scheduled[t.TripID] = cancel
	m.scheduledWG.Add(1)
	if m.metrics != nil {
		m.metrics.TripsScheduled.Inc()
		m.metrics.ScheduledTrips.Set(float64(len(m.scheduled)))
	}
	m.mu.Unlock()

	m.log.Info("scheduled trip", "trip_id", t.TripID, "departure", t.StartTime.Format(time.RFC3339))
	go func() {
		defer m.scheduledWG.Done()
		defer func() {
			m.mu.Lock()
			delete(m.scheduled, t.TripID)
			if m.metrics != nil {
				m.metrics.ScheduledTrips.Set(float64(len(m.scheduled)))
			}
			m.mu.Unlock()
		}()
		d := time.Until(t.StartTime)
		if d < 0 {
			d = 0
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		// on wake, start if still not started and before end
		if time.Now().In(m.tz).After(t.EndTime) {
			return
		}
		m.startTrip(parent, t)
	}()
}
