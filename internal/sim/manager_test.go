package sim

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"shuttle-realtime/internal/realtime"
	"shuttle-realtime/internal/shuttle"
)

type fakeSource struct {
	trips  []shuttle.ActiveTrip
	points []shuttle.RoutePoint
}

func (s *fakeSource) ActiveTrips(ctx context.Context, now time.Time) ([]shuttle.ActiveTrip, error) {
	return s.trips, nil
}

func (s *fakeSource) RoutePoints(ctx context.Context, routeID string) ([]shuttle.RoutePoint, error) {
	return s.points, nil
}

type emitted struct {
	name string
	data any
}

type fakeDriver struct {
	mu     sync.Mutex
	events []emitted
}

func (d *fakeDriver) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (d *fakeDriver) Emit(name string, data any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, emitted{name: name, data: data})
	return nil
}

func (d *fakeDriver) snapshot() []emitted {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]emitted(nil), d.events...)
}

var campusLoop = []shuttle.RoutePoint{
	{Lat: 52.3600, Lon: 4.9000, Sequence: 1, Name: "Central Station"},
	{Lat: 52.3650, Lon: 4.9050, Sequence: 2},
	{Lat: 52.3700, Lon: 4.9100, Sequence: 3, Name: "Science Park"},
	{Lat: 52.3750, Lon: 4.9150, Sequence: 4, Name: "Campus North"},
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func (m *Manager) isRunning(tripID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.running[tripID]
	return ok
}

func (m *Manager) isScheduled(tripID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.scheduled[tripID]
	return ok
}

var phaseOrder = map[shuttle.Status]int{
	shuttle.StatusBoarding:  0,
	shuttle.StatusInTransit: 1,
	shuttle.StatusArriving:  2,
	shuttle.StatusCompleted: 3,
}

func TestRunTripDrivesToCompletion(t *testing.T) {
	drv := &fakeDriver{}
	src := &fakeSource{points: campusLoop}
	// ten scheduled minutes pass in about ten real milliseconds
	m := NewManager(src, func(shuttle.ActiveTrip) Driver { return drv }, time.Millisecond, 60000, time.UTC, 0, 0, nil, discard())

	start := time.Now()
	trip := shuttle.ActiveTrip{TripID: "T1", RouteID: "R1", DriverID: "d1", StartTime: start, EndTime: start.Add(10 * time.Minute)}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.runTrip(ctx, trip); err != nil {
		t.Fatalf("runTrip: %v", err)
	}

	var statuses []shuttle.Status
	locations := 0
	for _, ev := range drv.snapshot() {
		switch ev.name {
		case realtime.EventDriverLocation:
			loc := ev.data.(shuttle.DriverLocation)
			if loc.TripID != "T1" || loc.DriverID != "d1" {
				t.Fatalf("location for wrong trip: %+v", loc)
			}
			locations++
		case realtime.EventDriverTripUpdate:
			statuses = append(statuses, ev.data.(shuttle.TripUpdate).Status)
		}
	}
	if locations == 0 {
		t.Fatal("no locations emitted")
	}
	if len(statuses) == 0 || statuses[len(statuses)-1] != shuttle.StatusCompleted {
		t.Fatalf("statuses = %v, want to end with COMPLETED", statuses)
	}
	for i := 1; i < len(statuses); i++ {
		if phaseOrder[statuses[i]] <= phaseOrder[statuses[i-1]] {
			t.Errorf("statuses out of order: %v", statuses)
		}
	}
}

func TestRunTripWithoutRouteIsSkipped(t *testing.T) {
	created := false
	m := NewManager(&fakeSource{}, func(shuttle.ActiveTrip) Driver { created = true; return &fakeDriver{} }, time.Millisecond, 1, time.UTC, 0, 0, nil, discard())
	now := time.Now()
	if err := m.runTrip(context.Background(), shuttle.ActiveTrip{TripID: "T1", StartTime: now, EndTime: now.Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}
	if created {
		t.Error("driver connected for a trip without stops")
	}
}

func TestRefreshActiveStartsAndSchedules(t *testing.T) {
	now := time.Now()
	src := &fakeSource{
		points: campusLoop,
		trips: []shuttle.ActiveTrip{
			{TripID: "active", StartTime: now.Add(-5 * time.Minute), EndTime: now.Add(time.Hour)},
			{TripID: "soon", StartTime: now.Add(10 * time.Minute), EndTime: now.Add(time.Hour)},
			{TripID: "later", StartTime: now.Add(3 * time.Hour), EndTime: now.Add(4 * time.Hour)},
			{TripID: "done", StartTime: now.Add(-2 * time.Hour), EndTime: now.Add(-time.Hour)},
		},
	}
	m := NewManager(src, func(shuttle.ActiveTrip) Driver { return &fakeDriver{} }, time.Hour, 1, time.UTC, time.Minute, 30*time.Minute, nil, discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.RefreshActive(ctx); err != nil {
		t.Fatal(err)
	}
	if !m.isRunning("active") {
		t.Error("active trip not started")
	}
	if !m.isScheduled("soon") {
		t.Error("trip inside horizon not scheduled")
	}
	if m.isRunning("later") || m.isScheduled("later") {
		t.Error("trip beyond horizon picked up")
	}
	if m.isRunning("done") || m.isScheduled("done") {
		t.Error("finished trip picked up")
	}

	// a second refresh must not duplicate anything
	if err := m.RefreshActive(ctx); err != nil {
		t.Fatal(err)
	}
	m.Stop()
	if m.isRunning("active") || m.isScheduled("soon") {
		t.Error("Stop left trips behind")
	}
}

func TestPhaseAt(t *testing.T) {
	tests := []struct {
		progress float64
		want     shuttle.Status
	}{
		{0, shuttle.StatusBoarding},
		{0.01, shuttle.StatusInTransit},
		{0.89, shuttle.StatusInTransit},
		{0.9, shuttle.StatusArriving},
		{0.99, shuttle.StatusArriving},
		{1, shuttle.StatusCompleted},
	}
	for _, tt := range tests {
		if got := phaseAt(tt.progress); got != tt.want {
			t.Errorf("phaseAt(%v) = %s, want %s", tt.progress, got, tt.want)
		}
	}
}

func TestScheduleDwellsAtFirstStop(t *testing.T) {
	start := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	times, dists := buildSchedule(start, start.Add(30*time.Minute), 6000)

	if got := interpolateDistAtTime(times, dists, start.Add(time.Minute)); got != 0 {
		t.Errorf("dist during dwell = %v", got)
	}
	// 2 min dwell, then 6000 m over 28 min
	if got := interpolateDistAtTime(times, dists, start.Add(16*time.Minute)); got < 2999 || got > 3001 {
		t.Errorf("dist at 16 min = %v, want 3000", got)
	}
	if got := interpolateDistAtTime(times, dists, start.Add(time.Hour)); got != 6000 {
		t.Errorf("dist after arrival = %v", got)
	}

	// short trips dwell a quarter of their span
	times, _ = buildSchedule(start, start.Add(4*time.Minute), 100)
	if d := times[1].Sub(times[0]); d != time.Minute {
		t.Errorf("short trip dwell = %s", d)
	}
}

func TestETAMinutes(t *testing.T) {
	at := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	if got := *etaMinutes(at, at.Add(10*time.Minute), 1); got != 10 {
		t.Errorf("eta = %d, want 10", got)
	}
	if got := *etaMinutes(at, at.Add(10*time.Minute), 4); got != 3 {
		t.Errorf("eta at 4x = %d, want 3", got)
	}
	if got := *etaMinutes(at.Add(time.Hour), at, 1); got != 0 {
		t.Errorf("eta past arrival = %d, want 0", got)
	}
}
