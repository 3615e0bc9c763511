package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"shuttle-realtime/internal/shuttle"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

// Statuses shown on the live trip list and driven by the simulator.
var openStatuses = []string{
	string(shuttle.StatusScheduled),
	string(shuttle.StatusBoarding),
	string(shuttle.StatusInTransit),
	string(shuttle.StatusArriving),
}

// FetchLiveTrips returns today's open trips with their seat availability.
// Trips already underway are included even if they departed before midnight.
func FetchLiveTrips(ctx context.Context, db *sql.DB, now time.Time) ([]shuttle.LiveTrip, error) {
	dayStart := midnight(now)
	dayEnd := dayStart.Add(24 * time.Hour)

	q := `
SELECT t.id,
       COALESCE(r.name, ''),
       COALESCE(r.origin, ''),
       COALESCE(r.destination, ''),
       t.departure_time,
       t.arrival_time,
       t.status,
       COALESCE(v.capacity, 0),
       COALESCE(SUM(b.seats) FILTER (WHERE b.status IN ('CONFIRMED', 'CHECKED_IN')), 0),
       COALESCE(d.name, ''),
       COALESCE(v.plate, '')
FROM trips t
LEFT JOIN routes r   ON r.id = t.route_id
LEFT JOIN vehicles v ON v.id = t.vehicle_id
LEFT JOIN drivers d  ON d.id = t.driver_id
LEFT JOIN bookings b ON b.trip_id = t.id
WHERE t.status = ANY($1)
  AND ((t.departure_time >= $2 AND t.departure_time < $3) OR t.status <> 'SCHEDULED')
GROUP BY t.id, r.name, r.origin, r.destination, t.departure_time, t.arrival_time, t.status, v.capacity, d.name, v.plate
ORDER BY t.departure_time`

	rows, err := db.QueryContext(ctx, q, openStatuses, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("query live trips: %w", err)
	}
	defer rows.Close()

	var trips []shuttle.LiveTrip
	for rows.Next() {
		var (
			t       shuttle.LiveTrip
			arrival sql.NullTime
			status  string
		)
		if err := rows.Scan(&t.ID, &t.RouteName, &t.Origin, &t.Destination, &t.DepartureTime, &arrival,
			&status, &t.Capacity, &t.BookedSeats, &t.DriverName, &t.VehiclePlate); err != nil {
			return nil, err
		}
		if arrival.Valid {
			at := arrival.Time
			t.ArrivalTime = &at
		}
		t.Status = shuttle.Status(status)
		t.AvailableSeats = shuttle.SeatsAvailable(t.Capacity, t.BookedSeats)
		trips = append(trips, t)
	}
	return trips, rows.Err()
}

// FetchActiveTrips returns today's trips that still need a driver on the road,
// with their departure and scheduled arrival.
func FetchActiveTrips(ctx context.Context, db *sql.DB, now time.Time) ([]shuttle.ActiveTrip, error) {
	dayStart := midnight(now)
	q := `
SELECT id, route_id, COALESCE(driver_id, ''), status, departure_time,
       COALESCE(arrival_time, departure_time + interval '45 minutes')
FROM trips
WHERE status = ANY($1)
  AND departure_time >= $2 AND departure_time < $3
ORDER BY departure_time`

	rows, err := db.QueryContext(ctx, q, openStatuses, dayStart, dayStart.Add(24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("query active trips: %w", err)
	}
	defer rows.Close()

	var trips []shuttle.ActiveTrip
	for rows.Next() {
		var (
			t      shuttle.ActiveTrip
			status string
		)
		if err := rows.Scan(&t.TripID, &t.RouteID, &t.DriverID, &status, &t.StartTime, &t.EndTime); err != nil {
			return nil, err
		}
		t.Status = shuttle.Status(status)
		t.StartTime = t.StartTime.In(now.Location())
		t.EndTime = t.EndTime.In(now.Location())
		if t.EndTime.Before(t.StartTime) {
			// bad arrival data; keep the trip drivable
			t.EndTime = t.StartTime.Add(45 * time.Minute)
		}
		trips = append(trips, t)
	}
	return trips, rows.Err()
}

// FetchRoutePoints returns the ordered stops of a route.
func FetchRoutePoints(ctx context.Context, db *sql.DB, routeID string) ([]shuttle.RoutePoint, error) {
	if routeID == "" {
		return nil, nil
	}
	q := `SELECT lat, lon, stop_sequence, COALESCE(name, '')
          FROM route_stops WHERE route_id = $1 ORDER BY stop_sequence`
	rows, err := db.QueryContext(ctx, q, routeID)
	if err != nil {
		return nil, fmt.Errorf("query route_stops: %w", err)
	}
	defer rows.Close()
	var pts []shuttle.RoutePoint
	for rows.Next() {
		var p shuttle.RoutePoint
		if err := rows.Scan(&p.Lat, &p.Lon, &p.Sequence, &p.Name); err != nil {
			return nil, err
		}
		pts = append(pts, p)
	}
	return pts, rows.Err()
}

// TripStore serves live trip snapshots and the simulator's trip source from
// Postgres.
type TripStore struct {
	db *sql.DB
}

func NewTripStore(db *sql.DB) *TripStore { return &TripStore{db: db} }

func (s *TripStore) LiveTrips(ctx context.Context, now time.Time) ([]shuttle.LiveTrip, error) {
	return FetchLiveTrips(ctx, s.db, now)
}

func (s *TripStore) ActiveTrips(ctx context.Context, now time.Time) ([]shuttle.ActiveTrip, error) {
	return FetchActiveTrips(ctx, s.db, now)
}

func (s *TripStore) RoutePoints(ctx context.Context, routeID string) ([]shuttle.RoutePoint, error) {
	return FetchRoutePoints(ctx, s.db, routeID)
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
