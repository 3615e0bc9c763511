package shuttle

import "time"

type Status string

const (
	StatusScheduled Status = "SCHEDULED"
	StatusBoarding  Status = "BOARDING"
	StatusInTransit Status = "IN_TRANSIT"
	StatusArriving  Status = "ARRIVING"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// Valid reports whether s is one of the known trip statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusBoarding, StatusInTransit, StatusArriving, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is expected after s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type DriverLocation struct {
	DriverID  string    `json:"driverId"`
	TripID    string    `json:"tripId"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Heading   float64   `json:"heading"`
	Speed     float64   `json:"speed"` // km/h
	Timestamp time.Time `json:"timestamp"`
}

type TripUpdate struct {
	TripID      string  `json:"tripId"`
	Status      Status  `json:"status"`
	CurrentStop *string `json:"currentStop,omitempty"`
	NextStop    *string `json:"nextStop,omitempty"`
	ETA         *int    `json:"eta,omitempty"`   // minutes
	Delay       *int    `json:"delay,omitempty"` // minutes
	Occupancy   int     `json:"occupancy"`
	Message     *string `json:"message,omitempty"`
}

// LiveTrip is one row of the live trip list pushed over SSE.
type LiveTrip struct {
	ID             string     `json:"id"`
	RouteName      string     `json:"routeName"`
	Origin         string     `json:"origin"`
	Destination    string     `json:"destination"`
	DepartureTime  time.Time  `json:"departureTime"`
	ArrivalTime    *time.Time `json:"arrivalTime,omitempty"`
	Status         Status     `json:"status"`
	Capacity       int        `json:"capacity"`
	BookedSeats    int        `json:"bookedSeats"`
	AvailableSeats int        `json:"availableSeats"`
	DriverName     string     `json:"driverName,omitempty"`
	VehiclePlate   string     `json:"vehiclePlate,omitempty"`
}

// SeatsAvailable returns the free seats of a vehicle, never negative
// (overbooking is possible in the booking layer).
func SeatsAvailable(capacity, booked int) int {
	if free := capacity - booked; free > 0 {
		return free
	}
	return 0
}

// ActiveTrip is a trip the simulator can drive today.
type ActiveTrip struct {
	TripID    string
	RouteID   string
	DriverID  string
	Status    Status
	StartTime time.Time // departure, local TZ
	EndTime   time.Time // scheduled arrival
}

type RoutePoint struct {
	Lat      float64
	Lon      float64
	Sequence int
	Name     string // stop name, empty for pure shape points
}
