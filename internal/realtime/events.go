package realtime

import (
	"time"

	"shuttle-realtime/internal/shuttle"
)

// Inbound event names (client -> server).
const (
	EventDriverConnect        = "driver:connect"
	EventDriverLocation       = "driver:location"
	EventDriverTripUpdate     = "driver:tripUpdate"
	EventPassengerSubscribe   = "passenger:subscribe"
	EventPassengerUnsubscribe = "passenger:unsubscribe"
	EventAdminMonitorAll      = "admin:monitorAll"
)

// Outbound event names (server -> client).
const (
	EventDriverOnline      = "driver:online"
	EventLocationUpdate    = "location:update"
	EventETAUpdate         = "eta:update"
	EventTripStatusUpdate  = "trip:statusUpdate"
	EventTripCurrentStatus = "trip:currentStatus"
	EventNotification      = "notification"
	EventAdminUpdate       = "admin:update"
	EventBookingUpdate     = "booking:update"
)

// Event is the wire envelope used in both directions.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data,omitempty"`
}

type DriverOnline struct {
	DriverID  string    `json:"driverId"`
	TripID    string    `json:"tripId"`
	Timestamp time.Time `json:"timestamp"`
}

type ETAUpdate struct {
	TripID    string    `json:"tripId"`
	ETA       int       `json:"eta"`
	Timestamp time.Time `json:"timestamp"`
}

type CurrentStatus struct {
	TripID     string    `json:"tripId"`
	Subscribed bool      `json:"subscribed"`
	Timestamp  time.Time `json:"timestamp"`
}

type Notification struct {
	TripID    string         `json:"tripId"`
	Type      shuttle.Status `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
}

// Inbound payloads that carry plain identifiers.
type DriverConnect struct {
	DriverID string `json:"driverId"`
	TripID   string `json:"tripId"`
}

type PassengerSubscribe struct {
	TripID string `json:"tripId"`
	UserID string `json:"userId"`
}

type PassengerUnsubscribe struct {
	TripID string `json:"tripId"`
}
