package realtime

import (
	"math"

	"shuttle-realtime/internal/shuttle"
)

const (
	// FallbackSpeedKmh is assumed when the driver reports no usable speed.
	FallbackSpeedKmh = 20.0
	// RemainingDistanceKm is a fixed stand-in for the distance left on the route.
	// TODO: replace with the remaining route distance once stops carry coordinates in the trip update.
	RemainingDistanceKm = 5.0
	// MaxETAMinutes caps estimates for crawling speeds.
	MaxETAMinutes = 24 * 60
)

// EstimateETA returns a rough arrival estimate in minutes for the trip the
// location belongs to, never above MaxETAMinutes. ok is false only when the
// reported speed is +Inf.
func EstimateETA(loc shuttle.DriverLocation) (minutes int, ok bool) {
	speed := loc.Speed
	if math.IsInf(speed, 1) {
		return 0, false
	}
	if !(speed > 0) {
		speed = FallbackSpeedKmh
	}
	m := math.Round(RemainingDistanceKm / speed * 60)
	if m > MaxETAMinutes {
		m = MaxETAMinutes
	}
	return int(m), true
}
