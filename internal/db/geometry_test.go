package db

import (
	"math"
	"testing"

	"shuttle-realtime/internal/shuttle"
)

var testRoute = []shuttle.RoutePoint{
	{Lat: 0, Lon: 0, Sequence: 1, Name: "Depot"},
	{Lat: 0.01, Lon: 0, Sequence: 2},
	{Lat: 0.02, Lon: 0, Sequence: 3, Name: "Campus"},
	{Lat: 0.02, Lon: 0.01, Sequence: 4, Name: "Station"},
}

func TestCumDistances(t *testing.T) {
	cum := CumDistances(testRoute)
	if len(cum) != len(testRoute) || cum[0] != 0 {
		t.Fatalf("cum = %v", cum)
	}
	// 0.01 degree of latitude is roughly 1112 m.
	if math.Abs(cum[1]-1111.95) > 1 {
		t.Errorf("first leg = %.2f m", cum[1])
	}
	for i := 1; i < len(cum); i++ {
		if cum[i] < cum[i-1] {
			t.Fatalf("distances not monotonic: %v", cum)
		}
	}
	if CumDistances(nil) != nil {
		t.Error("empty route should give nil")
	}
}

func TestInterpolateRoute(t *testing.T) {
	cum := CumDistances(testRoute)

	lat, lon, bearing := InterpolateRoute(testRoute, cum, cum[1]/2)
	if math.Abs(lat-0.005) > 1e-9 || lon != 0 {
		t.Errorf("midpoint = %v,%v", lat, lon)
	}
	if math.Abs(bearing) > 1e-6 {
		t.Errorf("northbound bearing = %v", bearing)
	}

	lat, lon, bearing = InterpolateRoute(testRoute, cum, cum[3]+500)
	if lat != 0.02 || lon != 0.01 {
		t.Errorf("past the end = %v,%v", lat, lon)
	}
	if math.Abs(bearing-90) > 0.1 {
		t.Errorf("eastbound bearing = %v", bearing)
	}

	lat, lon, _ = InterpolateRoute(testRoute, cum, -10)
	if lat != 0 || lon != 0 {
		t.Errorf("before start = %v,%v", lat, lon)
	}
}

func TestStopsAround(t *testing.T) {
	cum := CumDistances(testRoute)
	cases := []struct {
		dist          float64
		current, next string
	}{
		{0, "Depot", "Campus"},
		{cum[1], "Depot", "Campus"},
		{cum[2] + 1, "Campus", "Station"},
		{cum[3], "Station", ""},
	}
	for _, c := range cases {
		cur, next := StopsAround(testRoute, cum, c.dist)
		if cur != c.current || next != c.next {
			t.Errorf("StopsAround(%.0f) = %q,%q want %q,%q", c.dist, cur, next, c.current, c.next)
		}
	}
}
