package realtime

import (
	"math"
	"testing"

	"shuttle-realtime/internal/shuttle"
)

func TestEstimateETA(t *testing.T) {
	cases := []struct {
		name  string
		speed float64
		want  int
	}{
		{"stopped uses fallback speed", 0, 15},
		{"negative uses fallback speed", -4, 15},
		{"nan uses fallback speed", math.NaN(), 15},
		{"negative infinity uses fallback speed", math.Inf(-1), 15},
		{"crawling speed is capped", 1e-20, MaxETAMinutes},
		{"smallest positive speed is capped", math.SmallestNonzeroFloat64, MaxETAMinutes},
		{"walking pace", 1, 300},
		{"slow", 10, 30},
		{"fallback speed reported", 20, 15},
		{"highway", 60, 5},
		{"rounds to nearest minute", 7, 43},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, ok := EstimateETA(shuttle.DriverLocation{TripID: "T1", Speed: c.speed})
			if !ok {
				t.Fatal("expected an estimate")
			}
			if got != c.want {
				t.Errorf("EstimateETA(speed=%v) = %d, want %d", c.speed, got, c.want)
			}
		})
	}
}

func TestEstimateETAInfiniteSpeed(t *testing.T) {
	if _, ok := EstimateETA(shuttle.DriverLocation{Speed: math.Inf(1)}); ok {
		t.Fatal("infinite speed should not produce an estimate")
	}
}
