package main

import "testing"

func TestRunReportsConfigFailure(t *testing.T) {
	t.Setenv("SPEED_MULTIPLIER", "fast")
	if code := run(); code != 1 {
		t.Fatalf("run() = %d, want 1", code)
	}
}
