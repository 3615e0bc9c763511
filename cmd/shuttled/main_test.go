package main

import "testing"

func TestRunReportsConfigFailure(t *testing.T) {
	t.Setenv("WS_PING_INTERVAL_SEC", "25")
	t.Setenv("WS_PONG_TIMEOUT_SEC", "5")
	if code := run(); code != 1 {
		t.Fatalf("run() = %d, want 1", code)
	}
}
