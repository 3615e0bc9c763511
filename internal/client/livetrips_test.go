package client

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"shuttle-realtime/internal/shuttle"
)

func sseServer(frames ...string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		f := w.(http.Flusher)
		for _, frame := range frames {
			fmt.Fprintf(w, "data: %s\n\n", frame)
			f.Flush()
		}
		<-r.Context().Done()
	}))
}

func TestLiveTripsParseFailureKeepsStream(t *testing.T) {
	srv := sseServer(
		`{"type":"connected","timestamp":"2026-03-02T08:00:00Z"}`,
		`{"type":"update","trips":[{"id":"T1","routeName":"Campus Loop","status":"BOARDING","capacity":12,"bookedSeats":5,"availableSeats":7}],"timestamp":"2026-03-02T08:00:00Z"}`,
		`{"type":"update","trips":[`,
	)
	defer srv.Close()

	var updates atomic.Int32
	l := NewLiveTrips(srv.URL, 10*time.Millisecond, discard())
	l.OnUpdate = func(trips []shuttle.LiveTrip) { updates.Add(1) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	eventually(t, "parse error", func() bool { return l.LastError() == ParseErrorMessage })
	if !l.IsConnected() {
		t.Error("stream should stay connected after a bad frame")
	}
	trips := l.Trips()
	if len(trips) != 1 || trips[0].AvailableSeats != 7 {
		t.Errorf("trips = %+v", trips)
	}
	if l.LastUpdate().IsZero() {
		t.Error("last update not recorded")
	}
	if n := updates.Load(); n != 1 {
		t.Errorf("OnUpdate calls = %d", n)
	}
}

func TestLiveTripsApply(t *testing.T) {
	l := NewLiveTrips("http://unused", time.Second, discard())

	l.apply([]byte(`{"type":"error","message":"Failed to fetch live trips"}`))
	if l.LastError() != "Failed to fetch live trips" {
		t.Errorf("error frame: lastErr = %q", l.LastError())
	}
	l.apply([]byte(`{"type":"update","trips":[{"id":"T2"}]}`))
	if l.LastError() != "" || len(l.Trips()) != 1 || !l.IsConnected() {
		t.Errorf("update frame: lastErr=%q trips=%v", l.LastError(), l.Trips())
	}
	l.apply([]byte(`not json`))
	if l.LastError() != ParseErrorMessage || len(l.Trips()) != 1 {
		t.Errorf("bad frame: lastErr=%q trips=%v", l.LastError(), l.Trips())
	}
}

func TestLiveTripsReopensClosedStream(t *testing.T) {
	var opened atomic.Int32
	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := opened.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: %s\n\n", `{"type":"update","trips":[]}`)
		if n == 2 {
			close(done)
		}
	}))
	defer srv.Close()

	l := NewLiveTrips(srv.URL, 10*time.Millisecond, discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("feed was not reopened")
	}
}
