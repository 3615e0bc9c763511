package livefeed

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"shuttle-realtime/internal/shuttle"
)

type fakeStore struct {
	mu    sync.Mutex
	calls int
	trips []shuttle.LiveTrip
	fail  func(call int) bool
}

func (s *fakeStore) LiveTrips(ctx context.Context, now time.Time) ([]shuttle.LiveTrip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fail != nil && s.fail(s.calls) {
		return nil, errors.New("connection refused")
	}
	return s.trips, nil
}

type countingMetrics struct {
	mu             sync.Mutex
	open, errs, ok int
}

func (m *countingMetrics) ClientOpened() { m.mu.Lock(); m.open++; m.mu.Unlock() }
func (m *countingMetrics) ClientClosed() { m.mu.Lock(); m.open--; m.mu.Unlock() }
func (m *countingMetrics) Snapshot(_ time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.errs++
	} else {
		m.ok++
	}
}

func (m *countingMetrics) snapshot() (open, errs, ok int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open, m.errs, m.ok
}

func openStream(t *testing.T, h http.Handler) (*bufio.Reader, func()) {
	t.Helper()
	srv := httptest.NewServer(h)
	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	return bufio.NewReader(resp.Body), func() {
		cancel()
		resp.Body.Close()
		srv.Close()
	}
}

func nextFrame(t *testing.T, r *bufio.Reader) Frame {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read frame: %v", err)
		}
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var f Frame
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &f); err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		return f
	}
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestStreamSendsConnectedThenUpdates(t *testing.T) {
	store := &fakeStore{trips: []shuttle.LiveTrip{
		{ID: "T1", RouteName: "Airport Loop", Status: shuttle.StatusBoarding, Capacity: 14, BookedSeats: 4, AvailableSeats: 10},
	}}
	m := &countingMetrics{}
	r, closeFn := openStream(t, NewHandler(store, 20*time.Millisecond, discard(), m))
	defer closeFn()

	if f := nextFrame(t, r); f.Type != FrameConnected {
		t.Fatalf("first frame = %+v", f)
	}
	first := nextFrame(t, r)
	if first.Type != FrameUpdate || len(first.Trips) != 1 || first.Trips[0].AvailableSeats != 10 {
		t.Fatalf("first update = %+v", first)
	}
	if f := nextFrame(t, r); f.Type != FrameUpdate {
		t.Fatalf("tick frame = %+v", f)
	}
	if open, _, ok := m.snapshot(); open != 1 || ok < 2 {
		t.Errorf("metrics open=%d ok=%d", open, ok)
	}
}

func TestStreamReportsStoreFailureAndContinues(t *testing.T) {
	store := &fakeStore{fail: func(call int) bool { return call == 1 }}
	m := &countingMetrics{}
	r, closeFn := openStream(t, NewHandler(store, 20*time.Millisecond, discard(), m))
	defer closeFn()

	nextFrame(t, r)
	f := nextFrame(t, r)
	if f.Type != FrameError || f.Message != FetchFailedMessage {
		t.Fatalf("error frame = %+v", f)
	}
	f = nextFrame(t, r)
	if f.Type != FrameUpdate || len(f.Trips) != 0 {
		t.Fatalf("recovered frame = %+v", f)
	}
	if _, errs, _ := m.snapshot(); errs != 1 {
		t.Errorf("snapshot errors = %d", errs)
	}
}

func TestEmptyUpdateCarriesTripsArray(t *testing.T) {
	store := &fakeStore{}
	r, closeFn := openStream(t, NewHandler(store, time.Hour, discard(), nil))
	defer closeFn()

	nextFrame(t, r)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatal(err)
		}
		if strings.HasPrefix(line, "data: ") {
			if !strings.Contains(line, `"trips":[]`) {
				t.Errorf("update frame = %s", line)
			}
			return
		}
	}
}

func TestStreamStopsWhenClientLeaves(t *testing.T) {
	m := &countingMetrics{}
	r, closeFn := openStream(t, NewHandler(&fakeStore{}, 10*time.Millisecond, discard(), m))
	nextFrame(t, r)
	closeFn()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if open, _, _ := m.snapshot(); open == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("handler still running after client disconnect")
}
