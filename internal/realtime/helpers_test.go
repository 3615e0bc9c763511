package realtime

import (
	"io"
	"log/slog"
	"sync"
	"time"
)

type fakeConn struct {
	id string

	mu     sync.Mutex
	events []Event
	full   bool
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Send(ev Event) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return false
	}
	f.events = append(f.events, ev)
	return true
}

func (f *fakeConn) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ev := range f.events {
		if ev.Name == name {
			n++
		}
	}
	return n
}

func (f *fakeConn) last(name string) (Event, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.events) - 1; i >= 0; i-- {
		if f.events[i].Name == name {
			return f.events[i], true
		}
	}
	return Event{}, false
}

func (f *fakeConn) reset() {
	f.mu.Lock()
	f.events = nil
	f.mu.Unlock()
}

type recordingMirror struct {
	mu     sync.Mutex
	trips  []string
	events []Event
}

func (m *recordingMirror) PublishEvent(tripID string, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trips = append(m.trips, tripID)
	m.events = append(m.events, ev)
	return nil
}

var fixedNow = time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)

func newTestRouter(mirror Mirror, metrics Metrics) *Router {
	r := NewRouter(slog.New(slog.NewTextHandler(io.Discard, nil)), mirror, metrics)
	r.now = func() time.Time { return fixedNow }
	return r
}
