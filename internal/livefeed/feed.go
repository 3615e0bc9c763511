package livefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"shuttle-realtime/internal/shuttle"
)

// Frame types sent on the live trip stream.
const (
	FrameConnected = "connected"
	FrameUpdate    = "update"
	FrameError     = "error"
)

// FetchFailedMessage is the message of the error frame sent when a snapshot
// cannot be loaded.
const FetchFailedMessage = "Failed to fetch live trips"

const fetchTimeout = 5 * time.Second

type Store interface {
	LiveTrips(ctx context.Context, now time.Time) ([]shuttle.LiveTrip, error)
}

type Metrics interface {
	ClientOpened()
	ClientClosed()
	Snapshot(d time.Duration, err error)
}

// Frame is the decoded form of one data: line. Trips is only set on update
// frames and Message only on error frames.
type Frame struct {
	Type      string             `json:"type"`
	Trips     []shuttle.LiveTrip `json:"trips,omitempty"`
	Message   string             `json:"message,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

type updateFrame struct {
	Type      string             `json:"type"`
	Trips     []shuttle.LiveTrip `json:"trips"`
	Timestamp time.Time          `json:"timestamp"`
}

// Handler streams the list of today's open trips as server-sent events:
// one connected frame, then a snapshot right away and on every tick.
type Handler struct {
	store    Store
	interval time.Duration
	log      *slog.Logger
	metrics  Metrics
	now      func() time.Time
}

func NewHandler(store Store, interval time.Duration, log *slog.Logger, m Metrics) *Handler {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Handler{store: store, interval: interval, log: log, metrics: m, now: time.Now}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if h.metrics != nil {
		h.metrics.ClientOpened()
		defer h.metrics.ClientClosed()
	}
	ctx := r.Context()
	h.log.Debug("live feed client connected", "remote", r.RemoteAddr)
	defer h.log.Debug("live feed client disconnected", "remote", r.RemoteAddr)

	if err := writeFrame(w, flusher, Frame{Type: FrameConnected, Timestamp: h.now()}); err != nil {
		return
	}
	if err := h.push(ctx, w, flusher); err != nil {
		return
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.push(ctx, w, flusher); err != nil {
				return
			}
		}
	}
}

// push loads one snapshot and writes it. Only write errors are returned; a
// failed load becomes an error frame and the stream carries on.
func (h *Handler) push(ctx context.Context, w http.ResponseWriter, f http.Flusher) error {
	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	start := time.Now()
	trips, err := h.store.LiveTrips(fetchCtx, h.now())
	if h.metrics != nil {
		h.metrics.Snapshot(time.Since(start), err)
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		h.log.Error("fetch live trips", "error", err)
		return writeFrame(w, f, Frame{Type: FrameError, Message: FetchFailedMessage, Timestamp: h.now()})
	}
	if trips == nil {
		trips = []shuttle.LiveTrip{}
	}
	return writeFrame(w, f, updateFrame{Type: FrameUpdate, Trips: trips, Timestamp: h.now()})
}

func writeFrame(w http.ResponseWriter, f http.Flusher, frame any) error {
	b, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
		return err
	}
	f.Flush()
	return nil
}
