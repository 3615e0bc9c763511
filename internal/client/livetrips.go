package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"shuttle-realtime/internal/livefeed"
	"shuttle-realtime/internal/shuttle"
)

// ParseErrorMessage is reported by LastError when a frame cannot be decoded.
const ParseErrorMessage = "Failed to parse update data"

const maxFrameBytes = 4 << 20

// LiveTrips follows the live trip SSE feed and keeps the latest list.
type LiveTrips struct {
	url        string
	httpClient *http.Client
	retryDelay time.Duration
	log        *slog.Logger

	// OnUpdate, when set, receives every new trip list.
	OnUpdate func(trips []shuttle.LiveTrip)

	mu         sync.Mutex
	trips      []shuttle.LiveTrip
	connected  bool
	lastErr    string
	lastUpdate time.Time
}

func NewLiveTrips(url string, retryDelay time.Duration, log *slog.Logger) *LiveTrips {
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	return &LiveTrips{url: url, httpClient: http.DefaultClient, retryDelay: retryDelay, log: log}
}

// Run streams until ctx is cancelled, reopening the feed after the fixed
// delay whenever it ends.
func (l *LiveTrips) Run(ctx context.Context) error {
	for {
		err := l.stream(ctx)
		l.mu.Lock()
		l.connected = false
		if err != nil && ctx.Err() == nil {
			l.lastErr = err.Error()
		}
		l.mu.Unlock()
		if ctx.Err() != nil {
			return nil
		}
		l.log.Warn("live trip feed closed", "url", l.url, "error", err, "retry_in", l.retryDelay)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(l.retryDelay):
		}
	}
}

func (l *LiveTrips) stream(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("open live feed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("open live feed: unexpected status %s", resp.Status)
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64<<10), maxFrameBytes)
	for sc.Scan() {
		line := sc.Text()
		if payload, ok := strings.CutPrefix(line, "data:"); ok {
			l.apply([]byte(strings.TrimSpace(payload)))
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read live feed: %w", err)
	}
	return nil
}

func (l *LiveTrips) apply(payload []byte) {
	var f livefeed.Frame
	if err := json.Unmarshal(payload, &f); err != nil {
		l.log.Debug("undecodable live feed frame", "error", err)
		l.mu.Lock()
		l.lastErr = ParseErrorMessage
		l.mu.Unlock()
		return
	}

	l.mu.Lock()
	var notify []shuttle.LiveTrip
	switch f.Type {
	case livefeed.FrameConnected:
		l.connected = true
		l.lastErr = ""
	case livefeed.FrameUpdate:
		l.connected = true
		l.trips = f.Trips
		l.lastErr = ""
		l.lastUpdate = time.Now()
		notify = f.Trips
	case livefeed.FrameError:
		l.lastErr = f.Message
	}
	cb := l.OnUpdate
	l.mu.Unlock()

	if cb != nil && f.Type == livefeed.FrameUpdate {
		cb(notify)
	}
}

func (l *LiveTrips) Trips() []shuttle.LiveTrip {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]shuttle.LiveTrip(nil), l.trips...)
}

func (l *LiveTrips) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

func (l *LiveTrips) LastError() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}

func (l *LiveTrips) LastUpdate() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastUpdate
}
