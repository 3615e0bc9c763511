package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"shuttle-realtime/internal/realtime"
	"shuttle-realtime/internal/shuttle"
)

const maxFrameBytes = 64 << 10

type Metrics interface {
	ConnOpened()
	ConnClosed()
	Inbound(event string)
	Malformed()
}

type Options struct {
	PingInterval time.Duration
	PongTimeout  time.Duration
	SendBuffer   int
	// CheckOrigin defaults to allowing every origin.
	CheckOrigin func(r *http.Request) bool
}

// Handler upgrades HTTP requests to WebSocket sessions and feeds their
// events into the router.
type Handler struct {
	router   *realtime.Router
	log      *slog.Logger
	metrics  Metrics
	upgrader websocket.Upgrader
	opts     Options

	mu     sync.Mutex
	active map[*client]struct{}
}

func NewHandler(router *realtime.Router, log *slog.Logger, opts Options, m Metrics) *Handler {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 25 * time.Second
	}
	if opts.PongTimeout <= opts.PingInterval {
		opts.PongTimeout = opts.PingInterval + 20*time.Second
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	return &Handler{
		router:  router,
		log:     log,
		metrics: m,
		opts:    opts,
		active:  make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	c := newClient(conn, h.opts.SendBuffer)
	log := h.log.With("conn_id", c.id)
	log.Debug("websocket connected", "remote", r.RemoteAddr)
	if h.metrics != nil {
		h.metrics.ConnOpened()
	}

	h.track(c, true)
	defer h.track(c, false)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		if err := c.writePump(h.opts.PingInterval); err != nil {
			log.Debug("websocket write stopped", "error", err)
		}
	}()

	h.readPump(c, log)

	// Cleanup is synchronous: once the router forgets c, nothing new is queued.
	h.router.OnDisconnect(c)
	c.close()
	<-writerDone
	if h.metrics != nil {
		h.metrics.ConnClosed()
	}
	log.Debug("websocket disconnected")
}

// CloseAll drops every open connection; their handlers then run the usual
// disconnect cleanup. Used on shutdown, since hijacked connections outlive
// http.Server.Shutdown.
func (h *Handler) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.active {
		_ = c.conn.Close()
	}
}

func (h *Handler) track(c *client, open bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if open {
		h.active[c] = struct{}{}
	} else {
		delete(h.active, c)
	}
}

func (h *Handler) readPump(c *client, log *slog.Logger) {
	c.conn.SetReadLimit(maxFrameBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(h.opts.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.opts.PongTimeout))
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Info("websocket closed unexpectedly", "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(h.opts.PongTimeout))
		if err := h.dispatch(c, payload); err != nil {
			if h.metrics != nil {
				h.metrics.Malformed()
			}
			log.Debug("dropping inbound frame", "error", err)
		}
	}
}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (h *Handler) dispatch(c *client, payload []byte) error {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if h.metrics != nil {
		h.metrics.Inbound(env.Event)
	}

	switch env.Event {
	case realtime.EventDriverConnect:
		var d realtime.DriverConnect
		if err := decodeArgs(env.Data, &d, &d.DriverID, &d.TripID); err != nil {
			return err
		}
		h.router.OnDriverConnect(d.DriverID, d.TripID, c)

	case realtime.EventDriverLocation:
		var loc shuttle.DriverLocation
		if err := json.Unmarshal(env.Data, &loc); err != nil {
			return fmt.Errorf("decode %s: %w", env.Event, err)
		}
		h.router.OnLocationUpdate(loc)

	case realtime.EventDriverTripUpdate:
		var u shuttle.TripUpdate
		if err := json.Unmarshal(env.Data, &u); err != nil {
			return fmt.Errorf("decode %s: %w", env.Event, err)
		}
		h.router.OnTripStatusUpdate(u)

	case realtime.EventPassengerSubscribe:
		var s realtime.PassengerSubscribe
		if err := decodeArgs(env.Data, &s, &s.TripID, &s.UserID); err != nil {
			return err
		}
		h.router.OnPassengerSubscribe(s.TripID, s.UserID, c)

	case realtime.EventPassengerUnsubscribe:
		var u realtime.PassengerUnsubscribe
		if err := decodeArgs(env.Data, &u, &u.TripID); err != nil {
			return err
		}
		h.router.OnPassengerUnsubscribe(u.TripID, c)

	case realtime.EventAdminMonitorAll:
		h.router.OnAdminMonitorAll(c)

	default:
		return fmt.Errorf("unknown event %q", env.Event)
	}
	return nil
}

var errNoData = errors.New("missing event data")

// decodeArgs accepts either an object payload or a positional array of
// strings, e.g. ["driver-7", "trip-42"] for driver:connect.
func decodeArgs(raw json.RawMessage, obj any, positional ...*string) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return errNoData
	}
	if raw[0] != '[' {
		return json.Unmarshal(raw, obj)
	}
	var args []string
	if err := json.Unmarshal(raw, &args); err != nil {
		return err
	}
	for i, dst := range positional {
		if i < len(args) {
			*dst = args[i]
		}
	}
	return nil
}
