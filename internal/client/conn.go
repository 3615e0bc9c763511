package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

const DefaultRetryDelay = 5 * time.Second

var ErrNotConnected = errors.New("websocket not connected")

// Message is one event received from the gateway.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type Options struct {
	URL        string
	RetryDelay time.Duration
	Dialer     *websocket.Dialer
	// OnConnect runs after every successful (re)connect, before any inbound
	// event is read. Use it to re-issue subscriptions.
	OnConnect func(c *Conn) error
	// OnEvent is called from the read loop for every inbound event.
	OnEvent func(m Message)
}

// Conn is a gateway connection that redials with a fixed delay until its
// context ends.
type Conn struct {
	opts Options
	log  *slog.Logger

	mu         sync.Mutex
	state      State
	ws         *websocket.Conn
	lastErr    string
	lastUpdate time.Time

	writeMu sync.Mutex
}

func New(opts Options, log *slog.Logger) *Conn {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Conn{opts: opts, log: log}
}

// Run blocks until ctx is cancelled. Attempts are unbounded.
func (c *Conn) Run(ctx context.Context) error {
	defer c.setState(Disconnected)

	c.setState(Connecting)
	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			c.setError(err)
			c.log.Warn("websocket connection lost", "url", c.opts.URL, "error", err, "retry_in", c.opts.RetryDelay)
		}
		c.setState(Reconnecting)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.opts.RetryDelay):
		}
	}
}

// session dials once and reads until the connection drops.
func (c *Conn) session(ctx context.Context) error {
	ws, _, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.opts.URL, err)
	}

	c.mu.Lock()
	c.ws = ws
	c.state = Connected
	c.lastErr = ""
	c.mu.Unlock()
	c.log.Info("websocket connected", "url", c.opts.URL)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = ws.Close()
		case <-done:
		}
	}()
	defer func() {
		c.mu.Lock()
		c.ws = nil
		c.mu.Unlock()
		_ = ws.Close()
	}()

	if c.opts.OnConnect != nil {
		if err := c.opts.OnConnect(c); err != nil {
			return fmt.Errorf("on connect: %w", err)
		}
	}

	for {
		_, payload, err := ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		var m Message
		if err := json.Unmarshal(payload, &m); err != nil {
			c.log.Debug("skipping undecodable event", "error", err)
			continue
		}
		c.mu.Lock()
		c.lastUpdate = time.Now()
		c.mu.Unlock()
		if c.opts.OnEvent != nil {
			c.opts.OnEvent(m)
		}
	}
}

// Emit sends one event. It fails with ErrNotConnected while no connection is up.
func (c *Conn) Emit(name string, data any) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := ws.WriteJSON(outbound{Event: name, Data: data}); err != nil {
		_ = ws.Close()
		return fmt.Errorf("emit %s: %w", name, err)
	}
	return nil
}

type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) IsConnected() bool { return c.State() == Connected }

// LastError returns the most recent connection error, or "" after a
// successful connect.
func (c *Conn) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// LastUpdate is when the last inbound event arrived.
func (c *Conn) LastUpdate() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUpdate
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

func (c *Conn) setError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = err.Error()
}
