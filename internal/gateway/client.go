package gateway

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"shuttle-realtime/internal/realtime"
)

const writeWait = 10 * time.Second

// client is one WebSocket connection. Outbound events are queued on a
// bounded channel drained by writePump; a full queue drops the event.
type client struct {
	id   string
	conn *websocket.Conn
	send chan realtime.Event

	mu     sync.Mutex
	closed bool
}

func newClient(conn *websocket.Conn, buffer int) *client {
	return &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan realtime.Event, buffer),
	}
}

func (c *client) ID() string { return c.id }

// Send implements realtime.Conn.
func (c *client) Send(ev realtime.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

// close stops further sends and lets writePump flush and exit.
func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *client) writePump(pingInterval time.Duration) error {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case ev, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
				return nil
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				return err
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return err
			}
		}
	}
}
