package live

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/rooms"
	"github.com/chirino/chat-service/internal/security"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 64
)

// conn is one authenticated live connection. It implements rooms.Member.
type conn struct {
	id       string
	identity *security.Identity
	ws       *websocket.Conn

	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, identity *security.Identity) *conn {
	return &conn{
		id:       uuid.NewString(),
		identity: identity,
		ws:       ws,
		send:     make(chan []byte, sendBufferSize),
		closed:   make(chan struct{}),
	}
}

func (c *conn) ConnectionID() string { return c.id }
func (c *conn) UserID() uuid.UUID    { return c.identity.UserID }
func (c *conn) Username() string     { return c.identity.Username }

// Deliver queues a room event. A connection that cannot keep up is closed
// rather than allowed to stall the room.
func (c *conn) Deliver(ev rooms.Event) {
	c.enqueue(Frame{Event: ev.Name, Data: ev.Data})
}

func (c *conn) emit(event, id string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error("Failed to encode live event", "event", event, "err", err)
		return
	}
	c.enqueue(Frame{Event: event, ID: id, Data: data})
}

func (c *conn) enqueue(f Frame) {
	b, err := json.Marshal(f)
	if err != nil {
		log.Error("Failed to encode live frame", "event", f.Event, "err", err)
		return
	}
	select {
	case <-c.closed:
		return
	default:
	}
	select {
	case c.send <- b:
	case <-c.closed:
	default:
		log.Warn("Closing slow live connection", "connectionId", c.id, "userId", c.identity.UserID)
		c.close()
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.Close()
	})
}

// writePump owns all writes to the socket.
func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case <-c.closed:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case b := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
