package ws

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// errMalformedFrame marks a frame that failed to decode; the connection
// itself is still healthy.
var errMalformedFrame = errors.New("ws: malformed frame")

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Envelope is the wire frame in both directions: a type tag plus a payload.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Conn wraps one WebSocket connection. It is the presence.Handle for its
// identity: Send queues onto a buffered channel drained by a single writer
// goroutine and never blocks — when the peer is slow or dead the frame is
// dropped and disconnect cleanup converges state.
type Conn struct {
	key string
	ws  *websocket.Conn
	out chan outbound

	closeOnce sync.Once
	done      chan struct{}

	log *slog.Logger
}

func newConn(wsc *websocket.Conn, buffer int, log *slog.Logger) *Conn {
	if buffer <= 0 {
		buffer = 32
	}
	if log == nil {
		log = slog.Default()
	}
	return &Conn{
		key:  uuid.NewString(),
		ws:   wsc,
		out:  make(chan outbound, buffer),
		done: make(chan struct{}),
		log:  log,
	}
}

func (c *Conn) Key() string { return c.key }

func (c *Conn) Send(event string, data any) {
	select {
	case <-c.done:
	case c.out <- outbound{Type: event, Data: data}:
	default:
		c.log.Warn("outbound queue full, dropping frame", "conn", c.key, "event", event)
	}
}

// writeLoop owns all writes to the socket, including keepalive pings.
func (c *Conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(msg); err != nil {
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

// read returns the next inbound envelope. Any error means the connection is
// done for.
func (c *Conn) read() (Envelope, error) {
	var env Envelope
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return Envelope{}, err
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, errMalformedFrame
	}
	return env, nil
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}
