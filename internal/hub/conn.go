package hub

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"live-subtitler/internal/protocol"
)

var (
	// ErrConnClosed is returned by Send on a closed connection.
	ErrConnClosed = errors.New("connection closed")

	// ErrSlowConsumer is returned when the send queue is full; the message
	// is dropped rather than blocking the broadcaster.
	ErrSlowConsumer = errors.New("send queue full")
)

const (
	sendQueueSize = 64
	writeTimeout  = 5 * time.Second
)

// WSConn adapts a gorilla websocket connection to the hub's Conn interface.
// Writes go through a buffered queue drained by a single writer goroutine,
// so Send never blocks and the websocket sees one writer only.
type WSConn struct {
	id   string
	ws   *websocket.Conn
	send chan any
	done chan struct{}
	once sync.Once
}

// NewWSConn wraps ws and starts its writer goroutine.
func NewWSConn(ws *websocket.Conn) *WSConn {
	c := &WSConn{
		id:   uuid.NewString(),
		ws:   ws,
		send: make(chan any, sendQueueSize),
		done: make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

// ID returns the connection id minted at upgrade time.
func (c *WSConn) ID() string { return c.id }

// Send queues msg for delivery. It returns ErrConnClosed after Close and
// ErrSlowConsumer when the queue is full; the message is dropped either way.
func (c *WSConn) Send(msg any) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Close shuts the connection down; safe to call more than once.
func (c *WSConn) Close() error {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close()
	})
	return nil
}

// ReadInbound blocks for the next client frame.
func (c *WSConn) ReadInbound() (protocol.Inbound, error) {
	var in protocol.Inbound
	err := c.ws.ReadJSON(&in)
	return in, err
}

func (c *WSConn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteJSON(msg); err != nil {
				c.Close()
				return
			}
		}
	}
}
