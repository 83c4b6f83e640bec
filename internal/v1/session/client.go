package session

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/osobh/parley/internal/v1/logging"
	"github.com/osobh/parley/internal/v1/metrics"
	"github.com/osobh/parley/internal/v1/protocol"
	"github.com/osobh/parley/internal/v1/room"
)

// wsConnection is the subset of *websocket.Conn the client needs.
// Tests substitute mock implementations to simulate slow readers and
// connection failures.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

// Client is one websocket connection. It owns the two pump goroutines
// and tracks which room the connection currently resides in; a
// connection joins at most one room at a time.
type Client struct {
	conn   wsConnection
	send   chan []byte
	server *Server

	mu   sync.RWMutex
	room *room.Room

	done      chan struct{}
	closeOnce sync.Once
}

func newClient(conn wsConnection, server *Server, sendBuffer int) *Client {
	return &Client{
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		server: server,
		done:   make(chan struct{}),
	}
}

// Send queues an outbound frame without blocking. A full buffer means
// the peer has stopped consuming; the connection is closed, which the
// read pump turns into the usual disconnect cleanup.
func (c *Client) Send(data []byte) {
	select {
	case c.send <- data:
	case <-c.done:
	default:
		logging.Warn(context.Background(), "Send buffer full, closing slow connection")
		c.Close()
	}
}

// Close tears the connection down. Idempotent; safe from any goroutine.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *Client) setRoom(r *room.Room) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.room = r
}

func (c *Client) currentRoom() *room.Room {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.room
}

// readPump reads frames until the connection drops, decoding each one
// and handing it to the server router. Runs in the handler goroutine.
func (c *Client) readPump() {
	defer func() {
		if r := c.currentRoom(); r != nil {
			r.HandleDisconnect(c)
		}
		c.Close()
		metrics.DecConnection()
	}()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}

		cmd, err := protocol.DecodeCommand(data)
		if err != nil {
			// Malformed frames get an ERROR; the connection stays open.
			c.Send(protocol.MustEncode(protocol.ErrorEvent(err.Error())))
			continue
		}

		c.server.route(c, cmd)
	}
}

// writePump serializes all writes to the connection. Frames are written
// with a deadline so a dead peer cannot wedge the goroutine.
func (c *Client) writePump() {
	defer c.conn.Close()
	writeWait := 10 * time.Second

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logging.Error(context.Background(), "Error writing message", zap.Error(err))
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
