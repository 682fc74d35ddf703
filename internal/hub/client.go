package hub

import (
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Client represents a single connected participant.
type Client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	closed atomic.Bool
}

func newClient(id string, conn *websocket.Conn, buffer int) *Client {
	return &Client{id: id, conn: conn, send: make(chan []byte, buffer)}
}

// ID is the participant identifier assigned on connect.
func (c *Client) ID() string { return c.id }

// Ready is false once either pump has seen the connection fail.
func (c *Client) Ready() bool { return !c.closed.Load() }

// Send queues payload without blocking. Only the hub goroutine calls it.
func (c *Client) Send(payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		c.closed.Store(true)
		h.leave(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(h.cfg.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	})
	for {
		mt, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				h.log.Info("connection lost", zap.String("id", c.id), zap.Error(err))
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		h.receive(c, message)
	}
}

func (c *Client) writePump(h *Hub) {
	ticker := time.NewTicker(h.cfg.PongTimeout * 9 / 10)
	defer func() {
		ticker.Stop()
		c.closed.Store(true)
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				h.log.Debug("write failed", zap.String("id", c.id), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
