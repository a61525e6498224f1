package wsserver

import (
	"context"
	"errors"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/codefionn/conicbridge/internal/consts"
	"github.com/codefionn/conicbridge/internal/logger"
	"github.com/codefionn/conicbridge/internal/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var errBinaryNotUTF8 = errors.New("binary message is not valid UTF-8")

// Client is one upgraded connection. Its read loop handles requests one at a
// time; its write loop is the only goroutine that writes to the socket.
type Client struct {
	ID      string
	conn    *websocket.Conn
	hub     *Hub
	handler Handler
	send    chan []byte
	log     *logger.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
}

func newClient(ctx context.Context, hub *Hub, conn *websocket.Conn, handler Handler) *Client {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(ctx)
	return &Client{
		ID:      id,
		conn:    conn,
		hub:     hub,
		handler: handler,
		send:    make(chan []byte, consts.SendQueueSize),
		log:     logger.Global().WithPrefix("ws:" + id[:8]),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Close tears the connection down. The read loop notices and cleans up.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.conn.Close()
	})
}

// Done is closed once the write loop has exited and the socket is closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// queue hands a message to the write loop. It gives up if the connection is
// going away.
func (c *Client) queue(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// readPump reads frames until the peer goes away. A close frame, EOF and a
// read error all end the loop the same way.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.cancel()
		close(c.send)
	}()

	c.conn.SetReadLimit(consts.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(consts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(consts.PongWait))
	})

	for {
		msgType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived, websocket.CloseAbnormalClosure) {
				c.log.Warn("read error: %v", err)
			} else {
				c.log.Debug("read loop ended: %v", err)
			}
			return
		}

		c.log.Debug("received %d bytes", len(message))
		resp := c.handle(msgType, message)
		if !c.queue(resp) {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(consts.PongWait))
	}
}

func (c *Client) handle(msgType int, message []byte) []byte {
	if msgType == websocket.BinaryMessage && !utf8.Valid(message) {
		if bh, ok := c.handler.(BinaryHandler); ok {
			return bh.HandleBinary(c.ctx, message)
		}
		c.log.Warn("rejected binary frame of %d bytes", len(message))
		return protocol.ErrorResponse(protocol.InvalidEnvelope(errBinaryNotUTF8))
	}
	return c.handler.HandleMessage(c.ctx, message)
}

// writePump drains the send queue and keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(consts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
		close(c.done)
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(consts.WriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Warn("write error: %v", err)
				return
			}
			c.log.Debug("sent %d bytes", len(message))

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(consts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
