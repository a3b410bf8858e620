package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/adskit/ads/internal/common/logger"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 1024 * 1024 // 1MB
	sendBufferSize = 64
	workQueueSize  = 16
)

// Client is one connected socket. Work messages are handled strictly in
// arrival order through the work channel; control messages (ping, pong,
// interrupt) are handled inline so an interrupt can reach an in-flight
// prompt.
type Client struct {
	ID        string
	SessionID string
	ChatID    string

	conn    *websocket.Conn
	send    chan *Outbound
	work    chan *Inbound
	hub     *Hub
	handler *Handler
	logger  *logger.Logger

	heartbeat      time.Duration
	maxMissedPongs int

	mu             sync.Mutex
	missedPongs    int
	inflightCancel context.CancelFunc
	closeOnce      sync.Once
}

// Send queues a frame; a client that cannot keep up is disconnected rather
// than blocking the producer.
func (c *Client) Send(frame *Outbound) {
	select {
	case c.send <- frame:
	default:
		c.logger.Warn("client send buffer full, disconnecting", zap.String("client_id", c.ID))
		c.Close()
	}
}

// Close tears the connection down once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.cancelInflight()
		_ = c.conn.Close()
	})
}

// registerInflight notes the cancel func of the currently handled request.
func (c *Client) registerInflight(cancel context.CancelFunc) {
	c.mu.Lock()
	c.inflightCancel = cancel
	c.mu.Unlock()
}

func (c *Client) cancelInflight() {
	c.mu.Lock()
	cancel := c.inflightCancel
	c.inflightCancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// ReadPump reads client messages until the socket drops.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.unregister <- c
		close(c.work)
		c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.pongWait()))
	c.conn.SetPongHandler(func(string) error {
		c.resetMissedPongs()
		return c.conn.SetReadDeadline(time.Now().Add(c.pongWait()))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}

		msg, err := DecodeInbound(data)
		if err != nil {
			// The error frame is reserved for protocol-level violations.
			c.Send(&Outbound{Type: FrameError, Message: err.Error()})
			continue
		}

		switch msg.Kind {
		case KindPing:
			c.Send(&Outbound{Type: FramePong})
		case KindPong:
			c.resetMissedPongs()
		case KindInterrupt:
			c.cancelInflight()
		default:
			select {
			case c.work <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

// WorkPump drains the serialised work queue; the next message starts only
// after the previous handler returned.
func (c *Client) WorkPump(ctx context.Context) {
	for msg := range c.work {
		c.handler.handleWork(ctx, c, msg)
	}
}

// WritePump flushes outbound frames and drives the heartbeat.
func (c *Client) WritePump(ctx context.Context) {
	ticker := time.NewTicker(c.heartbeat)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(frame)
			if err != nil {
				c.logger.Error("failed to marshal frame", zap.Error(err))
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if c.bumpMissedPongs() > c.maxMissedPongs {
				c.logger.Warn("client missed too many pongs", zap.String("client_id", c.ID))
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) pongWait() time.Duration {
	return c.heartbeat * time.Duration(c.maxMissedPongs+1)
}

func (c *Client) resetMissedPongs() {
	c.mu.Lock()
	c.missedPongs = 0
	c.mu.Unlock()
}

func (c *Client) bumpMissedPongs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.missedPongs++
	return c.missedPongs
}
