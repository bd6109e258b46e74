package ws

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"relaychat-backend/pkg/logger"
	"relaychat-backend/pkg/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxFrameSize   = 64 * 1024
	sendBufferSize = 256
)

// Client is one WebSocket connection. A user may hold several clients
// at once (multiple tabs or devices); rooms are tracked per client.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID uuid.UUID
	connID string
	rooms  map[uuid.UUID]bool
}

// enqueue hands a frame to the write pump. Slow consumers lose frames
// rather than stalling the hub.
func (c *Client) enqueue(data []byte, m *metrics.Metrics) {
	select {
	case c.send <- data:
	default:
		if m != nil {
			m.RecordClientDropped("slow_consumer")
		}
	}
}

// readPump reads client events until the connection drops
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("websocket read failed",
					zap.String("user_id", c.userID.String()),
					zap.Error(err),
				)
			}
			break
		}

		c.hub.handleEvent(c, data)
	}
}

// writePump writes queued frames and keeps the connection alive
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendAck marshals and enqueues an ack frame
func (c *Client) sendAck(ack *Ack) {
	data, err := json.Marshal(ack)
	if err != nil {
		logger.Error("failed to marshal ack", zap.Error(err))
		return
	}
	c.enqueue(data, c.hub.metrics)
}
